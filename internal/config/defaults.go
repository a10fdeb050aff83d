package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "zhipu",
		},
		Corpus: CorpusConfig{
			Dir:          "./chroma_db",
			ChunkSize:    500,
			ChunkOverlap: 50,
			Parallelism:  4,
		},
		Embedding: EmbeddingConfig{
			Provider:      "openai",
			APIBase:       "http://localhost:8080/v1",
			Model:         "BAAI/bge-base-en-v1.5",
			Dimension:     768,
			BatchSize:     32,
			RetryAttempts: 3,
			RetryDelayMs:  500,
		},
		Cache: CacheConfig{
			Enabled:    false,
			RedisAddr:  "localhost:6379",
			TTLMinutes: 24 * 60,
		},
		Providers: map[string]ProviderConfig{
			"zhipu": {
				Enabled:      true,
				APIBase:      "https://open.bigmodel.cn/api/paas/v4/",
				DefaultModel: "glm-4",
			},
		},
		Agent: AgentConfig{
			MaxIterations:   20,
			Temperature:     0.7,
			ToolParallelism: 4,
			StreamBuffer:    64,
		},
		RAG: RAGConfig{
			K:           4,
			Temperature: 0.1,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}
