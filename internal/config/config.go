package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for finrag.
type Config struct {
	General   GeneralConfig             `json:"general" yaml:"general"`
	Corpus    CorpusConfig              `json:"corpus" yaml:"corpus"`
	Embedding EmbeddingConfig           `json:"embedding" yaml:"embedding"`
	Cache     CacheConfig               `json:"cache" yaml:"cache"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Agent     AgentConfig               `json:"agent" yaml:"agent"`
	RAG       RAGConfig                 `json:"rag" yaml:"rag"`
	Metrics   MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel        string   `json:"logLevel" yaml:"logLevel"`
	LogFile         string   `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
	DefaultProvider string   `json:"defaultProvider" yaml:"defaultProvider"`
	FailoverChain   []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"` // provider failover order
}

// CorpusConfig locates the vector index and controls ingestion.
type CorpusConfig struct {
	Dir          string `json:"dir" yaml:"dir"`
	ChunkSize    int    `json:"chunkSize" yaml:"chunkSize"`       // characters per chunk
	ChunkOverlap int    `json:"chunkOverlap" yaml:"chunkOverlap"` // characters shared by neighbours
	Parallelism  int    `json:"parallelism" yaml:"parallelism"`   // files ingested concurrently
}

type EmbeddingConfig struct {
	Provider      string `json:"provider" yaml:"provider"` // "openai" | "hash"
	APIBase       string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey        string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model         string `json:"model" yaml:"model"`
	Dimension     int    `json:"dimension" yaml:"dimension"`
	BatchSize     int    `json:"batchSize" yaml:"batchSize"`
	RetryAttempts int    `json:"retryAttempts" yaml:"retryAttempts"`
	RetryDelayMs  int    `json:"retryDelayMs" yaml:"retryDelayMs"`
}

// CacheConfig configures the Redis query-embedding cache.
type CacheConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	RedisAddr  string `json:"redisAddr" yaml:"redisAddr"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	DB         int    `json:"db" yaml:"db"`
	TTLMinutes int    `json:"ttlMinutes" yaml:"ttlMinutes"`
}

type ProviderConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	APIBase         string  `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey          string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel    string  `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	TimeoutSeconds  int     `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
	MaxRetries      int     `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	RateLimitPerMin float64 `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty"`
	RateLimitBurst  int     `json:"rateLimitBurst,omitempty" yaml:"rateLimitBurst,omitempty"`
}

// AgentConfig configures the conversational agent.
type AgentConfig struct {
	MaxIterations     int     `json:"maxIterations" yaml:"maxIterations"`
	Temperature       float64 `json:"temperature" yaml:"temperature"`
	MaxTokens         int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	ToolParallelism   int     `json:"toolParallelism" yaml:"toolParallelism"`
	StreamBuffer      int     `json:"streamBuffer" yaml:"streamBuffer"`
	SystemPromptExtra string  `json:"systemPromptExtra,omitempty" yaml:"systemPromptExtra,omitempty"` // appended to the system prompt
}

type RAGConfig struct {
	K           int     `json:"k" yaml:"k"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"` // dump metrics to stderr on exit
}

// DefaultConfigDir returns the default config directory (~/.finrag).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".finrag"
	}
	return filepath.Join(home, ".finrag")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadDotEnv loads KEY=VALUE files into the environment. Missing files are
// skipped and variables already set are left untouched.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("cannot load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the config file at path (JSON, or YAML by extension), after
// loading .env from the working directory and from the config directory.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	if err := LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Corpus.Dir = ExpandPath(cfg.Corpus.Dir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unset variables
// without a default are kept verbatim.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.DefaultProvider == "" {
		errs = append(errs, "general.defaultProvider is required")
	} else if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}

	if cfg.Corpus.Dir == "" {
		errs = append(errs, "corpus.dir is required")
	}
	if cfg.Corpus.ChunkSize < 1 {
		errs = append(errs, "corpus.chunkSize must be >= 1")
	}
	if cfg.Corpus.ChunkOverlap < 0 || cfg.Corpus.ChunkOverlap >= cfg.Corpus.ChunkSize {
		errs = append(errs, "corpus.chunkOverlap must be >= 0 and smaller than corpus.chunkSize")
	}
	if cfg.Corpus.Parallelism < 1 || cfg.Corpus.Parallelism > 64 {
		errs = append(errs, "corpus.parallelism must be between 1 and 64")
	}

	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.Model == "" {
			errs = append(errs, "embedding.model is required for the openai embedder")
		}
	case "hash":
	default:
		errs = append(errs, "embedding.provider must be one of: openai, hash")
	}
	if cfg.Embedding.Dimension < 1 {
		errs = append(errs, "embedding.dimension must be >= 1")
	}
	if cfg.Embedding.RetryAttempts < 1 || cfg.Embedding.RetryAttempts > 10 {
		errs = append(errs, "embedding.retryAttempts must be between 1 and 10")
	}

	if cfg.Cache.Enabled && cfg.Cache.RedisAddr == "" {
		errs = append(errs, "cache.redisAddr is required when the cache is enabled")
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && !isPreset(name) {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
		if pc.RateLimitPerMin < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: rateLimitPerMinute must be >= 0", name))
		}
	}

	if cfg.Agent.MaxIterations < 1 || cfg.Agent.MaxIterations > 200 {
		errs = append(errs, "agent.maxIterations must be between 1 and 200")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}
	if cfg.Agent.ToolParallelism < 1 {
		errs = append(errs, "agent.toolParallelism must be >= 1")
	}
	if cfg.Agent.StreamBuffer < 1 {
		errs = append(errs, "agent.streamBuffer must be >= 1")
	}

	if cfg.RAG.K < 1 {
		errs = append(errs, "rag.k must be >= 1")
	}
	if cfg.RAG.Temperature < 0 || cfg.RAG.Temperature > 2 {
		errs = append(errs, "rag.temperature must be between 0 and 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isPreset reports whether the provider name has a built-in API base.
func isPreset(name string) bool {
	switch name {
	case "openai", "zhipu", "ollama":
		return true
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
