package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxIterations_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.MaxIterations = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxIterations=0")
	}
	cfg.Agent.MaxIterations = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxIterations=999")
	}
	for _, n := range []int{1, 200} {
		cfg.Agent.MaxIterations = n
		if err := Validate(cfg); err != nil {
			t.Fatalf("maxIterations=%d should be valid: %v", n, err)
		}
	}
}

func TestValidate_ChunkOverlap(t *testing.T) {
	cfg := Defaults()
	cfg.Corpus.ChunkOverlap = cfg.Corpus.ChunkSize
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for overlap equal to chunk size")
	}
	cfg.Corpus.ChunkOverlap = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative overlap")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	cfg.RAG.K = 0
	cfg.Embedding.Provider = "word2vec"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"general.logLevel", "rag.k", "embedding.provider"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "missing"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown default provider")
	}
}

func TestValidate_FailoverChainReferences(t *testing.T) {
	cfg := Defaults()
	cfg.General.FailoverChain = []string{"zhipu", "ghost"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown provider in failover chain")
	}
}

func TestValidate_ProviderNeedsAPIBase(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["local-vllm"] = ProviderConfig{Enabled: true}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for provider without apiBase")
	}

	cfg = Defaults()
	cfg.Providers["ollama"] = ProviderConfig{Enabled: true}
	if err := Validate(cfg); err != nil {
		t.Fatalf("preset provider should not need apiBase: %v", err)
	}
}

func TestValidate_CacheNeedsAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Cache.Enabled = true
	cfg.Cache.RedisAddr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for cache without redisAddr")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		path := filepath.Join(t.TempDir(), name)

		original := Defaults()
		original.Corpus.ChunkSize = 800
		original.Providers["openai"] = ProviderConfig{Enabled: true, DefaultModel: "gpt-4o-mini"}

		if err := Save(path, original); err != nil {
			t.Fatalf("%s: save: %v", name, err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if loaded.Corpus.ChunkSize != 800 {
			t.Fatalf("%s: expected chunkSize 800, got %d", name, loaded.Corpus.ChunkSize)
		}
		if loaded.Providers["openai"].DefaultModel != "gpt-4o-mini" {
			t.Fatalf("%s: provider entry lost in round trip", name)
		}
	}
}

func TestLoad_YAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "finrag.yml")
	content := "corpus:\n  dir: /data/corpus\nrag:\n  k: 6\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Corpus.Dir != "/data/corpus" || cfg.RAG.K != 6 {
		t.Fatalf("yaml values not applied: %+v %+v", cfg.Corpus, cfg.RAG)
	}
	if cfg.Corpus.ChunkSize != 500 || cfg.RAG.Temperature != 0.1 {
		t.Fatal("unset yaml keys should keep their defaults")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.json")
	content := `{"agent": {"maxIterations": 0}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for maxIterations=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_FINRAG_CORPUS", "/tmp/test-corpus")

	cfgFile := filepath.Join(t.TempDir(), "config.json")
	content := `{"corpus": {"dir": "${TEST_FINRAG_CORPUS}", "chunkSize": 500, "chunkOverlap": 50, "parallelism": 2}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Corpus.Dir != "/tmp/test-corpus" {
		t.Fatalf("expected corpus dir '/tmp/test-corpus', got %q", cfg.Corpus.Dir)
	}
}

func TestLoad_ReadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { os.Unsetenv("TEST_FINRAG_DOTENV_KEY") })
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_FINRAG_DOTENV_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"providers": {"zhipu": {"enabled": true, "apiBase": "https://open.bigmodel.cn/api/paas/v4/", "apiKey": "${TEST_FINRAG_DOTENV_KEY}"}}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Providers["zhipu"].APIKey != "from-dotenv" {
		t.Fatalf("expected key from .env, got %q", cfg.Providers["zhipu"].APIKey)
	}
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "general.defaultProvider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "zhipu" {
		t.Fatalf("expected 'zhipu', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "embedding.model", "text-embedding-3-small"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Fatalf("expected 'text-embedding-3-small', got %q", cfg.Embedding.Model)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "cache.enabled", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if !cfg.Cache.Enabled {
		t.Fatal("expected cache.enabled=true")
	}
}

func TestSetByPath_NumberConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "rag.k", "8"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.RAG.K != 8 {
		t.Fatalf("expected 8, got %d", cfg.RAG.K)
	}
	if err := SetByPath(cfg, "agent.temperature", "0.3"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if cfg.Agent.Temperature != 0.3 {
		t.Fatalf("expected 0.3, got %v", cfg.Agent.Temperature)
	}
}

func TestSetByPath_UnknownKeyRejected(t *testing.T) {
	cfg := Defaults()
	for _, path := range []string{"corpus.chunkSise", "nonexistent.path", "corpus", "providers.zhipu.bogus"} {
		if err := SetByPath(cfg, path, "1"); err == nil {
			t.Errorf("%s: expected error", path)
		}
	}
}

func TestSetByPath_StringFieldKeepsDigits(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "providers.zhipu.apiKey", "12345678"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Providers["zhipu"].APIKey != "12345678" {
		t.Fatalf("expected key kept as text, got %q", cfg.Providers["zhipu"].APIKey)
	}
}

func TestSetByPath_TypeMismatch(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "rag.k", "many"); err == nil {
		t.Fatal("expected error for non-numeric rag.k")
	}
	if err := SetByPath(cfg, "cache.enabled", "maybe"); err == nil {
		t.Fatal("expected error for non-boolean cache.enabled")
	}
}

func TestSetByPath_InvalidResultLeavesConfigUnchanged(t *testing.T) {
	cfg := Defaults()
	before := cfg.Corpus.ChunkOverlap
	err := SetByPath(cfg, "corpus.chunkOverlap", "600")
	if err == nil || !strings.Contains(err.Error(), "corpus.chunkOverlap") {
		t.Fatalf("expected overlap validation error, got %v", err)
	}
	if cfg.Corpus.ChunkOverlap != before {
		t.Fatalf("config changed to %d after rejected set", cfg.Corpus.ChunkOverlap)
	}
	if err := SetByPath(cfg, "embedding.provider", "word2vec"); err == nil {
		t.Fatal("expected error for unknown embedder")
	}
	if cfg.Embedding.Provider != Defaults().Embedding.Provider {
		t.Fatalf("embedding.provider changed to %q", cfg.Embedding.Provider)
	}
}

func TestSetByPath_NewProviderAndFailoverChain(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "providers.local.apiBase", "http://localhost:8000/v1"); err != nil {
		t.Fatalf("set apiBase: %v", err)
	}
	if err := SetByPath(cfg, "providers.local.enabled", "true"); err != nil {
		t.Fatalf("enable provider: %v", err)
	}
	if err := SetByPath(cfg, "general.failoverChain", "zhipu, local"); err != nil {
		t.Fatalf("set chain: %v", err)
	}
	if got := cfg.General.FailoverChain; len(got) != 2 || got[0] != "zhipu" || got[1] != "local" {
		t.Fatalf("unexpected failover chain %v", got)
	}
	if err := SetByPath(cfg, "general.failoverChain", "zhipu,missing"); err == nil {
		t.Fatal("expected error for chain naming an unknown provider")
	}
}

func TestRequiresRebuild(t *testing.T) {
	for path, want := range map[string]bool{
		"embedding.model":   true,
		"corpus.chunkSize":  true,
		"corpus.dir":        false,
		"rag.k":             false,
		"embedding.apiBase": false,
	} {
		if got := RequiresRebuild(path); got != want {
			t.Errorf("RequiresRebuild(%q) = %v, want %v", path, got, want)
		}
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.APIKey = "emb-1234567890abcdef"
	cfg.Cache.Password = "hunter2"
	cfg.Providers["openai"] = ProviderConfig{
		Enabled: true,
		APIKey:  "sk-1234567890abcdefghijklmnop",
	}

	sanitized := Sanitize(cfg)

	if sanitized.Providers["openai"].APIKey == cfg.Providers["openai"].APIKey {
		t.Fatal("API key should be masked")
	}
	if sanitized.Embedding.APIKey == cfg.Embedding.APIKey {
		t.Fatal("embedding key should be masked")
	}
	if sanitized.Cache.Password != "***" {
		t.Fatalf("redis password should be '***', got %q", sanitized.Cache.Password)
	}
	if cfg.Providers["openai"].APIKey != "sk-1234567890abcdefghijklmnop" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.APIKey = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Embedding.APIKey != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Embedding.APIKey)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}
	for _, expected := range []string{"corpus.dir", "general.logLevel", "embedding.dimension", "providers.zhipu.defaultModel"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"dir": "${NONEXISTENT_VAR_12345:-./corpus}"}`)
	expected := `{"dir": "./corpus"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_MODEL", "glm-4-plus")
	result := ExpandEnvVars(`{"model": "${MY_MODEL:-glm-4}"}`)
	expected := `{"model": "glm-4-plus"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_MatchReferenceSettings(t *testing.T) {
	cfg := Defaults()
	if cfg.Corpus.ChunkSize != 500 || cfg.Corpus.ChunkOverlap != 50 {
		t.Fatalf("unexpected chunking defaults: %+v", cfg.Corpus)
	}
	if cfg.RAG.K != 4 || cfg.RAG.Temperature != 0.1 || cfg.Agent.Temperature != 0.7 {
		t.Fatal("unexpected temperature or k defaults")
	}
	if cfg.Providers[cfg.General.DefaultProvider].DefaultModel != "glm-4" {
		t.Fatal("default provider should serve glm-4")
	}
}
