package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("AZURE_OPENAI_KEY", "secret")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o")
	t.Setenv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT_NAME", "text-embedding-3-small")
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Rerank.FinalK != 3 {
		t.Errorf("Rerank.FinalK = %d, want 3", cfg.Rerank.FinalK)
	}
	if cfg.Rerank.TimeoutSeconds != 10 {
		t.Errorf("Rerank.TimeoutSeconds = %d, want 10", cfg.Rerank.TimeoutSeconds)
	}
	if cfg.Memory.RetrieveK != 10 {
		t.Errorf("Memory.RetrieveK = %d, want 10", cfg.Memory.RetrieveK)
	}
	if cfg.Memory.CacheSize != 10 {
		t.Errorf("Memory.CacheSize = %d, want 10", cfg.Memory.CacheSize)
	}
	if cfg.OpenAI.Endpoint != "https://example.openai.azure.com" {
		t.Errorf("OpenAI.Endpoint = %q", cfg.OpenAI.Endpoint)
	}
}

func TestLoadMemoryAndRerankOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GYMPT_MEMORY_RETRIEVE_K", "20")
	t.Setenv("GYMPT_MEMORY_CACHE_SIZE", "4")
	t.Setenv("GYMPT_RERANK_TIMEOUT_SECONDS", "30")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Memory.RetrieveK != 20 {
		t.Errorf("Memory.RetrieveK = %d, want 20", cfg.Memory.RetrieveK)
	}
	if cfg.Memory.CacheSize != 4 {
		t.Errorf("Memory.CacheSize = %d, want 4", cfg.Memory.CacheSize)
	}
	if cfg.Rerank.TimeoutSeconds != 30 {
		t.Errorf("Rerank.TimeoutSeconds = %d, want 30", cfg.Rerank.TimeoutSeconds)
	}
}

func TestLoadYAMLFileAndEnvOverride(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GYMPT_SERVER_PORT", "9001")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  port: 8100\nrerank:\n  final_k: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Rerank.FinalK != 5 {
		t.Errorf("Rerank.FinalK = %d, want 5 from file", cfg.Rerank.FinalK)
	}
	// Env beats file.
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001 from env", cfg.Server.Port)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	setRequiredEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load() with missing file error = %v", err)
	}
}

func TestLoadMissingCredentialsFails(t *testing.T) {
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	t.Setenv("AZURE_OPENAI_KEY", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() without credentials should fail")
	}
}
