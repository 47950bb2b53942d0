package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, BackendMemory, cfg.Index.Backend)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.6, cfg.Retrieval.RelevancyThreshold, 1e-9)
	assert.Equal(t, "lower", cfg.Retrieval.RelevancyPolarity)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "shared-key")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("RETRIEVAL_TOP_K", "8")
	t.Setenv("RELEVANCY_POLARITY", "higher")
	t.Setenv("INDEX_LOAD_SNAPSHOT", "true")
	t.Setenv("SERVER_WRITE_TIMEOUT", "2m")
	t.Setenv("CHUNK_SIZE", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "shared-key", cfg.Embedding.APIKey)
	assert.Equal(t, "llm-key", cfg.LLM.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, "higher", cfg.Retrieval.RelevancyPolarity)
	assert.True(t, cfg.Index.LoadSnapshot)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 1000, cfg.Chunking.Size)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("INDEX_BACKEND=postgres\nDB_NAME=tickets_test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("INDEX_BACKEND")
		os.Unsetenv("DB_NAME")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Index.Backend)
	assert.Equal(t, "tickets_test", cfg.Database.DBName)
}

func TestLoad_MissingEnvFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "overlap too large", mutate: func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{name: "zero dimension", mutate: func(c *Config) { c.Embedding.Dimension = 0 }},
		{name: "zero top-k", mutate: func(c *Config) { c.Retrieval.TopK = 0 }},
		{name: "unknown backend", mutate: func(c *Config) { c.Index.Backend = "faiss" }},
		{name: "unknown polarity", mutate: func(c *Config) { c.Retrieval.RelevancyPolarity = "up" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
