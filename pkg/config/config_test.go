package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/marginalia/pkg/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing-but-explicit.yaml"))
	assert.Error(t, err)

	cfg, err = config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "https://readwise.io/api/v3", cfg.Reader.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dim)
	assert.Equal(t, 300, cfg.Chunker.MinTokens)
	assert.Equal(t, 800, cfg.Chunker.MaxTokens)
	assert.Equal(t, 0.75, cfg.Chunker.Threshold)
	assert.Equal(t, 15, cfg.Retriever.TopK)
}

func TestLoadConfig_FileValues(t *testing.T) {
	t.Setenv("READWISE_TOKEN", "")
	path := writeConfig(t, `
reader:
  token: file-token
chunker:
  max_tokens: 600
retriever:
  top_k: 5
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Reader.Token)
	assert.Equal(t, 600, cfg.Chunker.MaxTokens)
	assert.Equal(t, 5, cfg.Retriever.TopK)
	// Unset values still get defaults.
	assert.Equal(t, 300, cfg.Chunker.MinTokens)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("READWISE_TOKEN", "env-token")
	t.Setenv("PINECONE_API_KEY", "env-pinecone")
	t.Setenv("PINECONE_INDEX", "notes")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("DATABASE_URL", "postgres://localhost/marginalia")
	t.Setenv("LAST_SYNC_TIME", "2025-06-01T00:00:00Z")

	path := writeConfig(t, "reader:\n  token: file-token\n")
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Reader.Token)
	assert.Equal(t, "env-pinecone", cfg.Pinecone.APIKey)
	assert.Equal(t, "notes", cfg.Pinecone.Index)
	assert.Equal(t, "env-openai", cfg.Embedding.APIKey)
	assert.Equal(t, "env-gemini", cfg.Rewriter.APIKey)
	assert.Equal(t, "postgres://localhost/marginalia", cfg.Database.URL)
	assert.Equal(t, "2025-06-01T00:00:00Z", cfg.Sync.LastSyncTime)

	assert.Empty(t, cfg.Validate())
}

func TestValidate_ReportsAllMissing(t *testing.T) {
	for _, key := range []string{"READWISE_TOKEN", "PINECONE_API_KEY", "PINECONE_INDEX", "OPENAI_API_KEY"} {
		t.Setenv(key, "")
	}
	path := writeConfig(t, "")
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	errs := cfg.Validate()
	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
		assert.NotEmpty(t, e.Error())
	}
	assert.True(t, fields["reader.token"])
	assert.True(t, fields["pinecone.api_key"])
	assert.True(t, fields["embedding.api_key"])
}

func TestValidate_ChunkerBounds(t *testing.T) {
	path := writeConfig(t, `
chunker:
  min_tokens: 900
  max_tokens: 800
`)
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	var found bool
	for _, e := range cfg.Validate() {
		if e.Field == "chunker.min_tokens" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_LastSyncTimeFormat(t *testing.T) {
	t.Setenv("LAST_SYNC_TIME", "yesterday")
	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	var found bool
	for _, e := range cfg.Validate() {
		if e.Field == "sync.last_sync_time" {
			found = true
		}
	}
	assert.True(t, found)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
