package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Synthesis.Workers)
		assert.Equal(t, "results", cfg.Output.Dir)
		assert.NotEmpty(t, cfg.Synthesis.BaseImports)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forge.yaml")
		data := `
llm:
  model: local-model
  timeout_seconds: 60
synthesis:
  workers: 5
knowledge:
  enabled: false
`
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "local-model", cfg.LLM.Model)
		assert.Equal(t, 5, cfg.Synthesis.Workers)
		assert.False(t, cfg.Knowledge.Enabled)
		assert.Equal(t, 60*time.Second, cfg.LLMTimeout())
		// Untouched sections keep their defaults.
		assert.Equal(t, "https://leansearch.net/search", cfg.Search.BaseURL)
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "forge.yaml")
		require.NoError(t, os.WriteFile(path, []byte("llm: [not a map"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		t.Setenv("PROOFFORGE_LLM_MODEL", "env-model")
		t.Setenv("PROOFFORGE_WORKERS", "7")

		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "env-model", cfg.LLM.Model)
		assert.Equal(t, 7, cfg.Synthesis.Workers)
	})

	t.Run("bad numeric env ignored", func(t *testing.T) {
		t.Setenv("PROOFFORGE_WORKERS", "many")
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Synthesis.Workers)
	})
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 30*time.Second, cfg.SearchTimeout())
	assert.Equal(t, 2*time.Second, cfg.SearchRetryDelay())
	assert.Equal(t, 120*time.Second, cfg.CompileTimeout())
}

func TestAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv(cfg.LLM.APIKeyEnv, "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())
}
