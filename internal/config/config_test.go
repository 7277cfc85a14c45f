package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Backend)
	assert.Equal(t, []float64{0.3, 0.2, 0.1, 0.05}, cfg.Retrieval.FallbackThresholds)
	assert.Equal(t, 2*time.Hour, cfg.Retrieval.TemporalWindow)
	assert.Equal(t, 0.8, cfg.Contradiction.ConceptThreshold)
	assert.Contains(t, cfg.Retrieval.TemporalTriggers, "just said")
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
backend: chromem
db_path: /tmp/mem.db
retrieval:
  temporal_window: 30m
  fallback_thresholds: [0.4, 0.1]
persona_keywords:
  elena:
    - ocean
    - marine
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("EPISODIC_DB_PATH", "/var/lib/mem.db")
	t.Setenv("EPISODIC_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("EPISODIC_CONTRADICTION_CLUSTER_SIZE", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "chromem", cfg.Backend)
	assert.Equal(t, "/var/lib/mem.db", cfg.DBPath)
	assert.Equal(t, 30*time.Minute, cfg.Retrieval.TemporalWindow)
	assert.Equal(t, []float64{0.4, 0.1}, cfg.Retrieval.FallbackThresholds)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 8, cfg.Contradiction.ClusterSize)
	assert.Equal(t, []string{"ocean", "marine"}, cfg.PersonaKeywords["elena"])
	// untouched by file and env
	assert.Equal(t, 6, cfg.Concurrency)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := Default()
	bad.Backend = "qdrant"
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Retrieval.FallbackThresholds = []float64{0.1, 0.3}
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Concurrency = 0
	assert.Error(t, bad.Validate())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
