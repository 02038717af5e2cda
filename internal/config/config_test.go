package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.HTTPPort)
	assert.Equal(t, "weighted_average", cfg.DefaultPriorityMethod)
	assert.True(t, cfg.RuleEngineDefaultsEnabled)
	assert.InDelta(t, 1.0, cfg.WinScoringWeights.Wisdom+cfg.WinScoringWeights.Intelligence+cfg.WinScoringWeights.Networking, 1e-9)
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tensiond.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port: 8080
log_level: debug
default_priority_method: rice_framework
win_scoring_weights:
  wisdom: 2
  intelligence: 1
  networking: 1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "rice_framework", cfg.DefaultPriorityMethod)
	assert.InDelta(t, 0.5, cfg.WinScoringWeights.Wisdom, 1e-9, "weights are normalized")
	assert.Equal(t, 16, cfg.MaxBatchConcurrency, "untouched options keep defaults")
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: [not a port"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DefaultPriorityMethod = "guesswork"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxBatchConcurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.WinScoringWeights = WinWeights{}
	assert.Error(t, cfg.Validate())
}
