package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/bulk")
	t.Setenv("INPUTS_BUCKET", "inputs")
	t.Setenv("OUTPUTS_BUCKET", "outputs")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	for _, k := range []string{"SCRATCH_DIR", "EXTRACTOR_PATH", "EXTRACTOR_ARGS", "WORKER_CONCURRENCY", "STALE_AFTER", "LOG_LEVEL", "LOG_FORMAT", "S3_USE_SSL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/scratch", cfg.ScratchDir)
	assert.Equal(t, "bulk_extractor", cfg.ExtractorPath)
	assert.Empty(t, cfg.ExtractorArgs)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, 15*time.Minute, cfg.StaleAfter)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3UseSSL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("EXTRACTOR_PATH", "/opt/be/bulk_extractor")
	t.Setenv("EXTRACTOR_ARGS", "-x  aes -e wordlist")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("STALE_AFTER", "90s")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/be/bulk_extractor", cfg.ExtractorPath)
	assert.Equal(t, []string{"-x", "aes", "-e", "wordlist"}, cfg.ExtractorArgs)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, 90*time.Second, cfg.StaleAfter)
	assert.True(t, cfg.S3UseSSL)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_CONCURRENCY", "-1")
	t.Setenv("STALE_AFTER", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, 15*time.Minute, cfg.StaleAfter)
}

func TestLoadRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	setRequired(t)
	t.Setenv("OUTPUTS_BUCKET", "")
	_, err = Load()
	assert.ErrorContains(t, err, "OUTPUTS_BUCKET")
}
