package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DB_CONN", "host=localhost dbname=users")
	t.Setenv("EXPORT_DIR", "/tmp/exports")
	t.Setenv("EXPORT_WORKERS", "2")
	t.Setenv("JOB_STALE_AFTER", "30s")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "host=localhost dbname=users", cfg.DBConn)
	assert.Equal(t, "/tmp/exports", cfg.ExportDir)
	assert.Equal(t, 2, cfg.ExportWorkers)
	assert.Equal(t, 30*time.Second, cfg.JobStaleAfter)
	assert.NotEmpty(t, cfg.GoogleTokenInfoURL)
}

func TestNewConfigInvalidWorkers(t *testing.T) {
	t.Setenv("EXPORT_WORKERS", "zero")
	_, err := NewConfig()
	assert.Error(t, err)
}

func TestNewConfigInvalidStaleAfter(t *testing.T) {
	t.Setenv("EXPORT_WORKERS", "4")
	t.Setenv("JOB_STALE_AFTER", "soon")
	_, err := NewConfig()
	assert.Error(t, err)
}
