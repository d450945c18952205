package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadConfigJSONMergesDefaults(t *testing.T) {
	path := writeFile(t, "tcm.json", `{"port": 9090, "ledger": {"rate_limit_seconds": 30}}`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, uint64(30), c.Ledger.RateLimitSeconds)
	assert.Equal(t, 1000, c.Ledger.MaxMessageLength)
	assert.Equal(t, DriverSQLite, c.StoreDriver)
	assert.Equal(t, "tcm_key.pem", c.KeyFile)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "tcm.yaml", `
store_driver: postgres
database_url: postgres://tcm@localhost/tcm?sslmode=disable
redis_addr: localhost:6379
ledger:
  version: 2.0.0
  max_message_length: 500
`)

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, c.StoreDriver)
	assert.Equal(t, "localhost:6379", c.RedisAddr)

	p := c.LedgerParams()
	assert.Equal(t, "2.0.0", p.Version)
	assert.Equal(t, 500, p.MaxMessageLength)
	assert.Equal(t, 50, p.MaxReferenceLength)
}

func TestLoadConfigParseErrorIsReported(t *testing.T) {
	path := writeFile(t, "tcm.json", `{"port": `)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "a.json", `{"store_driver": "postgres"}`))
	require.Error(t, err, "postgres without a URL")

	_, err = LoadConfig(writeFile(t, "b.json", `{"store_driver": "etcd"}`))
	require.Error(t, err)

	_, err = LoadConfig(writeFile(t, "c.json", `{"ledger": {"version": "latest"}}`))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TCM_PORT", "7070")
	t.Setenv("TCM_STORE_DRIVER", "memory")
	t.Setenv("TCM_ENABLE_ACTIONS", "true")
	t.Setenv("TCM_RATE_LIMIT_SECONDS", "5")

	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Port)
	assert.Equal(t, DriverMemory, c.StoreDriver)
	assert.True(t, c.EnableActions)
	assert.Equal(t, uint64(5), c.Ledger.RateLimitSeconds)
	assert.Same(t, c, Get())
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("TCM_PORT", "eighty")
	_, err := LoadConfig("")
	require.Error(t, err)
}
