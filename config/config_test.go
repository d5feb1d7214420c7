package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/household-ledger/config"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "./data/ledger.db", cfg.Database.Path)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 5*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 600, cfg.Plan.MaxInstallments)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A config file and an environment override
	// WHEN: Loading
	// THEN: The environment wins over the file, the file over defaults

	path := filepath.Join(t.TempDir(), "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[http]
port = "9090"

[database]
path = "/var/lib/ledger/ledger.db"

[lock]
backend = "redis"
timeout = "2s"

[plan]
max_installments = 120
`), 0o644))

	t.Setenv("LEDGER_HTTP_PORT", "7070")
	t.Setenv("LEDGER_REDIS_ADDR", "redis:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.HTTP.Port)
	assert.Equal(t, "/var/lib/ledger/ledger.db", cfg.Database.Path)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 120, cfg.Plan.MaxInstallments)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.HTTP.Port = "http"
	cfg.Database.Path = ""
	cfg.Lock.Backend = "etcd"
	cfg.Plan.MaxInstallments = 0
	cfg.Log.Format = "xml"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"invalid port", "database path", "lock backend", "max installments", "log format"} {
		assert.Contains(t, err.Error(), want)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
