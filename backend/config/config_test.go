package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Dispatch.MaxInstructionsPerPoll)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.DefaultPollTimeout)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.MaxPollTimeout)
	assert.Equal(t, 300*time.Second, cfg.Dispatch.TimestampWindow)
	assert.Greater(t, cfg.Server.WriteTimeout, cfg.Dispatch.MaxPollTimeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	p := writeConfig(t, `
server:
  port: 8080
db:
  driver: sqlite
  path: ":memory:"
dispatch:
  promote_interval: 2s
  workers: 4
  stale_pending: 90s
log:
  level: debug
`)
	t.Setenv("AUTOJS_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("AUTOJS_JWT_SECRET", "from-env")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.PromoteInterval)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.StalePending)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server:\n  port: 70000\n"))
	assert.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")
	levels := make(chan string, 8)
	require.NoError(t, Watch(p, func(c *Config) { levels <- c.Log.Level }))

	require.NoError(t, os.WriteFile(p, []byte("log:\n  level: debug\n"), 0o600))
	require.Eventually(t, func() bool {
		for {
			select {
			case l := <-levels:
				if l == "debug" {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 20*time.Millisecond)
}
