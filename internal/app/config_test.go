package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("LEDGER_LOCK_BACKEND", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Second, cfg.LockTimeout)
	require.Equal(t, 30*time.Second, cfg.LockExpiry)
	require.Equal(t, 10*time.Minute, cfg.ReportCacheTTL)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, "@every 15m", cfg.IntegrityCheckCron)
	require.Equal(t, "migrations", cfg.MigrationsDir)
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LedgerStore:        StorePostgres,
			PGDSN:              "postgres://localhost/ledger",
			LockBackend:        LockRedis,
			LockTimeout:        5 * time.Second,
			LockExpiry:         30 * time.Second,
			RateLimitPerMinute: 60,
		}
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown store", func(c *Config) { c.LedgerStore = "sqlite" }, false},
		{"missing dsn", func(c *Config) { c.PGDSN = "" }, false},
		{"memory store without dsn", func(c *Config) { c.LedgerStore = StoreMemory; c.PGDSN = "" }, true},
		{"unknown lock backend", func(c *Config) { c.LockBackend = "etcd" }, false},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = 0 }, false},
		{"expiry below timeout", func(c *Config) { c.LockExpiry = time.Second }, false},
		{"memory locks ignore expiry", func(c *Config) { c.LockBackend = LockMemory; c.LockExpiry = 0 }, true},
		{"zero rate limit", func(c *Config) { c.RateLimitPerMinute = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json"}, &buf).Info("posted", "entry_id", 7)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "posted", line["msg"])
	require.EqualValues(t, 7, line["entry_id"])
	require.Contains(t, line, "source")
}
