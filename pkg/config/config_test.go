package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
global:
  log_level: info
telegram:
  token: "123456:test-token"
  admin_ids:
    - 111
    - 222
database:
  driver: sqlite
  sqlite:
    path: ./test.db
pc:
  mac_address: "AA:BB:CC:DD:EE:FF"
  ip_address: 192.168.1.50
  broadcast_address: 192.168.1.255
notifications:
  interval: 2m
  pc_status: true
  dota_matches: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./test.db", cfg.Database.SQLite.Path)
	assert.Equal(t, DefaultWOLPort, cfg.PC.WOLPort)
	assert.Equal(t, DefaultCommandTimeout, cfg.PC.CommandTimeout)
	assert.Equal(t, "2m", cfg.Notifications.Interval)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Minute, cfg.MonitorInterval())
	assert.Equal(t, 30*time.Second, cfg.PC.Timeout())
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "123456:test-token", cfg.Telegram.Token)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"PCWARDEN_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "string override - telegram token",
			envVars: map[string]string{
				"PCWARDEN_TELEGRAM_TOKEN": "999:override",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "999:override", cfg.Telegram.Token)
			},
		},
		{
			name: "string override - notification interval",
			envVars: map[string]string{
				"PCWARDEN_NOTIFICATIONS_INTERVAL": "30s",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "30s", cfg.Notifications.Interval)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, testConfig))
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, testConfig))
		require.NoError(t, err)

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(cfg *Config) {},
			wantErr: "",
		},
		{
			name:    "missing token",
			mutate:  func(cfg *Config) { cfg.Telegram.Token = "" },
			wantErr: "telegram token is required",
		},
		{
			name:    "no admins",
			mutate:  func(cfg *Config) { cfg.Telegram.AdminIDs = nil },
			wantErr: "at least one admin id",
		},
		{
			name:    "bad driver",
			mutate:  func(cfg *Config) { cfg.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "bad mac",
			mutate:  func(cfg *Config) { cfg.PC.MACAddress = "not-a-mac" },
			wantErr: "invalid mac address",
		},
		{
			name:    "bad interval",
			mutate:  func(cfg *Config) { cfg.Notifications.Interval = "sometimes" },
			wantErr: "invalid notifications.interval",
		},
		{
			name: "ssh without credentials",
			mutate: func(cfg *Config) {
				cfg.PC.SSH = &SSHConfig{Enabled: true, User: "warden"}
			},
			wantErr: "ssh requires a password or key_file",
		},
		{
			name: "dota enabled without account",
			mutate: func(cfg *Config) {
				cfg.Dota.Enabled = true
				cfg.Dota.AccountID = 0
			},
			wantErr: "dota account_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAdminIDSet(t *testing.T) {
	cfg := TelegramConfig{AdminIDs: []int64{111, 222}}

	set := cfg.AdminIDSet()
	assert.Len(t, set, 2)
	assert.Contains(t, set, int64(111))

	assert.True(t, cfg.IsAdminID(222))
	assert.False(t, cfg.IsAdminID(333))
}
