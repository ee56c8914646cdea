package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "./pcwarden.db"

	// DefaultWOLPort is the UDP port magic packets are sent to.
	DefaultWOLPort = 9

	// DefaultBroadcast is the limited broadcast address used when no
	// subnet broadcast is configured.
	DefaultBroadcast = "255.255.255.255"

	// DefaultMonitorInterval is the default background poll interval.
	DefaultMonitorInterval = "5m"

	// DefaultCommandTimeout bounds remote command execution.
	DefaultCommandTimeout = "30s"

	// DefaultWakeTimeout bounds the post-wake liveness poll.
	DefaultWakeTimeout = "30s"

	// DefaultHealthListen is the default health endpoint address.
	DefaultHealthListen = ":8088"
)

var macAddressPattern = regexp.MustCompile(
	`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`,
)

// Config is the root configuration for pcwarden.
type Config struct {
	Global        GlobalConfig       `yaml:"global" mapstructure:"global"`
	Telegram      TelegramConfig     `yaml:"telegram" mapstructure:"telegram"`
	Database      DatabaseConfig     `yaml:"database" mapstructure:"database"`
	PC            PCConfig           `yaml:"pc" mapstructure:"pc"`
	Dota          DotaConfig         `yaml:"dota,omitempty" mapstructure:"dota"`
	Notifications NotificationConfig `yaml:"notifications,omitempty" mapstructure:"notifications"`
	Health        HealthConfig       `yaml:"health,omitempty" mapstructure:"health"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// TelegramConfig contains the bot transport settings.
type TelegramConfig struct {
	Token    string  `yaml:"token" mapstructure:"token"`
	AdminIDs []int64 `yaml:"admin_ids" mapstructure:"admin_ids"`
}

// DatabaseConfig selects and configures the database driver.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// PCConfig identifies and configures access to the controlled machine.
type PCConfig struct {
	MACAddress       string     `yaml:"mac_address" mapstructure:"mac_address"`
	IPAddress        string     `yaml:"ip_address" mapstructure:"ip_address"`
	BroadcastAddress string     `yaml:"broadcast_address" mapstructure:"broadcast_address"`
	WOLPort          int        `yaml:"wol_port,omitempty" mapstructure:"wol_port"`
	CommandTimeout   string     `yaml:"command_timeout,omitempty" mapstructure:"command_timeout"`
	WakeTimeout      string     `yaml:"wake_timeout,omitempty" mapstructure:"wake_timeout"`
	ExtraCommands    []string   `yaml:"extra_commands,omitempty" mapstructure:"extra_commands"`
	SSH              *SSHConfig `yaml:"ssh,omitempty" mapstructure:"ssh"`
}

// SSHConfig enables controlling the machine over SSH instead of
// executing locally. When disabled pcwarden must run on the controlled
// machine itself.
type SSHConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Port     int    `yaml:"port,omitempty" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	KeyFile  string `yaml:"key_file,omitempty" mapstructure:"key_file"`
}

// DotaConfig contains game-stats tracking settings.
type DotaConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	SteamAPIKey string `yaml:"steam_api_key,omitempty" mapstructure:"steam_api_key"`
	AccountID   int64  `yaml:"account_id,omitempty" mapstructure:"account_id"`
}

// NotificationConfig controls the background monitor and which
// notification categories are broadcast.
type NotificationConfig struct {
	Interval    string `yaml:"interval,omitempty" mapstructure:"interval"`
	PCStatus    bool   `yaml:"pc_status" mapstructure:"pc_status"`
	DotaMatches bool   `yaml:"dota_matches" mapstructure:"dota_matches"`
}

// HealthConfig configures the optional HTTP health/status endpoint.
type HealthConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	Listen      string   `yaml:"listen,omitempty" mapstructure:"listen"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
}

// Load reads a configuration file and applies environment overrides.
// Every key can be overridden with a PCWARDEN_-prefixed variable, e.g.
// PCWARDEN_TELEGRAM_TOKEN or PCWARDEN_GLOBAL_LOG_LEVEL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PCWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.PC.WOLPort == 0 {
		c.PC.WOLPort = DefaultWOLPort
	}

	if c.PC.BroadcastAddress == "" {
		c.PC.BroadcastAddress = DefaultBroadcast
	}

	if c.PC.CommandTimeout == "" {
		c.PC.CommandTimeout = DefaultCommandTimeout
	}

	if c.PC.WakeTimeout == "" {
		c.PC.WakeTimeout = DefaultWakeTimeout
	}

	if c.PC.SSH != nil && c.PC.SSH.Port == 0 {
		c.PC.SSH.Port = 22
	}

	if c.Notifications.Interval == "" {
		c.Notifications.Interval = DefaultMonitorInterval
	}

	if c.Health.Enabled && c.Health.Listen == "" {
		c.Health.Listen = DefaultHealthListen
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	if len(c.Telegram.AdminIDs) == 0 {
		return fmt.Errorf("at least one admin id must be configured")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.PC.MACAddress != "" && !macAddressPattern.MatchString(c.PC.MACAddress) {
		return fmt.Errorf("invalid mac address: %s", c.PC.MACAddress)
	}

	if c.PC.SSH != nil && c.PC.SSH.Enabled {
		if c.PC.IPAddress == "" {
			return fmt.Errorf("pc ip_address is required when ssh is enabled")
		}

		if c.PC.SSH.User == "" {
			return fmt.Errorf("ssh user is required when ssh is enabled")
		}

		if c.PC.SSH.Password == "" && c.PC.SSH.KeyFile == "" {
			return fmt.Errorf("ssh requires a password or key_file")
		}
	}

	if c.Dota.Enabled && c.Dota.AccountID == 0 {
		return fmt.Errorf("dota account_id is required when dota is enabled")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"notifications.interval", c.Notifications.Interval},
		{"pc.command_timeout", c.PC.CommandTimeout},
		{"pc.wake_timeout", c.PC.WakeTimeout},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}

	return nil
}

// MonitorInterval returns the parsed background poll interval.
// Validate must have been called first.
func (c *Config) MonitorInterval() time.Duration {
	d, _ := time.ParseDuration(c.Notifications.Interval)

	return d
}

// Timeout returns the parsed remote command execution timeout.
func (c *PCConfig) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.CommandTimeout)

	return d
}

// WakeDeadline returns the parsed post-wake verification timeout.
func (c *PCConfig) WakeDeadline() time.Duration {
	d, _ := time.ParseDuration(c.WakeTimeout)

	return d
}

// AdminIDSet returns the static admin allow-list as a set.
func (c *TelegramConfig) AdminIDSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.AdminIDs))
	for _, id := range c.AdminIDs {
		set[id] = struct{}{}
	}

	return set
}

// IsAdminID reports whether id is in the static admin allow-list.
func (c *TelegramConfig) IsAdminID(id int64) bool {
	for _, admin := range c.AdminIDs {
		if admin == id {
			return true
		}
	}

	return false
}
