package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Bot         BotConfig         `mapstructure:"bot" json:"bot"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper" json:"sweeper"`
	Channels    ChannelsConfig    `mapstructure:"channels" json:"channels"`
	Directory   DirectoryConfig   `mapstructure:"directory" json:"directory"`
	Persistence PersistenceConfig `mapstructure:"persistence" json:"persistence"`
	Gateway     GatewayConfig     `mapstructure:"gateway" json:"gateway"`
	Log         LogConfig         `mapstructure:"log" json:"log"`
}

// BotConfig request and approval behavior
type BotConfig struct {
	Admins               []string `mapstructure:"admins" json:"admins"`
	AdminsChannel        string   `mapstructure:"admins_channel" json:"admins_channel"`
	AdminsChannelElevate bool     `mapstructure:"admins_channel_elevate" json:"admins_channel_elevate"`

	GrantTimeout            int    `mapstructure:"grant_timeout" json:"grant_timeout"` // minutes
	ResourceGrantTimeoutTag string `mapstructure:"resource_grant_timeout_tag" json:"resource_grant_timeout_tag"`

	AutoApproveAll         bool   `mapstructure:"auto_approve_all" json:"auto_approve_all"`
	AutoApproveTag         string `mapstructure:"auto_approve_tag" json:"auto_approve_tag"`
	AutoApproveRoleAll     bool   `mapstructure:"auto_approve_role_all" json:"auto_approve_role_all"`
	AutoApproveRoleTag     string `mapstructure:"auto_approve_role_tag" json:"auto_approve_role_tag"`
	MaxAutoApproveUses     int    `mapstructure:"max_auto_approve_uses" json:"max_auto_approve_uses"`
	MaxAutoApproveInterval int    `mapstructure:"max_auto_approve_interval" json:"max_auto_approve_interval"` // minutes

	AllowResourceTag string `mapstructure:"allow_resource_tag" json:"allow_resource_tag"`
	HideResourceTag  string `mapstructure:"hide_resource_tag" json:"hide_resource_tag"`
	HideRoleTag      string `mapstructure:"hide_role_tag" json:"hide_role_tag"`

	RequiredFlags                []string `mapstructure:"required_flags" json:"required_flags"`
	SenderNickOverride           string   `mapstructure:"sender_nick_override" json:"sender_nick_override"`
	SenderEmailOverride          string   `mapstructure:"sender_email_override" json:"sender_email_override"`
	EmailSubaddress              string   `mapstructure:"email_subaddress" json:"email_subaddress"`
	EnableResourcesFuzzyMatching bool     `mapstructure:"enable_resources_fuzzy_matching" json:"enable_resources_fuzzy_matching"`
}

// GrantTimeoutDuration returns the pending deadline and default grant length.
func (b BotConfig) GrantTimeoutDuration() time.Duration {
	return time.Duration(b.GrantTimeout) * time.Minute
}

// AutoApproveWindow returns the rolling window after which auto-approve counts reset.
func (b BotConfig) AutoApproveWindow() time.Duration {
	return time.Duration(b.MaxAutoApproveInterval) * time.Minute
}

// SweeperConfig background sweep cadence
type SweeperConfig struct {
	StaleInterval   int `mapstructure:"stale_interval" json:"stale_interval"`     // seconds
	CounterInterval int `mapstructure:"counter_interval" json:"counter_interval"` // seconds
}

// ChannelsConfig channel settings
type ChannelsConfig struct {
	Slack    SlackConfig    `mapstructure:"slack" json:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord" json:"discord"`
}

// SlackConfig Slack bot settings
type SlackConfig struct {
	Enabled    bool     `mapstructure:"enabled" json:"enabled"`
	BotToken   string   `mapstructure:"bot_token" json:"bot_token"`
	AppToken   string   `mapstructure:"app_token" json:"app_token"`
	EmailField string   `mapstructure:"email_field" json:"email_field"`
	AllowFrom  []string `mapstructure:"allow_from" json:"allow_from"`
}

// TelegramConfig telegram bot settings
type TelegramConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	Token     string   `mapstructure:"token" json:"token"`
	AllowFrom []string `mapstructure:"allow_from" json:"allow_from"`
}

// DiscordConfig Discord bot settings
type DiscordConfig struct {
	Enabled   bool     `mapstructure:"enabled" json:"enabled"`
	Token     string   `mapstructure:"token" json:"token"`
	AllowFrom []string `mapstructure:"allow_from" json:"allow_from"`
}

// DirectoryConfig seeds the static access directory.
type DirectoryConfig struct {
	Accounts  []AccountConfig  `mapstructure:"accounts" json:"accounts"`
	Resources []ResourceConfig `mapstructure:"resources" json:"resources"`
	Roles     []RoleConfig     `mapstructure:"roles" json:"roles"`
}

// AccountConfig is one directory account and the chat identities that map to it.
type AccountConfig struct {
	ID      string   `mapstructure:"id" json:"id"`
	Email   string   `mapstructure:"email" json:"email"`
	Handles []string `mapstructure:"handles" json:"handles"`
}

// ResourceConfig is one grantable resource.
type ResourceConfig struct {
	ID   string            `mapstructure:"id" json:"id"`
	Name string            `mapstructure:"name" json:"name"`
	Type string            `mapstructure:"type" json:"type"`
	Tags map[string]string `mapstructure:"tags" json:"tags"`
}

// RoleConfig is one grantable role.
type RoleConfig struct {
	ID   string            `mapstructure:"id" json:"id"`
	Name string            `mapstructure:"name" json:"name"`
	Tags map[string]string `mapstructure:"tags" json:"tags"`
}

// PersistenceConfig controls where auto-approve counters are snapshotted.
type PersistenceConfig struct {
	Backend string      `mapstructure:"backend" json:"backend"` // file | redis | none
	Dir     string      `mapstructure:"dir" json:"dir"`
	Redis   RedisConfig `mapstructure:"redis" json:"redis"`
}

// RedisConfig redis connection settings
type RedisConfig struct {
	URL         string `mapstructure:"url" json:"url"`
	Key         string `mapstructure:"key" json:"key"`
	PoolSize    int    `mapstructure:"pool_size" json:"pool_size"`
	DialTimeout int    `mapstructure:"dial_timeout" json:"dial_timeout"` // seconds
}

// GatewayConfig server settings
type GatewayConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Host    string `mapstructure:"host" json:"host"`
	Port    int    `mapstructure:"port" json:"port"`
	Token   string `mapstructure:"token" json:"token"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Admins:                       []string{},
			GrantTimeout:                 60,
			MaxAutoApproveInterval:       1440,
			RequiredFlags:                []string{},
			EnableResourcesFuzzyMatching: true,
		},
		Sweeper: SweeperConfig{
			StaleInterval:   5,
			CounterInterval: 60,
		},
		Channels: ChannelsConfig{
			Slack:    SlackConfig{AllowFrom: []string{}},
			Telegram: TelegramConfig{AllowFrom: []string{}},
			Discord:  DiscordConfig{AllowFrom: []string{}},
		},
		Directory: DirectoryConfig{
			Accounts:  []AccountConfig{},
			Resources: []ResourceConfig{},
			Roles:     []RoleConfig{},
		},
		Persistence: PersistenceConfig{
			Backend: "file",
			Dir:     ConfigDir(),
			Redis: RedisConfig{
				Key:         "accessbot:auto_approve_uses",
				PoolSize:    10,
				DialTimeout: 5,
			},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    18791,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ConfigDir returns the accessbot config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".accessbot"
	}
	return filepath.Join(homeDir, ".accessbot")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from the default path, creating it when missing.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads config from configPath or returns defaults written to that path.
func LoadFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveTo(configPath, cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("ACCESSBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to the default path
func Save(cfg *Config) error {
	return SaveTo(ConfigPath(), cfg)
}

// SaveTo saves config to configPath
func SaveTo(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	b := &c.Bot

	if b.GrantTimeout < 0 {
		return fmt.Errorf("bot.grant_timeout must not be negative, got %d", b.GrantTimeout)
	}
	if b.GrantTimeout == 0 {
		b.GrantTimeout = 60
	}
	if b.MaxAutoApproveUses < 0 {
		return fmt.Errorf("bot.max_auto_approve_uses must not be negative, got %d", b.MaxAutoApproveUses)
	}
	if b.MaxAutoApproveInterval < 0 {
		return fmt.Errorf("bot.max_auto_approve_interval must not be negative, got %d", b.MaxAutoApproveInterval)
	}
	if b.MaxAutoApproveInterval == 0 {
		b.MaxAutoApproveInterval = 1440
	}
	b.AdminsChannel = strings.TrimPrefix(strings.TrimSpace(b.AdminsChannel), "#")
	if b.AdminsChannelElevate && b.AdminsChannel == "" {
		return fmt.Errorf("bot.admins_channel is required when bot.admins_channel_elevate is set")
	}
	for i, admin := range b.Admins {
		b.Admins[i] = strings.ToLower(strings.TrimSpace(admin))
	}
	for i, flag := range b.RequiredFlags {
		b.RequiredFlags[i] = strings.ToLower(strings.TrimSpace(flag))
	}

	if c.Sweeper.StaleInterval < 0 || c.Sweeper.CounterInterval < 0 {
		return fmt.Errorf("sweeper intervals must not be negative")
	}
	if c.Sweeper.StaleInterval == 0 {
		c.Sweeper.StaleInterval = 5
	}
	if c.Sweeper.CounterInterval == 0 {
		c.Sweeper.CounterInterval = 60
	}

	seen := make(map[string]bool, len(c.Directory.Resources))
	for _, r := range c.Directory.Resources {
		name := strings.ToLower(strings.TrimSpace(r.Name))
		if name == "" {
			return fmt.Errorf("directory.resources: name is required (id %q)", r.ID)
		}
		if seen[name] {
			return fmt.Errorf("directory.resources: duplicate name %q", r.Name)
		}
		seen[name] = true
	}

	backend := strings.ToLower(strings.TrimSpace(c.Persistence.Backend))
	switch backend {
	case "":
		c.Persistence.Backend = "file"
	case "file", "none":
		c.Persistence.Backend = backend
	case "redis":
		if strings.TrimSpace(c.Persistence.Redis.URL) == "" {
			return fmt.Errorf("persistence.redis.url is required when persistence.backend is \"redis\"")
		}
		c.Persistence.Backend = backend
	default:
		return fmt.Errorf("persistence.backend must be one of file, redis, none; got %q", c.Persistence.Backend)
	}
	if strings.TrimSpace(c.Persistence.Dir) == "" {
		c.Persistence.Dir = ConfigDir()
	}
	if strings.TrimSpace(c.Persistence.Redis.Key) == "" {
		c.Persistence.Redis.Key = "accessbot:auto_approve_uses"
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	return nil
}

// StaleSweepInterval returns the stale grant request sweep period.
func (c *Config) StaleSweepInterval() time.Duration {
	return time.Duration(c.Sweeper.StaleInterval) * time.Second
}

// CounterSweepInterval returns the auto-approve counter sweep period.
func (c *Config) CounterSweepInterval() time.Duration {
	return time.Duration(c.Sweeper.CounterInterval) * time.Second
}
