// Copyright 2024-2026 Aiku AI

package gateway

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	DefaultListenAddress = ":3000"
	DefaultLimitation    = "Hi! I'm a virtual assistant and can't process audio, images, videos or calls right now. Please send your request as text."
	DefaultPauseCommand  = "#pausarbot"
	DefaultResumeCommand = "#reativarbot"
)

// Config holds the gateway configuration. Values come from the YAML file
// and can be overridden by environment variables.
type Config struct {
	ListenAddress string `yaml:"listen_address" env:"GATEWAY_LISTEN_ADDRESS"`

	Webhook   WebhookConfig   `yaml:"webhook"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Messages  MessagesConfig  `yaml:"messages"`

	// StatusEndpoint receives a bridge state JSON on every connection
	// state change. Leave empty to disable.
	StatusEndpoint string `yaml:"status_endpoint" env:"GATEWAY_STATUS_ENDPOINT"`
	StatusToken    string `yaml:"status_token" env:"GATEWAY_STATUS_TOKEN"`

	Logging zeroconfig.Config `yaml:"logging" env:"-"`
}

type WebhookConfig struct {
	URL      string `yaml:"url" env:"API_WEBHOOK_URL"`
	StateURL string `yaml:"state_url" env:"API_STATE_URL"`
}

type SessionConfig struct {
	DatabaseType string `yaml:"database_type" env:"GATEWAY_DATABASE_TYPE"`
	DatabaseURI  string `yaml:"database_uri" env:"GATEWAY_DATABASE_URI"`
}

// ReconnectConfig holds the reconnect delays in seconds.
type ReconnectConfig struct {
	RestartDelay  int `yaml:"restart_delay" env:"GATEWAY_RESTART_DELAY"`
	RetryInterval int `yaml:"retry_interval" env:"GATEWAY_RETRY_INTERVAL"`
}

func (rc ReconnectConfig) RestartDelayDuration() time.Duration {
	if rc.RestartDelay <= 0 {
		return DefaultRestartDelay
	}
	return time.Duration(rc.RestartDelay) * time.Second
}

func (rc ReconnectConfig) RetryIntervalDuration() time.Duration {
	if rc.RetryInterval <= 0 {
		return DefaultRetryInterval
	}
	return time.Duration(rc.RetryInterval) * time.Second
}

// MessagesConfig holds the user-facing texts and command words.
type MessagesConfig struct {
	Limitation    string `yaml:"limitation" env:"GATEWAY_LIMITATION_MESSAGE"`
	PauseCommand  string `yaml:"pause_command" env:"GATEWAY_PAUSE_COMMAND"`
	ResumeCommand string `yaml:"resume_command" env:"GATEWAY_RESUME_COMMAND"`
}

func (mc MessagesConfig) withDefaults() MessagesConfig {
	if mc.Limitation == "" {
		mc.Limitation = DefaultLimitation
	}
	if mc.PauseCommand == "" {
		mc.PauseCommand = DefaultPauseCommand
	}
	if mc.ResumeCommand == "" {
		mc.ResumeCommand = DefaultResumeCommand
	}
	// Commands are compared against normalized text.
	mc.PauseCommand = NormalizeText(mc.PauseCommand)
	mc.ResumeCommand = NormalizeText(mc.ResumeCommand)
	return mc
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults and validates the config.
func (c *Config) PostProcess() error {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.Webhook.URL == "" {
		return errors.New("webhook.url is required")
	}
	if c.Session.DatabaseType == "" {
		c.Session.DatabaseType = "sqlite3"
	}
	dialect, err := dbutil.ParseDialect(c.Session.DatabaseType)
	if err != nil {
		return fmt.Errorf("invalid session.database_type: %w", err)
	}
	// Driver names as registered by lib/pq and go-sqlite3.
	if dialect == dbutil.Postgres {
		c.Session.DatabaseType = "postgres"
	} else {
		c.Session.DatabaseType = "sqlite3"
	}
	if c.Session.DatabaseURI == "" {
		return errors.New("session.database_uri is required")
	}
	c.Messages = c.Messages.withDefaults()
	return nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "listen_address")
	helper.Copy(up.Str, "webhook", "url")
	helper.Copy(up.Str|up.Null, "webhook", "state_url")
	helper.Copy(up.Str, "session", "database_type")
	helper.Copy(up.Str, "session", "database_uri")
	helper.Copy(up.Int, "reconnect", "restart_delay")
	helper.Copy(up.Int, "reconnect", "retry_interval")
	helper.Copy(up.Str, "messages", "limitation")
	helper.Copy(up.Str, "messages", "pause_command")
	helper.Copy(up.Str, "messages", "resume_command")
	helper.Copy(up.Str|up.Null, "status_endpoint")
	helper.Copy(up.Str|up.Null, "status_token")
	helper.Copy(up.Map, "logging")
}

// Upgrader merges an existing config file into the current example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"webhook"},
		{"session"},
		{"reconnect"},
		{"messages"},
		{"status_endpoint"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadConfig reads the config file at path, upgrades it to the current
// layout (saving the result when save is true), applies environment
// overrides and post-processes it.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data, applies environment overrides and
// post-processes the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteExampleConfig writes the example config to path without
// overwriting an existing file.
func WriteExampleConfig(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(ExampleConfig)
	return err
}
