// Package config handles tascade configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for tascade.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Session SessionConfig `yaml:"session"`
	AI      AIConfig      `yaml:"ai"`
}

// ServerConfig defines the WebSocket command server.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Addr returns host:port for listening.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// URL returns the ws:// URL a local client should dial.
func (s ServerConfig) URL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, s.Port, s.Path)
}

// ClientConfig defines the RPC client.
type ClientConfig struct {
	URL                  string        `yaml:"url"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ProbePorts           []int         `yaml:"probe_ports"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
}

// DaemonConfig defines tascaded settings.
type DaemonConfig struct {
	Database        string        `yaml:"database"`
	LogFile         string        `yaml:"log_file"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	SentryDSN       string        `yaml:"sentry_dsn"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SessionConfig defines the context manager.
type SessionConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// AIConfig defines the structured-data provider.
type AIConfig struct {
	Provider     string `yaml:"provider"` // "gemini" or "" to disable
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			Host:    "localhost",
			Port:    8765,
			Path:    "/ws",
			Name:    "tascade",
			Version: "0.1.0",
		},
		Client: ClientConfig{
			RequestTimeout:       30 * time.Second,
			MaxReconnectAttempts: 3,
			ReconnectBaseDelay:   2 * time.Second,
			ProbePorts:           []int{8765, 8080, 3000},
			ProbeTimeout:         time.Second,
		},
		Daemon: DaemonConfig{
			Database:        filepath.Join(homeDir, ".local/share/tascade/tascade.db"),
			LogLevel:        "info",
			LogFormat:       "text",
			ShutdownTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			MaxHistory: 10,
		},
		AI: AIConfig{
			Provider: "gemini",
			APIKey:   "${GEMINI_API_KEY}",
		},
	}
}

// Load reads configuration from the default path, falling back to defaults
// when the file does not exist.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg.expandEnvVars()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.expandEnvVars()
	return cfg, nil
}

// DefaultConfigPath returns the configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("TASCADE_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/tascade/config.yaml")
}

// ClientURL returns the configured client URL or the local server URL.
func (c *Config) ClientURL() string {
	if c.Client.URL != "" {
		return c.Client.URL
	}
	return c.Server.URL()
}

func (c *Config) expandEnvVars() {
	c.AI.APIKey = os.ExpandEnv(c.AI.APIKey)
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
	c.Client.URL = os.ExpandEnv(c.Client.URL)
}

// Validate reports every invalid value in the config.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", c.Server.Path))
	}
	if c.Server.Name == "" {
		errs = append(errs, errors.New("server.name is required"))
	}
	if c.Client.URL != "" {
		u, err := url.Parse(c.Client.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("client.url %q must be a ws:// or wss:// URL", c.Client.URL))
		}
	}
	if c.Client.RequestTimeout < 0 {
		errs = append(errs, errors.New("client.request_timeout must not be negative"))
	}
	if c.Client.ReconnectBaseDelay < 0 {
		errs = append(errs, errors.New("client.reconnect_base_delay must not be negative"))
	}
	for _, p := range c.Client.ProbePorts {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("client.probe_ports: %d out of range", p))
		}
	}
	if c.Session.MaxHistory < 0 {
		errs = append(errs, errors.New("session.max_history must not be negative"))
	}
	switch strings.ToLower(c.Daemon.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("daemon.log_level %q is not a level", c.Daemon.LogLevel))
	}
	switch c.Daemon.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("daemon.log_format %q must be text or json", c.Daemon.LogFormat))
	}
	switch c.AI.Provider {
	case "", "none", "gemini":
	default:
		errs = append(errs, fmt.Errorf("ai.provider %q is not supported", c.AI.Provider))
	}
	return errors.Join(errs...)
}
