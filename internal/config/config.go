// Package config loads the daemon configuration from
// <home>/config.yaml with environment overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	otelpkg "github.com/basket/panelbridge/internal/otel"
)

// RobloxConfig holds the Open Cloud messaging settings.
type RobloxConfig struct {
	UniverseID string `yaml:"universe_id"`
	Topic      string `yaml:"topic"`
	APIKey     string `yaml:"api_key"`
}

// BridgeConfig tunes the correlated-call machinery.
type BridgeConfig struct {
	CallTimeoutSeconds    int `yaml:"call_timeout_seconds"`
	PublishTimeoutSeconds int `yaml:"publish_timeout_seconds"`
	LogCapacity           int `yaml:"log_capacity"`
	HistoryCapacity       int `yaml:"history_capacity"`
}

// AuthConfig holds session and login settings.
type AuthConfig struct {
	SessionSecret     string `yaml:"session_secret"`
	SessionTTLHours   int    `yaml:"session_ttl_hours"`
	LoginRatePerMin   int    `yaml:"login_rate_per_min"`
	LoginBurst        int    `yaml:"login_burst"`
	BootstrapUsername string `yaml:"bootstrap_username"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// PanelSecret is the shared secret carried in every outbound
	// envelope and checked on every webhook callback.
	PanelSecret string `yaml:"panel_secret"`

	Roblox RobloxConfig   `yaml:"roblox"`
	Bridge BridgeConfig   `yaml:"bridge"`
	Auth   AuthConfig     `yaml:"auth"`
	OTEL   otelpkg.Config `yaml:"otel"`

	// EphemeralSessionSecret is set when no session secret was
	// configured and a one-process-run secret was generated.
	EphemeralSessionSecret bool `yaml:"-"`
}

// SessionTTL returns the configured session lifetime.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLHours) * time.Hour
}

// CallTimeout returns how long a dispatch waits for its answer.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.Bridge.CallTimeoutSeconds) * time.Second
}

// PublishTimeout bounds one Open Cloud publish attempt.
func (c Config) PublishTimeout() time.Duration {
	return time.Duration(c.Bridge.PublishTimeoutSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config, for change
// detection on reload.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|universe=%s|topic=%s|calltimeout=%d|logcap=%d|histcap=%d|ttl=%d",
		c.BindAddr, c.LogLevel, c.Roblox.UniverseID, c.Roblox.Topic,
		c.Bridge.CallTimeoutSeconds, c.Bridge.LogCapacity, c.Bridge.HistoryCapacity,
		c.Auth.SessionTTLHours)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18890",
		LogLevel: "info",
		Roblox: RobloxConfig{
			Topic: "PanelCommands",
		},
		Bridge: BridgeConfig{
			CallTimeoutSeconds:    10,
			PublishTimeoutSeconds: 5,
			LogCapacity:           1000,
			HistoryCapacity:       500,
		},
		Auth: AuthConfig{
			SessionTTLHours:   8,
			LoginRatePerMin:   10,
			LoginBurst:        5,
			BootstrapUsername: "owner",
		},
	}
}

// HomeDir returns the daemon home, honoring the PANELD_HOME override.
func HomeDir() string {
	if override := os.Getenv("PANELD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".paneld")
}

// Path returns the config file location under the daemon home.
func Path(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml (a missing file is fine, defaults apply),
// applies env overrides, and validates. A missing session secret is
// generated for the process lifetime; tokens then do not survive a
// restart.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create paneld home: %w", err)
	}

	data, err := os.ReadFile(Path(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("PANELD_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("PANELD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("PANEL_SECRET"); raw != "" {
		cfg.PanelSecret = raw
	}
	if raw := os.Getenv("ROBLOX_API_KEY"); raw != "" {
		cfg.Roblox.APIKey = raw
	}
	if raw := os.Getenv("ROBLOX_UNIVERSE_ID"); raw != "" {
		cfg.Roblox.UniverseID = raw
	}
	if raw := os.Getenv("ROBLOX_TOPIC"); raw != "" {
		cfg.Roblox.Topic = raw
	}
	if raw := os.Getenv("SESSION_SECRET"); raw != "" {
		cfg.Auth.SessionSecret = raw
	}
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18890"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Roblox.Topic == "" {
		cfg.Roblox.Topic = "PanelCommands"
	}
	if cfg.Bridge.CallTimeoutSeconds <= 0 {
		cfg.Bridge.CallTimeoutSeconds = 10
	}
	if cfg.Bridge.PublishTimeoutSeconds <= 0 {
		cfg.Bridge.PublishTimeoutSeconds = 5
	}
	if cfg.Bridge.LogCapacity <= 0 {
		cfg.Bridge.LogCapacity = 1000
	}
	if cfg.Bridge.HistoryCapacity <= 0 {
		cfg.Bridge.HistoryCapacity = 500
	}
	if cfg.Auth.SessionTTLHours <= 0 {
		cfg.Auth.SessionTTLHours = 8
	}
	if cfg.Auth.LoginRatePerMin <= 0 {
		cfg.Auth.LoginRatePerMin = 10
	}
	if cfg.Auth.LoginBurst <= 0 {
		cfg.Auth.LoginBurst = 5
	}
	if cfg.Auth.BootstrapUsername == "" {
		cfg.Auth.BootstrapUsername = "owner"
	}
	if cfg.Auth.SessionSecret == "" {
		cfg.Auth.SessionSecret = ephemeralSecret()
		cfg.EphemeralSessionSecret = true
	}
}

func validate(cfg Config) error {
	if cfg.PanelSecret == "" {
		return fmt.Errorf("panel_secret is required (config.yaml or PANEL_SECRET)")
	}
	return nil
}

func ephemeralSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back
		// to something still unguessable enough for one process run.
		return fmt.Sprintf("ephemeral-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
