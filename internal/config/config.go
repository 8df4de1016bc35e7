package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/registry"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig        `yaml:"log"`
	Database        DatabaseConfig   `yaml:"database"`
	Ledger          LedgerConfig     `yaml:"ledger"`
	Panel           PanelConfig      `yaml:"panel"`
	Animator        AnimatorConfig   `yaml:"animator"`
	Automation      AutomationConfig `yaml:"automation"`
	Switcher        SwitcherConfig   `yaml:"switcher"`
	Discovery       DiscoveryConfig  `yaml:"discovery"`
	MQTT            MQTTConfig       `yaml:"mqtt"`
	Script          string           `yaml:"script"` // Optional Lua script; empty disables scripting
	Status          StatusConfig     `yaml:"status"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the level name, lower-cased.
func (c LogConfig) GetLevel() string {
	return strings.ToLower(c.Level)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains transition ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the retention window.
func (c LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// PanelConfig describes the panel page and navigation rules.
type PanelConfig struct {
	Page       string `yaml:"page"`
	Transition string `yaml:"transition"` // Visual transition style
	QueueSize  int    `yaml:"queue_size"` // Dispatch queue size

	// Transitions replaces the allowed targets of the named source layers.
	// A layer absent from both this map and the built-in table is unrestricted.
	Transitions map[string][]string `yaml:"transitions"`
}

// TransitionOverrides resolves the configured layer names.
func (c PanelConfig) TransitionOverrides() (layer.TransitionTable, error) {
	if len(c.Transitions) == 0 {
		return nil, nil
	}
	table := make(layer.TransitionTable, len(c.Transitions))
	for fromName, targetNames := range c.Transitions {
		from, ok := layer.Parse(fromName)
		if !ok {
			return nil, fmt.Errorf("panel.transitions: unknown layer %q", fromName)
		}
		targets := make([]layer.Layer, 0, len(targetNames))
		for _, name := range targetNames {
			to, ok := layer.Parse(name)
			if !ok {
				return nil, fmt.Errorf("panel.transitions.%s: unknown layer %q", fromName, name)
			}
			targets = append(targets, to)
		}
		table[from] = targets
	}
	return table, nil
}

// AnimatorConfig contains progress animation settings
type AnimatorConfig struct {
	Timeout Duration `yaml:"timeout"` // Hard bound on one animation session
}

// AutomationConfig contains power sequencing settings
type AutomationConfig struct {
	Component   string   `yaml:"component"`    // Registry name of the automation component
	LocalDevice string   `yaml:"local_device"` // Power switch used when the component is absent
	Warmup      Duration `yaml:"warmup"`       // Local warm-up time
	Cooldown    Duration `yaml:"cooldown"`     // Local cool-down time
}

// SwitcherConfig contains video switcher settings
type SwitcherConfig struct {
	// Variables name override devices, e.g. VideoRouterNumeric: Router-A.
	Variables map[string]string `yaml:"variables"`
	// Mapping replaces the detected family's button-to-input mapping.
	Mapping map[int]int `yaml:"mapping"`
}

// DiscoveryConfig contains device registry settings
type DiscoveryConfig struct {
	TTL           Duration             `yaml:"ttl"`
	Components    []registry.Component `yaml:"components"`    // Static registry entries
	Announcements bool                 `yaml:"announcements"` // Collect retained MQTT announcements
	MDNS          MDNSConfig           `yaml:"mdns"`
}

// MDNSConfig contains mDNS discovery settings
type MDNSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Service string   `yaml:"service"`
	Timeout Duration `yaml:"timeout"`
}

// MQTTConfig contains broker settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	QoS            int      `yaml:"qos"`
	Prefix         string   `yaml:"prefix"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	PressRate      float64  `yaml:"press_rate"` // Button presses per second, 0 = unlimited
	// ConfirmTimeout bounds how long a read-back waits for a device report.
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
}

// StatusConfig contains status server settings
type StatusConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Host        string  `yaml:"host"`
	Port        int     `yaml:"port"`
	RequestRate float64 `yaml:"request_rate"` // Layer requests per second, 0 = unlimited
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes configuration data and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./roompanel.sqlite"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Panel defaults
	if cfg.Panel.Page == "" {
		cfg.Panel.Page = "Main"
	}
	if cfg.Panel.Transition == "" {
		cfg.Panel.Transition = "fade"
	}
	if cfg.Panel.QueueSize <= 0 {
		cfg.Panel.QueueSize = 256
	}

	if cfg.Animator.Timeout == 0 {
		cfg.Animator.Timeout = Duration(300 * time.Second)
	}

	// Discovery defaults
	if cfg.Discovery.TTL == 0 {
		cfg.Discovery.TTL = Duration(30 * time.Second)
	}
	if cfg.Discovery.MDNS.Service == "" {
		cfg.Discovery.MDNS.Service = "_roomdevice._tcp"
	}
	if cfg.Discovery.MDNS.Timeout == 0 {
		cfg.Discovery.MDNS.Timeout = Duration(2 * time.Second)
	}

	// MQTT defaults
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "tcp://localhost:1883"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "roompaneld"
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.Prefix == "" {
		cfg.MQTT.Prefix = "roompanel"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.PressRate == 0 {
		cfg.MQTT.PressRate = 5
	}
	if cfg.MQTT.ConfirmTimeout == 0 {
		cfg.MQTT.ConfirmTimeout = Duration(500 * time.Millisecond)
	}

	// Status server defaults
	if cfg.Status.Port == 0 {
		cfg.Status.Port = 9090
	}
	if cfg.Status.Host == "" {
		cfg.Status.Host = "0.0.0.0"
	}
	if cfg.Status.RequestRate == 0 {
		cfg.Status.RequestRate = 5
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Panel.TransitionOverrides(); err != nil {
		return err
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	for button, input := range c.Switcher.Mapping {
		if input <= 0 {
			return fmt.Errorf("switcher.mapping: button %d has invalid input %d", button, input)
		}
	}
	if c.Automation.Warmup < 0 || c.Automation.Cooldown < 0 {
		return fmt.Errorf("automation warmup and cooldown must not be negative")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
