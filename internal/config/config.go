// ABOUTME: Configuration loading and parsing for the familiar daemon
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file leaves a field empty.
const (
	DefaultTurnTimeout     = 5 * time.Minute
	DefaultApprovalTimeout = 60 * time.Second
	DefaultSessionPrefix   = "fam"
)

// Config represents the complete familiar daemon configuration
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Tools     ToolsConfig     `yaml:"tools"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig holds the ops API listener and data directory
type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
}

// RuntimeConfig holds model-runtime connection and turn timing configuration
type RuntimeConfig struct {
	BaseURL       string `yaml:"base_url"`
	SessionPrefix string `yaml:"session_prefix"`
	Workdir       string `yaml:"workdir"`
	SystemPrompt  string `yaml:"system_prompt"`

	TurnTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TurnTimeoutRaw string `yaml:"turn_timeout"`
}

// MatrixConfig holds Matrix frontend configuration
type MatrixConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Homeserver   string   `yaml:"homeserver"`
	UserID       string   `yaml:"user_id"`
	AccessToken  string   `yaml:"access_token"`
	RecoveryKey  string   `yaml:"recovery_key"`
	AllowedUsers []string `yaml:"allowed_users"`
	AllowedRooms []string `yaml:"allowed_rooms"`
	Typing       bool     `yaml:"typing_indicator"`
}

// ApprovalConfig holds permission-prompt timing configuration
type ApprovalConfig struct {
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ToolsConfig declares remote tool providers for dispatcher classification
type ToolsConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig names one remote tool provider and the tools it owns
type ProviderConfig struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// AuthConfig holds ops API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AuthorizedKeys are SSH public keys (authorized_keys format) allowed to
	// sign ops API requests.
	AuthorizedKeys []string `yaml:"authorized_keys"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in fields that have sensible defaults when unset.
func (c *Config) applyDefaults() {
	if c.Runtime.TurnTimeout == 0 {
		c.Runtime.TurnTimeout = DefaultTurnTimeout
	}
	if c.Runtime.SessionPrefix == "" {
		c.Runtime.SessionPrefix = DefaultSessionPrefix
	}
	if c.Approval.Timeout == 0 {
		c.Approval.Timeout = DefaultApprovalTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The listen address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Gateway.DataDir == "" {
		return fmt.Errorf("gateway.data_dir is required")
	}

	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("runtime.base_url is required")
	}
	u, err := url.Parse(c.Runtime.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("runtime.base_url must be an http or https URL")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
	}

	for i, p := range c.Tools.Providers {
		if p.Name == "" {
			return fmt.Errorf("tools.providers[%d].name is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Runtime.TurnTimeoutRaw != "" {
		cfg.Runtime.TurnTimeout, err = time.ParseDuration(cfg.Runtime.TurnTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing runtime.turn_timeout %q: %w", cfg.Runtime.TurnTimeoutRaw, err)
		}
	}

	if cfg.Approval.TimeoutRaw != "" {
		cfg.Approval.Timeout, err = time.ParseDuration(cfg.Approval.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing approval.timeout %q: %w", cfg.Approval.TimeoutRaw, err)
		}
	}

	return nil
}
