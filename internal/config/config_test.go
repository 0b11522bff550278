// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"

runtime:
  base_url: "http://127.0.0.1:4096"
  turn_timeout: "5m"
  session_prefix: "fam"
  workdir: "/tmp/familiar"

matrix:
  enabled: false
  homeserver: "https://matrix.org"
  user_id: "@familiar:matrix.org"
  access_token: "matrix-token"
  allowed_users:
    - "@alice:matrix.org"
  allowed_rooms:
    - "!room1:matrix.org"
  typing_indicator: true

approval:
  timeout: "60s"

tools:
  providers:
    - name: "searxng"
      tools: ["web_search"]

auth:
  jwt_secret: "test-secret"

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify gateway config
	if cfg.Gateway.ListenAddr != "127.0.0.1:8420" {
		t.Errorf("Gateway.ListenAddr = %q, want %q", cfg.Gateway.ListenAddr, "127.0.0.1:8420")
	}
	if cfg.Gateway.DataDir != "./data" {
		t.Errorf("Gateway.DataDir = %q, want %q", cfg.Gateway.DataDir, "./data")
	}

	// Verify runtime config with duration parsing
	if cfg.Runtime.BaseURL != "http://127.0.0.1:4096" {
		t.Errorf("Runtime.BaseURL = %q, want %q", cfg.Runtime.BaseURL, "http://127.0.0.1:4096")
	}
	if cfg.Runtime.TurnTimeout != 5*time.Minute {
		t.Errorf("Runtime.TurnTimeout = %v, want %v", cfg.Runtime.TurnTimeout, 5*time.Minute)
	}
	if cfg.Runtime.SessionPrefix != "fam" {
		t.Errorf("Runtime.SessionPrefix = %q, want %q", cfg.Runtime.SessionPrefix, "fam")
	}

	// Verify matrix frontend config
	if cfg.Matrix.Enabled {
		t.Error("Matrix.Enabled = true, want false")
	}
	if cfg.Matrix.Homeserver != "https://matrix.org" {
		t.Errorf("Matrix.Homeserver = %q, want %q", cfg.Matrix.Homeserver, "https://matrix.org")
	}
	if cfg.Matrix.UserID != "@familiar:matrix.org" {
		t.Errorf("Matrix.UserID = %q, want %q", cfg.Matrix.UserID, "@familiar:matrix.org")
	}
	if len(cfg.Matrix.AllowedUsers) != 1 {
		t.Errorf("Matrix.AllowedUsers len = %d, want 1", len(cfg.Matrix.AllowedUsers))
	}
	if len(cfg.Matrix.AllowedRooms) != 1 {
		t.Errorf("Matrix.AllowedRooms len = %d, want 1", len(cfg.Matrix.AllowedRooms))
	}
	if !cfg.Matrix.Typing {
		t.Error("Matrix.Typing = false, want true")
	}

	// Verify approval config
	if cfg.Approval.Timeout != 60*time.Second {
		t.Errorf("Approval.Timeout = %v, want %v", cfg.Approval.Timeout, 60*time.Second)
	}

	// Verify tools config
	if len(cfg.Tools.Providers) != 1 {
		t.Fatalf("Tools.Providers len = %d, want 1", len(cfg.Tools.Providers))
	}
	if cfg.Tools.Providers[0].Name != "searxng" {
		t.Errorf("Tools.Providers[0].Name = %q, want %q", cfg.Tools.Providers[0].Name, "searxng")
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"

runtime:
  base_url: "http://127.0.0.1:4096"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.TurnTimeout != DefaultTurnTimeout {
		t.Errorf("Runtime.TurnTimeout = %v, want default %v", cfg.Runtime.TurnTimeout, DefaultTurnTimeout)
	}
	if cfg.Runtime.SessionPrefix != DefaultSessionPrefix {
		t.Errorf("Runtime.SessionPrefix = %q, want default %q", cfg.Runtime.SessionPrefix, DefaultSessionPrefix)
	}
	if cfg.Approval.Timeout != DefaultApprovalTimeout {
		t.Errorf("Approval.Timeout = %v, want default %v", cfg.Approval.Timeout, DefaultApprovalTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	// Set environment variables for testing
	t.Setenv("TEST_MATRIX_TOKEN", "matrix-from-env")
	t.Setenv("TEST_JWT_SECRET", "secret-from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"

runtime:
  base_url: "http://127.0.0.1:4096"

matrix:
  enabled: false
  homeserver: "https://matrix.org"
  user_id: "@familiar:matrix.org"
  access_token: "${TEST_MATRIX_TOKEN}"

auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify env var expansion
	if cfg.Matrix.AccessToken != "matrix-from-env" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "matrix-from-env")
	}
	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"

runtime:
  base_url: "http://127.0.0.1:4096"

auth:
  jwt_secret: "${UNSET_VAR_FOR_TEST}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret = %q, want empty string for unset env var", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Invalid YAML content
	configContent := `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir "missing colon"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"

runtime:
  base_url: "http://127.0.0.1:4096"
  turn_timeout: "invalid-duration"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err = Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing listen_addr",
			configContent: `
gateway:
  listen_addr: ""
  data_dir: "./data"
runtime:
  base_url: "http://127.0.0.1:4096"
`,
			wantErrSubstr: "gateway.listen_addr is required",
		},
		{
			name: "missing data_dir",
			configContent: `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: ""
runtime:
  base_url: "http://127.0.0.1:4096"
`,
			wantErrSubstr: "gateway.data_dir is required",
		},
		{
			name: "missing runtime base_url",
			configContent: `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"
runtime:
  base_url: ""
`,
			wantErrSubstr: "runtime.base_url is required",
		},
		{
			name: "runtime base_url wrong scheme",
			configContent: `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"
runtime:
  base_url: "ftp://127.0.0.1:4096"
`,
			wantErrSubstr: "runtime.base_url must be an http or https URL",
		},
		{
			name: "matrix enabled without token",
			configContent: `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"
runtime:
  base_url: "http://127.0.0.1:4096"
matrix:
  enabled: true
  homeserver: "https://matrix.org"
  user_id: "@familiar:matrix.org"
  access_token: ""
`,
			wantErrSubstr: "matrix.access_token is required",
		},
		{
			name: "provider without name",
			configContent: `
gateway:
  listen_addr: "127.0.0.1:8420"
  data_dir: "./data"
runtime:
  base_url: "http://127.0.0.1:4096"
tools:
  providers:
    - name: ""
      tools: ["x"]
`,
			wantErrSubstr: "tools.providers[0].name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			err := os.WriteFile(configPath, []byte(tt.configContent), 0644)
			if err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			_, err = Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantErr       bool
		wantErrSubstr string
	}{
		{
			name: "tailscale enabled allows empty listen addr",
			cfg: Config{
				Gateway:   GatewayConfig{ListenAddr: "", DataDir: "./data"},
				Runtime:   RuntimeConfig{BaseURL: "http://127.0.0.1:4096"},
				Tailscale: TailscaleConfig{Enabled: true, Hostname: "familiar"},
			},
			wantErr: false,
		},
		{
			name: "tailscale enabled requires hostname",
			cfg: Config{
				Gateway:   GatewayConfig{ListenAddr: "", DataDir: "./data"},
				Runtime:   RuntimeConfig{BaseURL: "http://127.0.0.1:4096"},
				Tailscale: TailscaleConfig{Enabled: true, Hostname: ""},
			},
			wantErr:       true,
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name: "tailscale disabled requires listen addr",
			cfg: Config{
				Gateway:   GatewayConfig{ListenAddr: "", DataDir: "./data"},
				Runtime:   RuntimeConfig{BaseURL: "http://127.0.0.1:4096"},
				Tailscale: TailscaleConfig{Enabled: false, Hostname: "familiar"},
			},
			wantErr:       true,
			wantErrSubstr: "gateway.listen_addr is required",
		},
		{
			name: "tailscale with all options set",
			cfg: Config{
				Gateway: GatewayConfig{ListenAddr: "", DataDir: "./data"},
				Runtime: RuntimeConfig{BaseURL: "http://127.0.0.1:4096"},
				Tailscale: TailscaleConfig{
					Enabled:   true,
					Hostname:  "familiar",
					AuthKey:   "tskey-auth-xxx",
					StateDir:  "/tmp/ts-state",
					Ephemeral: true,
				},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
					return
				}
				if !strings.Contains(err.Error(), tt.wantErrSubstr) {
					t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			}
		})
	}
}
