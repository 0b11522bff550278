// Package config handles configuration loading for the familiar daemon.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FAMILIAR_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/familiar/config.yaml
//  3. ~/.config/familiar/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FAMILIAR_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	runtime:
//	  turn_timeout: "5m"
//	approval:
//	  timeout: "60s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Gateway listener and data directory:
//
//	gateway:
//	  listen_addr: "127.0.0.1:8420"
//	  data_dir: "/var/lib/familiar"
//
// Model runtime:
//
//	runtime:
//	  base_url: "http://127.0.0.1:4096"
//	  turn_timeout: "5m"
//	  session_prefix: "fam"
//	  workdir: "/home/familiar/work"
//	  system_prompt: "You are a helpful familiar."
//
// Matrix frontend:
//
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@familiar:example.org"
//	  access_token: "${MATRIX_TOKEN}"
//	  recovery_key: "${MATRIX_RECOVERY_KEY}"
//	  allowed_users: ["@alice:example.org"]
//	  allowed_rooms: []
//	  typing_indicator: true
//
// Approval prompts:
//
//	approval:
//	  timeout: "60s"
//
// Remote tool providers (for dispatcher classification):
//
//	tools:
//	  providers:
//	    - name: "searxng"
//	      tools: ["web_search", "web_fetch"]
//
// Ops API authentication:
//
//	auth:
//	  jwt_secret: "${FAMILIAR_JWT_SECRET}"
//	  authorized_keys:
//	    - "ssh-ed25519 AAAA... ops@laptop"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "familiar"
//	  auth_key: "${TS_AUTHKEY}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
