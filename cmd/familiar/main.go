// ABOUTME: Entry point for the familiar daemon
// ABOUTME: Serves the ops API and chat frontends around one model runtime

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/familiar/internal/auth"
	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __                 _ _ _
 / _| __ _ _ __ ___ (_) (_) __ _ _ __
| |_ / _' | '_ ' _ \| | | |/ _' | '__|
|  _| (_| | | | | | | | | | (_| | |
|_|  \__,_|_| |_| |_|_|_|_|\__,_|_|
`

// getConfigPath returns the path to the daemon config file.
// Priority: FAMILIAR_CONFIG env var > XDG_CONFIG_HOME/familiar/config.yaml > ~/.config/familiar/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FAMILIAR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "familiar", "config.yaml")
}

// getDataPath returns the path to the familiar data directory.
// Priority: XDG_DATA_HOME/familiar > ~/.local/share/familiar
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "familiar")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: familiar <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the familiar daemon")
		fmt.Println("  init                   Create a config file interactively")
		fmt.Println("  token --sub NAME       Mint an ops API token")
		fmt.Println("  health [--url URL]     Check daemon health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if cfg.Gateway.ListenAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Listen:    %s\n", cfg.Gateway.ListenAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Runtime:   %s\n", cfg.Runtime.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Data:      %s\n", cfg.Gateway.DataDir)

	if cfg.Matrix.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:    ")
		cyan.Print(cfg.Matrix.UserID)
		gray.Printf(" via %s", cfg.Matrix.Homeserver)
		fmt.Println()
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" && len(cfg.Auth.AuthorizedKeys) == 0 {
		yellow.Print("    ▶ ")
		fmt.Println("Auth:      disabled (ops API is open)")
	}

	fmt.Println()

	logger.Info("starting familiar",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Gateway.ListenAddr,
		"runtime", cfg.Runtime.BaseURL,
	)

	gw, err := gateway.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler renders colorized single-line log output with thread-safe
// writes. Groups prefix attribute keys dot-separated.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

// runToken mints a JWT for the ops API using the configured signing secret.
// Operators export it as FAMILIAR_TOKEN for familiar-admin.
func runToken(args []string) error {
	var subject string
	expires := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--sub" || args[i] == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--sub="):
			subject = strings.TrimPrefix(args[i], "--sub=")
		case args[i] == "--expires" || args[i] == "-e":
			if i+1 >= len(args) {
				return fmt.Errorf("--expires requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid expiry: %w", err)
			}
			expires = d
			i++
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	if subject == "" {
		return fmt.Errorf("usage: familiar token --sub <name> [--expires <duration>]")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, expires)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Token minted")
	fmt.Println()
	cyan.Printf("  Subject:  %s\n", subject)
	cyan.Printf("  Expires:  %s\n", time.Now().Add(expires).Format("Jan 02, 2006"))
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + token)
	fmt.Println()
	fmt.Println("  export FAMILIAR_TOKEN=" + token)
	fmt.Println()

	return nil
}

func runHealth(ctx context.Context, args []string) error {
	var baseURL string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--url" || args[i] == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--url requires a value")
			}
			baseURL = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--url="):
			baseURL = strings.TrimPrefix(args[i], "--url=")
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	if baseURL == "" {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config (or pass --url): %w", err)
		}
		if cfg.Gateway.ListenAddr == "" {
			return fmt.Errorf("no gateway.listen_addr configured; pass --url")
		}
		baseURL = "http://" + cfg.Gateway.ListenAddr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Uptime  string `json:"uptime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("%s (version %s, up %s)\n", health.Status, health.Version, health.Uptime)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("familiar configuration setup")
	fmt.Println("============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Gateway Configuration ---")
	listenAddr := prompt(reader, "Listen address", "localhost:8080")
	dataDir := prompt(reader, "Data directory", defaultDataPath)

	fmt.Println("\n--- Runtime Configuration ---")
	runtimeURL := prompt(reader, "Model runtime URL", "http://localhost:3284")
	systemPrompt := prompt(reader, "System prompt", "You are a helpful familiar.")

	fmt.Println("\n--- Matrix Configuration ---")
	enableMatrix := prompt(reader, "Enable Matrix frontend?", "no")
	matrixEnabled := strings.ToLower(enableMatrix) == "yes" || strings.ToLower(enableMatrix) == "y"

	var homeserver, userID, accessToken, recoveryKey string
	if matrixEnabled {
		homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
		userID = prompt(reader, "Bot user ID (@name:server)", "")
		accessToken = prompt(reader, "Access token (or ${MATRIX_TOKEN})", "${MATRIX_TOKEN}")
		recoveryKey = prompt(reader, "Recovery key for cross-signing (optional)", "")
	}

	fmt.Println("\n--- Auth Configuration ---")
	genSecret := prompt(reader, "Generate a JWT secret for the ops API?", "yes")
	var jwtSecret string
	if strings.ToLower(genSecret) == "yes" || strings.ToLower(genSecret) == "y" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# familiar configuration\n")
	cfg.WriteString("# Generated by familiar init\n\n")

	cfg.WriteString("gateway:\n")
	cfg.WriteString(fmt.Sprintf("  listen_addr: %q\n", listenAddr))
	cfg.WriteString(fmt.Sprintf("  data_dir: %q\n", dataDir))
	cfg.WriteString("\n")

	cfg.WriteString("runtime:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: %q\n", runtimeURL))
	cfg.WriteString(fmt.Sprintf("  system_prompt: %q\n", systemPrompt))
	cfg.WriteString("  turn_timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("matrix:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", matrixEnabled))
	if matrixEnabled {
		cfg.WriteString(fmt.Sprintf("  homeserver: %q\n", homeserver))
		cfg.WriteString(fmt.Sprintf("  user_id: %q\n", userID))
		cfg.WriteString(fmt.Sprintf("  access_token: %q\n", accessToken))
		if recoveryKey != "" {
			cfg.WriteString(fmt.Sprintf("  recovery_key: %q\n", recoveryKey))
		}
		cfg.WriteString("  typing_indicator: true\n")
		cfg.WriteString("  allowed_users: []\n")
		cfg.WriteString("  allowed_rooms: []\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("approval:\n")
	cfg.WriteString("  timeout: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	if jwtSecret != "" {
		cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	} else {
		cfg.WriteString("  jwt_secret: \"\"\n")
	}
	cfg.WriteString("  authorized_keys: []\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the daemon:")
	fmt.Println("  familiar serve")
	if jwtSecret != "" {
		fmt.Println("\nTo mint an ops token:")
		fmt.Println("  familiar token --sub your-name")
	}

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
