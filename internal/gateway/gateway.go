// ABOUTME: Gateway wiring and lifecycle for the familiar daemon.
// ABOUTME: Composes store, runtime, chat surfaces, and the ops API server.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/familiar/internal/approval"
	"github.com/2389/familiar/internal/auth"
	"github.com/2389/familiar/internal/chat"
	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/conversation"
	"github.com/2389/familiar/internal/dedupe"
	"github.com/2389/familiar/internal/frontend/matrix"
	"github.com/2389/familiar/internal/memory"
	"github.com/2389/familiar/internal/runtime"
	"github.com/2389/familiar/internal/session"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/tools"
)

// Gateway composes the familiar daemon: the persistent store, the runtime
// client, the chat orchestrator and its surfaces, and the ops API server.
type Gateway struct {
	config   *config.Config
	logger   *slog.Logger
	store    store.Store
	runtime  *runtime.Client
	sessions *session.Registry
	gate     *approval.Gate
	orch     *chat.Orchestrator
	history  *conversation.Service
	memories *memory.Service
	tools    *tools.Registry
	prompts  *promptRouter
	dedupe   *dedupe.Cache
	matrix   *matrix.Bridge

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	sshVerifier *auth.SSHVerifier

	version   string
	startedAt time.Time
}

// initStore opens the SQLite store under the configured data directory.
func initStore(cfg *config.Config) (store.Store, error) {
	if err := os.MkdirAll(cfg.Gateway.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return store.NewSQLiteStore(filepath.Join(cfg.Gateway.DataDir, "familiar.db"))
}

// New creates a Gateway from cfg. Nothing starts until Run.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Gateway, error) {
	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	rt := runtime.NewClient(cfg.Runtime.BaseURL)
	sessions := session.NewRegistry(rt, st, session.Config{
		Prefix:  cfg.Runtime.SessionPrefix,
		Workdir: cfg.Runtime.Workdir,
	}, logger)

	prompts := newPromptRouter()
	gate := approval.NewGate(prompts, cfg.Approval.Timeout, logger)
	toolRegistry := tools.NewRegistry(toolProviders(cfg.Tools))

	history := conversation.NewService(st, logger)
	memories := memory.NewService(st, logger)
	assembler := conversation.NewAssembler(history, memories, logger)

	g := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		store:    st,
		runtime:  rt,
		sessions: sessions,
		gate:     gate,
		history:  history,
		memories: memories,
		tools:    toolRegistry,
		prompts:  prompts,
		dedupe:   dedupe.New(5*time.Minute, 100_000),
		version:  version,
	}

	g.orch = chat.NewOrchestrator(chat.Config{
		Runtime:      rt,
		Sessions:     sessions,
		Gate:         gate,
		Assembler:    assembler,
		History:      history,
		Memories:     memories,
		Registry:     toolRegistry,
		SystemPrompt: cfg.Runtime.SystemPrompt,
		BotName:      botDisplayName(cfg),
		AllowedTools: allowedTools(cfg.Tools),
		TurnTimeout:  cfg.Runtime.TurnTimeout,
		Logger:       logger,
	})

	if cfg.Matrix.Enabled {
		bridge, err := matrix.NewBridge(matrix.Config{
			Matrix:       cfg.Matrix,
			StateDir:     cfg.Gateway.DataDir,
			Orchestrator: g.orch,
			Gate:         gate,
			Dedupe:       g.dedupe,
			Logger:       logger,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("creating matrix bridge: %w", err)
		}
		g.matrix = bridge
		prompts.SetFallback(bridge)
	}

	middleware, err := g.authMiddleware()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	g.registerAPIRoutes(mux, middleware)
	g.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// toolProviders converts configured providers into registry entries.
func toolProviders(cfg config.ToolsConfig) []tools.Provider {
	providers := make([]tools.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, tools.Provider{Name: p.Name, Tools: p.Tools})
	}
	return providers
}

// allowedTools is the tool list sent with every turn: the built-in set plus
// everything the configured providers declare.
func allowedTools(cfg config.ToolsConfig) []string {
	allowed := tools.LocalToolNames()
	for _, p := range cfg.Providers {
		allowed = append(allowed, p.Tools...)
	}
	return allowed
}

// botDisplayName is the author recorded for the familiar's own messages:
// the Matrix localpart when the bridge is enabled, else "familiar".
func botDisplayName(cfg *config.Config) string {
	if !cfg.Matrix.Enabled {
		return "familiar"
	}
	trimmed := strings.TrimPrefix(cfg.Matrix.UserID, "@")
	name, _, _ := strings.Cut(trimmed, ":")
	if name != "" {
		return name
	}
	return "familiar"
}

// authMiddleware builds the ops API auth wrapper from config. With neither
// a JWT secret nor authorized keys, auth is disabled: requests pass with a
// local identity so approvals still work during development.
func (g *Gateway) authMiddleware() (func(http.Handler) http.Handler, error) {
	authCfg := g.config.Auth

	var tokens auth.TokenVerifier
	if authCfg.JWTSecret != "" {
		tokens = auth.NewJWTVerifier([]byte(authCfg.JWTSecret))
	}

	var ring *auth.Keyring
	if len(authCfg.AuthorizedKeys) > 0 {
		var err error
		ring, err = auth.NewKeyring(authCfg.AuthorizedKeys)
		if err != nil {
			return nil, fmt.Errorf("parsing auth.authorized_keys: %w", err)
		}
		g.sshVerifier = auth.NewSSHVerifier()
	}

	if tokens == nil && ring == nil {
		g.logger.Warn("ops API auth disabled: no jwt_secret or authorized_keys configured")
		local := &auth.Identity{Name: "local", Method: "none"}
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), local)))
			})
		}, nil
	}
	return auth.Middleware(tokens, g.sshVerifier, ring), nil
}

// setupListeners opens the TCP listener and, when Tailscale is enabled, the
// tsnet listener. At least one exists because config validation requires a
// listen address unless Tailscale provides one.
func (g *Gateway) setupListeners(ctx context.Context) ([]net.Listener, error) {
	var listeners []net.Listener

	if addr := g.config.Gateway.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
	}

	if g.config.Tailscale.Enabled {
		tsLn, err := g.setupTailscaleListener(ctx)
		if err != nil {
			for _, ln := range listeners {
				_ = ln.Close()
			}
			return nil, err
		}
		listeners = append(listeners, tsLn)
	}

	return listeners, nil
}

// resolveTailscaleStateDir returns the tsnet state directory, defaulting
// under the gateway data dir.
func resolveTailscaleStateDir(configured, dataDir string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(dataDir, "tailscale")
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir := resolveTailscaleStateDir(tsCfg.StateDir, g.config.Gateway.DataDir)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral,
	)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale: %w", err)
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var ips []string
	if status != nil && status.Self != nil {
		for _, ip := range status.Self.TailscaleIPs {
			ips = append(ips, ip.String())
		}
	}
	g.logger.Info("tailscale node up", "hostname", hostname, "ips", strings.Join(ips, ","))
}

// Run restores persisted sessions, starts the servers, and blocks until the
// context is canceled or a server fails. Shutdown is always attempted.
func (g *Gateway) Run(ctx context.Context) error {
	g.startedAt = time.Now()

	if err := g.sessions.LoadPersisted(ctx); err != nil {
		// Lazy per-channel resume still works, so serving beats dying.
		g.logger.Warn("restoring persisted sessions failed", "error", err)
	}

	listeners, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, len(listeners)+1)
	for _, ln := range listeners {
		go func() {
			g.logger.Info("ops API listening", "addr", ln.Addr().String())
			if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	if g.matrix != nil {
		go func() {
			if err := g.matrix.Run(ctx); err != nil {
				errCh <- fmt.Errorf("matrix bridge: %w", err)
			}
		}()
	}

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown runs Shutdown on a fresh context; the run context is
// already canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops everything: live runtime sessions are destroyed first so
// the runtime holds no orphaned state, then the surfaces and servers stop,
// then the store closes.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.sessions.DestroyAll(ctx)

	var errs []error
	if g.matrix != nil {
		errs = appendCloseError(errs, "matrix close", g.matrix.Close())
	}
	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale close", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.sshVerifier != nil {
		g.sshVerifier.Close()
	}

	return errors.Join(errs...)
}

// handleHealth reports liveness without touching dependencies.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Duration(0)
	if !g.startedAt.IsZero() {
		uptime = time.Since(g.startedAt).Round(time.Second)
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": g.version,
		"uptime":  uptime.String(),
	})
}

// handleReady verifies the store answers queries and the runtime answers
// HTTP. A 404 from the probe still proves the runtime is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := g.store.ListActiveSessions(ctx); err != nil {
		g.logger.Warn("readiness store probe failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	if err := g.runtime.ProbeSession(ctx, "readiness-probe"); err != nil && !errors.Is(err, runtime.ErrSessionNotFound) {
		g.logger.Warn("readiness runtime probe failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "runtime unreachable")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
