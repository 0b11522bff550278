// ABOUTME: HTTP ops API handlers: SSE chat, approvals, sessions, memories.
// ABOUTME: Provides the /api routes served by the familiar daemon.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/familiar/internal/approval"
	"github.com/2389/familiar/internal/auth"
	"github.com/2389/familiar/internal/chat"
	"github.com/2389/familiar/internal/memory"
	"github.com/2389/familiar/internal/store"
)

// SendMessageRequest is the JSON request body for POST /api/send.
type SendMessageRequest struct {
	ChannelID string `json:"channel_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
}

// parseSendRequest parses and validates a SendMessageRequest. Content is
// required; sender and channel default from the authenticated identity.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.Content == "" {
		return nil, errors.New("content is required")
	}
	return &req, nil
}

// registerAPIRoutes attaches the ops API to mux. authed wraps everything
// except health, which load balancers must reach without credentials.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/health", g.handleHealth)

	wrap := func(h http.HandlerFunc) http.Handler { return authed(h) }
	mux.Handle("GET /api/ready", wrap(g.handleReady))
	mux.Handle("POST /api/send", wrap(g.handleSend))
	mux.Handle("POST /api/approve", wrap(g.handleApprove))
	mux.Handle("GET /api/sessions", wrap(g.handleListSessions))
	mux.Handle("POST /api/sessions/{channel}/invalidate", wrap(g.handleInvalidateSession))
	mux.Handle("DELETE /api/sessions/{channel}", wrap(g.handleDeleteSession))
	mux.Handle("GET /api/memories", wrap(g.handleListMemories))
	mux.Handle("PUT /api/memories", wrap(g.handlePutMemory))
	mux.Handle("DELETE /api/memories", wrap(g.handleDeleteMemory))
}

// handleSend runs one turn and streams it back as SSE. The stream doubles
// as the channel's approval prompter, so permission requests raised during
// the turn appear on this response and are answered via POST /api/approve.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	req, err := parseSendRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	if req.Sender == "" {
		if identity == nil {
			g.sendJSONError(w, http.StatusBadRequest, "sender is required")
			return
		}
		req.Sender = identity.Name
	}
	if req.ChannelID == "" {
		req.ChannelID = "api:" + req.Sender
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	stream := newTurnStream(w, flusher, g.logger)
	stream.write(eventStarted, map[string]string{"channel_id": req.ChannelID})

	g.prompts.RegisterChannel(req.ChannelID, stream)
	defer g.prompts.UnregisterChannel(req.ChannelID)

	text, err := g.orch.Converse(r.Context(), chat.Turn{
		ChannelID: req.ChannelID,
		User:      req.Sender,
		Text:      req.Content,
	}, stream)
	if err != nil {
		category := chat.Categorize(err)
		g.logger.Error("api turn failed",
			"channel_id", req.ChannelID,
			"category", category.String(),
			"error", err,
		)
		stream.write(eventError, map[string]string{
			"error":    category.Message(),
			"category": category.String(),
		})
		return
	}
	stream.write(eventDone, map[string]string{"text": text})
}

// ApproveRequest is the JSON request body for POST /api/approve.
type ApproveRequest struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}

// handleApprove resolves a pending permission request. The responder is the
// authenticated identity, which the gate checks against the requesting user.
func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RequestID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "request_id is required")
		return
	}

	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "no identity")
		return
	}

	err := g.gate.Answer(req.RequestID, identity.Name, req.Approved)
	switch {
	case errors.Is(err, approval.ErrUnknownRequest):
		g.sendJSONError(w, http.StatusNotFound, "unknown request")
	case errors.Is(err, approval.ErrWrongResponder):
		g.sendJSONError(w, http.StatusForbidden, "request belongs to another user")
	case errors.Is(err, approval.ErrAlreadyDecided):
		g.sendJSONError(w, http.StatusConflict, "already decided")
	case err != nil:
		g.logger.Error("recording approval failed", "request_id", req.RequestID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	}
}

// sessionView is the JSON shape for one session record.
type sessionView struct {
	ChannelID  string    `json:"channel_id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	Active     bool      `json:"active"`
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := g.store.ListSessions(r.Context())
	if err != nil {
		g.logger.Error("listing sessions failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]sessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, sessionView{
			ChannelID:  rec.ChannelID,
			SessionID:  rec.RuntimeSessionID,
			CreatedAt:  rec.CreatedAt,
			LastUsedAt: rec.LastUsedAt,
			Active:     rec.Active,
		})
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// handleInvalidateSession destroys a channel's live session so its next
// turn starts clean. Idempotent: invalidating an unknown channel succeeds.
func (g *Gateway) handleInvalidateSession(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel")
	g.sessions.Invalidate(r.Context(), channelID)
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "channel_id": channelID})
}

// handleDeleteSession hard-deletes a session record after destroying any
// live session.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel")
	g.sessions.Invalidate(r.Context(), channelID)
	err := g.store.DeleteSession(r.Context(), channelID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "unknown channel")
		return
	}
	if err != nil {
		g.logger.Error("deleting session failed", "channel_id", channelID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "channel_id": channelID})
}

// memoryView is the JSON shape for one memory.
type memoryView struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Scope     string    `json:"scope"`
	Username  string    `json:"username,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMemoryView(m *store.Memory) memoryView {
	return memoryView{
		Key:       m.Key,
		Value:     m.Value,
		Scope:     string(m.Scope),
		Username:  m.Username,
		CreatedBy: m.CreatedBy,
		UpdatedAt: m.UpdatedAt,
	}
}

// memoryScopeFromRequest reads scope/username query or body fields. Scope
// defaults to global; user scope requires a username.
func memoryScopeFromRequest(scope, username string) (store.MemoryScope, string, error) {
	switch scope {
	case "", string(store.ScopeGlobal):
		return store.ScopeGlobal, "", nil
	case string(store.ScopeUser):
		if username == "" {
			return "", "", errors.New("username is required for user scope")
		}
		return store.ScopeUser, username, nil
	default:
		return "", "", fmt.Errorf("unknown scope %q", scope)
	}
}

func (g *Gateway) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, username, err := memoryScopeFromRequest(q.Get("scope"), q.Get("username"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	mems, err := g.memories.List(r.Context(), scope, username)
	if err != nil {
		g.logger.Error("listing memories failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]memoryView, 0, len(mems))
	for _, m := range mems {
		views = append(views, toMemoryView(m))
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"memories": views})
}

// MemoryWriteRequest is the JSON request body for PUT /api/memories.
type MemoryWriteRequest struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Scope    string `json:"scope,omitempty"`
	Username string `json:"username,omitempty"`
}

func (g *Gateway) handlePutMemory(w http.ResponseWriter, r *http.Request) {
	var req MemoryWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	scope, username, err := memoryScopeFromRequest(req.Scope, req.Username)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	createdBy := ""
	if identity := auth.IdentityFromContext(r.Context()); identity != nil {
		createdBy = identity.Name
	}

	mem, err := g.memories.Remember(r.Context(), req.Key, req.Value, scope, username, createdBy)
	switch {
	case errors.Is(err, memory.ErrEmptyKey), errors.Is(err, memory.ErrEmptyValue):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		g.logger.Error("writing memory failed", "key", req.Key, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.writeJSON(w, http.StatusOK, toMemoryView(mem))
	}
}

func (g *Gateway) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		g.sendJSONError(w, http.StatusBadRequest, "key is required")
		return
	}
	scope, username, err := memoryScopeFromRequest(q.Get("scope"), q.Get("username"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = g.memories.Forget(r.Context(), key, scope, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "no such memory")
	case err != nil:
		g.logger.Error("deleting memory failed", "key", key, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.writeJSON(w, http.StatusOK, map[string]string{"status": "forgotten", "key": key})
	}
}

// turnStream is one /api/send response. It renders turn progress as SSE
// events and doubles as the approval prompter for the turn's channel, so
// permission requests surface on the same stream they concern. Writes are
// serialized: the orchestrator's stream goroutine and the gate's wait
// goroutine both land here.
type turnStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
}

func newTurnStream(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger) *turnStream {
	return &turnStream{w: w, flusher: flusher, logger: logger}
}

func (s *turnStream) write(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("marshaling SSE data failed", "event", event, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\n", event)
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flusher.Flush()
}

func (s *turnStream) Thinking(text string) {
	s.write(eventThinking, map[string]string{"text": text})
}

func (s *turnStream) TextDelta(text string) {
	s.write(eventText, map[string]string{"text": text})
}

func (s *turnStream) ToolStarted(displayName string) {
	s.write(eventToolStart, map[string]string{"tool": displayName})
}

func (s *turnStream) ToolEnded(displayName string) {
	s.write(eventToolEnd, map[string]string{"tool": displayName})
}

// PromptApproval emits a permission_request event. The prompt id is the
// request id; the client answers via POST /api/approve.
func (s *turnStream) PromptApproval(ctx context.Context, pc approval.Context, req approval.Request) (string, error) {
	s.write(eventPermissionRequest, map[string]string{
		"request_id":  req.ID,
		"kind":        req.Kind.String(),
		"description": req.Description,
	})
	return req.ID, nil
}

// ResolvePrompt emits a permission_resolved event so clients can stop
// waiting for input on timeouts.
func (s *turnStream) ResolvePrompt(ctx context.Context, pc approval.Context, promptID string, decision approval.Decision, decidedBy string) error {
	s.write(eventPermissionResolved, map[string]string{
		"request_id": promptID,
		"decision":   decision.String(),
		"decided_by": decidedBy,
	})
	return nil
}

// writeJSON writes a JSON response body with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("writing JSON response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
