// ABOUTME: Tracks live runtime sessions per channel with resume-or-recreate
// ABOUTME: Persists session records so restarts can pick sessions back up

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/familiar/internal/runtime"
	"github.com/2389/familiar/internal/store"
)

// Runtime is the session lifecycle surface of the runtime client.
type Runtime interface {
	CreateSession(ctx context.Context, id string, cfg runtime.SessionConfig) error
	ProbeSession(ctx context.Context, id string) error
	DestroySession(ctx context.Context, id string) error
}

// RecordStore persists session records across restarts.
type RecordStore interface {
	UpsertSession(ctx context.Context, rec *store.SessionRecord) error
	GetSession(ctx context.Context, channelID string) (*store.SessionRecord, error)
	ListActiveSessions(ctx context.Context) ([]*store.SessionRecord, error)
	TouchSession(ctx context.Context, channelID string, usedAt time.Time) error
	DeactivateSession(ctx context.Context, channelID string) error
}

// Handle is a live runtime session bound to a channel.
type Handle struct {
	ChannelID string
	RuntimeID string
	CreatedAt time.Time
}

// Config carries the registry's creation parameters.
type Config struct {
	Prefix  string // session id prefix, e.g. "fam"
	Workdir string // runtime working directory for new sessions
}

// entry serializes registry operations for one channel. Holding mu through
// create/resume is what coalesces concurrent resolves into a single creation.
type entry struct {
	mu     sync.Mutex
	handle *Handle
}

// Registry maps channels to live runtime sessions.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*entry

	runtime Runtime
	records RecordStore
	cfg     Config
	logger  *slog.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(rt Runtime, records RecordStore, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "fam"
	}
	return &Registry{
		channels: make(map[string]*entry),
		runtime:  rt,
		records:  records,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
	}
}

func (r *Registry) channelEntry(channelID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.channels[channelID]
	if !ok {
		e = &entry{}
		r.channels[channelID] = e
	}
	return e
}

// Resolve returns the channel's live session, resuming the persisted one or
// creating a fresh one as needed. Concurrent calls for one channel block on
// the channel entry and share the winner's handle.
func (r *Registry) Resolve(ctx context.Context, channelID, systemPrompt string) (*Handle, error) {
	e := r.channelEntry(channelID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != nil {
		if err := r.records.TouchSession(ctx, channelID, time.Now().UTC()); err != nil {
			r.logger.Debug("touching session record failed", "channel_id", channelID, "error", err)
		}
		return e.handle, nil
	}

	// Try to resume the persisted session before creating a new one
	rec, err := r.records.GetSession(ctx, channelID)
	if err == nil && rec.Active {
		switch probeErr := r.runtime.ProbeSession(ctx, rec.RuntimeSessionID); {
		case probeErr == nil:
			handle := &Handle{
				ChannelID: channelID,
				RuntimeID: rec.RuntimeSessionID,
				CreatedAt: rec.CreatedAt,
			}
			e.handle = handle
			if err := r.records.TouchSession(ctx, channelID, time.Now().UTC()); err != nil {
				r.logger.Debug("touching session record failed", "channel_id", channelID, "error", err)
			}
			r.logger.Info("resumed session", "channel_id", channelID, "session_id", rec.RuntimeSessionID)
			return handle, nil

		case errors.Is(probeErr, runtime.ErrSessionNotFound):
			// The runtime dropped it; demote the record and recreate below
			r.logger.Info("persisted session gone, recreating",
				"channel_id", channelID, "session_id", rec.RuntimeSessionID)
			if err := r.records.DeactivateSession(ctx, channelID); err != nil && !errors.Is(err, store.ErrNotFound) {
				r.logger.Warn("deactivating stale session record failed", "channel_id", channelID, "error", err)
			}

		default:
			return nil, fmt.Errorf("probing session for %s: %w", channelID, probeErr)
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("loading session record failed", "channel_id", channelID, "error", err)
	}

	return r.createLocked(ctx, e, channelID, systemPrompt)
}

// createLocked requires the channel entry lock held.
func (r *Registry) createLocked(ctx context.Context, e *entry, channelID, systemPrompt string) (*Handle, error) {
	now := time.Now().UTC()
	id := fmt.Sprintf("%s-%s-%d", r.cfg.Prefix, slugify(channelID), now.Unix())

	err := r.runtime.CreateSession(ctx, id, runtime.SessionConfig{
		Workdir:      r.cfg.Workdir,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", channelID, err)
	}

	handle := &Handle{ChannelID: channelID, RuntimeID: id, CreatedAt: now}
	e.handle = handle

	rec := &store.SessionRecord{
		ChannelID:        channelID,
		RuntimeSessionID: id,
		CreatedAt:        now,
		LastUsedAt:       now,
		Active:           true,
	}
	if err := r.records.UpsertSession(ctx, rec); err != nil {
		// The live handle still works; only restart recovery degrades
		r.logger.Error("persisting session record failed", "channel_id", channelID, "error", err)
	}

	r.logger.Info("created session", "channel_id", channelID, "session_id", id)
	return handle, nil
}

// Invalidate drops the channel's session. The runtime destroy is best effort;
// invalidating a channel with no session is a no-op.
func (r *Registry) Invalidate(ctx context.Context, channelID string) {
	e := r.channelEntry(channelID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != nil {
		if err := r.runtime.DestroySession(ctx, e.handle.RuntimeID); err != nil {
			r.logger.Warn("destroying session failed",
				"channel_id", channelID, "session_id", e.handle.RuntimeID, "error", err)
		}
		e.handle = nil
	}

	if err := r.records.DeactivateSession(ctx, channelID); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("deactivating session record failed", "channel_id", channelID, "error", err)
	}
}

// DestroyAll tears down every live session. Called on shutdown.
func (r *Registry) DestroyAll(ctx context.Context) {
	r.mu.Lock()
	channels := make([]string, 0, len(r.channels))
	for id := range r.channels {
		channels = append(channels, id)
	}
	r.mu.Unlock()

	for _, channelID := range channels {
		r.Invalidate(ctx, channelID)
	}
	r.logger.Info("destroyed all sessions", "count", len(channels))
}

// LoadPersisted warms the cache from active session records, demoting the
// ones the runtime no longer knows. Called once at startup.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	recs, err := r.records.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing active sessions: %w", err)
	}

	resumed, demoted := 0, 0
	for _, rec := range recs {
		switch probeErr := r.runtime.ProbeSession(ctx, rec.RuntimeSessionID); {
		case probeErr == nil:
			e := r.channelEntry(rec.ChannelID)
			e.mu.Lock()
			e.handle = &Handle{
				ChannelID: rec.ChannelID,
				RuntimeID: rec.RuntimeSessionID,
				CreatedAt: rec.CreatedAt,
			}
			e.mu.Unlock()
			resumed++

		case errors.Is(probeErr, runtime.ErrSessionNotFound):
			if err := r.records.DeactivateSession(ctx, rec.ChannelID); err != nil && !errors.Is(err, store.ErrNotFound) {
				r.logger.Warn("deactivating stale session record failed",
					"channel_id", rec.ChannelID, "error", err)
			}
			demoted++

		default:
			// Transient runtime trouble; leave the record for the next resolve
			r.logger.Warn("probing persisted session failed",
				"channel_id", rec.ChannelID, "session_id", rec.RuntimeSessionID, "error", probeErr)
		}
	}

	r.logger.Info("loaded persisted sessions", "resumed", resumed, "demoted", demoted)
	return nil
}

// Live returns a snapshot of the channels with live handles.
func (r *Registry) Live() []*Handle {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.channels))
	for _, e := range r.channels {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var handles []*Handle
	for _, e := range entries {
		e.mu.Lock()
		if e.handle != nil {
			h := *e.handle
			handles = append(handles, &h)
		}
		e.mu.Unlock()
	}
	return handles
}

// slugify reduces a channel id to lowercase alphanumerics and dashes so it
// can sit inside a session id.
func slugify(s string) string {
	var b strings.Builder
	lastDash := true // trim leading dashes
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
