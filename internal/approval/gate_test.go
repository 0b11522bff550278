// ABOUTME: Tests for the approval gate covering the full decision lifecycle.
// ABOUTME: Exercises prompting, answering, timeouts, and responder checks.

package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolvedPrompt struct {
	promptID  string
	decision  Decision
	decidedBy string
}

// fakePrompter records prompts and resolutions, with scriptable failures.
type fakePrompter struct {
	mu           sync.Mutex
	prompts      []Request
	resolves     []resolvedPrompt
	promptErr    error
	resolveErr   error
	blockResolve chan struct{} // when set, ResolvePrompt waits until it closes
}

func (f *fakePrompter) PromptApproval(_ context.Context, _ Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promptErr != nil {
		return "", f.promptErr
	}
	f.prompts = append(f.prompts, req)
	return fmt.Sprintf("prompt-%d", len(f.prompts)), nil
}

func (f *fakePrompter) ResolvePrompt(_ context.Context, _ Context, promptID string, decision Decision, decidedBy string) error {
	if f.blockResolve != nil {
		<-f.blockResolve
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolves = append(f.resolves, resolvedPrompt{promptID: promptID, decision: decision, decidedBy: decidedBy})
	return nil
}

func (f *fakePrompter) sent() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.prompts))
	copy(out, f.prompts)
	return out
}

func (f *fakePrompter) resolved() []resolvedPrompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]resolvedPrompt, len(f.resolves))
	copy(out, f.resolves)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitPending(t *testing.T, g *Gate, requestID string) {
	t.Helper()
	require.Eventually(t, func() bool { return g.PendingFor(requestID) },
		time.Second, 2*time.Millisecond, "request %s never became pending", requestID)
}

func TestNewGate_DefaultTimeout(t *testing.T) {
	gate := NewGate(&fakePrompter{}, 0, testLogger())
	assert.Equal(t, DefaultTimeout, gate.timeout)
}

func TestRequest_NoContextDeniesWithoutPrompting(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, time.Second, testLogger())

	got := gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Bash"})

	require.Equal(t, DecisionDeniedNoContext, got)
	assert.Empty(t, pr.sent())
}

func TestClearContext(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})
	gate.ClearContext("!room:example.org")

	got := gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Bash"})

	require.Equal(t, DecisionDeniedNoContext, got)
	assert.Empty(t, pr.sent())
}

func TestRequest_Approved(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, 5*time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	decisions := make(chan Decision, 1)
	go func() {
		decisions <- gate.Request(context.Background(), "!room:example.org", Request{
			ID:          "req-1",
			ToolName:    "Bash",
			Kind:        KindShell,
			Description: "rm -rf /tmp/scratch",
		})
	}()

	waitPending(t, gate, "req-1")
	require.NoError(t, gate.Answer("req-1", "@alice:example.org", true))

	require.Equal(t, DecisionApproved, <-decisions)
	sent := pr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Bash", sent[0].ToolName)
	assert.Equal(t, KindShell, sent[0].Kind)

	resolves := pr.resolved()
	require.Len(t, resolves, 1)
	assert.Equal(t, DecisionApproved, resolves[0].decision)
	assert.Equal(t, "@alice:example.org", resolves[0].decidedBy)
	assert.False(t, gate.PendingFor("req-1"))
}

func TestRequest_DeniedByUser(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, 5*time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	decisions := make(chan Decision, 1)
	go func() {
		decisions <- gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Write"})
	}()

	waitPending(t, gate, "req-1")
	require.NoError(t, gate.Answer("req-1", "@alice:example.org", false))

	require.Equal(t, DecisionDeniedByUser, <-decisions)
	resolves := pr.resolved()
	require.Len(t, resolves, 1)
	assert.Equal(t, DecisionDeniedByUser, resolves[0].decision)
}

func TestRequest_TimesOut(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, 50*time.Millisecond, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	start := time.Now()
	got := gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "WebFetch"})
	elapsed := time.Since(start)

	require.Equal(t, DecisionDeniedTimeout, got)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)

	resolves := pr.resolved()
	require.Len(t, resolves, 1)
	assert.Equal(t, DecisionDeniedTimeout, resolves[0].decision)
	assert.Empty(t, resolves[0].decidedBy)
	assert.False(t, gate.PendingFor("req-1"))
}

func TestRequest_CanceledTurnDenies(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, time.Minute, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	ctx, cancel := context.WithCancel(context.Background())
	decisions := make(chan Decision, 1)
	go func() {
		decisions <- gate.Request(ctx, "!room:example.org", Request{ID: "req-1", ToolName: "Bash"})
	}()

	waitPending(t, gate, "req-1")
	cancel()

	select {
	case got := <-decisions:
		require.Equal(t, DecisionDeniedTimeout, got)
	case <-time.After(time.Second):
		t.Fatal("request did not return after turn cancellation")
	}

	resolves := pr.resolved()
	require.Len(t, resolves, 1)
	assert.Equal(t, DecisionDeniedTimeout, resolves[0].decision)
}

func TestRequest_PromptFailureDeniesImmediately(t *testing.T) {
	pr := &fakePrompter{promptErr: errors.New("send failed")}
	gate := NewGate(pr, 5*time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	start := time.Now()
	got := gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Bash"})

	require.Equal(t, DecisionDeniedTimeout, got)
	assert.Less(t, time.Since(start), time.Second, "should not wait out the gate timeout")
	assert.False(t, gate.PendingFor("req-1"))
	assert.Empty(t, pr.resolved())
}

func TestRequest_PromptEditFailureIgnored(t *testing.T) {
	pr := &fakePrompter{resolveErr: errors.New("edit failed")}
	gate := NewGate(pr, 5*time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	decisions := make(chan Decision, 1)
	go func() {
		decisions <- gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Bash"})
	}()

	waitPending(t, gate, "req-1")
	require.NoError(t, gate.Answer("req-1", "@alice:example.org", true))

	require.Equal(t, DecisionApproved, <-decisions)
}

func TestRequest_AssignsMissingID(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, 30*time.Millisecond, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	got := gate.Request(context.Background(), "!room:example.org", Request{ToolName: "Grep"})

	require.Equal(t, DecisionDeniedTimeout, got)
	sent := pr.sent()
	require.Len(t, sent, 1)
	assert.NotEmpty(t, sent[0].ID)
}

func TestAnswer_WrongResponderRejected(t *testing.T) {
	pr := &fakePrompter{}
	gate := NewGate(pr, 5*time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	decisions := make(chan Decision, 1)
	go func() {
		decisions <- gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Bash"})
	}()

	waitPending(t, gate, "req-1")
	require.ErrorIs(t, gate.Answer("req-1", "@mallory:example.org", true), ErrWrongResponder)
	assert.True(t, gate.PendingFor("req-1"), "request should remain pending after a rejected answer")

	require.NoError(t, gate.Answer("req-1", "@alice:example.org", false))
	require.Equal(t, DecisionDeniedByUser, <-decisions)
}

func TestAnswer_DuplicateRejected(t *testing.T) {
	pr := &fakePrompter{blockResolve: make(chan struct{})}
	gate := NewGate(pr, 5*time.Second, testLogger())
	gate.SetContext("!room:example.org", Context{ChannelID: "!room:example.org", UserID: "@alice:example.org"})

	decisions := make(chan Decision, 1)
	go func() {
		decisions <- gate.Request(context.Background(), "!room:example.org", Request{ID: "req-1", ToolName: "Edit"})
	}()

	waitPending(t, gate, "req-1")
	require.NoError(t, gate.Answer("req-1", "@alice:example.org", true))
	// The request stays registered until its prompt edit completes, so a
	// second answer sees the decided state rather than an unknown id.
	require.ErrorIs(t, gate.Answer("req-1", "@alice:example.org", false), ErrAlreadyDecided)

	close(pr.blockResolve)
	require.Equal(t, DecisionApproved, <-decisions)
}

func TestAnswer_UnknownRequest(t *testing.T) {
	gate := NewGate(&fakePrompter{}, time.Second, testLogger())
	require.ErrorIs(t, gate.Answer("no-such-request", "@alice:example.org", true), ErrUnknownRequest)
}
