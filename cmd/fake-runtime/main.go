// ABOUTME: Minimal fake model runtime for developing the daemon end to end
// ABOUTME: Usage: fake-runtime [-addr localhost:3284]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeRuntime implements the session API the daemon speaks, with canned
// replies. Trigger words exercise specific paths: "tool" emits a tool cycle,
// "permission" blocks on a permission answer, "remember" emits the memory
// verb, "markdown" returns formatted text.
type fakeRuntime struct {
	mu       sync.Mutex
	sessions map[string]sessionConfig
	pending  map[string]chan bool
}

type sessionConfig struct {
	Workdir      string `json:"workdir"`
	SystemPrompt string `json:"system_prompt"`
}

type turnRequest struct {
	Prompt       string   `json:"prompt"`
	Context      string   `json:"context"`
	AllowedTools []string `json:"allowed_tools"`
}

func main() {
	addr := flag.String("addr", "localhost:3284", "listen address")
	flag.Parse()

	rt := &fakeRuntime{
		sessions: make(map[string]sessionConfig),
		pending:  make(map[string]chan bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/sessions/{id}", rt.handleCreate)
	mux.HandleFunc("GET /v1/sessions/{id}", rt.handleProbe)
	mux.HandleFunc("DELETE /v1/sessions/{id}", rt.handleDestroy)
	mux.HandleFunc("POST /v1/sessions/{id}/turns", rt.handleTurn)
	mux.HandleFunc("POST /v1/sessions/{id}/permissions/{request}", rt.handlePermission)

	log.Printf("fake runtime listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func (rt *fakeRuntime) handleCreate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var cfg sessionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rt.mu.Lock()
	_, existed := rt.sessions[id]
	rt.sessions[id] = cfg
	rt.mu.Unlock()

	if existed {
		w.WriteHeader(http.StatusOK)
		return
	}
	log.Printf("session %s created", id)
	w.WriteHeader(http.StatusCreated)
}

func (rt *fakeRuntime) handleProbe(w http.ResponseWriter, r *http.Request) {
	rt.mu.Lock()
	_, ok := rt.sessions[r.PathValue("id")]
	rt.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (rt *fakeRuntime) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rt.mu.Lock()
	_, ok := rt.sessions[id]
	delete(rt.sessions, id)
	rt.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	log.Printf("session %s destroyed", id)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *fakeRuntime) handleTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rt.mu.Lock()
	_, ok := rt.sessions[id]
	rt.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	var turn turnRequest
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	log.Printf("turn on %s: %s", id, firstLine(turn.Prompt))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	emit := func(event string, payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	emit("thinking", map[string]string{"text": "Working out how to echo this."})
	time.Sleep(50 * time.Millisecond)

	lower := strings.ToLower(turn.Prompt)
	reply := echoReply(turn.Prompt)

	switch {
	case strings.Contains(lower, "remember"):
		callID := uuid.NewString()
		input, _ := json.Marshal(map[string]string{"key": "note", "value": turn.Prompt})
		emit("tool_start", map[string]any{"tool_call_id": callID, "name": "remember", "input": json.RawMessage(input)})
		time.Sleep(50 * time.Millisecond)
		emit("tool_complete", map[string]any{"tool_call_id": callID})
		reply = "Stored that as a note."

	case strings.Contains(lower, "tool"):
		callID := uuid.NewString()
		emit("tool_start", map[string]any{"tool_call_id": callID, "name": "Read"})
		time.Sleep(100 * time.Millisecond)
		emit("tool_complete", map[string]any{"tool_call_id": callID})

	case strings.Contains(lower, "permission"):
		requestID := uuid.NewString()
		answer := make(chan bool, 1)
		rt.mu.Lock()
		rt.pending[requestID] = answer
		rt.mu.Unlock()
		defer func() {
			rt.mu.Lock()
			delete(rt.pending, requestID)
			rt.mu.Unlock()
		}()

		input, _ := json.Marshal(map[string]string{"command": "echo hello"})
		emit("permission_request", map[string]any{"request_id": requestID, "tool_name": "Bash", "input": json.RawMessage(input)})

		select {
		case allowed := <-answer:
			if allowed {
				reply = "Permission granted, ran it:\n\n```\nhello\n```"
			} else {
				reply = "Understood, I won't run that."
			}
		case <-time.After(90 * time.Second):
			reply = "Nobody answered the permission prompt."
		case <-r.Context().Done():
			return
		}
	}

	// Two delta chunks so consumers exercise reassembly
	runes := []rune(reply)
	half := len(runes) / 2
	emit("text", map[string]string{"text": string(runes[:half])})
	time.Sleep(50 * time.Millisecond)
	emit("text", map[string]string{"text": string(runes[half:])})
	emit("done", map[string]string{"full_text": reply})
}

func (rt *fakeRuntime) handlePermission(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request")

	var body struct {
		Allow bool `json:"allow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	rt.mu.Lock()
	answer, ok := rt.pending[requestID]
	delete(rt.pending, requestID)
	rt.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	answer <- body.Allow
	log.Printf("permission %s answered: allow=%v", requestID, body.Allow)
	w.WriteHeader(http.StatusNoContent)
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote."
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}
