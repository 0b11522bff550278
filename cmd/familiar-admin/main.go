// ABOUTME: Ops CLI for a running familiar daemon
// ABOUTME: Inspects sessions and memories, streams chat turns, answers approvals

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
  __                 _ _ _
 / _| __ _ _ __ ___ (_) (_) __ _ _ __
| |_ / _' | '_ ' _ \| | | |/ _' | '__|
|  _| (_| | | | | | | | | | (_| | |
|_|  \__,_|_| |_| |_|_|_|_|\__,_|_|  admin
`

const requestTimeout = 10 * time.Second

// stdin is shared so the chat REPL and approval prompts read from one buffer.
var stdin = bufio.NewReader(os.Stdin)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "status":
		err = cmdStatus(ctx)
	case "sessions":
		err = cmdSessions(ctx, args)
	case "memory":
		err = cmdMemory(ctx, args)
	case "chat":
		err = cmdChat(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	color.Cyan(banner)
	fmt.Println("Usage: familiar-admin <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status                        Show daemon health and readiness")
	fmt.Println("  sessions list                 List runtime sessions by channel")
	fmt.Println("  sessions invalidate <chan>    Destroy a channel's session; next turn starts fresh")
	fmt.Println("  sessions delete <chan>        Invalidate and drop the session record")
	fmt.Println("  memory list [--user NAME]     List shared or per-user memories")
	fmt.Println("  memory set <key> <value...>   Store a memory (--user NAME for per-user scope)")
	fmt.Println("  memory delete <key>           Forget a memory (--user NAME for per-user scope)")
	fmt.Println("  chat [message...]             Talk to the familiar; REPL when no message given")
	fmt.Println("      --as NAME                 Speak as a different user")
	fmt.Println("      --channel ID              Use a specific channel id")
	fmt.Println("  help                          Show this help")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  FAMILIAR_URL        Ops API base URL (default: http://localhost:8080)")
	fmt.Println("  FAMILIAR_TOKEN      Bearer token, minted with: familiar token --sub NAME")
	fmt.Println()
	fmt.Println("Config file (~/.config/familiar/admin.toml):")
	fmt.Println("  [server]")
	fmt.Println("  url = \"http://localhost:8080\"")
	fmt.Println()
	fmt.Println("  [auth]")
	fmt.Println("  token = \"${FAMILIAR_TOKEN}\"")
	fmt.Println("  ssh_key = \"~/.ssh/id_ed25519\"   # used when no token is set")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  familiar-admin status")
	fmt.Println("  familiar-admin chat \"what did I ask you to remember?\"")
	fmt.Println("  familiar-admin memory set \"favorite color\" blue --user @alice:example.org")
	fmt.Println("  familiar-admin sessions invalidate matrix:!abc:example.org")
}

func cmdStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	color.Cyan(banner)
	fmt.Printf("Server: %s\n\n", client.baseURL)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	health, err := client.health(reqCtx)
	if err != nil {
		color.Red("  Daemon:   unreachable (%v)", err)
		return nil
	}
	color.Green("  Daemon:   %s (version %s, up %s)", health.Status, health.Version, health.Uptime)

	if err := client.ready(reqCtx); err != nil {
		color.Yellow("  Ready:    no (%v)", err)
	} else {
		color.Green("  Ready:    yes")
	}

	sessions, err := client.listSessions(reqCtx)
	if err != nil {
		color.Yellow("  Sessions: unavailable (%v)", err)
		return nil
	}
	active := 0
	for _, s := range sessions {
		if s.Active {
			active++
		}
	}
	fmt.Printf("  Sessions: %d (%d active)\n", len(sessions), active)
	return nil
}

func cmdSessions(ctx context.Context, args []string) error {
	subcommand := "list"
	if len(args) > 0 {
		subcommand = args[0]
		args = args[1:]
	}

	switch subcommand {
	case "list", "ls":
		return cmdSessionsList(ctx)
	case "invalidate":
		if len(args) < 1 {
			return fmt.Errorf("usage: familiar-admin sessions invalidate <channel-id>")
		}
		return cmdSessionsInvalidate(ctx, args[0])
	case "delete", "rm":
		if len(args) < 1 {
			return fmt.Errorf("usage: familiar-admin sessions delete <channel-id>")
		}
		return cmdSessionsDelete(ctx, args[0])
	default:
		return fmt.Errorf("unknown sessions subcommand: %s (use list, invalidate, delete)", subcommand)
	}
}

func cmdSessionsList(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	sessions, err := client.listSessions(reqCtx)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions. The familiar spins one up on the first message per channel.")
		return nil
	}

	cyan := color.New(color.FgCyan)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	cyan.Fprintln(w, "CHANNEL\tSESSION\tACTIVE\tLAST USED")
	cyan.Fprintln(w, "-------\t-------\t------\t---------")
	for _, s := range sessions {
		activeStr := "no"
		if s.Active {
			activeStr = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncate(s.ChannelID, 40),
			s.SessionID,
			activeStr,
			s.LastUsedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d session(s)\n", len(sessions))
	return nil
}

func cmdSessionsInvalidate(ctx context.Context, channelID string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := client.invalidateSession(reqCtx, channelID); err != nil {
		return err
	}
	green := color.New(color.FgGreen, color.Bold)
	green.Printf("✓ Session invalidated for %s\n", channelID)
	fmt.Println("The next message on this channel starts a fresh session.")
	return nil
}

func cmdSessionsDelete(ctx context.Context, channelID string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := client.deleteSession(reqCtx, channelID); err != nil {
		return err
	}
	green := color.New(color.FgGreen, color.Bold)
	green.Printf("✓ Session deleted for %s\n", channelID)
	return nil
}

func cmdMemory(ctx context.Context, args []string) error {
	subcommand := "list"
	if len(args) > 0 {
		subcommand = args[0]
		args = args[1:]
	}

	switch subcommand {
	case "list", "ls":
		return cmdMemoryList(ctx, args)
	case "set", "add":
		return cmdMemorySet(ctx, args)
	case "delete", "rm", "forget":
		return cmdMemoryDelete(ctx, args)
	default:
		return fmt.Errorf("unknown memory subcommand: %s (use list, set, delete)", subcommand)
	}
}

// splitUserFlag pulls --user out of args and returns the positionals. A user
// implies per-user scope; otherwise the shared global scope is used.
func splitUserFlag(args []string) (positional []string, user string, err error) {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--user" || args[i] == "-u":
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("--user requires a value")
			}
			user = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--user="):
			user = strings.TrimPrefix(args[i], "--user=")
		case strings.HasPrefix(args[i], "-"):
			return nil, "", fmt.Errorf("unknown flag: %s", args[i])
		default:
			positional = append(positional, args[i])
		}
	}
	return positional, user, nil
}

func memoryScope(user string) string {
	if user != "" {
		return "user"
	}
	return "global"
}

func cmdMemoryList(ctx context.Context, args []string) error {
	_, user, err := splitUserFlag(args)
	if err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	memories, err := client.listMemories(reqCtx, memoryScope(user), user)
	if err != nil {
		return err
	}

	if len(memories) == 0 {
		if user != "" {
			fmt.Printf("No memories for %s.\n", user)
		} else {
			fmt.Println("No shared memories.")
		}
		return nil
	}

	cyan := color.New(color.FgCyan)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	cyan.Fprintln(w, "KEY\tVALUE\tBY\tUPDATED")
	cyan.Fprintln(w, "---\t-----\t--\t-------")
	for _, m := range memories {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncate(m.Key, 30),
			truncate(m.Value, 48),
			truncate(m.CreatedBy, 24),
			m.UpdatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d\n", len(memories))
	return nil
}

func cmdMemorySet(ctx context.Context, args []string) error {
	positional, user, err := splitUserFlag(args)
	if err != nil {
		return err
	}
	if len(positional) < 2 {
		return fmt.Errorf("usage: familiar-admin memory set <key> <value...> [--user NAME]")
	}
	key := positional[0]
	value := strings.Join(positional[1:], " ")

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	saved, err := client.setMemory(reqCtx, key, value, memoryScope(user), user)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("✓ Remembered %q", saved.Key)
	if user != "" {
		fmt.Printf(" for %s", user)
	}
	fmt.Println()
	return nil
}

func cmdMemoryDelete(ctx context.Context, args []string) error {
	positional, user, err := splitUserFlag(args)
	if err != nil {
		return err
	}
	if len(positional) < 1 {
		return fmt.Errorf("usage: familiar-admin memory delete <key> [--user NAME]")
	}
	key := positional[0]

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := client.deleteMemory(reqCtx, key, memoryScope(user), user); err != nil {
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("✓ Forgot %q\n", key)
	return nil
}

func cmdChat(ctx context.Context, args []string) error {
	var sender, channelID string
	var message []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--as" || args[i] == "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--as requires a value")
			}
			sender = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--as="):
			sender = strings.TrimPrefix(args[i], "--as=")
		case args[i] == "--channel" || args[i] == "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--channel requires a value")
			}
			channelID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--channel="):
			channelID = strings.TrimPrefix(args[i], "--channel=")
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			message = append(message, args[i])
		}
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	if len(message) > 0 {
		return streamTurn(ctx, client, channelID, sender, strings.Join(message, " "))
	}
	return chatREPL(ctx, client, channelID, sender)
}

func chatREPL(ctx context.Context, client *apiClient, channelID, sender string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen, color.Bold)

	cyan.Println("Chatting with the familiar. Ctrl+D or /quit to leave.")
	fmt.Println()

	for {
		green.Print("> ")
		line, err := readLine(ctx)
		if err != nil {
			fmt.Println()
			return nil
		}
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			return nil
		}

		if err := streamTurn(ctx, client, channelID, sender, line); err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			color.Red("Error: %v", err)
		}
		fmt.Println()
	}
}

// streamTurn sends one message and renders the event stream as it arrives.
func streamTurn(ctx context.Context, client *apiClient, channelID, sender, content string) error {
	dim := color.New(color.Faint, color.Italic)
	yellow := color.New(color.FgYellow)

	req := sendRequest{ChannelID: channelID, Sender: sender, Content: content}
	return client.sendMessage(ctx, req, func(event string, data json.RawMessage) error {
		switch event {
		case "thinking":
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(data, &payload); err == nil && payload.Text != "" {
				dim.Printf("[thinking] %s\n", truncate(payload.Text, 80))
			}
		case "text":
			var payload struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(data, &payload); err == nil {
				fmt.Print(payload.Text)
			}
		case "tool_start":
			var payload struct {
				Tool string `json:"tool"`
			}
			if err := json.Unmarshal(data, &payload); err == nil {
				yellow.Printf("\n[tool: %s]\n", payload.Tool)
			}
		case "permission_request":
			return promptApproval(ctx, client, data)
		case "permission_resolved":
			var payload struct {
				Decision  string `json:"decision"`
				DecidedBy string `json:"decided_by"`
			}
			if err := json.Unmarshal(data, &payload); err == nil {
				dim.Printf("[permission: %s]\n", payload.Decision)
			}
		case "done":
			fmt.Println()
		case "error":
			var payload struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
				return fmt.Errorf("%s", payload.Error)
			}
			return fmt.Errorf("turn failed")
		}
		return nil
	})
}

// promptApproval asks the operator to decide a permission request surfaced on
// the stream. The turn is blocked on the answer, so reading stdin here is safe.
func promptApproval(ctx context.Context, client *apiClient, data json.RawMessage) error {
	var req struct {
		RequestID   string `json:"request_id"`
		Kind        string `json:"kind"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing permission request: %w", err)
	}

	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Printf("\n[permission needed] (%s) %s\n", req.Kind, req.Description)
	fmt.Print("Approve? [y/N] ")

	line, err := readLine(ctx)
	if err != nil {
		line = ""
	}
	answer := strings.ToLower(line)
	approved := answer == "y" || answer == "yes"

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := client.approve(reqCtx, req.RequestID, approved); err != nil {
		// Usually means the request timed out server-side before the answer
		color.New(color.Faint).Printf("[could not record answer: %v]\n", err)
	}
	return nil
}

// readLine reads one trimmed line from the shared stdin reader, honoring
// context cancellation. On cancel the read goroutine stays parked on stdin,
// which is fine for a short-lived CLI.
func readLine(ctx context.Context) (string, error) {
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		line, err := stdin.ReadString('\n')
		line = strings.TrimSpace(line)
		if err != nil && line == "" {
			errCh <- err
			return
		}
		lineCh <- line
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case line := <-lineCh:
		return line, nil
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
