// Package terminal implements the embedded terminal: a line interpreter with
// a few built-ins and assistant forwarding, and interactive PTY shells.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/shell"

	"github.com/zjrosen/codexgui/internal/codex"
	"github.com/zjrosen/codexgui/internal/history"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/runner"
)

// Kind classifies a line of terminal output for rendering.
type Kind string

const (
	KindCommand Kind = "command"
	KindOutput  Kind = "output"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	// KindClear asks the renderer to clear the screen. Text is empty.
	KindClear Kind = "clear"
)

// Output is one piece of terminal output.
type Output struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Emitter receives output as a command runs.
type Emitter func(Output)

// ExitNotFound is reported when a shell command cannot be spawned.
const ExitNotFound = 127

// Assistant is the part of the codex client the terminal forwards to.
type Assistant interface {
	Login(ctx context.Context, opts codex.Options) codex.Response
	Logout(ctx context.Context, opts codex.Options) codex.Response
	Status(ctx context.Context, opts codex.Options) codex.Response
	Chat(ctx context.Context, message string, opts codex.Options) codex.Response
	Exec(ctx context.Context, task string, opts codex.Options) codex.Response
	Apply(ctx context.Context, opts codex.Options) codex.Response
}

// History records executed commands.
type History interface {
	Append(ctx context.Context, e history.Entry) (history.Entry, error)
	Recent(ctx context.Context, n int) ([]history.Entry, error)
}

// Session interprets command lines in a working directory.
type Session struct {
	runner    *runner.Runner
	assistant Assistant
	history   History
	options   func() codex.Options

	mu  sync.RWMutex
	dir string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithAssistant enables the codex sub-commands.
func WithAssistant(a Assistant, options func() codex.Options) SessionOption {
	return func(s *Session) {
		s.assistant = a
		if options != nil {
			s.options = options
		}
	}
}

// WithHistory records each command.
func WithHistory(h History) SessionOption {
	return func(s *Session) { s.history = h }
}

// NewSession creates a session rooted at the runner's working directory.
func NewSession(r *runner.Runner, opts ...SessionOption) *Session {
	s := &Session{
		runner:  r,
		options: func() codex.Options { return codex.Options{} },
		dir:     r.WorkDir(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the session's working directory.
func (s *Session) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

// SetDir changes the working directory without validation.
func (s *Session) SetDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}

// Exec interprets one command line and returns its exit code. Output is
// emitted as it is produced. Blank lines do nothing and return 0.
func (s *Session) Exec(ctx context.Context, line string, emit Emitter) int {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0
	}
	emit(Output{Kind: KindCommand, Text: line})

	dir := s.Dir()
	code := s.dispatch(ctx, line, emit)

	if s.history != nil {
		if _, err := s.history.Append(ctx, history.Entry{Command: line, Dir: dir, ExitCode: code}); err != nil {
			log.ErrorErr(log.CatTerminal, "Failed to record history", err, "command", line)
		}
	}
	return code
}

// ExitUsage is reported when a built-in cannot parse its arguments.
const ExitUsage = 2

// dispatch splits line with shell quoting rules and runs a built-in when the
// first word names one. Lines that are not a plain word list (pipes, lists,
// redirections) go to the shell unless they start with cd or codex, which
// the shell cannot run on the session's behalf.
func (s *Session) dispatch(ctx context.Context, line string, emit Emitter) int {
	args, err := shell.Fields(line, nil)
	if err != nil {
		name := strings.ToLower(strings.Fields(line)[0])
		if name == "cd" || name == "codex" {
			emit(Output{Kind: KindError, Text: fmt.Sprintf("%s: %v", name, err)})
			return ExitUsage
		}
		return s.shell(ctx, line, emit)
	}
	if len(args) == 0 {
		return s.shell(ctx, line, emit)
	}

	switch strings.ToLower(args[0]) {
	case "help":
		for _, l := range helpLines {
			emit(Output{Kind: KindOutput, Text: l})
		}
		return 0
	case "clear":
		emit(Output{Kind: KindClear})
		return 0
	case "pwd":
		emit(Output{Kind: KindOutput, Text: s.Dir()})
		return 0
	case "echo":
		emit(Output{Kind: KindOutput, Text: strings.Join(args[1:], " ")})
		return 0
	case "cd":
		return s.cd(args[1:], emit)
	case "history":
		return s.printHistory(ctx, emit)
	case "codex":
		if s.assistant != nil {
			return s.codex(ctx, args[1:], emit)
		}
	}
	return s.shell(ctx, line, emit)
}

var helpLines = []string{
	"Available commands:",
	"  help         - Show this help message",
	"  clear        - Clear terminal output",
	"  pwd          - Show current working directory",
	"  cd <dir>     - Change working directory",
	"  echo <text>  - Echo text to output",
	"  history      - Show recent commands",
	"  codex <cmd>  - Execute Codex commands:",
	"    login      - Login to Codex",
	"    logout     - Logout from Codex",
	"    status     - Check login status",
	"    chat <msg> - Chat with Codex",
	"    exec <task> - Run a one-shot Codex task",
	"    apply      - Apply latest diff",
	"Anything else runs in the shell.",
}

func (s *Session) cd(args []string, emit Emitter) int {
	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	if target == "" || target == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			emit(Output{Kind: KindError, Text: fmt.Sprintf("cd: %v", err)})
			return 1
		}
		target = home
	} else if strings.HasPrefix(target, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			target = filepath.Join(home, target[2:])
		}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.Dir(), target)
	}

	info, err := os.Stat(target)
	if err != nil {
		emit(Output{Kind: KindError, Text: fmt.Sprintf("cd: %s: no such directory", args[0])})
		return 1
	}
	if !info.IsDir() {
		emit(Output{Kind: KindError, Text: fmt.Sprintf("cd: %s: not a directory", args[0])})
		return 1
	}
	s.SetDir(filepath.Clean(target))
	return 0
}

func (s *Session) printHistory(ctx context.Context, emit Emitter) int {
	if s.history == nil {
		emit(Output{Kind: KindInfo, Text: "History is not enabled"})
		return 0
	}
	entries, err := s.history.Recent(ctx, 50)
	if err != nil {
		emit(Output{Kind: KindError, Text: err.Error()})
		return 1
	}
	for _, e := range entries {
		emit(Output{Kind: KindOutput, Text: fmt.Sprintf("%5d  %s", e.ID, e.Command)})
	}
	return 0
}

func (s *Session) codex(ctx context.Context, args []string, emit Emitter) int {
	if len(args) == 0 {
		emit(Output{Kind: KindInfo, Text: "Usage: codex [login|logout|status|chat|exec|apply]"})
		return 0
	}
	opts := s.options()

	var resp codex.Response
	switch args[0] {
	case "login":
		emit(Output{Kind: KindInfo, Text: "Logging into Codex..."})
		resp = s.assistant.Login(ctx, opts)
		return report(emit, resp, "Successfully logged in to Codex", "Login failed")
	case "logout":
		emit(Output{Kind: KindInfo, Text: "Logging out of Codex..."})
		resp = s.assistant.Logout(ctx, opts)
		return report(emit, resp, "Successfully logged out of Codex", "Logout failed")
	case "status":
		resp = s.assistant.Status(ctx, opts)
		if resp.Success {
			emit(Output{Kind: KindSuccess, Text: "Codex status: Logged in"})
			return 0
		}
		emit(Output{Kind: KindError, Text: "Codex status: Not logged in"})
		return 1
	case "chat", "exec":
		if len(args) < 2 {
			emit(Output{Kind: KindInfo, Text: fmt.Sprintf("Usage: codex %s <message>", args[0])})
			return 0
		}
		message := strings.Join(args[1:], " ")
		emit(Output{Kind: KindInfo, Text: "Asking Codex: " + message})
		if args[0] == "chat" {
			resp = s.assistant.Chat(ctx, message, opts)
		} else {
			resp = s.assistant.Exec(ctx, message, opts)
		}
		if !resp.Success {
			label := "Chat failed: "
			if args[0] == "exec" {
				label = "Exec failed: "
			}
			emit(Output{Kind: KindError, Text: label + resp.Error})
			return 1
		}
		emit(Output{Kind: KindInfo, Text: "Codex response:"})
		emit(Output{Kind: KindOutput, Text: resp.Output})
		return 0
	case "apply":
		emit(Output{Kind: KindInfo, Text: "Applying latest diff..."})
		resp = s.assistant.Apply(ctx, opts)
		return report(emit, resp, "Diff applied successfully", "Apply failed")
	default:
		emit(Output{Kind: KindError, Text: "Unknown codex subcommand: " + args[0]})
		return 1
	}
}

func report(emit Emitter, resp codex.Response, ok, failed string) int {
	if resp.Success {
		emit(Output{Kind: KindSuccess, Text: ok})
		return 0
	}
	emit(Output{Kind: KindError, Text: failed + ": " + resp.Error})
	return 1
}

// shell runs line through the configured shell in the session directory.
func (s *Session) shell(ctx context.Context, line string, emit Emitter) int {
	req := s.runner.ShellRequest(line)
	req.Dir = s.Dir()
	req.OnStdout = func(b []byte) { emit(Output{Kind: KindOutput, Text: string(b)}) }
	req.OnStderr = func(b []byte) { emit(Output{Kind: KindError, Text: string(b)}) }

	_, err := s.runner.Run(ctx, req)
	if err == nil {
		return 0
	}

	var failed *runner.CommandFailed
	if errors.As(err, &failed) {
		log.Debug(log.CatTerminal, "Shell command failed", "command", line, "code", failed.Code())
		if failed.Signal != "" {
			emit(Output{Kind: KindError, Text: "terminated: " + failed.Signal})
		}
		return failed.Code()
	}
	emit(Output{Kind: KindError, Text: err.Error()})
	return ExitNotFound
}
