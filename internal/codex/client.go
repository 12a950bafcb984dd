// Package codex drives the external codex assistant binary. Every command
// goes through the process runner and comes back as a Response, so callers
// render failures instead of handling errors.
package codex

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/shell"

	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/runner"
	"github.com/zjrosen/codexgui/internal/settings"
)

// Config selects the binary.
type Config struct {
	// Path overrides binary resolution entirely.
	Path string
	// BinDir holds bundled codex-<triple> binaries.
	BinDir string
	// GOOS and GOARCH default to the running platform.
	GOOS   string
	GOARCH string
	// WorkDir is the initial working directory for assistant commands.
	WorkDir string
}

// Options tune a single assistant command.
type Options struct {
	Model      string `json:"model,omitempty"`
	Sandbox    string `json:"sandbox,omitempty"`
	Approval   string `json:"approval,omitempty"`
	WorkingDir string `json:"workingDir,omitempty"`
	FullAuto   bool   `json:"fullAuto,omitempty"`

	OnOutput func([]byte) `json:"-"`
	OnError  func([]byte) `json:"-"`
}

// Response is the outcome of an assistant command.
type Response struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client runs codex sub-commands.
type Client struct {
	runner *runner.Runner
	path   string

	mu      sync.RWMutex
	workDir string
}

// New resolves the binary and returns a client. It fails with
// ErrUnsupportedPlatform when no variant matches and no Path is configured.
func New(r *runner.Runner, cfg Config) (*Client, error) {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.GOARCH == "" {
		cfg.GOARCH = runtime.GOARCH
	}
	if cfg.BinDir == "" {
		cfg.BinDir = DefaultBinDir()
	}

	path, err := resolvePath(cfg)
	if err != nil {
		return nil, err
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = r.WorkDir()
	}
	return &Client{runner: r, path: path, workDir: workDir}, nil
}

// Path returns the resolved binary.
func (c *Client) Path() string { return c.path }

// WorkDir returns the directory assistant commands run in.
func (c *Client) WorkDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workDir
}

// SetWorkDir changes the directory for later commands.
func (c *Client) SetWorkDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workDir = dir
}

// Initialize checks that the binary runs by asking for its version.
func (c *Client) Initialize(ctx context.Context) error {
	version, err := c.Version(ctx)
	if err != nil {
		return fmt.Errorf("codex binary %s not found or not executable: %w", c.path, err)
	}
	log.Info(log.CatCodex, "Codex initialized", "path", c.path, "version", version)
	return nil
}

// Version returns the trimmed output of --version.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.runner.Run(ctx, runner.Request{Path: c.path, Args: []string{"--version"}, Dir: c.WorkDir()})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Login starts the interactive login flow.
func (c *Client) Login(ctx context.Context, opts Options) Response {
	return c.Run(ctx, []string{"login"}, opts)
}

// Logout clears stored credentials.
func (c *Client) Logout(ctx context.Context, opts Options) Response {
	return c.Run(ctx, []string{"logout"}, opts)
}

// Status reports the login state.
func (c *Client) Status(ctx context.Context, opts Options) Response {
	return c.Run(ctx, []string{"login", "status"}, opts)
}

// Chat sends a free-form message.
func (c *Client) Chat(ctx context.Context, message string, opts Options) Response {
	args := c.flags(opts, opts.FullAuto)
	return c.Run(ctx, append(args, message), opts)
}

// Exec runs a one-shot task through "codex exec".
func (c *Client) Exec(ctx context.Context, task string, opts Options) Response {
	args := append([]string{"exec"}, c.flags(opts, false)...)
	return c.Run(ctx, append(args, task), opts)
}

// Apply applies the most recent patch produced by the assistant.
func (c *Client) Apply(ctx context.Context, opts Options) Response {
	return c.Run(ctx, []string{"apply"}, opts)
}

// flags renders the shared model, sandbox and approval flags, then
// --full-auto when requested, then the directory. A WorkingDir also becomes
// the client's directory for later commands.
func (c *Client) flags(opts Options, fullAuto bool) []string {
	var args []string
	if opts.Model != "" {
		args = append(args, "-m", opts.Model)
	}
	if opts.Sandbox != "" {
		args = append(args, "-s", opts.Sandbox)
	}
	if opts.Approval != "" {
		args = append(args, "-a", opts.Approval)
	}
	if fullAuto {
		args = append(args, "--full-auto")
	}
	if opts.WorkingDir != "" {
		args = append(args, "-C", opts.WorkingDir)
		c.SetWorkDir(opts.WorkingDir)
	}
	return args
}

// Run invokes the binary with args in the client's working directory.
func (c *Client) Run(ctx context.Context, args []string, opts Options) Response {
	log.Debug(log.CatCodex, "Running codex", "args", strings.Join(args, " "))

	res, err := c.runner.Run(ctx, runner.Request{
		Path:     c.path,
		Args:     args,
		Dir:      c.WorkDir(),
		OnStdout: opts.OnOutput,
		OnStderr: opts.OnError,
	})
	if err != nil {
		log.Debug(log.CatCodex, "Codex command failed", "args", strings.Join(args, " "), "error", err)
		return Response{Success: false, Error: err.Error()}
	}
	return Response{Success: true, Output: res.Stdout}
}

// RunLine splits line into words with shell quoting rules and runs them
// as codex arguments.
func (c *Client) RunLine(ctx context.Context, line string, opts Options) Response {
	args, err := shell.Fields(line, nil)
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("parsing command line: %v", err)}
	}
	if len(args) == 0 {
		return Response{Success: false, Error: "empty command"}
	}
	return c.Run(ctx, args, opts)
}

// DefaultOptions reads model, sandbox, approval and working directory from
// settings. Missing or mistyped entries are left empty so codex applies its
// own defaults.
func DefaultOptions(s settings.Reader) Options {
	str := func(key string) string {
		v, ok := s.Get(key)
		if !ok {
			return ""
		}
		out, _ := v.AsString()
		return out
	}
	return Options{
		Model:      str(settings.KeyCodexModel),
		Sandbox:    str(settings.KeyCodexSandbox),
		Approval:   str(settings.KeyCodexApproval),
		WorkingDir: str(settings.KeyCodexWorkingDir),
	}
}
