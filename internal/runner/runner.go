// Package runner spawns child processes and streams their output.
//
// Each run is independent. The only state shared between runs is the
// default working directory, read when a run starts.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/codexgui/internal/log"
)

// CommandFactoryFunc creates an exec.Cmd. Tests substitute it to control
// what actually runs.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Stream names an output stream of a child process.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Chunk is one read from a child's output pipe. Boundaries are whatever the
// pipe delivered; they do not follow lines.
type Chunk struct {
	Stream Stream `json:"stream"`
	Data   []byte `json:"data"`
}

// Request describes one process launch.
type Request struct {
	Path string
	Args []string
	// Dir defaults to the runner's working directory.
	Dir string
	// Env is merged over the ambient environment.
	Env map[string]string
	// Input, when non-empty, is written to stdin which is then closed.
	Input string
	// OnStdout and OnStderr receive chunks as they arrive. Each stream's
	// chunks are delivered in order; there is no ordering across streams.
	OnStdout func([]byte)
	OnStderr func([]byte)
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Success reports whether the process exited 0.
func (r Result) Success() bool { return r.ExitCode == 0 }

const defaultWaitDelay = 2 * time.Second

// Runner launches processes.
type Runner struct {
	mu             sync.RWMutex
	workDir        string
	shell          string
	waitDelay      time.Duration
	commandFactory CommandFactoryFunc
	tracer         trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkDir sets the initial default working directory.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithShell sets the shell used by ShellRequest.
func WithShell(shell string) Option {
	return func(r *Runner) {
		if shell != "" {
			r.shell = shell
		}
	}
}

// WithWaitDelay bounds how long output pipes are drained after the process
// exits or is cancelled, for children that leave descendants holding them.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) { r.waitDelay = d }
}

// WithCommandFactory sets a custom command factory for testing.
func WithCommandFactory(fn CommandFactoryFunc) Option {
	return func(r *Runner) { r.commandFactory = fn }
}

// WithTracer records a span per run.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// New creates a runner. The working directory defaults to the process's.
func New(opts ...Option) *Runner {
	r := &Runner{
		shell:     defaultShell(runtime.GOOS),
		waitDelay: defaultWaitDelay,
		tracer:    noop.NewTracerProvider().Tracer("runner"),
	}
	if wd, err := os.Getwd(); err == nil {
		r.workDir = wd
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultShell(goos string) string {
	if goos == "windows" {
		return "cmd.exe"
	}
	return "/bin/sh"
}

// WorkDir returns the default working directory.
func (r *Runner) WorkDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workDir
}

// SetWorkDir changes the default working directory for future runs.
// Runs already started keep the directory they were launched with.
func (r *Runner) SetWorkDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workDir = dir
}

// SetShell changes the shell used by ShellRequest.
func (r *Runner) SetShell(shell string) {
	if shell == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shell = shell
}

// ShellRequest builds a request that runs line through the shell.
func (r *Runner) ShellRequest(line string) Request {
	r.mu.RLock()
	shell := r.shell
	r.mu.RUnlock()

	flag := "-c"
	if strings.TrimSuffix(strings.ToLower(baseName(shell)), ".exe") == "cmd" {
		flag = "/C"
	}
	return Request{Path: shell, Args: []string{flag, line}}
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Run launches req and waits for it. A launch failure is a *SpawnError;
// a non-zero exit is a *CommandFailed whose Result holds the output.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	execution, err := r.launch(ctx, req, false)
	if err != nil {
		return Result{}, err
	}
	return execution.Wait()
}

// Start launches req and returns immediately. Output is delivered to the
// request callbacks and on Chunks, which must be drained.
func (r *Runner) Start(ctx context.Context, req Request) (*Execution, error) {
	return r.launch(ctx, req, true)
}

// Execution is a running process.
type Execution struct {
	cmd    *exec.Cmd
	path   string
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	stdout *streamWriter
	stderr *streamWriter
	chunks chan Chunk
	done   chan struct{}
	result Result
	err    error
}

// Chunks yields output as it arrives and is closed once the process has
// exited and all output is delivered. Nil for Run.
func (e *Execution) Chunks() <-chan Chunk { return e.chunks }

// PID returns the process ID.
func (e *Execution) PID() int {
	if e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Cancel kills the process. Wait then reports a *CommandFailed wrapping
// context.Canceled.
func (e *Execution) Cancel() { e.cancel() }

// Wait blocks until the process exits and returns its outcome.
// Safe to call more than once.
func (e *Execution) Wait() (Result, error) {
	<-e.done
	return e.result, e.err
}

func (r *Runner) launch(ctx context.Context, req Request, streaming bool) (*Execution, error) {
	if req.Path == "" {
		return nil, &SpawnError{Path: req.Path, Err: errors.New("executable path is required")}
	}

	dir := req.Dir
	if dir == "" {
		dir = r.WorkDir()
	}

	procCtx, cancel := context.WithCancel(ctx)
	procCtx, span := r.tracer.Start(procCtx, "runner.run",
		trace.WithAttributes(
			attribute.String("process.executable.path", req.Path),
			attribute.Int("process.args.count", len(req.Args)),
			attribute.String("process.working_directory", dir),
		))

	var cmd *exec.Cmd
	if r.commandFactory != nil {
		cmd = r.commandFactory(procCtx, req.Path, req.Args...)
	} else {
		// #nosec G204 -- running arbitrary commands is the purpose of this package
		cmd = exec.CommandContext(procCtx, req.Path, req.Args...)
	}
	cmd.Dir = dir
	cmd.WaitDelay = r.waitDelay
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(req.Env)...)
	}
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}

	e := &Execution{
		cmd:    cmd,
		path:   req.Path,
		ctx:    procCtx,
		cancel: cancel,
		span:   span,
		done:   make(chan struct{}),
	}
	if streaming {
		e.chunks = make(chan Chunk, 64)
	}
	e.stdout = &streamWriter{stream: Stdout, callback: req.OnStdout, chunks: e.chunks, ctx: procCtx}
	e.stderr = &streamWriter{stream: Stderr, callback: req.OnStderr, chunks: e.chunks, ctx: procCtx}
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr

	log.Debug(log.CatRunner, "Spawning process", "path", req.Path, "args", len(req.Args), "dir", dir)

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		span.End()
		cancel()
		log.ErrorErr(log.CatRunner, "Failed to spawn process", err, "path", req.Path)
		return nil, &SpawnError{Path: req.Path, Err: err}
	}

	span.SetAttributes(attribute.Int("process.pid", cmd.Process.Pid))
	log.Debug(log.CatRunner, "Process started", "path", req.Path, "pid", cmd.Process.Pid)

	go e.waitForCompletion()
	return e, nil
}

// waitForCompletion reaps the process. cmd.Wait returns only after the
// output writers have seen every byte, so closing chunks afterwards cannot
// race with a send.
func (e *Execution) waitForCompletion() {
	defer close(e.done)
	defer e.cancel()
	defer e.span.End()

	waitErr := e.cmd.Wait()
	if e.chunks != nil {
		close(e.chunks)
	}

	res := Result{
		Stdout:   e.stdout.String(),
		Stderr:   e.stderr.String(),
		ExitCode: e.cmd.ProcessState.ExitCode(),
	}
	e.result = res
	e.span.SetAttributes(attribute.Int("process.exit_code", res.ExitCode))

	switch {
	case waitErr == nil:
		log.Debug(log.CatRunner, "Process exited", "path", e.path, "code", 0)
		return
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The process itself exited cleanly; a descendant kept the pipes
		// open past the wait delay.
		log.Warn(log.CatRunner, "Output pipes held open after exit", "path", e.path)
		return
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		failed := &CommandFailed{Result: res, Err: e.ctx.Err()}
		if !exitErr.Exited() {
			failed.Signal = exitErr.String()
		}
		e.err = failed
		e.span.SetStatus(codes.Error, failed.Error())
		log.Debug(log.CatRunner, "Process failed", "path", e.path, "code", res.ExitCode, "signal", failed.Signal)
		return
	}

	e.err = fmt.Errorf("waiting for %s: %w", e.path, waitErr)
	e.span.RecordError(waitErr)
	e.span.SetStatus(codes.Error, "wait failed")
	log.ErrorErr(log.CatRunner, "Process wait failed", waitErr, "path", e.path)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}

// streamWriter receives one output stream from os/exec's copy goroutine,
// aggregates it and fans each chunk out.
type streamWriter struct {
	stream   Stream
	callback func([]byte)
	chunks   chan Chunk
	ctx      context.Context

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *streamWriter) Write(p []byte) (int, error) {
	chunk := bytes.Clone(p)

	w.mu.Lock()
	w.buf.Write(chunk)
	w.mu.Unlock()

	if w.callback != nil {
		w.callback(chunk)
	}
	if w.chunks != nil {
		select {
		case w.chunks <- Chunk{Stream: w.stream, Data: chunk}:
		case <-w.ctx.Done():
		}
	}
	return len(p), nil
}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
