package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/zjrosen/codexgui/internal/bridge"
	"github.com/zjrosen/codexgui/internal/codex"
	"github.com/zjrosen/codexgui/internal/fsbrowser"
	"github.com/zjrosen/codexgui/internal/history"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/runner"
	"github.com/zjrosen/codexgui/internal/settings"
	"github.com/zjrosen/codexgui/internal/terminal"
)

// Notification methods pushed to UIs.
const (
	MethodSettingsChanged = "settings.changed"
	MethodCommandData     = "command.data"
	MethodTerminalOutput  = "terminal.output"
	MethodPTYData         = "pty.data"
	MethodPTYExit         = "pty.exit"
)

type keyParams struct {
	Key string `json:"key"`
}

type setParams struct {
	Key   string         `json:"key"`
	Value settings.Value `json:"value"`
}

type pathParams struct {
	Path string `json:"path"`
}

type writeParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type commandParams struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Input   string            `json:"input,omitempty"`
}

// CommandData is one streamed chunk of a command.run.
type CommandData struct {
	RunID  string        `json:"runId"`
	Stream runner.Stream `json:"stream"`
	Data   string        `json:"data"`
}

// CommandResult is the final reply to command.run.
type CommandResult struct {
	RunID    string `json:"runId"`
	ExitCode int    `json:"exitCode"`
	Success  bool   `json:"success"`
	Signal   string `json:"signal,omitempty"`
}

type codexParams struct {
	codex.Options
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty"`
}

type terminalParams struct {
	Line string `json:"line"`
}

// TerminalResult is the reply to terminal.exec.
type TerminalResult struct {
	ExitCode int    `json:"exitCode"`
	Cwd      string `json:"cwd"`
}

type editorParams struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Target  string `json:"target,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

type ptyParams struct {
	ID   string `json:"id,omitempty"`
	Data string `json:"data,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Cwd  string `json:"cwd,omitempty"`
}

type historyParams struct {
	Limit int `json:"limit"`
}

func required(name, value string) error {
	if value == "" {
		return bridge.InvalidParams(fmt.Errorf("%s is required", name))
	}
	return nil
}

func (a *App) registerHandlers(r *bridge.Registry) {
	a.registerSettings(r)
	a.registerFS(r)
	a.registerCommand(r)
	a.registerCodex(r)
	a.registerTerminal(r)
	a.registerEditor(r)
	a.registerPTY(r)
	a.registerHistory(r)
}

func (a *App) registerSettings(r *bridge.Registry) {
	r.Register("settings.get", bridge.Bind(func(_ context.Context, p keyParams) (any, error) {
		v, _ := a.Store.Get(p.Key)
		return v, nil
	}))
	r.Register("settings.getAll", bridge.Bind(func(context.Context, struct{}) (any, error) {
		return a.Store.All(), nil
	}))
	r.Register("settings.has", bridge.Bind(func(_ context.Context, p keyParams) (any, error) {
		return a.Store.Has(p.Key), nil
	}))
	r.Register("settings.set", bridge.Bind(func(_ context.Context, p setParams) (any, error) {
		if err := required("key", p.Key); err != nil {
			return nil, err
		}
		if err := a.Store.Set(p.Key, p.Value); err != nil {
			var invalid *settings.ValidationError
			if errors.As(err, &invalid) {
				return nil, bridge.InvalidParams(err)
			}
			return nil, err
		}
		return true, nil
	}))
	r.Register("settings.reset", bridge.Bind(func(_ context.Context, p keyParams) (any, error) {
		return a.Store.Reset(p.Key)
	}))
}

func (a *App) registerFS(r *bridge.Registry) {
	r.Register("fs.readDir", bridge.Bind(func(ctx context.Context, p pathParams) (any, error) {
		if err := required("path", p.Path); err != nil {
			return nil, err
		}
		return a.Files.ReadDir(ctx, p.Path, fsbrowser.SortOptionsFromSettings(a.Store))
	}))
	r.Register("fs.readFile", bridge.Bind(func(_ context.Context, p pathParams) (any, error) {
		if err := required("path", p.Path); err != nil {
			return nil, err
		}
		return a.Files.ReadFile(p.Path)
	}))
	r.Register("fs.writeFile", bridge.Bind(func(ctx context.Context, p writeParams) (any, error) {
		if err := required("path", p.Path); err != nil {
			return nil, err
		}
		if err := a.Files.WriteFile(ctx, p.Path, p.Content); err != nil {
			return nil, err
		}
		return true, nil
	}))
}

// registerCommand exposes command.run. With Args the command is executed
// directly, otherwise it is a shell line. Output streams to the caller as
// command.data notifications; a non-zero exit is a result, not an error.
func (a *App) registerCommand(r *bridge.Registry) {
	r.Register("command.run", bridge.Bind(func(ctx context.Context, p commandParams) (any, error) {
		if err := required("command", p.Command); err != nil {
			return nil, err
		}

		req := runner.Request{Path: p.Command, Args: p.Args}
		if len(p.Args) == 0 {
			req = a.Runner.ShellRequest(p.Command)
		}
		req.Dir = p.Cwd
		req.Env = p.Env
		req.Input = p.Input

		runID := uuid.NewString()
		notifier, _ := bridge.NotifierFrom(ctx)

		execution, err := a.Runner.Start(ctx, req)
		if err != nil {
			return nil, err
		}
		for chunk := range execution.Chunks() {
			if notifier == nil {
				continue
			}
			data := CommandData{RunID: runID, Stream: chunk.Stream, Data: string(chunk.Data)}
			if err := notifier.Notify(MethodCommandData, data); err != nil {
				log.Debug(log.CatBridge, "Dropped command output", "runId", runID, "error", err)
			}
		}

		_, err = execution.Wait()
		result := CommandResult{RunID: runID, Success: err == nil}
		var failed *runner.CommandFailed
		switch {
		case err == nil:
		case errors.As(err, &failed):
			result.ExitCode = failed.Code()
			result.Signal = failed.Signal
		default:
			return nil, err
		}
		return result, nil
	}))
}

func (a *App) codexOptions(p codexParams) codex.Options {
	opts := codex.DefaultOptions(a.Store)
	if p.Model != "" {
		opts.Model = p.Model
	}
	if p.Sandbox != "" {
		opts.Sandbox = p.Sandbox
	}
	if p.Approval != "" {
		opts.Approval = p.Approval
	}
	if p.WorkingDir != "" {
		opts.WorkingDir = p.WorkingDir
	}
	opts.FullAuto = opts.FullAuto || p.FullAuto
	return opts
}

func (a *App) registerCodex(r *bridge.Registry) {
	simple := map[string]func(context.Context, codex.Options) codex.Response{
		"codex.login":  a.Codex.Login,
		"codex.logout": a.Codex.Logout,
		"codex.status": a.Codex.Status,
		"codex.apply":  a.Codex.Apply,
	}
	for method, fn := range simple {
		r.Register(method, bridge.Bind(func(ctx context.Context, p codexParams) (any, error) {
			return fn(ctx, a.codexOptions(p)), nil
		}))
	}
	r.Register("codex.chat", bridge.Bind(func(ctx context.Context, p codexParams) (any, error) {
		if err := required("message", p.Message); err != nil {
			return nil, err
		}
		return a.Codex.Chat(ctx, p.Message, a.codexOptions(p)), nil
	}))
	r.Register("codex.exec", bridge.Bind(func(ctx context.Context, p codexParams) (any, error) {
		if err := required("command", p.Command); err != nil {
			return nil, err
		}
		return a.Codex.Exec(ctx, p.Command, a.codexOptions(p)), nil
	}))
	r.Register("codex.run", bridge.Bind(func(ctx context.Context, p codexParams) (any, error) {
		if err := required("command", p.Command); err != nil {
			return nil, err
		}
		return a.Codex.RunLine(ctx, p.Command, a.codexOptions(p)), nil
	}))
	r.Register("codex.getWorkingDirectory", bridge.Bind(func(context.Context, struct{}) (any, error) {
		return a.Codex.WorkDir(), nil
	}))
	r.Register("codex.setWorkingDirectory", bridge.Bind(func(_ context.Context, p pathParams) (any, error) {
		if err := required("path", p.Path); err != nil {
			return nil, err
		}
		dir, err := filepath.Abs(p.Path)
		if err != nil {
			return nil, bridge.InvalidParams(err)
		}
		a.Codex.SetWorkDir(dir)
		return dir, nil
	}))
}

func (a *App) registerTerminal(r *bridge.Registry) {
	r.Register("terminal.exec", bridge.Bind(func(ctx context.Context, p terminalParams) (any, error) {
		notifier, _ := bridge.NotifierFrom(ctx)
		emit := func(o terminal.Output) {
			if notifier == nil {
				return
			}
			if err := notifier.Notify(MethodTerminalOutput, o); err != nil {
				log.Debug(log.CatTerminal, "Dropped terminal output", "error", err)
			}
		}
		code := a.Terminal.Exec(ctx, p.Line, emit)
		return TerminalResult{ExitCode: code, Cwd: a.Terminal.Dir()}, nil
	}))
}

func (a *App) registerEditor(r *bridge.Registry) {
	r.Register("editor.open", bridge.Bind(func(_ context.Context, p editorParams) (any, error) {
		if err := required("path", p.Path); err != nil {
			return nil, err
		}
		return a.Editor.Open(p.Path)
	}))
	r.Register("editor.new", bridge.Bind(func(context.Context, struct{}) (any, error) {
		return a.Editor.New(), nil
	}))
	r.Register("editor.update", bridge.Bind(func(_ context.Context, p editorParams) (any, error) {
		return a.Editor.Update(p.Path, p.Content)
	}))
	r.Register("editor.save", bridge.Bind(func(ctx context.Context, p editorParams) (any, error) {
		if p.Target != "" {
			return a.Editor.SaveAs(ctx, p.Path, p.Target)
		}
		return a.Editor.Save(ctx, p.Path)
	}))
	r.Register("editor.close", bridge.Bind(func(_ context.Context, p editorParams) (any, error) {
		if err := a.Editor.Close(p.Path, p.Force); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Register("editor.setActive", bridge.Bind(func(_ context.Context, p editorParams) (any, error) {
		if err := a.Editor.SetActive(p.Path); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Register("editor.list", bridge.Bind(func(context.Context, struct{}) (any, error) {
		return a.Editor.Buffers(), nil
	}))
	r.Register("editor.diff", bridge.Bind(func(_ context.Context, p editorParams) (any, error) {
		patch, err := a.Editor.Diff(p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]string{"patch": patch}, nil
	}))
}

func (a *App) registerPTY(r *bridge.Registry) {
	r.Register("pty.start", bridge.Bind(func(ctx context.Context, p ptyParams) (any, error) {
		notifier, ok := bridge.NotifierFrom(ctx)
		if !ok {
			return nil, errors.New("pty.start needs a connected client")
		}
		shell := "/bin/sh"
		if v, ok := a.Store.Get(settings.KeyTerminalShell); ok {
			if s, ok := v.AsString(); ok && s != "" {
				shell = s
			}
		}
		dir := p.Cwd
		if dir == "" {
			dir = a.Terminal.Dir()
		}
		id, err := a.ptys.start(shell, dir, terminal.Size{Rows: p.Rows, Cols: p.Cols}, notifier)
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": id}, nil
	}))
	r.Register("pty.write", bridge.Bind(func(_ context.Context, p ptyParams) (any, error) {
		pt, err := a.ptys.get(p.ID)
		if err != nil {
			return nil, err
		}
		if _, err := pt.Write([]byte(p.Data)); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Register("pty.resize", bridge.Bind(func(_ context.Context, p ptyParams) (any, error) {
		pt, err := a.ptys.get(p.ID)
		if err != nil {
			return nil, err
		}
		if err := pt.Resize(terminal.Size{Rows: p.Rows, Cols: p.Cols}); err != nil {
			return nil, err
		}
		return true, nil
	}))
	r.Register("pty.close", bridge.Bind(func(_ context.Context, p ptyParams) (any, error) {
		return a.ptys.close(p.ID), nil
	}))
}

func (a *App) registerHistory(r *bridge.Registry) {
	r.Register("history.recent", bridge.Bind(func(ctx context.Context, p historyParams) (any, error) {
		if a.History == nil {
			return []history.Entry{}, nil
		}
		entries, err := a.History.Recent(ctx, p.Limit)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		return entries, nil
	}))
	r.Register("history.clear", bridge.Bind(func(ctx context.Context, _ struct{}) (any, error) {
		if a.History == nil {
			return true, nil
		}
		if err := a.History.Clear(ctx); err != nil {
			return nil, err
		}
		return true, nil
	}))
}
