// Package app is the host process: it builds every component, wires change
// notifications to connected UIs and ties their lifecycle to Start/Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/codexgui/internal/bridge"
	"github.com/zjrosen/codexgui/internal/codex"
	"github.com/zjrosen/codexgui/internal/editor"
	"github.com/zjrosen/codexgui/internal/fsbrowser"
	"github.com/zjrosen/codexgui/internal/history"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/notify"
	"github.com/zjrosen/codexgui/internal/pubsub"
	"github.com/zjrosen/codexgui/internal/runner"
	"github.com/zjrosen/codexgui/internal/settings"
	"github.com/zjrosen/codexgui/internal/terminal"
	"github.com/zjrosen/codexgui/internal/tracing"
	"github.com/zjrosen/codexgui/internal/watcher"
)

// Config holds host options. These are not user settings.
type Config struct {
	SettingsPath string
	// HistoryPath is the command history database. Empty disables history.
	HistoryPath string
	ListenAddr  string
	Codex       codex.Config
	Tracing     tracing.Config
	// WatchDebounce coalesces settings file events. Zero uses the watcher default.
	WatchDebounce time.Duration
	// ListingTTL is how long directory listings are cached. Zero uses the default.
	ListingTTL time.Duration
}

// App owns the host components.
type App struct {
	cfg Config

	Store    *settings.Store
	Notify   *notify.Bridge
	Runner   *runner.Runner
	Codex    *codex.Client
	Files    *fsbrowser.Browser
	Editor   *editor.Workspace
	Terminal *terminal.Session
	History  *history.Store
	Server   *bridge.Server

	tracing *tracing.Provider
	ptys    *ptyRegistry

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New builds the host. It fails when the assistant binary has no variant
// for this platform, or when tracing or history cannot be set up.
func New(cfg Config) (*App, error) {
	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	n := notify.New()
	store := settings.New(cfg.SettingsPath, settings.WithPublisher(n))
	r := runner.New(runner.WithTracer(tp.Tracer()))

	client, err := codex.New(r, cfg.Codex)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			_ = tp.Shutdown(context.Background())
			return nil, fmt.Errorf("opening history: %w", err)
		}
	}

	var browserOpts []fsbrowser.Option
	if cfg.ListingTTL > 0 {
		browserOpts = append(browserOpts, fsbrowser.WithTTL(cfg.ListingTTL))
	}
	files := fsbrowser.New(browserOpts...)

	termOpts := []terminal.SessionOption{
		terminal.WithAssistant(client, func() codex.Options { return codex.DefaultOptions(store) }),
	}
	if hist != nil {
		termOpts = append(termOpts, terminal.WithHistory(hist))
	}

	a := &App{
		cfg:      cfg,
		Store:    store,
		Notify:   n,
		Runner:   r,
		Codex:    client,
		Files:    files,
		Editor:   editor.NewWorkspace(files),
		Terminal: terminal.NewSession(r, termOpts...),
		History:  hist,
		Server:   bridge.NewServer(cfg.ListenAddr, bridge.NewRegistry()),
		tracing:  tp,
		ptys:     newPTYRegistry(),
	}
	a.registerHandlers(a.Server.Registry())
	return a, nil
}

// Start loads settings, checks the assistant binary, begins watching the
// settings file and starts serving the bridge. A corrupt settings file or
// a broken assistant binary is logged and the host runs on.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Notify.Subscribe(a.onSettingsChange)

	if err := a.Store.Load(); err != nil {
		log.Warn(log.CatConfig, "Continuing with default settings", "error", err)
	}
	a.applySettings()

	if err := a.Codex.Initialize(ctx); err != nil {
		log.Warn(log.CatCodex, "Assistant unavailable", "error", err)
	}

	wcfg := watcher.DefaultConfig(a.Store.Path())
	if a.cfg.WatchDebounce > 0 {
		wcfg.DebounceDur = a.cfg.WatchDebounce
	}
	if err := a.Notify.Watch(ctx, a.Store, wcfg); err != nil {
		log.Warn(log.CatWatcher, "Settings file will not be watched", "error", err)
	}

	if err := a.Server.Start(); err != nil {
		cancel()
		return err
	}
	a.started = true
	log.Info(log.CatBridge, "Host started", "addr", a.Server.Addr(), "settings", a.Store.Path())
	return nil
}

// Close stops serving and releases every resource. Safe to call without Start.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()

	var errs []error
	if err := a.Server.Stop(); err != nil {
		errs = append(errs, err)
	}
	a.ptys.closeAll()
	a.Notify.Close()
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing history: %w", err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
	}
	return errors.Join(errs...)
}

// onSettingsChange keeps dependent components in step with the settings
// and forwards every change to connected UIs.
func (a *App) onSettingsChange(ev pubsub.Event[settings.Change]) {
	switch ev.Payload.Key {
	case "", settings.KeyTerminalShell, "terminal":
		a.applySettings()
	}
	a.Server.Broadcast(MethodSettingsChanged, ev.Payload)
}

func (a *App) applySettings() {
	if v, ok := a.Store.Get(settings.KeyTerminalShell); ok {
		if shell, ok := v.AsString(); ok {
			a.Runner.SetShell(shell)
		}
	}
}
