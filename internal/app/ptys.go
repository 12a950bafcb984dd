package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjrosen/codexgui/internal/bridge"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/terminal"
)

// PTYData is a chunk of pseudo-terminal output.
type PTYData struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// PTYExit reports that a pseudo-terminal's shell exited.
type PTYExit struct {
	ID       string `json:"id"`
	ExitCode int    `json:"exitCode"`
}

// ptyRegistry tracks live PTY sessions. Each session's output goes to the
// client that started it.
type ptyRegistry struct {
	mu       sync.Mutex
	sessions map[string]*terminal.PTY
}

func newPTYRegistry() *ptyRegistry {
	return &ptyRegistry{sessions: make(map[string]*terminal.PTY)}
}

// start spawns shell and forwards its output to n until it exits. The shell
// outlives the request that started it, so it gets its own context.
func (r *ptyRegistry) start(shell, dir string, size terminal.Size, n bridge.Notifier) (string, error) {
	p, err := terminal.StartPTY(context.Background(), shell, dir, size)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.sessions[p.ID()] = p
	r.mu.Unlock()

	go func() {
		for chunk := range p.Output() {
			if err := n.Notify(MethodPTYData, PTYData{ID: p.ID(), Data: string(chunk)}); err != nil {
				log.Debug(log.CatTerminal, "Dropped pty output", "id", p.ID(), "error", err)
			}
		}
		code, _ := p.Wait()
		_ = n.Notify(MethodPTYExit, PTYExit{ID: p.ID(), ExitCode: code})

		r.mu.Lock()
		delete(r.sessions, p.ID())
		r.mu.Unlock()
		_ = p.Close()
	}()
	return p.ID(), nil
}

func (r *ptyRegistry) get(id string) (*terminal.PTY, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sessions[id]
	if !ok {
		return nil, bridge.InvalidParams(fmt.Errorf("no pty session %q", id))
	}
	return p, nil
}

// close kills the session and reports whether it existed.
func (r *ptyRegistry) close(id string) bool {
	r.mu.Lock()
	p, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	_ = p.Close()
	return true
}

func (r *ptyRegistry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*terminal.PTY)
	r.mu.Unlock()
	for _, p := range sessions {
		_ = p.Close()
	}
}
