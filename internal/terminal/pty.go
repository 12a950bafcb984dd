package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/zjrosen/codexgui/internal/log"
)

// Size is a terminal size in character cells.
type Size struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// DefaultSize is used when StartPTY is given a zero size.
var DefaultSize = Size{Rows: 24, Cols: 80}

// PTY is an interactive shell attached to a pseudo-terminal.
type PTY struct {
	id   string
	cmd  *exec.Cmd
	file *os.File

	output  chan []byte
	done    chan struct{}
	closing chan struct{}

	closeOnce sync.Once
	exitCode  int
	waitErr   error
}

// StartPTY spawns shell in dir attached to a new pseudo-terminal.
// The output channel must be drained until Close.
func StartPTY(ctx context.Context, shell, dir string, size Size) (*PTY, error) {
	if size.Rows == 0 || size.Cols == 0 {
		size = DefaultSize
	}

	// #nosec G204 -- the shell comes from user settings
	cmd := exec.CommandContext(ctx, shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, fmt.Errorf("starting %s in pty: %w", shell, err)
	}

	p := &PTY{
		id:      uuid.NewString(),
		cmd:     cmd,
		file:    f,
		output:  make(chan []byte, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	log.Info(log.CatTerminal, "PTY started", "id", p.id, "shell", shell, "pid", cmd.Process.Pid)

	go p.readLoop()
	return p, nil
}

// ID identifies the session.
func (p *PTY) ID() string { return p.id }

// PID returns the shell's process ID.
func (p *PTY) PID() int { return p.cmd.Process.Pid }

// Output yields what the shell writes. It is closed when the shell exits.
func (p *PTY) Output() <-chan []byte { return p.output }

// Write sends input to the shell.
func (p *PTY) Write(data []byte) (int, error) {
	return p.file.Write(data)
}

// Resize changes the terminal size.
func (p *PTY) Resize(size Size) error {
	return pty.Setsize(p.file, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
}

// Size reports the current terminal size.
func (p *PTY) Size() (Size, error) {
	ws, err := pty.GetsizeFull(p.file)
	if err != nil {
		return Size{}, err
	}
	return Size{Rows: ws.Rows, Cols: ws.Cols}, nil
}

// Wait blocks until the shell exits and returns its exit code.
func (p *PTY) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Close kills the shell if it is still running and releases the terminal.
func (p *PTY) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		select {
		case <-p.done:
		default:
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
		}
		err = p.file.Close()
		<-p.done
	})
	return err
}

// readLoop copies pty output until the shell hangs up, then reaps it.
// Linux reports EIO rather than EOF once the slave side is closed.
func (p *PTY) readLoop() {
	defer close(p.done)

	buf := make([]byte, 4096)
	for {
		n, err := p.file.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.output <- chunk:
			case <-p.closing:
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				log.Debug(log.CatTerminal, "PTY read ended", "id", p.id, "error", err)
			}
			break
		}
	}
	close(p.output)

	err := p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	log.Info(log.CatTerminal, "PTY exited", "id", p.id, "code", p.exitCode)
}
