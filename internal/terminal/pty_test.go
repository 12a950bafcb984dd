package terminal

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPTY(t *testing.T) *PTY {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("pty requires unix")
	}
	p, err := StartPTY(context.Background(), "/bin/sh", t.TempDir(), Size{})
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// readUntil drains output until want appears or the deadline passes.
func readUntil(t *testing.T, p *PTY, want string) string {
	t.Helper()
	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-p.Output():
			if !ok {
				return got.String()
			}
			got.Write(chunk)
			if strings.Contains(got.String(), want) {
				return got.String()
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got %q", want, got.String())
		}
	}
}

func TestPTY_RunsShell(t *testing.T) {
	p := startPTY(t)
	assert.NotEmpty(t, p.ID())
	assert.Positive(t, p.PID())

	size, err := p.Size()
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, size)

	_, err = p.Write([]byte("echo pty-$((40+2))\n"))
	require.NoError(t, err)
	assert.Contains(t, readUntil(t, p, "pty-42"), "pty-42")

	_, err = p.Write([]byte("exit 3\n"))
	require.NoError(t, err)
	for range p.Output() {
	}

	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestPTY_Resize(t *testing.T) {
	p := startPTY(t)

	require.NoError(t, p.Resize(Size{Rows: 50, Cols: 132}))
	size, err := p.Size()
	require.NoError(t, err)
	assert.Equal(t, Size{Rows: 50, Cols: 132}, size)
}

func TestPTY_CloseKillsShell(t *testing.T) {
	p := startPTY(t)

	require.NoError(t, p.Close())
	_, err := p.Wait()
	require.NoError(t, err)
	require.NoError(t, p.Close(), "second close is a no-op")
}
