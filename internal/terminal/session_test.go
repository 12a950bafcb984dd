package terminal

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/codexgui/internal/codex"
	"github.com/zjrosen/codexgui/internal/history"
	"github.com/zjrosen/codexgui/internal/runner"
)

type recorder struct {
	mu  sync.Mutex
	out []Output
}

func (r *recorder) emit(o Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, o)
}

func (r *recorder) text(kind Kind) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, o := range r.out {
		if o.Kind == kind {
			b.WriteString(o.Text)
		}
	}
	return b.String()
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.out))
	for i, o := range r.out {
		out[i] = o.Kind
	}
	return out
}

type fakeAssistant struct {
	mu       sync.Mutex
	calls    []string
	opts     codex.Options
	response codex.Response
}

func (f *fakeAssistant) record(call string, opts codex.Options) codex.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.opts = opts
	return f.response
}

func (f *fakeAssistant) Login(_ context.Context, o codex.Options) codex.Response {
	return f.record("login", o)
}

func (f *fakeAssistant) Logout(_ context.Context, o codex.Options) codex.Response {
	return f.record("logout", o)
}

func (f *fakeAssistant) Status(_ context.Context, o codex.Options) codex.Response {
	return f.record("status", o)
}

func (f *fakeAssistant) Chat(_ context.Context, m string, o codex.Options) codex.Response {
	return f.record("chat "+m, o)
}

func (f *fakeAssistant) Exec(_ context.Context, m string, o codex.Options) codex.Response {
	return f.record("exec "+m, o)
}

func (f *fakeAssistant) Apply(_ context.Context, o codex.Options) codex.Response {
	return f.record("apply", o)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func newSession(t *testing.T, opts ...SessionOption) (*Session, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return NewSession(runner.New(runner.WithWorkDir(dir), runner.WithShell("/bin/sh")), opts...), dir
}

func TestExec_BlankLine(t *testing.T) {
	s, _ := newSession(t)
	rec := &recorder{}

	assert.Equal(t, 0, s.Exec(context.Background(), "   ", rec.emit))
	assert.Empty(t, rec.kinds())
}

func TestExec_Builtins(t *testing.T) {
	s, dir := newSession(t)
	ctx := context.Background()

	rec := &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, "pwd", rec.emit))
	assert.Equal(t, []Kind{KindCommand, KindOutput}, rec.kinds())
	assert.Equal(t, dir, rec.text(KindOutput))

	rec = &recorder{}
	s.Exec(ctx, "echo  hello   world", rec.emit)
	assert.Equal(t, "hello world", rec.text(KindOutput))

	rec = &recorder{}
	s.Exec(ctx, "clear", rec.emit)
	assert.Equal(t, []Kind{KindCommand, KindClear}, rec.kinds())

	rec = &recorder{}
	s.Exec(ctx, "HELP", rec.emit)
	assert.Contains(t, rec.text(KindOutput), "codex <cmd>")
}

func TestExec_Cd(t *testing.T) {
	s, dir := newSession(t)
	ctx := context.Background()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))

	rec := &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, "cd sub", rec.emit))
	assert.Equal(t, filepath.Join(dir, "sub"), s.Dir())

	assert.Equal(t, 0, s.Exec(ctx, "cd ..", rec.emit))
	assert.Equal(t, dir, s.Dir())

	rec = &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "cd file", rec.emit))
	assert.Contains(t, rec.text(KindError), "not a directory")

	rec = &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "cd missing", rec.emit))
	assert.Contains(t, rec.text(KindError), "no such directory")
	assert.Equal(t, dir, s.Dir())
}

func TestExec_CdQuotedDirectory(t *testing.T) {
	s, dir := newSession(t)
	ctx := context.Background()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "my dir"), 0o755))

	rec := &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, `cd "my dir"`, rec.emit))
	assert.Equal(t, filepath.Join(dir, "my dir"), s.Dir())
	assert.Empty(t, rec.text(KindError))

	assert.Equal(t, 0, s.Exec(ctx, "cd ..", rec.emit))
	assert.Equal(t, 0, s.Exec(ctx, `cd my\ dir`, rec.emit))
	assert.Equal(t, filepath.Join(dir, "my dir"), s.Dir())
}

func TestExec_UnterminatedQuote(t *testing.T) {
	s, dir := newSession(t)
	rec := &recorder{}

	assert.Equal(t, ExitUsage, s.Exec(context.Background(), `cd "my dir`, rec.emit))
	assert.Equal(t, []Kind{KindCommand, KindError}, rec.kinds())
	assert.True(t, strings.HasPrefix(rec.text(KindError), "cd: "), rec.text(KindError))
	assert.Equal(t, dir, s.Dir())
}

func TestExec_ShellCommand(t *testing.T) {
	skipOnWindows(t)
	s, dir := newSession(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	ctx := context.Background()

	s.Exec(ctx, "cd sub", (&recorder{}).emit)

	rec := &recorder{}
	code := s.Exec(ctx, "pwd -P; echo oops >&2", rec.emit)

	assert.Equal(t, 0, code)
	assert.Equal(t, filepath.Join(dir, "sub")+"\n", rec.text(KindOutput), "shell runs in the session directory")
	assert.Equal(t, "oops\n", rec.text(KindError))
}

func TestExec_ShellExitCode(t *testing.T) {
	skipOnWindows(t)
	s, _ := newSession(t)

	assert.Equal(t, 4, s.Exec(context.Background(), "exit 4", (&recorder{}).emit))
}

func TestExec_ShellSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(runner.New(runner.WithWorkDir(dir), runner.WithShell(filepath.Join(dir, "no-shell"))))
	rec := &recorder{}

	assert.Equal(t, ExitNotFound, s.Exec(context.Background(), "ls", rec.emit))
	assert.Contains(t, rec.text(KindError), "failed to spawn process")
}

func TestExec_CodexForwarding(t *testing.T) {
	fake := &fakeAssistant{response: codex.Response{Success: true, Output: "done"}}
	s, _ := newSession(t, WithAssistant(fake, func() codex.Options {
		return codex.Options{Model: "gpt-4o"}
	}))
	ctx := context.Background()

	tests := []struct {
		line string
		call string
		want string
	}{
		{"codex login", "login", "Successfully logged in to Codex"},
		{"codex logout", "logout", "Successfully logged out of Codex"},
		{"codex status", "status", "Codex status: Logged in"},
		{"codex apply", "apply", "Diff applied successfully"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			rec := &recorder{}
			assert.Equal(t, 0, s.Exec(ctx, tt.line, rec.emit))
			assert.Equal(t, tt.want, rec.text(KindSuccess))
			assert.Equal(t, tt.call, fake.calls[len(fake.calls)-1])
			assert.Equal(t, "gpt-4o", fake.opts.Model)
		})
	}

	rec := &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, "codex chat explain   this file", rec.emit))
	assert.Equal(t, "chat explain this file", fake.calls[len(fake.calls)-1])
	assert.Equal(t, "done", rec.text(KindOutput))

	rec = &recorder{}
	s.Exec(ctx, "codex exec add tests", rec.emit)
	assert.Equal(t, "exec add tests", fake.calls[len(fake.calls)-1])

	rec = &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, `codex chat "keep   this spacing" 'and $THIS'`, rec.emit))
	assert.Equal(t, "chat keep   this spacing and $THIS", fake.calls[len(fake.calls)-1])
}

func TestExec_CodexFailures(t *testing.T) {
	fake := &fakeAssistant{response: codex.Response{Success: false, Error: "not logged in"}}
	s, _ := newSession(t, WithAssistant(fake, nil))
	ctx := context.Background()

	rec := &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "codex login", rec.emit))
	assert.Equal(t, "Login failed: not logged in", rec.text(KindError))

	rec = &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "codex chat hi", rec.emit))
	assert.Equal(t, "Chat failed: not logged in", rec.text(KindError))

	rec = &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "codex exec add tests", rec.emit))
	assert.Equal(t, "Exec failed: not logged in", rec.text(KindError))

	rec = &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "codex status", rec.emit))
	assert.Equal(t, "Codex status: Not logged in", rec.text(KindError))

	rec = &recorder{}
	assert.Equal(t, 1, s.Exec(ctx, "codex frobnicate", rec.emit))
	assert.Equal(t, "Unknown codex subcommand: frobnicate", rec.text(KindError))

	rec = &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, "codex chat", rec.emit))
	assert.Equal(t, "Usage: codex chat <message>", rec.text(KindInfo))

	rec = &recorder{}
	assert.Equal(t, 0, s.Exec(ctx, "codex", rec.emit))
	assert.Contains(t, rec.text(KindInfo), "Usage: codex")
	assert.Len(t, fake.calls, 4)
}

func TestExec_RecordsHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	s, dir := newSession(t, WithHistory(store))
	ctx := context.Background()

	s.Exec(ctx, "echo one", (&recorder{}).emit)
	s.Exec(ctx, "cd nowhere", (&recorder{}).emit)

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "echo one", entries[0].Command)
	assert.Equal(t, dir, entries[0].Dir)
	assert.Equal(t, 1, entries[1].ExitCode)

	rec := &recorder{}
	s.Exec(ctx, "history", rec.emit)
	out := rec.text(KindOutput)
	assert.Contains(t, out, "echo one")
	assert.Contains(t, out, "cd nowhere")
}

func TestExec_HistoryDisabled(t *testing.T) {
	s, _ := newSession(t)
	rec := &recorder{}

	s.Exec(context.Background(), "history", rec.emit)
	assert.Equal(t, "History is not enabled", rec.text(KindInfo))
}
