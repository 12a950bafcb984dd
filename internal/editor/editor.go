// Package editor tracks open editor buffers (tabs), their unsaved edits and
// the active buffer.
package editor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/codexgui/internal/log"
)

// UntitledPrefix marks buffers that have never been saved.
const UntitledPrefix = "untitled:"

var (
	// ErrNotOpen is returned for operations on a buffer that is not open.
	ErrNotOpen = errors.New("buffer not open")
	// ErrUnsavedChanges is returned when closing a dirty buffer without force.
	ErrUnsavedChanges = errors.New("buffer has unsaved changes")
	// ErrUntitled is returned when saving an untitled buffer without a path.
	ErrUntitled = errors.New("untitled buffer needs a path")
)

// Files is the filesystem the workspace reads and writes through.
type Files interface {
	ReadFile(path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
}

// Buffer is a snapshot of one open buffer.
type Buffer struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
	Saved    string `json:"-"`
	Dirty    bool   `json:"dirty"`
}

// IsUntitled reports whether the buffer has never been saved.
func (b Buffer) IsUntitled() bool { return strings.HasPrefix(b.Path, UntitledPrefix) }

type buffer struct {
	path    string
	content string
	saved   string
}

func (b *buffer) snapshot() Buffer {
	name := filepath.Base(b.path)
	if strings.HasPrefix(b.path, UntitledPrefix) {
		name = strings.TrimPrefix(b.path, UntitledPrefix)
	}
	return Buffer{
		Path:     b.path,
		Name:     name,
		Language: LanguageFor(name),
		Content:  b.content,
		Saved:    b.saved,
		Dirty:    b.content != b.saved,
	}
}

// Workspace holds open buffers in tab order.
type Workspace struct {
	files Files

	mu       sync.Mutex
	buffers  map[string]*buffer
	order    []string
	active   string
	untitled int
}

// NewWorkspace creates an empty workspace over files.
func NewWorkspace(files Files) *Workspace {
	return &Workspace{
		files:   files,
		buffers: make(map[string]*buffer),
	}
}

// Open loads path into a new buffer, or activates it if already open.
func (w *Workspace) Open(path string) (Buffer, error) {
	w.mu.Lock()
	if b, ok := w.buffers[path]; ok {
		w.active = path
		snap := b.snapshot()
		w.mu.Unlock()
		return snap, nil
	}
	w.mu.Unlock()

	content, err := w.files.ReadFile(path)
	if err != nil {
		return Buffer{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// Another caller may have opened it while we were reading.
	if b, ok := w.buffers[path]; ok {
		w.active = path
		return b.snapshot(), nil
	}
	b := &buffer{path: path, content: content, saved: content}
	w.add(b)
	log.Debug(log.CatEditor, "Opened buffer", "path", path, "bytes", len(content))
	return b.snapshot(), nil
}

// New creates an empty untitled buffer and activates it.
func (w *Workspace) New() Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.untitled++
	b := &buffer{path: fmt.Sprintf("%sUntitled-%d", UntitledPrefix, w.untitled)}
	w.add(b)
	return b.snapshot()
}

func (w *Workspace) add(b *buffer) {
	w.buffers[b.path] = b
	w.order = append(w.order, b.path)
	w.active = b.path
}

// Update replaces the buffer's content. Nothing is written to disk.
func (w *Workspace) Update(path, content string) (Buffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.buffers[path]
	if !ok {
		return Buffer{}, fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	b.content = content
	return b.snapshot(), nil
}

// Save writes the buffer to its path. Untitled buffers need SaveAs.
func (w *Workspace) Save(ctx context.Context, path string) (Buffer, error) {
	w.mu.Lock()
	b, ok := w.buffers[path]
	if !ok {
		w.mu.Unlock()
		return Buffer{}, fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	if strings.HasPrefix(path, UntitledPrefix) {
		w.mu.Unlock()
		return Buffer{}, ErrUntitled
	}
	content := b.content
	w.mu.Unlock()

	if err := w.files.WriteFile(ctx, path, content); err != nil {
		return Buffer{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	b.saved = content
	log.Debug(log.CatEditor, "Saved buffer", "path", path)
	return b.snapshot(), nil
}

// SaveAs writes the buffer to target and re-keys it there. An existing
// buffer at target is replaced.
func (w *Workspace) SaveAs(ctx context.Context, path, target string) (Buffer, error) {
	w.mu.Lock()
	b, ok := w.buffers[path]
	if !ok {
		w.mu.Unlock()
		return Buffer{}, fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	content := b.content
	w.mu.Unlock()

	if err := w.files.WriteFile(ctx, target, content); err != nil {
		return Buffer{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if path != target {
		if _, exists := w.buffers[target]; exists {
			w.remove(target)
		}
		delete(w.buffers, path)
		for i, p := range w.order {
			if p == path {
				w.order[i] = target
			}
		}
		b.path = target
		w.buffers[target] = b
	}
	b.saved = content
	w.active = target
	log.Debug(log.CatEditor, "Saved buffer as", "from", path, "to", target)
	return b.snapshot(), nil
}

// Close drops the buffer. A dirty buffer is kept unless force is set.
// Closing the active buffer activates the first remaining one.
func (w *Workspace) Close(path string, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.buffers[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	if !force && b.content != b.saved {
		return fmt.Errorf("%w: %s", ErrUnsavedChanges, path)
	}
	w.remove(path)
	return nil
}

func (w *Workspace) remove(path string) {
	delete(w.buffers, path)
	for i, p := range w.order {
		if p == path {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if w.active == path {
		w.active = ""
		if len(w.order) > 0 {
			w.active = w.order[0]
		}
	}
}

// Buffers returns every open buffer in tab order.
func (w *Workspace) Buffers() []Buffer {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Buffer, 0, len(w.order))
	for _, p := range w.order {
		out = append(out, w.buffers[p].snapshot())
	}
	return out
}

// Active returns the active buffer, if any.
func (w *Workspace) Active() (Buffer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == "" {
		return Buffer{}, false
	}
	return w.buffers[w.active].snapshot(), true
}

// SetActive switches to an open buffer.
func (w *Workspace) SetActive(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.buffers[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	w.active = path
	return nil
}

// Dirty lists the paths of buffers with unsaved edits.
func (w *Workspace) Dirty() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for _, p := range w.order {
		if b := w.buffers[p]; b.content != b.saved {
			out = append(out, p)
		}
	}
	return out
}

// Diff returns the unsaved edits of path as a patch in diff-match-patch
// text form. Clean buffers yield an empty string.
func (w *Workspace) Diff(path string) (string, error) {
	w.mu.Lock()
	b, ok := w.buffers[path]
	if !ok {
		w.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	saved, content := b.saved, b.content
	w.mu.Unlock()

	return Patch(saved, content), nil
}

// Patch renders the change from before to after as patch text.
func Patch(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(before, after))
}

// ApplyPatch applies patch text to base. It fails if any hunk does not apply.
func ApplyPatch(base, patch string) (string, error) {
	if patch == "" {
		return base, nil
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patch)
	if err != nil {
		return "", fmt.Errorf("parsing patch: %w", err)
	}
	out, applied := dmp.PatchApply(patches, base)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("hunk %d did not apply", i+1)
		}
	}
	return out, nil
}

var languages = map[string]string{
	"js": "javascript", "ts": "typescript", "py": "python", "rs": "rust",
	"go": "go", "java": "java", "cpp": "cpp", "c": "c", "cs": "csharp",
	"php": "php", "rb": "ruby", "html": "html", "css": "css", "scss": "scss",
	"json": "json", "xml": "xml", "md": "markdown", "yml": "yaml",
	"yaml": "yaml", "toml": "toml", "sh": "shell",
}

// LanguageFor guesses the syntax language from a file name.
func LanguageFor(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return "plaintext"
}
