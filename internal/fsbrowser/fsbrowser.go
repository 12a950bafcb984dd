// Package fsbrowser lists directories and reads and writes files for the
// explorer and editor panes.
package fsbrowser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zjrosen/codexgui/internal/cachemanager"
	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/settings"
)

// Entry is one directory entry.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDirectory"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// Hidden reports whether the entry is a dotfile.
func (e Entry) Hidden() bool { return strings.HasPrefix(e.Name, ".") }

// Sort keys and orders, matching the fileExplorer.* settings.
const (
	SortByName     = "name"
	SortBySize     = "size"
	SortByModified = "modified"
	OrderAsc       = "asc"
	OrderDesc      = "desc"
)

// SortOptions controls listing order and filtering.
type SortOptions struct {
	By         string `json:"sortBy,omitempty"`
	Order      string `json:"sortOrder,omitempty"`
	ShowHidden bool   `json:"showHidden,omitempty"`
}

// SortOptionsFromSettings reads the fileExplorer.* settings.
func SortOptionsFromSettings(s settings.Reader) SortOptions {
	opts := SortOptions{By: SortByName, Order: OrderAsc}
	if v, ok := s.Get(settings.KeyExplorerSortBy); ok {
		if by, ok := v.AsString(); ok {
			opts.By = by
		}
	}
	if v, ok := s.Get(settings.KeyExplorerSortOrder); ok {
		if order, ok := v.AsString(); ok {
			opts.Order = order
		}
	}
	if v, ok := s.Get(settings.KeyExplorerShowHidden); ok {
		opts.ShowHidden, _ = v.AsBool()
	}
	return opts
}

// Browser reads the filesystem, caching raw directory listings briefly.
type Browser struct {
	listings *cachemanager.ReadThroughCache[string, []Entry, string]
	ttl      time.Duration
}

// Option configures a Browser.
type Option func(*browserConfig)

type browserConfig struct {
	ttl      time.Duration
	disabled bool
}

// WithTTL sets how long listings are cached.
func WithTTL(d time.Duration) Option {
	return func(c *browserConfig) { c.ttl = d }
}

// WithoutCache reads the directory on every call.
func WithoutCache() Option {
	return func(c *browserConfig) { c.disabled = true }
}

// New creates a browser.
func New(opts ...Option) *Browser {
	cfg := browserConfig{ttl: cachemanager.DefaultExpiration}
	for _, opt := range opts {
		opt(&cfg)
	}

	cache := cachemanager.NewInMemoryCacheManager[string, []Entry]("fs-listings", cfg.ttl, cachemanager.DefaultCleanupInterval)
	return &Browser{
		listings: cachemanager.NewReadThroughCache[string, []Entry, string](cache, readDir, cfg.disabled),
		ttl:      cfg.ttl,
	}
}

// ReadDir lists dir with folders first, then files, each group ordered by
// opts. Dotfiles are dropped unless opts.ShowHidden is set.
func (b *Browser) ReadDir(ctx context.Context, dir string, opts SortOptions) ([]Entry, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	raw, err := b.listings.Get(ctx, abs, abs, b.ttl)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if !opts.ShowHidden && e.Hidden() {
			continue
		}
		out = append(out, e)
	}
	SortEntries(out, opts)
	return out, nil
}

func readDir(_ context.Context, dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		e := Entry{Name: d.Name(), Path: filepath.Join(dir, d.Name()), IsDir: d.IsDir()}
		if info, err := d.Info(); err == nil {
			e.Size = info.Size()
			e.ModTime = info.ModTime()
		}
		entries = append(entries, e)
	}
	log.Debug(log.CatFS, "Read directory", "dir", dir, "entries", len(entries))
	return entries, nil
}

// SortEntries orders entries in place: directories first, then by opts.By
// in opts.Order. Ties fall back to the name so the order is stable.
func SortEntries(entries []Entry, opts SortOptions) {
	desc := opts.Order == OrderDesc
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}

		var cmp int
		switch opts.By {
		case SortBySize:
			cmp = compareInt64(a.Size, b.Size)
		case SortByModified:
			cmp = a.ModTime.Compare(b.ModTime)
		}
		if cmp == 0 {
			cmp = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ReadFile returns the file's contents as text.
func (b *Browser) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- reading user-chosen files is the point
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

// WriteFile replaces the file atomically, keeping its permissions when it
// already exists, and drops the cached listing of its directory.
func (b *Browser) WriteFile(ctx context.Context, path string, content string) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.WriteString(content); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	b.Invalidate(ctx, dir)
	log.Debug(log.CatFS, "Wrote file", "path", path, "bytes", len(content))
	return nil
}

// Invalidate drops cached listings for dir and everything below it.
func (b *Browser) Invalidate(ctx context.Context, dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	b.listings.Cache().DeletePrefix(ctx, abs)
}
