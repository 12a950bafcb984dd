// Package settings owns the user settings tree: defaults, dotted-key access,
// disk persistence and change notification.
package settings

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/pubsub"
)

// Change describes a mutation of the tree. Key is empty when the whole tree
// was replaced (load, reload, full reset); Tree always holds a snapshot of
// the full tree after the change.
type Change struct {
	Key   string `json:"key,omitempty"`
	Value Value  `json:"value"`
	Tree  Value  `json:"settings"`
}

// Reader is the read-only view of a Store that consumers depend on.
type Reader interface {
	Get(key string) (Value, bool)
}

// Option configures a Store.
type Option func(*Store)

// WithDefaults replaces the default document.
func WithDefaults(v Value) Option {
	return func(s *Store) {
		if v.IsMapping() {
			s.defaults = v.Clone()
		}
	}
}

// WithCodec overrides the codec chosen from the file extension.
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithPublisher sets where changes are published.
func WithPublisher(p pubsub.Publisher[Change]) Option {
	return func(s *Store) { s.publisher = p }
}

// Store holds the settings tree behind a single mutex so that no two
// mutations interleave their read-modify-persist sequence. Changes are
// published in commit order; observers must not mutate the store
// synchronously from their callback.
type Store struct {
	mu        sync.Mutex
	commits   uint64
	path      string
	codec     Codec
	defaults  Value
	tree      Value
	loaded    bool
	lastSaved [sha256.Size]byte
	publisher pubsub.Publisher[Change]

	pubMu     sync.Mutex
	pubTurn   *sync.Cond
	delivered uint64
}

// New creates a store persisted at path. Nothing is read until Load or the
// first accessor call.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:     path,
		codec:    CodecFor(path),
		defaults: Defaults(),
	}
	s.pubTurn = sync.NewCond(&s.pubMu)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Defaults returns a copy of the default document.
func (s *Store) Defaults() Value { return s.defaults.Clone() }

// Load reads the settings file.
//
// A missing file initializes the tree to the defaults and persists them.
// An unparseable file yields ErrCorruptConfig; the tree falls back to the
// defaults in memory and the file is left as-is for manual recovery.
// A parseable file is merged recursively over the defaults.
func (s *Store) Load() error {
	s.mu.Lock()
	err := s.loadLocked()
	snapshot := s.tree.Clone()
	s.publishUnlock(pubsub.ReloadedEvent, Change{Value: snapshot, Tree: snapshot})
	return err
}

func (s *Store) loadLocked() error {
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info(log.CatConfig, "No settings file, writing defaults", "path", s.path)
		s.tree = s.defaults.Clone()
		return s.persistLocked()
	}
	if err != nil {
		s.tree = s.defaults.Clone()
		log.ErrorErr(log.CatConfig, "Failed to read settings", err, "path", s.path)
		return fmt.Errorf("reading settings: %w", err)
	}

	parsed, err := s.codec.Unmarshal(data)
	if err != nil {
		s.tree = s.defaults.Clone()
		log.ErrorErr(log.CatConfig, "Settings file is corrupt, using defaults", err,
			"path", s.path, "codec", s.codec.Name())
		return fmt.Errorf("%w: %s: %w", ErrCorruptConfig, s.path, err)
	}

	s.tree = Merge(s.defaults, parsed)
	s.lastSaved = sha256.Sum256(data)
	log.Debug(log.CatConfig, "Loaded settings", "path", s.path, "keys", s.tree.Len())
	return nil
}

// Reload re-reads the file after an external change and reports whether the
// tree was replaced. Content identical to the store's own last write is
// ignored, as are a vanished or corrupt file: the last good tree is kept.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn(log.CatConfig, "Settings file disappeared, keeping current tree", "path", s.path)
			return false, nil
		}
		return false, fmt.Errorf("reading settings: %w", err)
	}
	if s.loaded && sha256.Sum256(data) == s.lastSaved {
		s.mu.Unlock()
		return false, nil
	}

	parsed, err := s.codec.Unmarshal(data)
	if err != nil {
		s.mu.Unlock()
		log.ErrorErr(log.CatConfig, "Ignoring corrupt settings on reload", err, "path", s.path)
		return false, fmt.Errorf("%w: %s: %w", ErrCorruptConfig, s.path, err)
	}

	s.tree = Merge(s.defaults, parsed)
	s.loaded = true
	s.lastSaved = sha256.Sum256(data)
	snapshot := s.tree.Clone()
	log.Info(log.CatConfig, "Reloaded settings after external change", "path", s.path)
	s.publishUnlock(pubsub.ReloadedEvent, Change{Value: snapshot, Tree: snapshot})
	return true, nil
}

func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	if err := s.loadLocked(); err != nil {
		// Lazy loads cannot surface errors; the tree already holds defaults.
		log.ErrorErr(log.CatConfig, "Lazy settings load failed", err, "path", s.path)
	}
}

// Get resolves a dotted key. The empty key returns a copy of the whole tree.
// Missing segments, or indexing through a non-mapping, report false.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	v, ok := Lookup(s.tree, SplitKey(key))
	if !ok {
		return Value{}, false
	}
	return v.Clone(), true
}

// All returns a copy of the whole tree.
func (s *Store) All() Value {
	v, _ := s.Get("")
	return v
}

// Has reports whether key resolves, using the same walk as Get.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	_, ok := Lookup(s.tree, SplitKey(key))
	return ok
}

// Set writes v at key, creating intermediate mappings, then persists and
// publishes the change. A mapping written over a default mapping is merged
// over that default, matching what a later Load produces. A persistence
// failure is returned as *PersistenceError; the in-memory tree keeps the new
// value regardless.
func (s *Store) Set(key string, v Value) error {
	if err := Validate(s.defaults, key, v); err != nil {
		return err
	}

	path := SplitKey(key)
	stored := v.Clone()
	if def, ok := Lookup(s.defaults, path); ok && def.IsMapping() && v.IsMapping() {
		stored = Merge(def, v)
	}

	s.mu.Lock()
	s.ensureLoadedLocked()
	Assign(s.tree, path, stored.Clone())
	err := s.persistLocked()
	snapshot := s.tree.Clone()

	log.Debug(log.CatConfig, "Set setting", "key", key, "value", stored)
	s.publishUnlock(pubsub.UpdatedEvent, Change{Key: key, Value: stored, Tree: snapshot})
	return err
}

// Reset restores defaults. With an empty key the whole tree is replaced by
// the default document. With a key only that leaf is restored; a key with no
// default is a no-op and returns false.
func (s *Store) Reset(key string) (bool, error) {
	s.mu.Lock()
	s.ensureLoadedLocked()

	var change Change
	if key == "" {
		s.tree = s.defaults.Clone()
		change = Change{Value: s.tree.Clone()}
	} else {
		def, ok := Lookup(s.defaults, SplitKey(key))
		if !ok {
			s.mu.Unlock()
			return false, nil
		}
		Assign(s.tree, SplitKey(key), def.Clone())
		change = Change{Key: key, Value: def.Clone()}
	}
	err := s.persistLocked()
	change.Tree = s.tree.Clone()

	log.Debug(log.CatConfig, "Reset setting", "key", key)
	s.publishUnlock(pubsub.ResetEvent, change)
	return true, err
}

// Save persists the current tree.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return s.persistLocked()
}

// persistLocked writes the tree atomically (temp file, then rename).
func (s *Store) persistLocked() error {
	data, err := s.codec.Marshal(s.tree)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: fmt.Errorf("encoding %s: %w", s.codec.Name(), err)}
	}

	if err := writeAtomic(s.path, data); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to persist settings", err, "path", s.path)
		return &PersistenceError{Path: s.path, Err: err}
	}
	s.lastSaved = sha256.Sum256(data)
	return nil
}

// publishUnlock takes a commit ticket, releases s.mu and publishes c once
// every earlier commit has been delivered.
func (s *Store) publishUnlock(t pubsub.EventType, c Change) {
	ticket := s.commits
	s.commits++
	s.mu.Unlock()

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	for s.delivered != ticket {
		s.pubTurn.Wait()
	}
	if s.publisher != nil {
		s.publisher.Publish(t, c)
	}
	s.delivered++
	s.pubTurn.Broadcast()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".settings.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
