package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/codexgui/internal/pubsub"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "settings.json"), opts...)
}

type recorder struct {
	mu     sync.Mutex
	events []pubsub.Event[Change]
}

func (r *recorder) Publish(et pubsub.EventType, c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pubsub.Event[Change]{Type: et, Payload: c})
}

func (r *recorder) last() pubsub.Event[Change] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func TestLoad_MissingFileWritesDefaults(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Load())

	_, err := os.Stat(s.Path())
	require.NoError(t, err, "defaults should be persisted")
	assert.True(t, s.All().Equal(Defaults()))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"theme": "dark"`)
	assert.Contains(t, string(data), `"fontSize": 14`)
}

func TestLoad_DefaultsForAbsentKeys(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	for _, e := range Flatten(Defaults()) {
		got, ok := s.Get(e.Key)
		require.True(t, ok, e.Key)
		assert.True(t, got.Equal(e.Value), "key %s: got %v want %v", e.Key, got, e.Value)
	}
}

func TestLoad_CorruptFileFallsBackWithoutOverwriting(t *testing.T) {
	s := newTestStore(t)
	bad := []byte(`{"theme": "light",`)
	require.NoError(t, os.WriteFile(s.Path(), bad, 0o644))

	err := s.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptConfig))

	theme, ok := s.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", theme.String())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, bad, data, "corrupt file must not be overwritten")
}

func TestLoad_NonMappingDocumentIsCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`[1, 2, 3]`), 0o644))

	assert.ErrorIs(t, s.Load(), ErrCorruptConfig)
}

func TestLoad_PartialNestedOverrideKeepsSiblingDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"codex": {"model": "gpt-4o"}, "custom": 7}`), 0o644))

	require.NoError(t, s.Load())

	model, _ := s.Get("codex.model")
	assert.Equal(t, "gpt-4o", model.String())

	sandbox, ok := s.Get("codex.sandbox")
	require.True(t, ok, "sibling default must survive a partial override")
	assert.Equal(t, "workspace-write", sandbox.String())

	custom, ok := s.Get("custom")
	require.True(t, ok, "unknown keys are preserved")
	n, _ := custom.AsInt()
	assert.Equal(t, 7, n)
}

func TestGet_NoKeyReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	tree, ok := s.Get("")
	require.True(t, ok)
	Assign(tree, []string{"theme"}, String("mutated"))

	theme, _ := s.Get("theme")
	assert.Equal(t, "dark", theme.String(), "callers must not mutate the store")
}

func TestGet_LazyLoads(t *testing.T) {
	s := newTestStore(t)

	size, ok := s.Get("fontSize")
	require.True(t, ok)
	n, _ := size.AsInt()
	assert.Equal(t, 14, n)
}

func TestGet_ThroughNonMappingIsAbsent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	_, ok := s.Get("theme.color")
	assert.False(t, ok)
	_, ok = s.Get("codex.nothing")
	assert.False(t, ok)
	assert.False(t, s.Has("theme.color"))
}

func TestSet_SiblingKeysUnaffected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	require.NoError(t, s.Set("codex.sandbox", String("read-only")))

	sandbox, _ := s.Get("codex.sandbox")
	assert.Equal(t, "read-only", sandbox.String())
	model, _ := s.Get("codex.model")
	assert.Equal(t, "o1-mini", model.String())
}

func TestSet_CreatesIntermediateMappings(t *testing.T) {
	s := newTestStore(t, WithDefaults(EmptyMapping()))
	require.NoError(t, s.Load())

	require.NoError(t, s.Set("a.b.c", Int(1)))

	assert.True(t, s.Has("a.b"))
	assert.True(t, s.Has("a.b.c"))
	_, ok := s.Get("a.b.d")
	assert.False(t, ok)

	c, _ := s.Get("a.b.c")
	n, _ := c.AsNumber()
	assert.Equal(t, 1.0, n)
}

func TestSet_PersistsBeforeReturning(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	require.NoError(t, s.Set("fontSize", Int(18)))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 18.0, doc["fontSize"])
}

func TestSet_RejectsInvalidValues(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())

	err := s.Set("codex.sandbox", String("yolo"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "codex.sandbox", verr.Key)

	err = s.Set("fontSize", String("big"))
	require.ErrorAs(t, err, &verr)

	sandbox, _ := s.Get("codex.sandbox")
	assert.Equal(t, "workspace-write", sandbox.String(), "rejected values never reach the tree")
}

func TestSet_PersistenceFailureKeepsMemoryState(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions differ on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	s := New(filepath.Join(dir, "settings.json"))
	require.NoError(t, s.Load())

	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err := s.Set("fontSize", Int(20))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)

	size, _ := s.Get("fontSize")
	n, _ := size.AsInt()
	assert.Equal(t, 20, n, "in-memory tree is updated optimistically")
}

func TestSet_PublishesChange(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, WithPublisher(rec))
	require.NoError(t, s.Load())

	require.NoError(t, s.Set("theme", String("light")))

	event := rec.last()
	assert.Equal(t, pubsub.UpdatedEvent, event.Type)
	assert.Equal(t, "theme", event.Payload.Key)
	assert.Equal(t, "light", event.Payload.Value.String())
	theme, _ := Lookup(event.Payload.Tree, []string{"theme"})
	assert.Equal(t, "light", theme.String())
}

func TestReset_Key(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())
	require.NoError(t, s.Set("fontSize", Int(22)))

	ok, err := s.Reset("fontSize")
	require.NoError(t, err)
	assert.True(t, ok)

	size, _ := s.Get("fontSize")
	n, _ := size.AsInt()
	assert.Equal(t, 14, n)
}

func TestReset_KeyWithoutDefaultIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())
	require.NoError(t, s.Set("custom.flag", Bool(true)))

	ok, err := s.Reset("custom.flag")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, s.Has("custom.flag"))
}

func TestReset_All(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, WithPublisher(rec))
	require.NoError(t, s.Load())
	require.NoError(t, s.Set("theme", String("light")))
	require.NoError(t, s.Set("custom.flag", Bool(true)))

	ok, err := s.Reset("")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.All().Equal(Defaults()))
	assert.Equal(t, pubsub.ResetEvent, rec.last().Type)
	assert.Empty(t, rec.last().Payload.Key)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, name := range []string{"settings.json", "settings.yaml", "settings.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s := New(path)
			require.NoError(t, s.Load())
			require.NoError(t, s.Set("codex.model", String("gpt-4o")))
			require.NoError(t, s.Set("editor.rulers", List(Int(80), Int(120))))
			require.NoError(t, s.Set("sidebarWidth", Number(312.5)))
			require.NoError(t, s.Save())
			before := s.All()

			fresh := New(path)
			require.NoError(t, fresh.Load())
			assert.True(t, fresh.All().Equal(before), "got %v want %v", fresh.All(), before)
		})
	}
}

func TestSaveLoad_RoundTripAfterSubtreeSet(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value Value
	}{
		{name: "empty subtree", key: "codex", value: EmptyMapping()},
		{name: "partial subtree", key: "codex", value: Mapping(map[string]Value{"model": String("gpt-4o")})},
		{name: "nested subtree", key: "terminal", value: Mapping(map[string]Value{"scrollback": Int(5000)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, s.Load())
			require.NoError(t, s.Set(tt.key, tt.value))
			require.NoError(t, s.Save())
			before := s.All()

			fresh := New(s.Path())
			require.NoError(t, fresh.Load())
			assert.True(t, fresh.All().Equal(before), "got %v want %v", fresh.All(), before)
		})
	}
}

func TestSet_SubtreeKeepsDefaultSiblings(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, WithPublisher(rec))
	require.NoError(t, s.Load())

	require.NoError(t, s.Set("codex", Mapping(map[string]Value{"model": String("gpt-4o")})))

	v, ok := s.Get("codex.model")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", v.String())
	v, ok = s.Get("codex.sandbox")
	require.True(t, ok)
	assert.Equal(t, "workspace-write", v.String())

	sandbox, ok := rec.last().Payload.Value.Field("sandbox")
	require.True(t, ok, "published value carries the merged subtree")
	assert.Equal(t, "workspace-write", sandbox.String())
}

func TestSet_ConcurrentPublishesInCommitOrder(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, WithPublisher(rec))
	require.NoError(t, s.Load())

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Set("fontSize", Int(10+i)))
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 41, "one load plus forty sets")
	assert.True(t, rec.events[len(rec.events)-1].Payload.Tree.Equal(s.All()),
		"the last delivered snapshot is the committed tree")
}

func TestReload_IgnoresOwnWrites(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, WithPublisher(rec))
	require.NoError(t, s.Load())
	require.NoError(t, s.Set("theme", String("light")))

	changed, err := s.Reload()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReload_PicksUpExternalEdit(t *testing.T) {
	rec := &recorder{}
	s := newTestStore(t, WithPublisher(rec))
	require.NoError(t, s.Load())

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"theme": "light"}`), 0o644))

	changed, err := s.Reload()
	require.NoError(t, err)
	assert.True(t, changed)

	theme, _ := s.Get("theme")
	assert.Equal(t, "light", theme.String())
	assert.Equal(t, pubsub.ReloadedEvent, rec.last().Type)
}

func TestReload_CorruptKeepsLastGoodTree(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Load())
	require.NoError(t, s.Set("theme", String("light")))

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{oops`), 0o644))

	changed, err := s.Reload()
	assert.ErrorIs(t, err, ErrCorruptConfig)
	assert.False(t, changed)

	theme, _ := s.Get("theme")
	assert.Equal(t, "light", theme.String())
}

func TestSet_ConcurrentWritesAreSerialized(t *testing.T) {
	s := newTestStore(t, WithDefaults(EmptyMapping()))
	require.NoError(t, s.Load())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set("counters.c"+string(rune('a'+i)), Int(i))
		}(i)
	}
	wg.Wait()

	counters, ok := s.Get("counters")
	require.True(t, ok)
	assert.Equal(t, 20, counters.Len(), "no update may be lost")

	fresh := New(s.Path(), WithDefaults(EmptyMapping()))
	require.NoError(t, fresh.Load())
	persisted, _ := fresh.Get("counters")
	assert.Equal(t, 20, persisted.Len())
}
