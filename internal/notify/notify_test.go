package notify_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/codexgui/internal/notify"
	"github.com/zjrosen/codexgui/internal/pubsub"
	"github.com/zjrosen/codexgui/internal/settings"
	"github.com/zjrosen/codexgui/internal/watcher"
)

type collector struct {
	mu     sync.Mutex
	events []pubsub.Event[settings.Change]
}

func (c *collector) observe(e pubsub.Event[settings.Change]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []pubsub.Event[settings.Change] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pubsub.Event[settings.Change](nil), c.events...)
}

func TestBridge_SetReachesObserverBeforeReturn(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	c := &collector{}
	bridge.Subscribe(c.observe)

	store := settings.New(filepath.Join(t.TempDir(), "settings.json"), settings.WithPublisher(bridge))
	require.NoError(t, store.Load())
	require.NoError(t, store.Set("codex.sandbox", settings.String("read-only")))

	events := c.all()
	require.Len(t, events, 2)
	assert.Equal(t, pubsub.ReloadedEvent, events[0].Type)

	last := events[1]
	assert.Equal(t, pubsub.UpdatedEvent, last.Type)
	assert.Equal(t, "codex.sandbox", last.Payload.Key)
	assert.Equal(t, "read-only", last.Payload.Value.String())
	sandbox, ok := settings.Lookup(last.Payload.Tree, settings.SplitKey("codex.sandbox"))
	require.True(t, ok)
	assert.Equal(t, "read-only", sandbox.String())
}

func TestBridge_ObserversRunInOrder(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	var order []int
	bridge.Subscribe(func(pubsub.Event[settings.Change]) { order = append(order, 1) })
	bridge.Subscribe(func(pubsub.Event[settings.Change]) { order = append(order, 2) })
	bridge.Subscribe(func(pubsub.Event[settings.Change]) { order = append(order, 3) })

	bridge.Publish(pubsub.UpdatedEvent, settings.Change{Key: "theme"})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBridge_Unsubscribe(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	c := &collector{}
	unsubscribe := bridge.Subscribe(c.observe)
	require.Equal(t, 1, bridge.ObserverCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bridge.ObserverCount())

	bridge.Publish(pubsub.UpdatedEvent, settings.Change{Key: "theme"})
	assert.Empty(t, c.all())
}

func TestBridge_BrokerReceivesChanges(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := bridge.Broker().Subscribe(ctx)

	bridge.Publish(pubsub.ResetEvent, settings.Change{Key: "fontSize", Value: settings.Int(14)})

	select {
	case event := <-ch:
		assert.Equal(t, pubsub.ResetEvent, event.Type)
		assert.Equal(t, "fontSize", event.Payload.Key)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broker event")
	}
}

func TestBridge_WatchRepublishesExternalEdits(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	path := filepath.Join(t.TempDir(), "settings.json")
	store := settings.New(path, settings.WithPublisher(bridge))
	require.NoError(t, store.Load())

	c := &collector{}
	bridge.Subscribe(c.observe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bridge.Watch(ctx, store, watcher.Config{Path: path, DebounceDur: 20 * time.Millisecond}))

	require.NoError(t, os.WriteFile(path, []byte(`{"theme": "light"}`), 0o644))

	require.Eventually(t, func() bool {
		theme, _ := store.Get("theme")
		return theme.String() == "light"
	}, 2*time.Second, 10*time.Millisecond)

	events := c.all()
	require.NotEmpty(t, events)
	assert.Equal(t, pubsub.ReloadedEvent, events[len(events)-1].Type)
}

func TestBridge_WatchIgnoresOwnWrites(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	path := filepath.Join(t.TempDir(), "settings.json")
	store := settings.New(path, settings.WithPublisher(bridge))
	require.NoError(t, store.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bridge.Watch(ctx, store, watcher.Config{Path: path, DebounceDur: 20 * time.Millisecond}))

	c := &collector{}
	bridge.Subscribe(c.observe)
	require.NoError(t, store.Set("fontSize", settings.Int(16)))

	time.Sleep(150 * time.Millisecond)

	events := c.all()
	require.Len(t, events, 1, "own write must not come back as a reload")
	assert.Equal(t, pubsub.UpdatedEvent, events[0].Type)
}

func TestBridge_WatchMissingDirectory(t *testing.T) {
	bridge := notify.New()
	defer bridge.Close()

	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := settings.New(path)

	err := bridge.Watch(context.Background(), store, watcher.Config{Path: path, DebounceDur: time.Millisecond})
	require.Error(t, err)
}
