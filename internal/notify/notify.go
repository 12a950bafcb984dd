// Package notify is the process-wide publish point for settings changes.
// Store mutations and external file edits both flow through a Bridge to
// registered observers and to channel subscribers.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/codexgui/internal/log"
	"github.com/zjrosen/codexgui/internal/pubsub"
	"github.com/zjrosen/codexgui/internal/settings"
	"github.com/zjrosen/codexgui/internal/watcher"
)

// Observer receives every change. For a single-key mutation the payload
// carries the key and its new value; for loads, reloads and full resets the
// key is empty. Tree always holds the full tree after the change.
//
// Observers run synchronously on the publishing goroutine, after the store
// has released its lock. They must not block for long.
type Observer func(pubsub.Event[settings.Change])

// Reloader re-reads persisted settings after an external edit.
type Reloader interface {
	Reload() (bool, error)
}

// Bridge fans changes out to observers and a channel broker.
// It implements pubsub.Publisher[settings.Change], so it can be handed to
// settings.WithPublisher.
type Bridge struct {
	mu        sync.RWMutex
	observers map[uint64]Observer
	nextID    uint64
	broker    *pubsub.Broker[settings.Change]
}

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{
		observers: make(map[uint64]Observer),
		broker:    pubsub.NewBroker[settings.Change](),
	}
}

// Subscribe registers fn and returns a function that removes it.
// Observers are called in registration order.
func (b *Bridge) Subscribe(fn Observer) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Broker exposes the channel side of the bridge for consumers that prefer
// a subscription (Bubble Tea listeners, websocket broadcasters).
func (b *Bridge) Broker() *pubsub.Broker[settings.Change] {
	return b.broker
}

// Publish delivers the change to every observer, then to the broker.
func (b *Bridge) Publish(eventType pubsub.EventType, change settings.Change) {
	event := pubsub.Event[settings.Change]{
		Type:      eventType,
		Payload:   change,
		Timestamp: time.Now(),
	}

	for _, fn := range b.snapshot() {
		fn(event)
	}
	b.broker.Publish(eventType, change)
}

func (b *Bridge) snapshot() []Observer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]uint64, 0, len(b.observers))
	for id := range b.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = b.observers[id]
	}
	return out
}

// ObserverCount returns the number of registered observers.
func (b *Bridge) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Watch reloads store whenever the file at path changes on disk, until ctx
// is cancelled. The store republishes through its own publisher, so
// observers see external edits as ReloadedEvent changes. The store ignores
// writes it made itself, which keeps Set from echoing back as a reload.
func (b *Bridge) Watch(ctx context.Context, store Reloader, cfg watcher.Config) error {
	w, err := watcher.New(cfg)
	if err != nil {
		return err
	}
	onChange, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return fmt.Errorf("watching settings: %w", err)
	}

	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-onChange:
				changed, err := store.Reload()
				if err != nil {
					log.ErrorErr(log.CatWatcher, "Reload after external change failed", err, "path", cfg.Path)
					continue
				}
				if changed {
					log.Debug(log.CatWatcher, "Settings reloaded from disk", "path", cfg.Path)
				}
			}
		}
	}()
	return nil
}

// Close shuts down the broker. Observers stay registered but receive
// nothing further through channels.
func (b *Bridge) Close() {
	b.broker.Close()
}
