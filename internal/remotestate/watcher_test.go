package remotestate_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"rchub/internal/events"
	"rchub/internal/logging"
	"rchub/internal/rc"
	"rchub/internal/remotestate"
	"rchub/internal/testsupport"
)

type staticProvider struct {
	client *rc.Client
	name   string
}

func (p *staticProvider) ActiveClient() *rc.Client { return p.client }
func (p *staticProvider) ActiveName() string       { return p.name }

func drainEvents(ch <-chan events.Event) int {
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			return count
		}
	}
}

func TestMountWatcherEmitsOnceOnChange(t *testing.T) {
	fake := testsupport.NewFakeDaemon(t)
	fake.SetMounts([]map[string]string{
		{"Fs": "gdrive:music", "MountPoint": "/mnt/music"},
	})

	cache := remotestate.NewCache()
	bus := events.NewBus(logging.NewNop())
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	provider := &staticProvider{client: rc.New(fake.Addr()), name: "Local"}
	watcher := remotestate.NewMountWatcher(cache, provider, bus, 10*time.Millisecond, logging.NewNop())

	ctx := context.Background()
	watcher.ForceCheck(ctx)
	if got := drainEvents(ch); got != 1 {
		t.Fatalf("expected one change event, got %d", got)
	}

	// Identical state: no event.
	watcher.ForceCheck(ctx)
	if got := drainEvents(ch); got != 0 {
		t.Fatalf("expected no event for identical state, got %d", got)
	}

	fake.SetMounts(nil)
	watcher.ForceCheck(ctx)
	if got := drainEvents(ch); got != 1 {
		t.Fatalf("expected one event after unmount, got %d", got)
	}
	if len(cache.Mounts()) != 0 {
		t.Fatalf("cache not emptied: %+v", cache.Mounts())
	}
}

func TestWatcherSkipsTickOnFetchFailure(t *testing.T) {
	fake := testsupport.NewFakeDaemon(t)
	fake.SetMounts([]map[string]string{
		{"Fs": "gdrive:music", "MountPoint": "/mnt/music"},
	})

	cache := remotestate.NewCache()
	bus := events.NewBus(logging.NewNop())
	provider := &staticProvider{client: rc.New(fake.Addr()), name: "Local"}
	watcher := remotestate.NewMountWatcher(cache, provider, bus, 10*time.Millisecond, logging.NewNop())

	ctx := context.Background()
	watcher.ForceCheck(ctx)
	if len(cache.Mounts()) != 1 {
		t.Fatal("initial reconciliation failed")
	}

	// Failure must leave the last good state untouched.
	fake.FailPath("mount/listmounts", http.StatusServiceUnavailable)
	watcher.ForceCheck(ctx)
	if len(cache.Mounts()) != 1 {
		t.Fatalf("fetch failure clobbered cache: %+v", cache.Mounts())
	}
}

func TestWatcherStartIsIdempotentAndStopIsCooperative(t *testing.T) {
	fake := testsupport.NewFakeDaemon(t)
	cache := remotestate.NewCache()
	bus := events.NewBus(logging.NewNop())
	provider := &staticProvider{client: rc.New(fake.Addr()), name: "Local"}
	watcher := remotestate.NewServeWatcher(cache, provider, bus, 10*time.Millisecond, logging.NewNop())

	ctx := context.Background()
	if !watcher.Start(ctx) {
		t.Fatal("first start should succeed")
	}
	if watcher.Start(ctx) {
		t.Fatal("second start should be a no-op")
	}
	if !watcher.Running() {
		t.Fatal("watcher should report running")
	}

	watcher.Stop()
	if watcher.Running() {
		t.Fatal("watcher should report stopped")
	}
	// Stopping twice must not panic or block.
	watcher.Stop()

	if !watcher.Start(ctx) {
		t.Fatal("watcher should restart after stop")
	}
	watcher.Stop()
}

func TestServeWatcherTracksServeChanges(t *testing.T) {
	fake := testsupport.NewFakeDaemon(t)
	fake.SetServes([]map[string]any{
		{"id": "http-1", "addr": "127.0.0.1:8080", "params": map[string]any{"fs": "gdrive:"}},
	})

	cache := remotestate.NewCache()
	cache.SetServeProfile("http-1", "media")
	bus := events.NewBus(logging.NewNop())
	ch, cancel := bus.Subscribe(8)
	defer cancel()

	provider := &staticProvider{client: rc.New(fake.Addr()), name: "nas"}
	watcher := remotestate.NewServeWatcher(cache, provider, bus, 10*time.Millisecond, logging.NewNop())

	watcher.ForceCheck(context.Background())
	if got := drainEvents(ch); got != 1 {
		t.Fatalf("expected one serve event, got %d", got)
	}
	serves := cache.Serves()
	if len(serves) != 1 || serves[0].Profile != "media" {
		t.Fatalf("serve profile not merged: %+v", serves)
	}
}
