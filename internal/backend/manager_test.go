package backend

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rchub/internal/events"
	"rchub/internal/jobs"
	"rchub/internal/logging"
	"rchub/internal/rc"
	"rchub/internal/remotestate"
	"rchub/internal/scheduler"
	"rchub/internal/testsupport"
)

type fakeEngine struct {
	client *rc.Client
}

func (e *fakeEngine) Client() *rc.Client { return e.client }

func (e *fakeEngine) Addr() string { return e.client.Addr() }

type fakeStarter struct {
	calls int
}

func (s *fakeStarter) Start(context.Context) error {
	s.calls++
	return nil
}

type fixture struct {
	manager *Manager
	jobs    *jobs.Cache
	remote  *remotestate.Cache
	tasks   *scheduler.TaskCache
	events  <-chan events.Event
}

func newFixture(t *testing.T, localAddr string) *fixture {
	t.Helper()
	bus := events.NewBus(logging.NewNop())
	ch, cancel := bus.Subscribe(32)
	t.Cleanup(cancel)

	f := &fixture{
		jobs:   jobs.NewCache(),
		remote: remotestate.NewCache(),
		tasks:  scheduler.NewTaskCache(),
		events: ch,
	}
	f.manager = NewManager(&fakeEngine{client: rc.New(localAddr)}, f.jobs, f.remote, f.tasks, bus, logging.NewNop())
	return f
}

func TestLocalBackendIsSeeded(t *testing.T) {
	f := newFixture(t, "127.0.0.1:51900")
	backends := f.manager.List()
	if len(backends) != 1 || backends[0].Name != LocalName || !backends[0].IsLocal {
		t.Fatalf("unexpected registry: %+v", backends)
	}
	if backends[0].Port != 51900 {
		t.Fatalf("port = %d, want 51900", backends[0].Port)
	}
	if f.manager.ActiveName() != LocalName {
		t.Fatalf("active = %s", f.manager.ActiveName())
	}
}

func TestAddRejectsReservedAndDuplicateNames(t *testing.T) {
	f := newFixture(t, "127.0.0.1:51900")
	if err := f.manager.Add(Backend{Name: LocalName, Host: "h", Port: 1}); err == nil {
		t.Fatal("reserved name accepted")
	}
	if err := f.manager.Add(Backend{Name: "nas", Host: "", Port: 0}); err == nil {
		t.Fatal("missing host/port accepted")
	}
	if err := f.manager.Add(Backend{Name: "nas", Host: "10.0.0.5", Port: 5572}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.manager.Add(Backend{Name: "nas", Host: "10.0.0.6", Port: 5572}); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestUpdateReplacesConnectionDetails(t *testing.T) {
	f := newFixture(t, "127.0.0.1:51900")
	if err := f.manager.Update(Backend{Name: LocalName, Host: "h", Port: 1}); err == nil {
		t.Fatal("local backend updated")
	}
	if err := f.manager.Update(Backend{Name: "nas", Host: "10.0.0.5", Port: 5572}); err == nil {
		t.Fatal("unknown backend updated")
	}
	if err := f.manager.Add(Backend{Name: "nas", Host: "10.0.0.5", Port: 5572}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.manager.SetStatus("nas", StatusConnected)
	if err := f.manager.Update(Backend{Name: "nas", Host: "10.0.0.6", Port: 5573}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	b, ok := f.manager.Get("nas")
	if !ok {
		t.Fatal("backend missing after update")
	}
	if b.Host != "10.0.0.6" || b.Port != 5573 {
		t.Fatalf("unexpected endpoint: %s:%d", b.Host, b.Port)
	}
	if b.Runtime.Status != StatusDisconnected {
		t.Fatalf("runtime status = %q, want reset", b.Runtime.Status)
	}
	if err := f.manager.Update(Backend{Name: "nas", Host: "", Port: 0}); err == nil {
		t.Fatal("missing host/port accepted")
	}
}

func TestRemoveRules(t *testing.T) {
	f := newFixture(t, "127.0.0.1:51900")
	if err := f.manager.Remove(LocalName); err == nil {
		t.Fatal("local backend removed")
	}
	if err := f.manager.Add(Backend{Name: "nas", Host: "10.0.0.5", Port: 5572}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.manager.Switch("nas"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if err := f.manager.Remove("nas"); err == nil {
		t.Fatal("active backend removed")
	}
	if err := f.manager.Switch(LocalName); err != nil {
		t.Fatalf("Switch back: %v", err)
	}
	if err := f.manager.Remove("nas"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.manager.Remove("nas"); err == nil {
		t.Fatal("second remove should fail")
	}
}

func TestSwitchParksAndRestoresState(t *testing.T) {
	f := newFixture(t, "127.0.0.1:51900")
	if err := f.manager.Add(Backend{Name: "nas", Host: "10.0.0.5", Port: 5572}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.jobs.Put(jobs.Job{ID: 7, Remote: "gdrive", Kind: "sync", Status: jobs.StatusRunning})
	f.remote.SetRemotes([]string{"gdrive"}, map[string]json.RawMessage{"gdrive": json.RawMessage(`{"type":"drive"}`)})
	f.tasks.Put(scheduler.ScheduledTask{ID: "gdrive-sync", Remote: "gdrive", Type: scheduler.TypeSync, Status: scheduler.TaskEnabled})

	if err := f.manager.Switch("nas"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if len(f.jobs.List()) != 0 || len(f.remote.Remotes()) != 0 || len(f.tasks.List()) != 0 {
		t.Fatal("caches should be empty after switching to a fresh backend")
	}
	parked, ok := f.manager.ParkedState(LocalName)
	if !ok || len(parked.Jobs) != 1 || len(parked.Tasks) != 1 {
		t.Fatalf("parked state incomplete: %+v", parked)
	}

	// The remote backend accumulates its own view.
	f.jobs.Put(jobs.Job{ID: 3, Remote: "s3", Kind: "copy", Status: jobs.StatusRunning})

	if err := f.manager.Switch(LocalName); err != nil {
		t.Fatalf("Switch back: %v", err)
	}
	if job, ok := f.jobs.Get(7); !ok || job.Remote != "gdrive" {
		t.Fatalf("local job not restored: %+v", f.jobs.List())
	}
	if remotes := f.remote.Remotes(); len(remotes) != 1 || remotes[0] != "gdrive" {
		t.Fatalf("remote state not restored: %v", remotes)
	}
	if task, ok := f.tasks.Get("gdrive-sync"); !ok || task.Status != scheduler.TaskEnabled {
		t.Fatalf("tasks not restored: %+v", f.tasks.List())
	}
	if parked, ok := f.manager.ParkedState("nas"); !ok || len(parked.Jobs) != 1 {
		t.Fatalf("nas state not parked: %+v", parked)
	}
}

func TestSwitchToUnknownBackendFails(t *testing.T) {
	f := newFixture(t, "127.0.0.1:51900")
	if err := f.manager.Switch("ghost"); err == nil {
		t.Fatal("switch to unknown backend succeeded")
	}
}

func TestFallbackToLocalWhenRemoteUnreachable(t *testing.T) {
	daemon := testsupport.NewFakeDaemon(t)
	f := newFixture(t, daemon.Addr())

	// Port 1 on localhost refuses connections immediately.
	if err := f.manager.Add(Backend{Name: "nas", Host: "127.0.0.1", Port: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.manager.Switch("nas"); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	starter := &fakeStarter{}
	err := f.manager.EnsureConnectivityOrFallback(context.Background(), starter, 0)
	if err == nil {
		t.Fatal("expected fallback error")
	}
	if f.manager.ActiveName() != LocalName {
		t.Fatalf("active = %s, want %s", f.manager.ActiveName(), LocalName)
	}
	if starter.calls != 1 {
		t.Fatalf("engine starter calls = %d, want 1", starter.calls)
	}
	nas, _ := f.manager.Get("nas")
	if nas.Runtime.Status == StatusConnected || nas.Runtime.Status == StatusDisconnected {
		t.Fatalf("nas status = %q, want error detail", nas.Runtime.Status)
	}
	waitForEvent(t, f.events, events.BackendFallback)
}

func TestLocalProbeFailureReportsDisconnected(t *testing.T) {
	// Port 1 on localhost refuses connections immediately.
	f := newFixture(t, "127.0.0.1:1")

	starter := &fakeStarter{}
	if err := f.manager.EnsureConnectivityOrFallback(context.Background(), starter, 0); err != nil {
		t.Fatalf("EnsureConnectivityOrFallback: %v", err)
	}
	if f.manager.ActiveName() != LocalName {
		t.Fatalf("active = %s, want %s", f.manager.ActiveName(), LocalName)
	}
	if got := f.manager.Active().Runtime.Status; got != StatusDisconnected {
		t.Fatalf("status = %q, want %q", got, StatusDisconnected)
	}
	if starter.calls != 0 {
		t.Fatalf("engine starter calls = %d, want 0", starter.calls)
	}
}

func TestConnectivityOnHealthyLocal(t *testing.T) {
	daemon := testsupport.NewFakeDaemon(t)
	f := newFixture(t, daemon.Addr())

	if err := f.manager.EnsureConnectivityOrFallback(context.Background(), &fakeStarter{}, time.Second); err != nil {
		t.Fatalf("EnsureConnectivityOrFallback: %v", err)
	}
	if got := f.manager.Active().Runtime.Status; got != StatusConnected {
		t.Fatalf("status = %q, want connected", got)
	}
}

func TestRefreshActivePopulatesCaches(t *testing.T) {
	daemon := testsupport.NewFakeDaemon(t)
	daemon.SetRemotes([]string{"gdrive", "s3"}, map[string]json.RawMessage{
		"gdrive": json.RawMessage(`{"type":"drive"}`),
		"s3":     json.RawMessage(`{"type":"s3"}`),
	})
	daemon.SetMounts([]map[string]string{{"Fs": "gdrive:", "MountPoint": "/mnt/gdrive"}})
	daemon.SetServes([]map[string]any{{"id": "webdav-1", "addr": "127.0.0.1:8080"}})

	f := newFixture(t, daemon.Addr())
	if err := f.manager.RefreshActive(context.Background()); err != nil {
		t.Fatalf("RefreshActive: %v", err)
	}

	if remotes := f.remote.Remotes(); len(remotes) != 2 {
		t.Fatalf("remotes = %v", remotes)
	}
	mounts := f.remote.Mounts()
	if len(mounts) != 1 || mounts[0].MountPoint != "/mnt/gdrive" {
		t.Fatalf("mounts = %+v", mounts)
	}
	serves := f.remote.Serves()
	if len(serves) != 1 || serves[0].ID != "webdav-1" {
		t.Fatalf("serves = %+v", serves)
	}
	active := f.manager.Active()
	if active.Runtime.Version != "v1.66.0" || active.Runtime.Status != StatusConnected {
		t.Fatalf("runtime = %+v", active.Runtime)
	}
	if active.Runtime.ConfigPath == "" {
		t.Fatal("config path not recorded")
	}
	waitForEvent(t, f.events, events.MountStateChanged)
	waitForEvent(t, f.events, events.ServeStateChanged)
}

func TestCheckOtherBackendsRecordsOutcome(t *testing.T) {
	local := testsupport.NewFakeDaemon(t)
	remote := testsupport.NewFakeDaemon(t)
	f := newFixture(t, local.Addr())

	if err := f.manager.Add(Backend{Name: "nas", Host: "127.0.0.1", Port: remote.Port()}); err != nil {
		t.Fatalf("Add nas: %v", err)
	}
	if err := f.manager.Add(Backend{Name: "dead", Host: "127.0.0.1", Port: 1}); err != nil {
		t.Fatalf("Add dead: %v", err)
	}

	f.manager.CheckOtherBackends(context.Background())

	nas, _ := f.manager.Get("nas")
	if nas.Runtime.Status != StatusConnected || nas.Runtime.Version != "v1.66.0" {
		t.Fatalf("nas runtime = %+v", nas.Runtime)
	}
	dead, _ := f.manager.Get("dead")
	if dead.Runtime.Status == StatusConnected {
		t.Fatalf("dead backend marked connected: %+v", dead.Runtime)
	}
}

func waitForEvent(t *testing.T, ch <-chan events.Event, eventType events.Type) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == eventType {
				return
			}
		case <-deadline:
			t.Fatalf("event %s not observed", eventType)
		}
	}
}
