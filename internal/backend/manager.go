package backend

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"rchub/internal/events"
	"rchub/internal/jobs"
	"rchub/internal/logging"
	"rchub/internal/rc"
	"rchub/internal/remotestate"
	"rchub/internal/scheduler"
	"rchub/internal/services"
)

// LocalEngine yields the rc client for the engine-managed local daemon. The
// client is looked up per call so an engine port change takes effect without
// re-registering the backend.
type LocalEngine interface {
	Client() *rc.Client
	Addr() string
}

// Manager is the backend registry. It owns which backend is active, keeps an
// rc client per remote backend, and parks the caches of inactive backends so
// a switch is a snapshot-and-restore, never a data loss.
type Manager struct {
	engine LocalEngine
	jobs   *jobs.Cache
	remote *remotestate.Cache
	tasks  *scheduler.TaskCache
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	backends map[string]*Backend
	clients  map[string]*rc.Client
	states   map[string]State
	active   string
}

// NewManager constructs a registry seeded with the local backend as active.
func NewManager(engine LocalEngine, jobCache *jobs.Cache, remoteCache *remotestate.Cache, taskCache *scheduler.TaskCache, bus *events.Bus, logger *slog.Logger) *Manager {
	host, port := splitAddr(engine.Addr())
	local := &Backend{
		Name:    LocalName,
		IsLocal: true,
		Host:    host,
		Port:    port,
		Runtime: RuntimeInfo{Status: StatusDisconnected},
	}
	return &Manager{
		engine:   engine,
		jobs:     jobCache,
		remote:   remoteCache,
		tasks:    taskCache,
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "backend"),
		backends: map[string]*Backend{LocalName: local},
		clients:  map[string]*rc.Client{},
		states:   map[string]State{},
		active:   LocalName,
	}
}

func splitAddr(addr string) (string, int) {
	host := addr
	port := 0
	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 {
		host = addr[:idx]
		for _, ch := range addr[idx+1:] {
			if ch < '0' || ch > '9' {
				return host, 0
			}
			port = port*10 + int(ch-'0')
		}
	}
	return host, port
}

// Add registers a remote backend. The local name is reserved and names must
// be unique.
func (m *Manager) Add(b Backend) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return services.Wrap(services.ErrValidation, "backend", "add", "name is required", nil)
	}
	if b.Name == LocalName {
		return services.Wrap(services.ErrValidation, "backend", "add", LocalName+" is reserved", nil)
	}
	if b.Host == "" || b.Port <= 0 {
		return services.Wrap(services.ErrValidation, "backend", "add", "host and port are required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.backends[b.Name]; exists {
		return services.Wrap(services.ErrValidation, "backend", "add", "backend "+b.Name+" already exists", nil)
	}

	b.IsLocal = false
	if b.Runtime.Status == "" {
		b.Runtime.Status = StatusDisconnected
	}
	opts := []rc.Option{}
	if b.Username != "" {
		opts = append(opts, rc.WithAuth(b.Username, b.Password))
	}
	m.backends[b.Name] = &b
	m.clients[b.Name] = rc.New(b.Addr(), opts...)
	m.logger.Info("backend added", logging.String(logging.FieldBackend, b.Name))
	return nil
}

// Update replaces the connection details of an existing remote backend and
// rebuilds its client. Runtime info is reset since it belongs to the old
// endpoint. The local backend cannot be updated.
func (m *Manager) Update(b Backend) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == LocalName {
		return services.Wrap(services.ErrValidation, "backend", "update", LocalName+" cannot be updated", nil)
	}
	if b.Host == "" || b.Port <= 0 {
		return services.Wrap(services.ErrValidation, "backend", "update", "host and port are required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.backends[b.Name]; !exists {
		return services.Wrap(services.ErrNotFound, "backend", "update", "unknown backend "+b.Name, nil)
	}

	b.IsLocal = false
	b.Runtime = RuntimeInfo{Status: StatusDisconnected}
	opts := []rc.Option{}
	if b.Username != "" {
		opts = append(opts, rc.WithAuth(b.Username, b.Password))
	}
	m.backends[b.Name] = &b
	m.clients[b.Name] = rc.New(b.Addr(), opts...)
	m.logger.Info("backend updated", logging.String(logging.FieldBackend, b.Name))
	return nil
}

// Remove drops a remote backend along with its parked state. The local
// backend and the active backend cannot be removed.
func (m *Manager) Remove(name string) error {
	if name == LocalName {
		return services.Wrap(services.ErrValidation, "backend", "remove", LocalName+" cannot be removed", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.backends[name]; !exists {
		return services.Wrap(services.ErrNotFound, "backend", "remove", "unknown backend "+name, nil)
	}
	if name == m.active {
		return services.Wrap(services.ErrValidation, "backend", "remove", "backend "+name+" is active", nil)
	}
	delete(m.backends, name)
	delete(m.clients, name)
	delete(m.states, name)
	m.logger.Info("backend removed", logging.String(logging.FieldBackend, name))
	return nil
}

// List returns all backends, local first, the rest by name.
func (m *Manager) List() []Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Backend, 0, len(m.backends))
	for _, b := range m.backends {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLocal != out[j].IsLocal {
			return out[i].IsLocal
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns a backend by name.
func (m *Manager) Get(name string) (Backend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[name]
	if !ok {
		return Backend{}, false
	}
	return *b, true
}

// Active returns the active backend.
func (m *Manager) Active() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.backends[m.active]
}

// ActiveName returns the active backend's name.
func (m *Manager) ActiveName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// ActiveClient returns the rc client for the active backend. The local
// backend always resolves through the engine so port changes are picked up.
func (m *Manager) ActiveClient() *rc.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientLocked(m.active)
}

// ClientFor returns the rc client for a named backend.
func (m *Manager) ClientFor(name string) (*rc.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.backends[name]; !ok {
		return nil, false
	}
	return m.clientLocked(name), true
}

func (m *Manager) clientLocked(name string) *rc.Client {
	if name == LocalName {
		return m.engine.Client()
	}
	return m.clients[name]
}

// SetRuntime records daemon details queried from a backend.
func (m *Manager) SetRuntime(name string, info RuntimeInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backends[name]; ok {
		b.Runtime = info
	}
}

// SetStatus updates only the connectivity status of a backend.
func (m *Manager) SetStatus(name, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.backends[name]; ok {
		b.Runtime.Status = status
	}
}

// Switch makes name the active backend. The outgoing backend's jobs, remote
// state, and tasks are snapshotted and the incoming backend's restored under
// one exclusive section, so no observer sees a mixed view.
func (m *Manager) Switch(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.backends[name]; !ok {
		return services.Wrap(services.ErrNotFound, "backend", "switch", "unknown backend "+name, nil)
	}
	if name == m.active {
		return nil
	}

	previous := m.active
	m.states[previous] = State{
		Jobs:   m.jobs.Snapshot(),
		Remote: m.remote.Snapshot(),
		Tasks:  m.tasks.Snapshot(),
	}

	restored := m.states[name]
	m.jobs.Restore(restored.Jobs)
	m.remote.Restore(restored.Remote)
	m.tasks.Restore(restored.Tasks)
	delete(m.states, name)
	m.active = name

	m.logger.Info("backend switched",
		logging.String("from", previous),
		logging.String("to", name))
	m.bus.Emit(events.BackendSwitched, name, "switched from "+previous)
	return nil
}

// ParkedState returns the stored state of an inactive backend, mainly for
// inspection in tests and the API.
func (m *Manager) ParkedState(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return state, ok
}
