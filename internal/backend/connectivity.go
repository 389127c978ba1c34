package backend

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"rchub/internal/events"
	"rchub/internal/logging"
	"rchub/internal/remotestate"
	"rchub/internal/services"
)

const connectivityRetryDelay = 500 * time.Millisecond

// EngineStarter lazily starts the local engine when a fallback lands on it.
type EngineStarter interface {
	Start(ctx context.Context) error
}

// EnsureConnectivityOrFallback verifies the active backend answers. A remote
// backend that stays unreachable is marked failed and the hub falls back to
// the local backend, starting the engine if needed. The local backend is
// retried for the full timeout and then kept active regardless: the engine
// supervisor's health loop is the component responsible for reviving it.
func (m *Manager) EnsureConnectivityOrFallback(ctx context.Context, starter EngineStarter, timeout time.Duration) error {
	active := m.Active()
	err := m.waitReachable(ctx, active.Name, timeout)
	if err == nil {
		m.SetStatus(active.Name, StatusConnected)
		return nil
	}

	if active.IsLocal {
		m.logger.Warn("local backend not answering, leaving it to the engine supervisor",
			logging.Error(err))
		m.SetStatus(active.Name, StatusDisconnected)
		return nil
	}

	m.SetStatus(active.Name, "error: "+err.Error())
	m.logger.Error("active backend unreachable, falling back to local",
		logging.String(logging.FieldBackend, active.Name),
		logging.Error(err))
	if switchErr := m.Switch(LocalName); switchErr != nil {
		return switchErr
	}
	m.bus.Emit(events.BackendFallback, active.Name, "fell back to "+LocalName)

	if starter != nil {
		if startErr := starter.Start(ctx); startErr != nil {
			return startErr
		}
	}
	m.SetStatus(LocalName, StatusConnected)
	return services.Wrap(services.ErrUnavailable, "backend", "connectivity", active.Name, err)
}

func (m *Manager) waitReachable(ctx context.Context, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		client, ok := m.ClientFor(name)
		if !ok {
			return services.Wrap(services.ErrNotFound, "backend", "connectivity", "unknown backend "+name, nil)
		}
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, lastErr = client.Version(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectivityRetryDelay):
		}
	}
}

// CheckOtherBackends probes every inactive backend concurrently and records
// the outcome on its runtime info. Best effort: probe failures only mark the
// backend, they never fail the check.
func (m *Manager) CheckOtherBackends(ctx context.Context) {
	active := m.ActiveName()
	group, groupCtx := errgroup.WithContext(ctx)
	for _, b := range m.List() {
		if b.Name == active {
			continue
		}
		name := b.Name
		group.Go(func() error {
			client, ok := m.ClientFor(name)
			if !ok {
				return nil
			}
			probeCtx, cancel := context.WithTimeout(groupCtx, 3*time.Second)
			defer cancel()
			info, err := client.Version(probeCtx)
			if err != nil {
				m.SetStatus(name, "error: "+err.Error())
				return nil
			}
			m.SetRuntime(name, RuntimeInfo{
				Version:   info.Version,
				OS:        info.OS,
				Arch:      info.Arch,
				GoVersion: info.GoVersion,
				Status:    StatusConnected,
			})
			return nil
		})
	}
	_ = group.Wait()
}

// RefreshActive pulls remotes, configs, mounts, serves, and runtime details
// from the active backend into the shared caches.
func (m *Manager) RefreshActive(ctx context.Context) error {
	name := m.ActiveName()
	client := m.ActiveClient()
	if client == nil {
		return services.Wrap(services.ErrUnavailable, "backend", "refresh", "no client for "+name, nil)
	}

	remotes, err := client.ListRemotes(ctx)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "backend", "refresh", "list remotes", err)
	}
	configs, err := client.DumpConfig(ctx)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "backend", "refresh", "dump config", err)
	}
	m.remote.SetRemotes(remotes, configs)

	reportedMounts, err := client.ListMounts(ctx)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "backend", "refresh", "list mounts", err)
	}
	mounts := make([]remotestate.MountPoint, 0, len(reportedMounts))
	for _, mp := range reportedMounts {
		mounts = append(mounts, remotestate.MountPoint{Fs: mp.Fs, MountPoint: mp.MountPoint})
	}
	if m.remote.UpdateMountsIfChanged(mounts) {
		m.bus.Emit(events.MountStateChanged, name, "mount state changed")
	}

	reportedServes, err := client.ListServes(ctx)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "backend", "refresh", "list serves", err)
	}
	serves := make([]remotestate.Serve, 0, len(reportedServes))
	for _, sv := range reportedServes {
		serves = append(serves, remotestate.Serve{ID: sv.ID, Addr: sv.Addr, Params: sv.Params})
	}
	if m.remote.UpdateServesIfChanged(serves) {
		m.bus.Emit(events.ServeStateChanged, name, "serve state changed")
	}

	info, err := client.Version(ctx)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "backend", "refresh", "version", err)
	}
	runtime := RuntimeInfo{
		Version:   info.Version,
		OS:        info.OS,
		Arch:      info.Arch,
		GoVersion: info.GoVersion,
		Status:    StatusConnected,
	}
	if paths, err := client.ConfigPaths(ctx); err == nil {
		runtime.ConfigPath = paths.Config
	}
	m.SetRuntime(name, runtime)

	m.logger.Debug("active backend refreshed",
		logging.String(logging.FieldBackend, name),
		logging.Int("remotes", len(remotes)),
		logging.Int("mounts", len(mounts)),
		logging.Int("serves", len(serves)))
	return nil
}
