package remotestate

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
)

// MountPoint is one active mount enriched with the profile that created it.
// Profile is daemon-side bookkeeping; the rclone daemon only reports fs and
// mount point.
type MountPoint struct {
	Fs         string `json:"fs"`
	MountPoint string `json:"mount_point"`
	Profile    string `json:"profile,omitempty"`
}

// Serve is one active serve instance enriched with its originating profile.
type Serve struct {
	ID      string          `json:"id"`
	Addr    string          `json:"addr"`
	Params  json.RawMessage `json:"params,omitempty"`
	Profile string          `json:"profile,omitempty"`
}

// Snapshot captures the full remote-state context of one backend so it can be
// restored after a backend switch.
type Snapshot struct {
	Remotes       []string
	Configs       map[string]json.RawMessage
	Mounts        []MountPoint
	Serves        []Serve
	MountProfiles map[string]string
	ServeProfiles map[string]string
}

// Cache holds the last reconciled view of the active backend: remote names,
// remote configs, mounts, serves, and the profile side maps that associate
// daemon-reported entries with the profiles that started them.
type Cache struct {
	mu            sync.RWMutex
	remotes       []string
	configs       map[string]json.RawMessage
	mounts        []MountPoint
	serves        []Serve
	mountProfiles map[string]string
	serveProfiles map[string]string
}

// NewCache constructs an empty remote-state cache.
func NewCache() *Cache {
	return &Cache{
		configs:       map[string]json.RawMessage{},
		mountProfiles: map[string]string{},
		serveProfiles: map[string]string{},
	}
}

// SetRemotes replaces the remote names and config dump.
func (c *Cache) SetRemotes(remotes []string, configs map[string]json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotes = append([]string(nil), remotes...)
	c.configs = make(map[string]json.RawMessage, len(configs))
	for name, cfg := range configs {
		c.configs[name] = cfg
	}
}

// Remotes returns the cached remote names.
func (c *Cache) Remotes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.remotes...)
}

// Config returns the cached config blob for one remote.
func (c *Cache) Config(remote string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[remote]
	return cfg, ok
}

// Configs returns the cached config dump keyed by remote name.
func (c *Cache) Configs() map[string]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(c.configs))
	for name, cfg := range c.configs {
		out[name] = cfg
	}
	return out
}

// Mounts returns the cached mount list.
func (c *Cache) Mounts() []MountPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]MountPoint(nil), c.mounts...)
}

// Serves returns the cached serve list.
func (c *Cache) Serves() []Serve {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Serve(nil), c.serves...)
}

// SetMountProfile associates a mount point with the profile that created it.
func (c *Cache) SetMountProfile(mountPoint, profile string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mountProfiles[mountPoint] = profile
}

// SetServeProfile associates a serve id with the profile that created it.
func (c *Cache) SetServeProfile(serveID, profile string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serveProfiles[serveID] = profile
}

// UpdateMountsIfChanged merges profile annotations onto the daemon-reported
// mounts, prunes stale profile entries, and replaces the cached list when it
// differs. It returns true exactly when the cache changed, so callers emit at
// most one change event per reconciliation.
func (c *Cache) UpdateMountsIfChanged(reported []MountPoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]MountPoint, len(reported))
	seen := make(map[string]struct{}, len(reported))
	for i, mount := range reported {
		mount.Profile = c.mountProfiles[mount.MountPoint]
		merged[i] = mount
		seen[mount.MountPoint] = struct{}{}
	}
	for key := range c.mountProfiles {
		if _, ok := seen[key]; !ok {
			delete(c.mountProfiles, key)
		}
	}

	if mountsEqual(c.mounts, merged) {
		return false
	}
	c.mounts = merged
	return true
}

// UpdateServesIfChanged is the serve counterpart of UpdateMountsIfChanged,
// keyed by serve id.
func (c *Cache) UpdateServesIfChanged(reported []Serve) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]Serve, len(reported))
	seen := make(map[string]struct{}, len(reported))
	for i, serve := range reported {
		serve.Profile = c.serveProfiles[serve.ID]
		merged[i] = serve
		seen[serve.ID] = struct{}{}
	}
	for key := range c.serveProfiles {
		if _, ok := seen[key]; !ok {
			delete(c.serveProfiles, key)
		}
	}

	if servesEqual(c.serves, merged) {
		return false
	}
	c.serves = merged
	return true
}

// Snapshot captures the cache for a backend switch.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		Remotes:       append([]string(nil), c.remotes...),
		Configs:       make(map[string]json.RawMessage, len(c.configs)),
		Mounts:        append([]MountPoint(nil), c.mounts...),
		Serves:        append([]Serve(nil), c.serves...),
		MountProfiles: make(map[string]string, len(c.mountProfiles)),
		ServeProfiles: make(map[string]string, len(c.serveProfiles)),
	}
	for name, cfg := range c.configs {
		snap.Configs[name] = cfg
	}
	for key, profile := range c.mountProfiles {
		snap.MountProfiles[key] = profile
	}
	for key, profile := range c.serveProfiles {
		snap.ServeProfiles[key] = profile
	}
	return snap
}

// Restore replaces the cache contents from a snapshot.
func (c *Cache) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotes = append([]string(nil), snap.Remotes...)
	c.configs = make(map[string]json.RawMessage, len(snap.Configs))
	for name, cfg := range snap.Configs {
		c.configs[name] = cfg
	}
	c.mounts = append([]MountPoint(nil), snap.Mounts...)
	c.serves = append([]Serve(nil), snap.Serves...)
	c.mountProfiles = make(map[string]string, len(snap.MountProfiles))
	for key, profile := range snap.MountProfiles {
		c.mountProfiles[key] = profile
	}
	c.serveProfiles = make(map[string]string, len(snap.ServeProfiles))
	for key, profile := range snap.ServeProfiles {
		c.serveProfiles[key] = profile
	}
}

func mountsEqual(a, b []MountPoint) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]MountPoint(nil), a...)
	bs := append([]MountPoint(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].MountPoint < as[j].MountPoint })
	sort.Slice(bs, func(i, j int) bool { return bs[i].MountPoint < bs[j].MountPoint })
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func servesEqual(a, b []Serve) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]Serve(nil), a...)
	bs := append([]Serve(nil), b...)
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })
	sort.Slice(bs, func(i, j int) bool { return bs[i].ID < bs[j].ID })
	for i := range as {
		if as[i].ID != bs[i].ID || as[i].Addr != bs[i].Addr || as[i].Profile != bs[i].Profile {
			return false
		}
		if !bytes.Equal(as[i].Params, bs[i].Params) {
			return false
		}
	}
	return true
}
