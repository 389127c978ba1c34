package testsupport

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeDaemon is an in-process stand-in for an rclone daemon's remote control
// API. Tests mutate its state directly and point rc clients at Addr().
type FakeDaemon struct {
	t      testing.TB
	server *httptest.Server

	mu         sync.Mutex
	remotes    []string
	configs    map[string]json.RawMessage
	mounts     []map[string]string
	serves     []map[string]any
	jobs       map[uint64]map[string]any
	stats      json.RawMessage
	nextJobID  uint64
	failPaths  map[string]int
	stopCalls  []uint64
	quitCalled bool
}

// NewFakeDaemon starts a fake rclone rc server. It is shut down with the test.
func NewFakeDaemon(t testing.TB) *FakeDaemon {
	t.Helper()
	f := &FakeDaemon{
		t:         t,
		configs:   map[string]json.RawMessage{},
		jobs:      map[uint64]map[string]any{},
		stats:     json.RawMessage(`{"bytes":0,"transfers":0}`),
		nextJobID: 1,
		failPaths: map[string]int{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// Addr returns the host:port of the fake daemon.
func (f *FakeDaemon) Addr() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

// Port returns the TCP port the fake daemon listens on.
func (f *FakeDaemon) Port() int {
	_, portStr, err := net.SplitHostPort(f.Addr())
	if err != nil {
		f.t.Fatalf("split fake daemon addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		f.t.Fatalf("parse fake daemon port: %v", err)
	}
	return port
}

// SetRemotes replaces the remote names and their config dump payloads.
func (f *FakeDaemon) SetRemotes(remotes []string, configs map[string]json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes = append([]string(nil), remotes...)
	f.configs = map[string]json.RawMessage{}
	for name, cfg := range configs {
		f.configs[name] = cfg
	}
}

// SetMounts replaces the reported mount points.
func (f *FakeDaemon) SetMounts(mounts []map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts = mounts
}

// SetServes replaces the reported serve instances.
func (f *FakeDaemon) SetServes(serves []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serves = serves
}

// SetStats replaces the core/stats payload.
func (f *FakeDaemon) SetStats(stats json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
}

// FinishJob marks a job terminal with the given outcome.
func (f *FakeDaemon) FinishJob(jobID uint64, success bool, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		f.t.Fatalf("finish unknown job %d", jobID)
	}
	job["finished"] = true
	job["success"] = success
	job["error"] = errMsg
}

// RemoveJob forgets a job entirely, so job/status and job/stop report
// "job not found".
func (f *FakeDaemon) RemoveJob(jobID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
}

// FailPath makes the given rc path return the provided HTTP status.
func (f *FakeDaemon) FailPath(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPaths[path] = status
}

// RestorePath clears a failure injected with FailPath.
func (f *FakeDaemon) RestorePath(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failPaths, path)
}

// StopCalls returns the job ids passed to job/stop.
func (f *FakeDaemon) StopCalls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.stopCalls...)
}

// QuitCalled reports whether core/quit was invoked.
func (f *FakeDaemon) QuitCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quitCalled
}

func (f *FakeDaemon) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/")

	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	defer f.mu.Unlock()

	if status, ok := f.failPaths[path]; ok {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":"injected failure for %s"}`, path)
		return
	}

	switch {
	case path == "core/version":
		writeJSON(w, map[string]string{
			"version":   "v1.66.0",
			"os":        "linux",
			"arch":      "amd64",
			"goVersion": "go1.26",
		})
	case path == "config/paths":
		writeJSON(w, map[string]string{
			"config": "/home/test/.config/rclone/rclone.conf",
			"cache":  "/home/test/.cache/rclone",
			"temp":   "/tmp",
		})
	case path == "config/listremotes":
		writeJSON(w, map[string]any{"remotes": f.remotes})
	case path == "config/dump":
		writeJSON(w, f.configs)
	case path == "mount/listmounts":
		writeJSON(w, map[string]any{"mountPoints": f.mounts})
	case path == "serve/list":
		writeJSON(w, map[string]any{"list": f.serves})
	case path == "core/stats":
		_, _ = w.Write(f.stats)
	case path == "core/quit":
		f.quitCalled = true
		writeJSON(w, map[string]any{})
	case path == "job/status":
		jobID := uint64(asFloat(params["jobid"]))
		job, ok := f.jobs[jobID]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"job not found","status":500}`)
			return
		}
		writeJSON(w, job)
	case path == "job/stop":
		jobID := uint64(asFloat(params["jobid"]))
		if _, ok := f.jobs[jobID]; !ok {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"job not found","status":500}`)
			return
		}
		f.stopCalls = append(f.stopCalls, jobID)
		writeJSON(w, map[string]any{})
	case strings.HasPrefix(path, "sync/"):
		jobID := f.nextJobID
		f.nextJobID++
		f.jobs[jobID] = map[string]any{
			"id":       jobID,
			"group":    params["_group"],
			"finished": false,
			"success":  false,
			"error":    "",
		}
		writeJSON(w, map[string]any{"jobid": jobID})
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"unknown rc path %s"}`, path)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func asFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
