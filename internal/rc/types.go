package rc

import "encoding/json"

// VersionInfo mirrors the core/version response.
type VersionInfo struct {
	Version   string `json:"version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"goVersion"`
}

// ConfigPaths mirrors the config/paths response.
type ConfigPaths struct {
	Config string `json:"config"`
	Cache  string `json:"cache"`
	Temp   string `json:"temp"`
}

// JobStatus mirrors the job/status response for an async job.
type JobStatus struct {
	ID        uint64          `json:"id"`
	Group     string          `json:"group"`
	Finished  bool            `json:"finished"`
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
	StartTime string          `json:"startTime"`
	EndTime   string          `json:"endTime"`
	Duration  float64         `json:"duration"`
	Output    json.RawMessage `json:"output"`
}

// MountPoint describes one active mount reported by mount/listmounts.
type MountPoint struct {
	Fs         string `json:"Fs"`
	MountPoint string `json:"MountPoint"`
	MountedOn  string `json:"MountedOn"`
}

// Serve describes one active serve instance reported by serve/list.
type Serve struct {
	ID     string          `json:"id"`
	Addr   string          `json:"addr"`
	Params json.RawMessage `json:"params"`
}

type listRemotesResponse struct {
	Remotes []string `json:"remotes"`
}

type listMountsResponse struct {
	MountPoints []MountPoint `json:"mountPoints"`
}

type listServesResponse struct {
	List []Serve `json:"list"`
}

type startJobResponse struct {
	JobID uint64 `json:"jobid"`
}
