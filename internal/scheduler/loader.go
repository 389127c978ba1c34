package scheduler

import (
	"encoding/json"
	"time"

	"rchub/internal/logging"
)

// Remote configs embed per-operation scheduling blocks. Each block carries
// its own cron settings plus the transfer endpoints.
type remoteTaskConfig struct {
	CronEnabled    bool   `json:"cronEnabled"`
	CronExpression string `json:"cronExpression"`
	Source         string `json:"source"`
	Dest           string `json:"dest"`
}

var taskConfigKeys = map[TaskType]string{
	TypeCopy:   "copyConfig",
	TypeSync:   "syncConfig",
	TypeMove:   "moveConfig",
	TypeBisync: "bisyncConfig",
}

// TasksFromRemoteConfig extracts scheduled task definitions embedded in one
// remote's config blob. Blocks without cron enabled are ignored. Shared
// filterConfig and backendConfig sections become rc call parameters.
func TasksFromRemoteConfig(backend, remote string, raw json.RawMessage) []ScheduledTask {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil
	}

	args := map[string]any{}
	if filter, ok := sections["filterConfig"]; ok {
		var decoded map[string]any
		if json.Unmarshal(filter, &decoded) == nil && len(decoded) > 0 {
			args["_filter"] = decoded
		}
	}
	if backendCfg, ok := sections["backendConfig"]; ok {
		var decoded map[string]any
		if json.Unmarshal(backendCfg, &decoded) == nil && len(decoded) > 0 {
			args["_config"] = decoded
		}
	}

	var tasks []ScheduledTask
	for taskType, key := range taskConfigKeys {
		section, ok := sections[key]
		if !ok {
			continue
		}
		var cfg remoteTaskConfig
		if err := json.Unmarshal(section, &cfg); err != nil {
			continue
		}
		if !cfg.CronEnabled || cfg.CronExpression == "" {
			continue
		}
		tasks = append(tasks, ScheduledTask{
			ID:             TaskID(remote, taskType),
			Name:           remote + " " + string(taskType),
			Backend:        backend,
			Remote:         remote,
			Type:           taskType,
			CronExpression: cfg.CronExpression,
			Status:         TaskEnabled,
			Source:         cfg.Source,
			Destination:    cfg.Dest,
			Args:           args,
			CreatedAt:      time.Now(),
		})
	}
	return tasks
}

// SyncFromRemotes rebuilds the task set for a backend from its remote
// configs: new tasks are scheduled, changed expressions rescheduled, and
// tasks whose remote or block disappeared are removed. Existing run counters
// and status survive a sync.
func (s *Scheduler) SyncFromRemotes(backend string, configs map[string]json.RawMessage) {
	desired := map[string]ScheduledTask{}
	for remote, raw := range configs {
		for _, task := range TasksFromRemoteConfig(backend, remote, raw) {
			desired[task.ID] = task
		}
	}

	for _, existing := range s.cache.List() {
		if existing.Backend != backend {
			continue
		}
		if _, ok := desired[existing.ID]; !ok {
			s.Remove(existing.ID)
		}
	}

	for id, task := range desired {
		if existing, ok := s.cache.Get(id); ok {
			task.Status = existing.Status
			task.CreatedAt = existing.CreatedAt
			task.LastRun = existing.LastRun
			task.LastError = existing.LastError
			task.CurrentJobID = existing.CurrentJobID
			task.RunCount = existing.RunCount
			task.SuccessCount = existing.SuccessCount
			task.FailureCount = existing.FailureCount
		}
		if err := s.Schedule(task); err != nil {
			s.logger.Warn("skipping task with invalid schedule",
				logging.String(logging.FieldTaskID, id),
				logging.Error(err))
		}
	}
}
