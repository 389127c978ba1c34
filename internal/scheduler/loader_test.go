package scheduler

import (
	"encoding/json"
	"testing"

	"rchub/internal/events"
	"rchub/internal/jobs"
	"rchub/internal/logging"
)

const gdriveConfig = `{
	"type": "drive",
	"syncConfig": {
		"cronEnabled": true,
		"cronExpression": "0 3 * * *",
		"source": "gdrive:docs",
		"dest": "/srv/docs"
	},
	"copyConfig": {
		"cronEnabled": false,
		"cronExpression": "0 4 * * *",
		"source": "gdrive:photos",
		"dest": "/srv/photos"
	},
	"filterConfig": {"MaxSize": "10G"},
	"backendConfig": {"Transfers": 8}
}`

func TestTasksFromRemoteConfig(t *testing.T) {
	tasks := TasksFromRemoteConfig("Local", "gdrive", json.RawMessage(gdriveConfig))
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task (copy block disabled), got %d", len(tasks))
	}
	task := tasks[0]
	if task.ID != "gdrive-sync" || task.Type != TypeSync {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.Source != "gdrive:docs" || task.Destination != "/srv/docs" {
		t.Fatalf("endpoints not carried: %+v", task)
	}
	if _, ok := task.Args["_filter"]; !ok {
		t.Fatal("filter config not merged into args")
	}
	if _, ok := task.Args["_config"]; !ok {
		t.Fatal("backend config not merged into args")
	}
}

func TestTasksFromRemoteConfigIgnoresGarbage(t *testing.T) {
	if tasks := TasksFromRemoteConfig("Local", "bad", json.RawMessage(`"not an object"`)); tasks != nil {
		t.Fatalf("expected nil for malformed config, got %+v", tasks)
	}
}

func TestSyncFromRemotesPrunesAndPreservesCounters(t *testing.T) {
	s := New(NewTaskCache(), jobs.NewCache(), &fakeRunner{}, events.NewBus(logging.NewNop()), logging.NewNop())

	configs := map[string]json.RawMessage{
		"gdrive": json.RawMessage(gdriveConfig),
		"s3": json.RawMessage(`{
			"moveConfig": {"cronEnabled": true, "cronExpression": "*/10 * * * *", "source": "s3:in", "dest": "s3:archive"}
		}`),
	}
	s.SyncFromRemotes("Local", configs)
	if len(s.cache.List()) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", s.cache.List())
	}

	// Simulate run history, then re-sync with one remote gone.
	s.cache.Update("gdrive-sync", func(task *ScheduledTask) {
		task.RunCount = 5
		task.SuccessCount = 4
	})
	delete(configs, "s3")
	s.SyncFromRemotes("Local", configs)

	tasks := s.cache.List()
	if len(tasks) != 1 {
		t.Fatalf("pruning failed: %+v", tasks)
	}
	if tasks[0].RunCount != 5 || tasks[0].SuccessCount != 4 {
		t.Fatalf("counters not preserved: %+v", tasks[0])
	}
}

func TestSyncFromRemotesSkipsInvalidCron(t *testing.T) {
	s := New(NewTaskCache(), jobs.NewCache(), &fakeRunner{}, events.NewBus(logging.NewNop()), logging.NewNop())
	configs := map[string]json.RawMessage{
		"broken": json.RawMessage(`{
			"syncConfig": {"cronEnabled": true, "cronExpression": "nope", "source": "a", "dest": "b"}
		}`),
	}
	s.SyncFromRemotes("Local", configs)
	if len(s.cache.List()) != 0 {
		t.Fatalf("invalid cron must not be cached: %+v", s.cache.List())
	}
}
