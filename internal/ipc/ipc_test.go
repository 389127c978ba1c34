package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rchub/internal/daemon"
	"rchub/internal/ipc"
	"rchub/internal/logging"
	"rchub/internal/testsupport"
)

func fakeEngineBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rclone")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestIPCServerClient(t *testing.T) {
	engineDaemon := testsupport.NewFakeDaemon(t)
	engineDaemon.SetRemotes([]string{"gdrive"}, nil)

	cfg := testsupport.NewConfig(t, testsupport.WithEngineAddr("127.0.0.1", engineDaemon.Port()))
	cfg.Engine.Binary = fakeEngineBinary(t)
	cfg.Engine.ReadyTimeout = 5
	cfg.Jobs.PollInterval = 1

	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socket := filepath.Join(cfg.Daemon.LogDir, "rchub.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	time.Sleep(50 * time.Millisecond)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Status.Running || status.Status.ActiveBackend != "Local" {
		t.Fatalf("unexpected status: %+v", status.Status)
	}

	remotes, err := client.RemoteList()
	if err != nil {
		t.Fatalf("RemoteList failed: %v", err)
	}
	if len(remotes.Remotes) != 1 || remotes.Remotes[0] != "gdrive" {
		t.Fatalf("unexpected remotes: %v", remotes.Remotes)
	}

	addResp, err := client.BackendAdd(ipc.BackendAddRequest{Name: "nas", Host: "10.0.0.5", Port: 5572})
	if err != nil {
		t.Fatalf("BackendAdd failed: %v", err)
	}
	if !addResp.Added {
		t.Fatal("expected backend to be added")
	}
	if _, err := client.BackendAdd(ipc.BackendAddRequest{Name: "nas", Host: "10.0.0.5", Port: 5572}); err == nil {
		t.Fatal("duplicate backend add should fail")
	}
	list, err := client.BackendList()
	if err != nil {
		t.Fatalf("BackendList failed: %v", err)
	}
	if list.Active != "Local" || len(list.Backends) != 2 {
		t.Fatalf("unexpected backend list: %+v", list)
	}
	updResp, err := client.BackendUpdate(ipc.BackendUpdateRequest{Name: "nas", Host: "10.0.0.6", Port: 5573})
	if err != nil {
		t.Fatalf("BackendUpdate failed: %v", err)
	}
	if !updResp.Updated {
		t.Fatal("expected backend to be updated")
	}
	if _, err := client.BackendRemove("nas"); err != nil {
		t.Fatalf("BackendRemove failed: %v", err)
	}

	submitted, err := client.JobSubmit(ipc.JobSubmitRequest{
		Kind:        "sync",
		Source:      "gdrive:docs",
		Destination: "/srv/docs",
		Remote:      "gdrive",
	})
	if err != nil {
		t.Fatalf("JobSubmit failed: %v", err)
	}
	if submitted.JobID == 0 {
		t.Fatal("no job id returned")
	}
	jobsResp, err := client.JobList()
	if err != nil {
		t.Fatalf("JobList failed: %v", err)
	}
	if len(jobsResp.Jobs) != 1 || jobsResp.Jobs[0].ID != submitted.JobID {
		t.Fatalf("unexpected jobs: %+v", jobsResp.Jobs)
	}
	stopResp, err := client.JobStop(submitted.JobID)
	if err != nil {
		t.Fatalf("JobStop failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected job stop to report stopped")
	}
	if _, err := client.JobStop(0); err == nil {
		t.Fatal("job stop without id should fail")
	}

	verdict, err := client.CronValidate("0 3 * * *")
	if err != nil {
		t.Fatalf("CronValidate failed: %v", err)
	}
	if !verdict.Valid || verdict.NextRun.IsZero() {
		t.Fatalf("valid expression rejected: %+v", verdict)
	}
	verdict, err = client.CronValidate("bogus")
	if err != nil {
		t.Fatalf("CronValidate failed: %v", err)
	}
	if verdict.Valid || verdict.Error == "" {
		t.Fatalf("invalid expression accepted: %+v", verdict)
	}

	if err := os.WriteFile(d.LogPath(), []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log file: %v", err)
	}
	logResp, err := client.LogTail(ipc.LogTailRequest{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("LogTail failed: %v", err)
	}
	if len(logResp.Lines) != 2 || logResp.Lines[0] != "second" || logResp.Lines[1] != "third" {
		t.Fatalf("unexpected log tail response: %#v", logResp.Lines)
	}

	notifyResp, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if notifyResp.Sent || notifyResp.Message == "" {
		t.Fatalf("expected unsent test notification with message, got %#v", notifyResp)
	}

	refreshed, err := client.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if refreshed.Status.Remotes != 1 {
		t.Fatalf("unexpected refreshed status: %+v", refreshed.Status)
	}

	stopped, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopped.Stopped {
		t.Fatal("expected stop response to be true")
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}
