package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rchub/internal/config"
	"rchub/internal/events"
	"rchub/internal/logging"
	"rchub/internal/services"
	"rchub/internal/testsupport"
)

// writeFakeBinary creates an executable shell script standing in for rclone.
func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rclone")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port
}

func newTestSupervisor(t *testing.T, cfg config.Engine) (*Supervisor, <-chan events.Event) {
	t.Helper()
	bus := events.NewBus(logging.NewNop())
	ch, cancel := bus.Subscribe(32)
	t.Cleanup(cancel)
	sup := New(cfg, bus, logging.NewNop(), WithReadyPollInterval(20*time.Millisecond))
	return sup, ch
}

func waitForEvent(t *testing.T, ch <-chan events.Event, eventType events.Type) events.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("event %s not observed", eventType)
		}
	}
}

func TestStartBecomesReadyAndShutsDown(t *testing.T) {
	daemon := testsupport.NewFakeDaemon(t)
	cfg := config.Engine{
		Binary:         writeFakeBinary(t, "sleep 60\n"),
		Host:           "127.0.0.1",
		Port:           daemon.Port(),
		ReadyTimeout:   5,
		HealthInterval: 1,
	}
	sup, ch := newTestSupervisor(t, cfg)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sup.State() != StateRunning {
		t.Fatalf("state = %s, want running", sup.State())
	}
	waitForEvent(t, ch, events.EngineReady)
	if !sup.Healthy(context.Background()) {
		t.Fatal("engine should report healthy")
	}

	// A second start against a healthy engine must not respawn.
	pid := sup.child.pid()
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if sup.child.pid() != pid {
		t.Fatal("healthy engine was respawned")
	}

	sup.Shutdown(context.Background())
	if !daemon.QuitCalled() {
		t.Fatal("quit was not requested")
	}
	if !sup.ShouldExit() {
		t.Fatal("exit latch not set")
	}
	if sup.Healthy(context.Background()) {
		t.Fatal("engine should be down after shutdown")
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Start after shutdown = %v, want ErrShuttingDown", err)
	}
}

func TestStartFailsWithMissingBinary(t *testing.T) {
	cfg := config.Engine{
		Binary:       filepath.Join(t.TempDir(), "no-such-rclone"),
		Host:         "127.0.0.1",
		Port:         freePort(t),
		ReadyTimeout: 1,
	}
	sup, ch := newTestSupervisor(t, cfg)

	err := sup.Start(context.Background())
	if !errors.Is(err, ErrInvalidBinary) {
		t.Fatalf("err = %v, want ErrInvalidBinary", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration marker", err)
	}
	waitForEvent(t, ch, events.EnginePathError)
	if sup.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", sup.State())
	}
}

func TestStartReportsEncryptedConfig(t *testing.T) {
	script := `echo "Couldn't decrypt configuration, most likely wrong password." >&2
exit 1
`
	cfg := config.Engine{
		Binary:       writeFakeBinary(t, script),
		Host:         "127.0.0.1",
		Port:         freePort(t),
		ReadyTimeout: 5,
	}
	sup, ch := newTestSupervisor(t, cfg)

	err := sup.Start(context.Background())
	if !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("err = %v, want ErrPasswordRequired", err)
	}
	waitForEvent(t, ch, events.EnginePasswordError)
}

func TestStartTimesOutWhenAPIDoesNotAnswer(t *testing.T) {
	cfg := config.Engine{
		Binary:       writeFakeBinary(t, "sleep 60\n"),
		Host:         "127.0.0.1",
		Port:         freePort(t),
		ReadyTimeout: 1,
	}
	sup, ch := newTestSupervisor(t, cfg)

	err := sup.Start(context.Background())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("err = %v, want timeout marker", err)
	}
	waitForEvent(t, ch, events.EngineFailed)
	if sup.child != nil {
		t.Fatal("failed start must not leave a child behind")
	}
}

func TestHealthyReflectsAPIProbe(t *testing.T) {
	daemon := testsupport.NewFakeDaemon(t)
	cfg := config.Engine{
		Binary:       writeFakeBinary(t, "sleep 60\n"),
		Host:         "127.0.0.1",
		Port:         daemon.Port(),
		ReadyTimeout: 5,
	}
	sup, _ := newTestSupervisor(t, cfg)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Shutdown(context.Background())

	daemon.FailPath("core/version", 500)
	if sup.Healthy(context.Background()) {
		t.Fatal("healthy despite failing version probe")
	}
	daemon.RestorePath("core/version")
	if !sup.Healthy(context.Background()) {
		t.Fatal("unhealthy after probe restored")
	}
}

func TestHealthyFollowsPortRebind(t *testing.T) {
	oldDaemon := testsupport.NewFakeDaemon(t)
	newDaemon := testsupport.NewFakeDaemon(t)
	cfg := config.Engine{
		Binary:       writeFakeBinary(t, "sleep 60\n"),
		Host:         "127.0.0.1",
		Port:         oldDaemon.Port(),
		ReadyTimeout: 5,
	}
	sup, _ := newTestSupervisor(t, cfg)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Shutdown(context.Background())

	// Health checks racing the rebind must not observe a torn client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			sup.Healthy(context.Background())
		}
	}()
	if err := sup.UpdatePort(context.Background(), newDaemon.Port()); err != nil {
		t.Fatalf("UpdatePort: %v", err)
	}
	<-done

	oldDaemon.FailPath("core/version", 500)
	if !sup.Healthy(context.Background()) {
		t.Fatal("health probe still bound to the old port")
	}
}

func TestBuildArgs(t *testing.T) {
	noAuth := New(config.Engine{Host: "127.0.0.1", Port: 51900}, events.NewBus(logging.NewNop()), logging.NewNop())
	got := noAuth.buildArgs()
	want := []string{"rcd", "--rc-addr", "127.0.0.1:51900", "--rc-no-auth"}
	assertArgs(t, got, want)

	withAuth := New(config.Engine{
		Host: "127.0.0.1", Port: 51900,
		Username: "admin", Password: "secret",
		ConfigPath: "/etc/rclone/rclone.conf",
	}, events.NewBus(logging.NewNop()), logging.NewNop())
	got = withAuth.buildArgs()
	want = []string{
		"rcd", "--rc-addr", "127.0.0.1:51900",
		"--rc-user", "admin", "--rc-pass", "secret",
		"--config", "/etc/rclone/rclone.conf",
	}
	assertArgs(t, got, want)
}

func assertArgs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}
}

func TestIsEngineCommand(t *testing.T) {
	addr := "127.0.0.1:51900"
	cases := []struct {
		argv []string
		want bool
	}{
		{[]string{"/usr/bin/rclone", "rcd", "--rc-addr", addr}, true},
		{[]string{"rclone", "rcd", "--rc-addr=" + addr}, true},
		{[]string{"rclone", "rcd", "--rc-addr", "127.0.0.1:6000"}, false},
		{[]string{"rclone", "mount", "--rc-addr", addr}, false},
		{[]string{"sleep", "60"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := isEngineCommand(tc.argv, addr); got != tc.want {
			t.Fatalf("isEngineCommand(%v) = %v, want %v", tc.argv, got, tc.want)
		}
	}
}

func TestEncryptedConfigDetection(t *testing.T) {
	if !isEncryptedConfigError("2026/08/23 NOTICE: Couldn't decrypt configuration, most likely wrong password.") {
		t.Fatal("decrypt failure not detected")
	}
	if !isEncryptedConfigError("config file is encrypted - please supply a password") {
		t.Fatal("encrypted config prompt not detected")
	}
	if isEncryptedConfigError("Failed to start remote control: address already in use") {
		t.Fatal("false positive on unrelated error")
	}
}
