package engine

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"rchub/internal/logging"
)

// child wraps a spawned rclone process. The done channel closes once Wait
// returns, so liveness checks never race the reaper goroutine.
type child struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	done   chan struct{}

	mu      sync.Mutex
	waitErr error
}

func spawn(binary string, args, env []string) (*child, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = env
	buf := &tailBuffer{limit: 64 << 10}
	cmd.Stdout = buf
	cmd.Stderr = buf
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &child{cmd: cmd, stderr: buf, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(c.done)
	}()
	return c, nil
}

func (c *child) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *child) pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *child) waitResult() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}

func (c *child) stderrText() string {
	return c.stderr.String()
}

// terminate sends SIGTERM, waits up to grace for exit, then kills.
func (c *child) terminate(grace time.Duration) {
	if !c.alive() {
		return
	}
	_ = unix.Kill(c.pid(), unix.SIGTERM)
	select {
	case <-c.done:
		return
	case <-time.After(grace):
	}
	_ = c.cmd.Process.Kill()
	<-c.done
}

// tailBuffer keeps the most recent limit bytes written to it. Process output
// is only inspected on failure, so old output can be discarded.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.limit {
		b.data = b.data[len(b.data)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// resolveBinary locates the rclone binary, accepting either a bare command
// name resolved via PATH or an explicit path.
func resolveBinary(name string) (string, error) {
	if name == "" {
		name = "rclone"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidBinary, name, err)
	}
	return path, nil
}

// killOrphans terminates stray rclone rcd processes bound to our address,
// typically survivors of an unclean daemon shutdown. Reports whether any
// were found.
func killOrphans(addr string, excludePID int, logger *slog.Logger) bool {
	pids := orphanPIDs(addr, excludePID)
	if len(pids) == 0 {
		return false
	}
	for _, pid := range pids {
		logger.Warn("terminating orphaned engine process",
			logging.Int("pid", pid),
			logging.String("addr", addr))
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		remaining := false
		for _, pid := range pids {
			if processAlive(pid) {
				remaining = true
				break
			}
		}
		if !remaining {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, pid := range pids {
		if processAlive(pid) {
			_ = unix.Kill(pid, unix.SIGKILL)
		}
	}
	return true
}

// orphanPIDs scans /proc cmdlines for rclone rcd processes serving addr.
func orphanPIDs(addr string, excludePID int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == os.Getpid() || pid == excludePID {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		argv := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
		if isEngineCommand(argv, addr) {
			pids = append(pids, pid)
		}
	}
	return pids
}

func isEngineCommand(argv []string, addr string) bool {
	if len(argv) < 2 {
		return false
	}
	if filepath.Base(argv[0]) != "rclone" || argv[1] != "rcd" {
		return false
	}
	for i, arg := range argv {
		if arg == "--rc-addr="+addr {
			return true
		}
		if arg == "--rc-addr" && i+1 < len(argv) && argv[i+1] == addr {
			return true
		}
	}
	return false
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// waitPortFree blocks until addr can be bound, confirming the kernel released
// the listener of a terminated process.
func waitPortFree(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			listener.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("port %s not released: %w", addr, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
