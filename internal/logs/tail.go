package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	// followPollInterval is how often follow mode re-checks the file for
	// appended lines between the caller's Wait bounds.
	followPollInterval = 250 * time.Millisecond
	// maxLineBytes bounds a single log line; slog output stays far below it.
	maxLineBytes = 1 << 20
)

// TailOptions selects what one Tail call reads from the daemon log.
// Offset -1 asks for the trailing Limit lines; a non-negative Offset resumes
// a previous read from that byte position, which is how follow mode pages
// through the file across IPC round trips.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads the rchubd log at path. A missing file is not an error: the
// daemon creates its log lazily, so an empty result with offset 0 is
// returned, and follow mode keeps polling until the file shows up or Wait
// elapses. When Follow is set and no new lines are available yet, the call
// blocks server-side up to Wait so the CLI does not busy-poll the socket.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	var (
		lines []string
		next  int64
		err   error
	)
	if opts.Offset < 0 {
		lines, next, err = trailingLines(path, opts.Limit)
	} else {
		lines, next, err = linesFrom(path, opts.Offset)
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}
	if opts.Follow && len(lines) == 0 {
		return awaitLines(ctx, path, next, opts.Wait)
	}
	return TailResult{Lines: lines, Offset: next}, nil
}

// trailingLines returns up to limit lines from the end of the file along
// with the end-of-file offset follow mode should resume from.
func trailingLines(path string, limit int) ([]string, int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek %s: %w", path, err)
		}
		return nil, end, nil
	}

	ring := make([]string, limit)
	total := 0
	scanner := newLineScanner(file)
	for scanner.Scan() {
		ring[total%limit] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seek %s: %w", path, err)
	}

	count := total
	if count > limit {
		count = limit
	}
	lines := make([]string, 0, count)
	for i := total - count; i < total; i++ {
		lines = append(lines, ring[i%limit])
	}
	return lines, end, nil
}

// linesFrom returns the lines appended since offset and the new resume
// offset. Offsets past the current size mean the file was rotated or
// truncated underneath us; reading restarts from the end rather than
// replaying the whole file at the caller.
func linesFrom(path string, offset int64) ([]string, int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if offset > info.Size() {
		offset = info.Size()
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek %s: %w", path, err)
	}

	var lines []string
	scanner := newLineScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	next, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("seek %s: %w", path, err)
	}
	return lines, next, nil
}

// awaitLines polls for appended lines until something arrives, wait elapses,
// or ctx is cancelled. The offset in the result always reflects the latest
// observed position so the next call never re-reads.
func awaitLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	if wait < 0 {
		wait = 0
	}
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		lines, next, err := linesFrom(path, offset)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		if len(lines) > 0 {
			return TailResult{Lines: lines, Offset: next}, nil
		}
		offset = next
		if !time.Now().Before(deadline) {
			return TailResult{Offset: offset}, nil
		}
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// openLog opens the log for reading. A missing file yields (nil, nil) so
// callers treat it as an empty log; anything else that is not a regular
// readable file is an error.
func openLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory, not a log file", path)
	}
	return file, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}
