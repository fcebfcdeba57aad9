package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Log sources accepted by Path.
const (
	SourceCoordinator = "coordinator"
	SourceWorker      = "worker"
	SourceTask        = "task"
)

const defaultPoll = 250 * time.Millisecond

// TaskFile is the per-task log file name inside the tasks directory.
func TaskFile(taskID int64) string {
	return fmt.Sprintf("task-%d.log", taskID)
}

// Path resolves the log file for source inside logDir. taskID is only used
// for SourceTask.
func Path(logDir, source string, taskID int64) (string, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case SourceCoordinator, "":
		return filepath.Join(logDir, "coordinator.log"), nil
	case SourceWorker:
		return filepath.Join(logDir, "worker.log"), nil
	case SourceTask:
		if taskID <= 0 {
			return "", fmt.Errorf("task log requires a task id")
		}
		return filepath.Join(logDir, "tasks", TaskFile(taskID)), nil
	default:
		return "", fmt.Errorf("unknown log source %q (use coordinator, worker, or task)", source)
	}
}

// TailOptions controls Tail.
type TailOptions struct {
	// Lines is how many trailing lines to print first. Zero prints none.
	Lines int
	// Follow keeps streaming appended lines until ctx ends.
	Follow bool
	// Poll is the follow-mode check interval. Defaults to 250ms.
	Poll time.Duration
}

// Tail writes the last opts.Lines lines of path to w. A missing file is not
// an error; in follow mode Tail waits for it to appear. A file that shrinks
// is read again from the start.
func Tail(ctx context.Context, path string, w io.Writer, opts TailOptions) error {
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}

	offset, err := writeLastLines(path, w, opts.Lines)
	if err != nil {
		return err
	}
	if !opts.Follow {
		return nil
	}

	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		offset, err = copyFrom(path, offset, w)
		if err != nil {
			return err
		}
	}
}

func writeLastLines(path string, w io.Writer, limit int) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return info.Size(), nil
	}

	scanner := newScanner(file)
	ring := make([]string, limit)
	count := 0
	for scanner.Scan() {
		ring[count%limit] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read log file: %w", err)
	}

	start := 0
	if count > limit {
		start = count - limit
	}
	for i := start; i < count; i++ {
		if _, err := fmt.Fprintln(w, ring[i%limit]); err != nil {
			return 0, err
		}
	}

	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("determine log offset: %w", err)
	}
	return offset, nil
}

// copyFrom writes complete lines appended after offset and returns the new
// offset. A trailing partial line is left for the next call.
func copyFrom(path string, offset int64, w io.Writer) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return offset, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read log file: %w", err)
		}
		if _, err := io.WriteString(w, line); err != nil {
			return offset, err
		}
		offset += int64(len(line))
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
