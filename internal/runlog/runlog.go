// Package runlog writes the per-manifest append-only text log of execution events.
package runlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stageline/internal/domain"
)

// TimeLayout renders UTC timestamps with microseconds and a trailing Z.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// PathFor names the log for a manifest: <jobsDir>/<manifest base name>.log.
func PathFor(jobsDir, manifestPath string) string {
	return filepath.Join(jobsDir, filepath.Base(manifestPath)+".log")
}

// Format renders one event as a log line without the trailing newline.
func Format(evt domain.ExecutionEvent) string {
	line := fmt.Sprintf("[%s] %s %s", evt.TS.UTC().Format(TimeLayout), evt.Phase, evt.Task)
	switch {
	case evt.Phase == domain.PhaseStart && evt.Agent != "":
		line += " by " + evt.Agent
	case evt.Status != "":
		line += " " + evt.Status
	}
	return line
}

type Log struct {
	f *os.File
}

// Open creates the log directory if needed and opens path for appending.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlog: ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	return &Log{f: f}, nil
}

// Append writes one line and syncs it so the log survives a crash of the run.
func (l *Log) Append(evt domain.ExecutionEvent) error {
	if _, err := l.f.WriteString(Format(evt) + "\n"); err != nil {
		return fmt.Errorf("runlog: write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("runlog: sync: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	return l.f.Close()
}

// Tail returns the last n lines of the log at path. n <= 0 returns every line.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("runlog: read: %w", err)
	}
	return lines, nil
}
