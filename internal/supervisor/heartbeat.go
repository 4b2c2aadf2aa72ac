// Package supervisor implements worker liveness: the heartbeat files each kit
// touches on every log event, and the warden-side probe that detects stale
// heartbeats and signals the stalled worker.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Heartbeat is one worker's progress indicator: a file whose modification
// time is the last observable progress and whose content is the worker's pid.
type Heartbeat struct {
	dir     string
	agentID string
}

// NewHeartbeat returns the heartbeat for agentID under dir.
func NewHeartbeat(dir, agentID string) *Heartbeat {
	return &Heartbeat{dir: dir, agentID: agentID}
}

// Path returns the heartbeat file location.
func (h *Heartbeat) Path() string {
	return filepath.Join(h.dir, h.agentID)
}

// Touch atomically refreshes the heartbeat. The file is written to a temp
// name, synced, and renamed into place so the probe never reads a torn write.
func (h *Heartbeat) Touch() error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create heartbeat directory: %w", err)
	}

	tmp, err := os.CreateTemp(h.dir, "."+h.agentID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create heartbeat temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := fmt.Fprintf(tmp, "%d\n", os.Getpid())
	serr := tmp.Sync()
	cerr := tmp.Close()
	for _, err := range []error{werr, serr, cerr} {
		if err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("failed to write heartbeat: %w", err)
		}
	}

	if err := os.Rename(tmpName, h.Path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish heartbeat: %w", err)
	}
	return nil
}

// Remove deletes the heartbeat file, for graceful worker shutdown.
func (h *Heartbeat) Remove() error {
	err := os.Remove(h.Path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove heartbeat: %w", err)
	}
	return nil
}

// Status is one worker's heartbeat as the probe sees it.
type Status struct {
	AgentID string
	PID     int
	Age     time.Duration
}

// Scan reads every heartbeat under dir. A missing directory means no workers
// have started yet, which is not an error.
func Scan(dir string, now time.Time) ([]Status, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat directory: %w", err)
	}

	var statuses []Status
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat heartbeat %s: %w", entry.Name(), err)
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read heartbeat %s: %w", entry.Name(), err)
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
		if err != nil {
			// A heartbeat without a parseable pid can still report staleness.
			pid = 0
		}
		statuses = append(statuses, Status{
			AgentID: entry.Name(),
			PID:     pid,
			Age:     now.Sub(info.ModTime()),
		})
	}
	return statuses, nil
}
