package process

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"syscall"
)

const pidsFile = "pids.json"

// PIDTracker records launched server PIDs on disk so orphans left behind by
// a crashed run can be detected and killed on the next startup.
type PIDTracker struct {
	path string
	pids map[string]int // sessionID -> PID
}

// NewPIDTracker creates a tracker backed by ~/.config/mcptap/pids.json.
func NewPIDTracker() (*PIDTracker, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	pt := &PIDTracker{
		path: filepath.Join(home, ".config", "mcptap", pidsFile),
		pids: make(map[string]int),
	}
	pt.load()
	return pt, nil
}

func (pt *PIDTracker) load() {
	data, err := os.ReadFile(pt.path)
	if err != nil {
		// Missing or unreadable file means a fresh start.
		return
	}
	if err := json.Unmarshal(data, &pt.pids); err != nil {
		log.Printf("failed to parse PID file: %v", err)
		pt.pids = make(map[string]int)
	}
}

func (pt *PIDTracker) save() error {
	if err := os.MkdirAll(filepath.Dir(pt.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pt.pids, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(pt.path, data, 0600)
}

// Add tracks the PID of a newly launched session.
func (pt *PIDTracker) Add(sessionID string, pid int) error {
	pt.pids[sessionID] = pid
	return pt.save()
}

// Remove stops tracking a session's PID.
func (pt *PIDTracker) Remove(sessionID string) error {
	delete(pt.pids, sessionID)
	return pt.save()
}

// CleanupOrphans terminates any tracked processes that are still running.
// Returns the number of orphans signaled.
func (pt *PIDTracker) CleanupOrphans() int {
	killed := 0

	for sessionID, pid := range pt.pids {
		if isProcessRunning(pid) {
			log.Printf("found orphan process: session=%s pid=%d, terminating", sessionID, pid)
			if err := killProcess(pid); err != nil {
				log.Printf("failed to kill orphan pid=%d: %v", pid, err)
			} else {
				killed++
			}
		}
		delete(pt.pids, sessionID)
	}

	if err := pt.save(); err != nil {
		log.Printf("failed to save PID file after cleanup: %v", err)
	}

	return killed
}

// isProcessRunning checks for process existence with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// killProcess sends SIGTERM without waiting; orphan cleanup runs at startup
// and must not block.
func killProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}
	return nil
}
