// Package process launches and supervises the MCP server subprocess.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Bigsy/mcptap/internal/config"
	"github.com/Bigsy/mcptap/internal/events"
)

const (
	// GracefulShutdownTimeout is how long to wait for SIGTERM before SIGKILL.
	GracefulShutdownTimeout = 5 * time.Second

	// KillWaitTimeout is how long to wait for the process to die after SIGKILL.
	KillWaitTimeout = 2 * time.Second

	// maxStderrLines caps the stderr ring buffer.
	maxStderrLines = 1000
)

// ErrWaitTimeout is returned by Wait when the process does not exit in time.
var ErrWaitTimeout = errors.New("timed out waiting for process exit")

// LaunchError indicates the subprocess could not be started at all.
// No pipes or process handle exist when this is returned.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Proc is a handle to a running MCP server subprocess. It owns the process's
// stdin/stdout pipes and its exit state. All lifecycle signaling goes through
// this handle; nothing else may Wait on the underlying process.
type Proc struct {
	sessionID string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	bus       *events.Bus
	startedAt time.Time

	done     chan struct{} // closed when the process exits
	lastExit *events.LastExit

	logsMu sync.RWMutex
	logs   []string

	stopMu  sync.Mutex
	stopped bool // set once a deliberate stop began; crash vs stop in watch()
}

// Launch starts the configured command with its stdin/stdout wired as pipes
// and stderr drained into a ring buffer. The bus may be nil; sessionID tags
// events and log lines from this process.
func Launch(cfg config.ServerConfig, bus *events.Bus, sessionID string) (*Proc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: err}
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	cmd.Env = buildEnv(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Command: cfg.Command, Err: err}
	}

	p := &Proc{
		sessionID: sessionID,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		bus:       bus,
		startedAt: time.Now(),
		done:      make(chan struct{}),
		logs:      make([]string, 0, 64),
	}

	go p.readStderr(stderr)
	go p.watch()

	return p, nil
}

// PID returns the OS process id.
func (p *Proc) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stdin returns the write side of the child's stdin pipe.
func (p *Proc) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the read side of the child's stdout pipe.
func (p *Proc) Stdout() io.ReadCloser { return p.stdout }

// StartedAt returns when the process was started.
func (p *Proc) StartedAt() time.Time { return p.startedAt }

// Done returns a channel that is closed when the process exits.
func (p *Proc) Done() <-chan struct{} { return p.done }

// IsAlive reports whether the process has not yet exited.
func (p *Proc) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// LastExit returns how the process exited, or nil while it is still running.
func (p *Proc) LastExit() *events.LastExit {
	select {
	case <-p.done:
		return p.lastExit
	default:
		return nil
	}
}

// Logs returns a copy of the captured stderr lines.
func (p *Proc) Logs() []string {
	p.logsMu.RLock()
	defer p.logsMu.RUnlock()
	logs := make([]string, len(p.logs))
	copy(logs, p.logs)
	return logs
}

// Terminate sends SIGTERM. Safe to call on an already-exited process.
func (p *Proc) Terminate() error {
	p.markStopped()
	if !p.IsAlive() || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may have exited between the check and the signal.
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", p.PID(), err)
	}
	return nil
}

// Kill sends SIGKILL. Safe to call on an already-exited process.
func (p *Proc) Kill() error {
	p.markStopped()
	if !p.IsAlive() || p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGKILL); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("kill pid %d: %w", p.PID(), err)
	}
	return nil
}

// Wait blocks until the process exits or the timeout elapses. A timeout of
// zero or less waits indefinitely. Returns ErrWaitTimeout if the process is
// still alive when the timeout fires.
func (p *Proc) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		<-p.done
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

func (p *Proc) markStopped() {
	p.stopMu.Lock()
	p.stopped = true
	p.stopMu.Unlock()
}

// readStderr drains the child's stderr into the ring buffer and onto the bus.
func (p *Proc) readStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		p.logsMu.Lock()
		p.logs = append(p.logs, line)
		if len(p.logs) > maxStderrLines {
			p.logs = p.logs[len(p.logs)-maxStderrLines:]
		}
		p.logsMu.Unlock()

		if p.bus != nil {
			p.bus.Publish(events.NewLogReceivedEvent(p.sessionID, line))
		}
	}
}

// watch reaps the process and records its exit state.
func (p *Proc) watch() {
	err := p.cmd.Wait()

	exitCode := 0
	signal := ""
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
		if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
	}
	p.lastExit = &events.LastExit{Code: exitCode, Signal: signal, At: time.Now()}

	close(p.done)

	p.stopMu.Lock()
	wasStopped := p.stopped
	p.stopMu.Unlock()

	state := events.StateStopped
	if !wasStopped && (err != nil || exitCode != 0) {
		state = events.StateCrashed
	}
	if p.bus != nil {
		p.bus.Publish(events.NewStatusChangedEvent(p.sessionID, state, p.PID(), p.lastExit, ""))
	}
}

// buildEnv creates the subprocess environment: the inherited environment with
// PATH augmented and the overlay merged in, overlay winning on collision.
func buildEnv(overlay map[string]string) []string {
	env := os.Environ()

	// Augment PATH with common binary locations so servers installed via
	// homebrew or npm resolve even under a minimal launch environment.
	pathDirs := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
	}
	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			current := strings.TrimPrefix(e, "PATH=")
			env[i] = "PATH=" + strings.Join(pathDirs, ":") + ":" + current
			break
		}
	}

	for k, v := range overlay {
		found := false
		prefix := k + "="
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = k + "=" + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, k+"="+v)
		}
	}

	return env
}
