package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle phase of a live process handle.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Handle is the in-memory runtime side of one instance. It exists only
// between a successful spawn and the observed process exit, and is the
// sole owner of the child's stdin pipe and log file handle.
type Handle struct {
	mu        sync.Mutex
	id        string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	logFile   *os.File
	state     State
	startedAt time.Time
	done      chan struct{} // closed by the exit observer
}

// PID returns the OS process id of the child.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// WriteLine appends a newline to text and writes it to the child's
// input stream as a single write.
func (h *Handle) WriteLine(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return errors.New("input stream closed")
	}
	_, err := io.WriteString(h.stdin, text+"\n")
	return err
}

// SetState transitions the handle's lifecycle phase.
func (h *Handle) SetState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// CurrentState returns the lifecycle phase at the instant of the call.
func (h *Handle) CurrentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// Done is closed once the exit observer has reaped the child and
// released the handle's resources.
func (h *Handle) Done() <-chan struct{} { return h.done }

// closeResources releases the stdin pipe and log file. Called only by
// the exit observer after cmd.Wait returns.
func (h *Handle) closeResources() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin != nil {
		_ = h.stdin.Close()
		h.stdin = nil
	}
	if h.logFile != nil {
		_ = h.logFile.Close()
		h.logFile = nil
	}
}
