package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/craftd/internal/errdef"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/registry"
)

// GracefulStopLine is written to a child's input stream to request an
// orderly shutdown. Completion is never confirmed; callers poll
// IsRunning.
const GracefulStopLine = "stop"

// ConsoleLogName is the per-instance append-only log file, created
// lazily at first start.
const ConsoleLogName = "console.log"

// ConsoleLogPath returns the console log location inside an instance
// directory.
func ConsoleLogPath(dir string) string { return filepath.Join(dir, ConsoleLogName) }

// Supervisor owns the live mapping of instance id to running process.
// It is the only component holding OS-level resources; the registry it
// consults is pure metadata. All map accesses go through mu because
// starts, commands, and exit observers run on parallel goroutines.
type Supervisor struct {
	mu       sync.Mutex
	live     map[string]*Handle
	lastExit map[string]int

	reg      *registry.Registry
	resolver registry.JarResolver
	javaBin  string
	sink     history.Sink
}

// Status is a point-in-time snapshot of one instance's runtime state.
// It is inherently racy with concurrent start/exit and must be treated
// as a snapshot, not a guarantee.
type Status struct {
	ID        string    `json:"id"`
	Running   bool      `json:"running"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

func New(reg *registry.Registry, resolver registry.JarResolver, javaBin string) *Supervisor {
	if javaBin == "" {
		javaBin = DefaultJavaBin
	}
	return &Supervisor{
		live:     make(map[string]*Handle),
		lastExit: make(map[string]int),
		reg:      reg,
		resolver: resolver,
		javaBin:  javaBin,
	}
}

// SetHistorySink configures an optional lifecycle event sink.
func (s *Supervisor) SetHistorySink(sink history.Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Start spawns the instance's process. It returns as soon as the spawn
// succeeds with the child's PID; no readiness probing is performed. The
// live mapping is inserted under the same lock as the duplicate check,
// so concurrent starts for one id cannot both succeed.
func (s *Supervisor) Start(id string) (int, error) {
	rec, err := s.reg.Get(id)
	if err != nil {
		return 0, err
	}
	jarPath, err := s.resolver.Resolve(rec.Jar)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return 0, errdef.InvalidStatef("instance %s: jar %s missing on disk", id, rec.Jar)
		}
		return 0, err
	}

	s.mu.Lock()
	if _, ok := s.live[id]; ok {
		s.mu.Unlock()
		return 0, errdef.Conflictf("instance %s already running", id)
	}

	cmd := exec.Command(s.javaBin, launchArgs(rec.MaxMemoryMB, jarPath)...) // #nosec G204
	cmd.Dir = rec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return 0, errdef.IOf("stdin pipe: %v", err)
	}
	logFile, err := os.OpenFile(ConsoleLogPath(rec.Dir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304
	if err != nil {
		s.mu.Unlock()
		_ = stdin.Close()
		return 0, errdef.IOf("open console log: %v", err)
	}
	// Both streams append in arrival order. Interleaving may not match
	// the child's emission order; acceptable for a debug log.
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		_ = stdin.Close()
		_ = logFile.Close()
		return 0, errdef.IOf("spawn %s: %v", s.javaBin, err)
	}

	h := &Handle{
		id:        id,
		cmd:       cmd,
		stdin:     stdin,
		logFile:   logFile,
		state:     StateRunning,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	s.live[id] = h
	running := len(s.live)
	s.mu.Unlock()
	go s.observeExit(h)

	metrics.IncStart(id)
	metrics.SetRunning(running)
	s.record(history.EventStart, id, cmd.Process.Pid, 0)
	slog.Info("instance started", "id", id, "pid", cmd.Process.Pid)
	return cmd.Process.Pid, nil
}

// observeExit reaps the child, appends the exit trailer to the log,
// and clears the live mapping. This is the only place the mapping is
// removed, possibly long after Stop returned.
func (s *Supervisor) observeExit(h *Handle) {
	err := h.cmd.Wait()
	code := h.cmd.ProcessState.ExitCode()

	h.mu.Lock()
	if h.logFile != nil {
		_, _ = fmt.Fprintf(h.logFile, "[process exited with code %d]\n", code)
	}
	h.mu.Unlock()
	h.closeResources()

	s.mu.Lock()
	delete(s.live, h.id)
	s.lastExit[h.id] = code
	running := len(s.live)
	s.mu.Unlock()
	close(h.done)

	metrics.IncExit(h.id)
	metrics.SetRunning(running)
	s.record(history.EventExit, h.id, h.PID(), code)
	slog.Info("instance exited", "id", h.id, "pid", h.PID(), "code", code, "wait_err", err)
}

// Stop writes the graceful-stop line to the child and returns without
// waiting for the exit. There is no timeout and no escalation; a child
// that ignores the line stays running until killed explicitly.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	h, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return errdef.InvalidStatef("instance %s is not running", id)
	}
	h.SetState(StateStopping)
	if err := h.WriteLine(GracefulStopLine); err != nil {
		return errdef.IOf("write stop to instance %s: %v", id, err)
	}
	metrics.IncStop(id)
	return nil
}

// Kill force-terminates the child's process group. The live mapping is
// still cleared by the exit observer, not here.
func (s *Supervisor) Kill(id string) error {
	s.mu.Lock()
	h, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return errdef.InvalidStatef("instance %s is not running", id)
	}
	h.SetState(StateStopping)
	if err := syscall.Kill(-h.PID(), syscall.SIGKILL); err != nil {
		return errdef.IOf("kill instance %s: %v", id, err)
	}
	return nil
}

// SendCommand writes one operator command line to the child's input
// stream. The text is trimmed and newline-terminated; the write may
// race a concurrent exit, which surfaces as an IO error rather than
// being prevented.
func (s *Supervisor) SendCommand(id, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errdef.InvalidArgumentf("empty command")
	}
	s.mu.Lock()
	h, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return errdef.InvalidStatef("instance %s is not running", id)
	}
	if err := h.WriteLine(trimmed); err != nil {
		return errdef.IOf("write command to instance %s: %v", id, err)
	}
	metrics.IncCommand(id)
	return nil
}

// IsRunning reports whether id has a live mapping at the instant of the
// call.
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

// Status snapshots the runtime state of one instance, including the
// exit code of the last observed run when stopped.
func (s *Supervisor) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.live[id]; ok {
		return Status{
			ID:        id,
			Running:   true,
			State:     h.CurrentState(),
			PID:       h.PID(),
			StartedAt: h.StartedAt(),
		}
	}
	st := Status{ID: id, State: StateStopped}
	if code, ok := s.lastExit[id]; ok {
		c := code
		st.ExitCode = &c
	}
	return st
}

// Running returns the ids with a live mapping.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown writes the graceful-stop line to every live child in
// parallel and waits for their exit observers until ctx expires.
// Children ignoring the line are left running; the caller decides
// whether to escalate.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.live))
	for _, h := range s.live {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			h.SetState(StateStopping)
			if err := h.WriteLine(GracefulStopLine); err != nil {
				return nil // already exiting; observer handles cleanup
			}
			select {
			case <-h.Done():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

func (s *Supervisor) record(typ history.EventType, id string, pid, code int) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	evt := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		InstanceID: id,
		PID:        pid,
		ExitCode:   code,
	}
	if err := sink.Send(context.Background(), evt); err != nil {
		slog.Warn("history sink send failed", "id", id, "error", err)
	}
}
