package supervisor

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/errdef"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/registry"
)

// fakeServerScript stands in for the java runtime: it ignores the heap
// and jar arguments, echoes every input line, and exits when it reads
// the graceful-stop line.
const fakeServerScript = `#!/bin/sh
echo "server starting"
while IFS= read -r line; do
  echo "got: $line"
  if [ "$line" = "stop" ]; then
    echo "server stopping"
    exit 0
  fi
done
exit 0
`

// deafServerScript never honors the stop line; it only dies when
// killed. Used to pin down the fire-and-forget stop contract.
const deafServerScript = `#!/bin/sh
echo "deaf server starting"
while IFS= read -r line; do
  echo "ignored: $line"
done
exit 0
`

type fixture struct {
	reg     *registry.Registry
	sup     *Supervisor
	jarPath string
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithScript(t, fakeServerScript)
}

func newFixtureWithScript(t *testing.T, script string) *fixture {
	t.Helper()
	base := t.TempDir()

	art, err := artifact.New(base + "/artifacts")
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	if _, err := art.Save("server.jar", strings.NewReader("fake-jar")); err != nil {
		t.Fatalf("save jar: %v", err)
	}

	reg, err := registry.New(base+"/servers", art)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	bin := base + "/fake-java"
	if err := os.WriteFile(bin, []byte(script), 0o750); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}

	return &fixture{reg: reg, sup: New(reg, art, bin), jarPath: base + "/artifacts/server.jar"}
}

func (f *fixture) create(t *testing.T, name string) registry.Record {
	t.Helper()
	rec, err := f.reg.Create(registry.CreateRequest{Name: name, Port: 25565, Jar: "server.jar"})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return rec
}

func waitStopped(t *testing.T, s *Supervisor, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !s.IsRunning(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("instance %s still running after 5s", id)
}

func waitLogContains(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := os.ReadFile(path) // #nosec G304
		if err == nil && strings.Contains(string(b), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("log %s never contained %q", path, want)
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "lifecycle")

	pid, err := f.sup.Start(rec.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("Start returned pid %d", pid)
	}
	if !f.sup.IsRunning(rec.ID) {
		t.Fatal("IsRunning = false after Start")
	}

	st := f.sup.Status(rec.ID)
	if !st.Running || st.State != StateRunning || st.PID != pid {
		t.Errorf("Status = %+v", st)
	}
	if st.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}

	// Stop returns immediately; the exit is observed asynchronously.
	if err := f.sup.Stop(rec.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitStopped(t, f.sup, rec.ID)

	logPath := ConsoleLogPath(rec.Dir)
	waitLogContains(t, logPath, "[process exited with code 0]")
	waitLogContains(t, logPath, "server stopping")

	st = f.sup.Status(rec.ID)
	if st.Running || st.State != StateStopped {
		t.Errorf("Status after exit = %+v", st)
	}
	if st.ExitCode == nil || *st.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", st.ExitCode)
	}
}

func TestStartUnknownInstance(t *testing.T) {
	f := newFixture(t)
	if _, err := f.sup.Start("nope"); !errors.Is(err, errdef.ErrNotFound) {
		t.Errorf("Start unknown = %v, want not found", err)
	}
}

func TestStartJarMissingOnDisk(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "no-jar")

	// The jar vanishes between create and start.
	if err := os.Remove(f.jarPath); err != nil {
		t.Fatalf("remove jar: %v", err)
	}
	if _, err := f.sup.Start(rec.ID); !errors.Is(err, errdef.ErrInvalidState) {
		t.Errorf("Start without jar = %v, want invalid state", err)
	}
}

func TestDoubleStartConflict(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "dup")

	if _, err := f.sup.Start(rec.ID); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if _, err := f.sup.Start(rec.ID); !errors.Is(err, errdef.ErrConflict) {
		t.Errorf("second Start = %v, want conflict", err)
	}

	_ = f.sup.Stop(rec.ID)
	waitStopped(t, f.sup, rec.ID)
}

func TestConcurrentStartOneWins(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "race")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.sup.Start(rec.ID)
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errdef.ErrConflict):
			conflict++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflict != n-1 {
		t.Errorf("successes = %d, conflicts = %d, want 1 and %d", ok, conflict, n-1)
	}

	_ = f.sup.Stop(rec.ID)
	waitStopped(t, f.sup, rec.ID)
}

func TestStopIsFireAndForget(t *testing.T) {
	f := newFixtureWithScript(t, deafServerScript)
	rec := f.create(t, "deaf")

	if _, err := f.sup.Start(rec.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Stop returns immediately even though the child never obeys.
	began := time.Now()
	if err := f.sup.Stop(rec.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Fatalf("Stop blocked for %v", elapsed)
	}

	// The line was delivered but ignored; no timeout or kill escalation
	// happens, so the child stays live indefinitely.
	waitLogContains(t, ConsoleLogPath(rec.Dir), "ignored: stop")
	time.Sleep(300 * time.Millisecond)
	if !f.sup.IsRunning(rec.ID) {
		t.Fatal("child reaped after ignored stop; expected it to keep running")
	}
	st := f.sup.Status(rec.ID)
	if !st.Running || st.State != StateStopping {
		t.Errorf("Status after ignored stop = %+v", st)
	}

	// Only an explicit kill takes it down.
	if err := f.sup.Kill(rec.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	waitStopped(t, f.sup, rec.ID)
}

func TestStopAndKillRequireRunning(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "idle")

	if err := f.sup.Stop(rec.ID); !errors.Is(err, errdef.ErrInvalidState) {
		t.Errorf("Stop idle = %v, want invalid state", err)
	}
	if err := f.sup.Kill(rec.ID); !errors.Is(err, errdef.ErrInvalidState) {
		t.Errorf("Kill idle = %v, want invalid state", err)
	}
}

func TestSendCommand(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "cmd")

	if err := f.sup.SendCommand(rec.ID, "say hi"); !errors.Is(err, errdef.ErrInvalidState) {
		t.Errorf("SendCommand while stopped = %v, want invalid state", err)
	}

	if _, err := f.sup.Start(rec.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := f.sup.SendCommand(rec.ID, "   "); !errors.Is(err, errdef.ErrInvalidArgument) {
		t.Errorf("SendCommand blank = %v, want invalid argument", err)
	}
	if err := f.sup.SendCommand(rec.ID, "say hi"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	waitLogContains(t, ConsoleLogPath(rec.Dir), "got: say hi")

	_ = f.sup.Stop(rec.ID)
	waitStopped(t, f.sup, rec.ID)
}

func TestKill(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, "killed")

	if _, err := f.sup.Start(rec.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.sup.Kill(rec.ID); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	waitStopped(t, f.sup, rec.ID)

	st := f.sup.Status(rec.ID)
	if st.ExitCode == nil || *st.ExitCode == 0 {
		t.Errorf("ExitCode after kill = %v, want non-zero", st.ExitCode)
	}
}

func TestRunning(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "one")
	b := f.create(t, "two")

	for _, rec := range []registry.Record{a, b} {
		if _, err := f.sup.Start(rec.ID); err != nil {
			t.Fatalf("Start %s failed: %v", rec.ID, err)
		}
	}
	ids := f.sup.Running()
	if len(ids) != 2 {
		t.Errorf("Running = %v, want 2 ids", ids)
	}

	_ = f.sup.Stop(a.ID)
	_ = f.sup.Stop(b.ID)
	waitStopped(t, f.sup, a.ID)
	waitStopped(t, f.sup, b.ID)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "sd-one")
	b := f.create(t, "sd-two")

	for _, rec := range []registry.Record{a, b} {
		if _, err := f.sup.Start(rec.ID); err != nil {
			t.Fatalf("Start %s failed: %v", rec.ID, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if f.sup.IsRunning(a.ID) || f.sup.IsRunning(b.ID) {
		t.Error("instances still running after Shutdown")
	}
}

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) snapshot() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}

func TestHistoryEventsRecorded(t *testing.T) {
	f := newFixture(t)
	sink := &memorySink{}
	f.sup.SetHistorySink(sink)
	rec := f.create(t, "hist")

	if _, err := f.sup.Start(rec.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_ = f.sup.Stop(rec.ID)
	waitStopped(t, f.sup, rec.ID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.snapshot()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(events))
	}
	if events[0].Type != history.EventStart || events[0].InstanceID != rec.ID || events[0].PID <= 0 {
		t.Errorf("start event = %+v", events[0])
	}
	if events[1].Type != history.EventExit || events[1].ExitCode != 0 {
		t.Errorf("exit event = %+v", events[1])
	}
}
