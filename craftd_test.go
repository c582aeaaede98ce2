package craftd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fakeServer = `#!/bin/sh
echo "hello from server"
while IFS= read -r line; do
  echo "> $line"
  [ "$line" = "stop" ] && exit 0
done
exit 0
`

func newManager(t *testing.T) *Manager {
	t.Helper()
	base := t.TempDir()

	bin := filepath.Join(base, "fake-java")
	if err := os.WriteFile(bin, []byte(fakeServer), 0o750); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}

	m, err := New(FileConfig{
		BaseDir:     filepath.Join(base, "servers"),
		ArtifactDir: filepath.Join(base, "artifacts"),
		JavaBin:     bin,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "artifacts", "server.jar"), []byte("jar"), 0o640); err != nil {
		t.Fatalf("seed jar: %v", err)
	}
	return m
}

func TestManagerRoundTrip(t *testing.T) {
	m := newManager(t)

	rec, err := m.Create(CreateRequest{Name: "round trip", Port: 25565, Jar: "server.jar"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	recs, err := m.List()
	if err != nil || len(recs) != 1 {
		t.Fatalf("List = %v, %v", recs, err)
	}

	pid, err := m.Start(rec.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pid <= 0 || !m.IsRunning(rec.ID) {
		t.Fatalf("pid = %d, running = %v", pid, m.IsRunning(rec.ID))
	}

	// Deleting a running instance is refused.
	if err := m.Delete(rec.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("Delete while running = %v, want ErrConflict", err)
	}

	if err := m.SendCommand(rec.ID, "say hi"); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	waitConsole(t, m, rec.ID, "> say hi")

	if err := m.Stop(rec.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitNotRunning(t, m, rec.ID)

	out, err := m.Console(rec.ID)
	if err != nil {
		t.Fatalf("Console failed: %v", err)
	}
	if !strings.Contains(out, "[process exited with code 0]") {
		t.Errorf("console missing exit trailer: %q", out)
	}

	st := m.Status(rec.ID)
	if st.Running || st.ExitCode == nil || *st.ExitCode != 0 {
		t.Errorf("Status after stop = %+v", st)
	}

	if err := m.Delete(rec.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestManagerShutdown(t *testing.T) {
	m := newManager(t)
	rec, err := m.Create(CreateRequest{Name: "shutdown", Port: 25565, Jar: "server.jar"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := m.Start(rec.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if m.IsRunning(rec.ID) {
		t.Error("instance still running after Shutdown")
	}
}

func TestManagerDefaultMemoryFromConfig(t *testing.T) {
	base := t.TempDir()
	m, err := New(FileConfig{
		BaseDir:       filepath.Join(base, "servers"),
		ArtifactDir:   filepath.Join(base, "artifacts"),
		DefaultMemory: "2G",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "artifacts", "server.jar"), []byte("jar"), 0o640); err != nil {
		t.Fatalf("seed jar: %v", err)
	}

	rec, err := m.Create(CreateRequest{Name: "mem", Port: 25565, Jar: "server.jar"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.MaxMemoryMB != 2048 {
		t.Errorf("MaxMemoryMB = %d, want 2048 from default_memory", rec.MaxMemoryMB)
	}

	if _, err := New(FileConfig{
		BaseDir:       filepath.Join(base, "servers2"),
		ArtifactDir:   filepath.Join(base, "artifacts"),
		DefaultMemory: "zonk",
	}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New with bad default_memory = %v, want ErrInvalidArgument", err)
	}
}

func TestManagerConsoleUnknown(t *testing.T) {
	m := newManager(t)
	if _, err := m.Console("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Console unknown = %v, want ErrNotFound", err)
	}
}

func waitNotRunning(t *testing.T, m *Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !m.IsRunning(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("instance %s still running after 5s", id)
}

func waitConsole(t *testing.T, m *Manager, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if out, err := m.Console(id); err == nil && strings.Contains(out, want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("console for %s never contained %q", id, want)
}
