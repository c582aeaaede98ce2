package console

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "console.log")
	if err := os.WriteFile(p, []byte(content), 0o640); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return p
}

func TestTailMissingFile(t *testing.T) {
	got, err := Tail(filepath.Join(t.TempDir(), "console.log"))
	if err != nil {
		t.Fatalf("Tail on missing file failed: %v", err)
	}
	if got != "" {
		t.Errorf("Tail = %q, want empty", got)
	}
}

func TestTailSmallFile(t *testing.T) {
	p := writeLog(t, "one\ntwo\nthree\n")
	got, err := Tail(p)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if got != "one\ntwo\nthree" {
		t.Errorf("Tail = %q", got)
	}
}

func TestTailLineBound(t *testing.T) {
	var b strings.Builder
	total := MaxTailLines + 1000
	for i := 0; i < total; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	got, err := Tail(writeLog(t, b.String()))
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != MaxTailLines {
		t.Fatalf("got %d lines, want %d", len(lines), MaxTailLines)
	}
	if want := fmt.Sprintf("line %d", total-MaxTailLines); lines[0] != want {
		t.Errorf("first line = %q, want %q", lines[0], want)
	}
	if want := fmt.Sprintf("line %d", total-1); lines[len(lines)-1] != want {
		t.Errorf("last line = %q, want %q", lines[len(lines)-1], want)
	}
}

func TestTailByteBound(t *testing.T) {
	// Few lines, each far larger than the byte budget allows in full.
	line := strings.Repeat("x", MaxTailBytes/2)
	content := "first-" + line + "\n" + "second-" + line + "\n" + "third-" + line + "\n"
	got, err := Tail(writeLog(t, content))
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(got) > MaxTailBytes {
		t.Fatalf("returned %d bytes, budget %d", len(got), MaxTailBytes)
	}
	// The partial line introduced by the byte cut is dropped.
	if !strings.HasPrefix(got, "third-") {
		t.Errorf("tail does not start on a line boundary: %.40q", got)
	}
}

func TestTailEmptyFile(t *testing.T) {
	got, err := Tail(writeLog(t, ""))
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if got != "" {
		t.Errorf("Tail = %q, want empty", got)
	}
}
