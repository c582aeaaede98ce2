package console

import (
	"bytes"
	"io"
	"os"

	"github.com/loykin/craftd/internal/errdef"
)

const (
	// MaxTailBytes bounds how much of the log file is read.
	MaxTailBytes = 1 << 20
	// MaxTailLines bounds how many lines are returned.
	MaxTailLines = 2000
)

// Tail reads at most the final MaxTailBytes of the file at path and
// returns at most the final MaxTailLines lines joined by newlines. A
// missing file yields empty content, not an error: the log is created
// lazily at first start.
func Tail(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errdef.IOf("open log: %v", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", errdef.IOf("stat log: %v", err)
	}
	size := info.Size()
	offset := int64(0)
	if size > MaxTailBytes {
		offset = size - MaxTailBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", errdef.IOf("seek log: %v", err)
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", errdef.IOf("read log: %v", err)
	}
	if offset > 0 {
		// Drop the partial first line introduced by the byte cut.
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			b = b[i+1:]
		}
	}
	b = bytes.TrimSuffix(b, []byte("\n"))
	if len(b) == 0 {
		return "", nil
	}
	lines := bytes.Split(b, []byte("\n"))
	if len(lines) > MaxTailLines {
		lines = lines[len(lines)-MaxTailLines:]
	}
	return string(bytes.Join(lines, []byte("\n"))), nil
}
