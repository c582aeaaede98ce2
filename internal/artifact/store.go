package artifact

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loykin/craftd/internal/errdef"
)

// Store holds uploaded server jars in a flat directory. References are
// bare filenames; they are sanitized before ever being used as a path
// component so an upload name cannot escape the directory.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errdef.IOf("create artifact dir: %v", err)
	}
	return &Store{dir: dir}, nil
}

// Resolve returns the absolute path for ref, failing when the artifact
// is not present on disk.
func (s *Store) Resolve(ref string) (string, error) {
	name, ok := SafeName(ref)
	if !ok {
		return "", errdef.InvalidArgumentf("artifact name %q", ref)
	}
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", errdef.NotFoundf("artifact %s", name)
		}
		return "", errdef.IOf("stat artifact: %v", err)
	}
	return p, nil
}

// Save stores the content under the sanitized name, replacing any
// previous artifact of the same name.
func (s *Store) Save(ref string, content io.Reader) (string, error) {
	name, ok := SafeName(ref)
	if !ok {
		return "", errdef.InvalidArgumentf("artifact name %q", ref)
	}
	f, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", errdef.IOf("save artifact: %v", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", errdef.IOf("save artifact: %v", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", errdef.IOf("save artifact: %v", err)
	}
	if err := os.Rename(f.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(f.Name())
		return "", errdef.IOf("save artifact: %v", err)
	}
	return name, nil
}

// List returns the stored artifact names, sorted.
func (s *Store) List() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errdef.IOf("list artifacts: %v", err)
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// SafeName reduces ref to its base name and validates it against the
// allowed character set [A-Za-z0-9._-] with no ".." sequence.
func SafeName(ref string) (string, bool) {
	name := filepath.Base(strings.TrimSpace(ref))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", false
	}
	if strings.Contains(name, "..") {
		return "", false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return "", false
	}
	return name, true
}
