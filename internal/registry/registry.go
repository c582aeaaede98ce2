package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/loykin/craftd/internal/errdef"
)

// LiveGuard reports whether an instance currently has a live process.
// Delete consults it so a record is never removed underneath a running
// child; the supervisor implements it.
type LiveGuard interface {
	IsRunning(id string) bool
}

// JarResolver maps an artifact reference to an absolute path, failing
// when the artifact does not exist.
type JarResolver interface {
	Resolve(ref string) (string, error)
}

// CreateRequest carries the caller-supplied fields for a new instance.
type CreateRequest struct {
	Name        string
	Port        int
	MaxMemoryMB int
	Jar         string
}

// Registry is the durable id -> record mapping. The whole document is
// read and rewritten on every access: O(n) per mutation, acceptable at
// tens of instances. Writes go through a temp file and atomic rename so
// a crash mid-write cannot truncate the document. An flock guards the
// document against concurrent manager processes; mu guards the
// check-then-act sequences within this process.
type Registry struct {
	mu           sync.Mutex
	baseDir      string
	path         string
	flk          *flock.Flock
	resolver     JarResolver
	defaultMemMB int
}

const documentName = "instances.json"

// New creates a Registry rooted at baseDir, creating the directory if
// needed. Instance directories are allocated under baseDir.
func New(baseDir string, resolver JarResolver) (*Registry, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &Registry{
		baseDir:      baseDir,
		path:         filepath.Join(baseDir, documentName),
		flk:          flock.New(filepath.Join(baseDir, documentName+".lock")),
		resolver:     resolver,
		defaultMemMB: DefaultMaxMemoryMB,
	}, nil
}

// SetDefaultMemoryMB overrides the memory limit applied when create
// requests omit one.
func (r *Registry) SetDefaultMemoryMB(mb int) {
	if mb > 0 {
		r.mu.Lock()
		r.defaultMemMB = mb
		r.mu.Unlock()
	}
}

// List returns all records in insertion order.
func (r *Registry) List() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flk.Lock(); err != nil {
		return nil, errdef.IOf("lock registry: %v", err)
	}
	defer func() { _ = r.flk.Unlock() }()
	return r.load(), nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (Record, error) {
	recs, err := r.List()
	if err != nil {
		return Record{}, err
	}
	for _, rec := range recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, errdef.NotFoundf("instance %s", id)
}

// Create validates the request, allocates an id and directory, writes
// the default config files, and appends the record to the document.
func (r *Registry) Create(req CreateRequest) (Record, error) {
	if req.Name == "" {
		return Record{}, errdef.InvalidArgumentf("name is required")
	}
	if req.Port <= 0 || req.Port > 65535 {
		return Record{}, errdef.InvalidArgumentf("port must be in 1..65535, got %d", req.Port)
	}
	if req.Jar == "" {
		return Record{}, errdef.InvalidArgumentf("jar is required")
	}
	if _, err := r.resolver.Resolve(req.Jar); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.MaxMemoryMB <= 0 {
		req.MaxMemoryMB = r.defaultMemMB
	}
	if err := r.flk.Lock(); err != nil {
		return Record{}, errdef.IOf("lock registry: %v", err)
	}
	defer func() { _ = r.flk.Unlock() }()

	rec := Record{
		ID:          newID(req.Name),
		Name:        req.Name,
		Port:        req.Port,
		MaxMemoryMB: req.MaxMemoryMB,
		Jar:         req.Jar,
	}
	rec.Dir = filepath.Join(r.baseDir, rec.ID)
	if err := os.MkdirAll(rec.Dir, 0o750); err != nil {
		return Record{}, errdef.IOf("create instance dir: %v", err)
	}
	if err := writeDefaultFiles(rec); err != nil {
		_ = os.RemoveAll(rec.Dir)
		return Record{}, err
	}

	recs := r.load()
	recs = append(recs, rec)
	if err := r.save(recs); err != nil {
		_ = os.RemoveAll(rec.Dir)
		return Record{}, err
	}
	return rec, nil
}

// Delete removes the record and its directory. It refuses while live
// reports a running process for id; record and directory go together.
// The liveness check runs under the registry lock, but a Start already
// past its registry read can still slip in before the removal; that
// residual window is accepted, matching the stop/exit race.
func (r *Registry) Delete(id string, live LiveGuard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flk.Lock(); err != nil {
		return errdef.IOf("lock registry: %v", err)
	}
	defer func() { _ = r.flk.Unlock() }()

	if live != nil && live.IsRunning(id) {
		return errdef.Conflictf("instance %s has a running process", id)
	}

	recs := r.load()
	idx := -1
	for i, rec := range recs {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errdef.NotFoundf("instance %s", id)
	}
	if err := os.RemoveAll(recs[idx].Dir); err != nil {
		return errdef.IOf("remove instance dir: %v", err)
	}
	recs = append(recs[:idx], recs[idx+1:]...)
	return r.save(recs)
}

// load reads the whole document. A missing file is an empty registry; an
// unparseable file is also treated as empty with a warning. That keeps
// the manager available after corruption at the cost of dropping the
// stored records, a tradeoff inherited from the original document format.
func (r *Registry) load() []Record {
	b, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("registry read failed, starting empty", "path", r.path, "error", err)
		}
		return nil
	}
	var recs []Record
	if err := json.Unmarshal(b, &recs); err != nil {
		slog.Warn("registry document unparseable, starting empty", "path", r.path, "error", err)
		return nil
	}
	return recs
}

// save rewrites the whole document atomically.
func (r *Registry) save(recs []Record) error {
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return errdef.IOf("encode registry: %v", err)
	}
	tmp, err := os.CreateTemp(r.baseDir, documentName+".tmp-*")
	if err != nil {
		return errdef.IOf("write registry: %v", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errdef.IOf("write registry: %v", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errdef.IOf("write registry: %v", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		_ = os.Remove(tmp.Name())
		return errdef.IOf("replace registry: %v", err)
	}
	return nil
}

// writeDefaultFiles seeds the instance directory with the license marker
// and a minimal server configuration. Written once at creation; never
// re-synced afterward.
func writeDefaultFiles(rec Record) error {
	eula := "# EULA accepted by craftd\neula=true\n"
	if err := os.WriteFile(filepath.Join(rec.Dir, "eula.txt"), []byte(eula), 0o640); err != nil {
		return errdef.IOf("write eula.txt: %v", err)
	}
	props := fmt.Sprintf("# server.properties generated by craftd\nmotd=%s\nserver-port=%d\n", rec.Name, rec.Port)
	if err := os.WriteFile(filepath.Join(rec.Dir, "server.properties"), []byte(props), 0o640); err != nil {
		return errdef.IOf("write server.properties: %v", err)
	}
	return nil
}
