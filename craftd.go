package craftd

import (
	"context"
	"net/http"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/console"
	"github.com/loykin/craftd/internal/errdef"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/registry"
	"github.com/loykin/craftd/internal/server"
	"github.com/loykin/craftd/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = registry.Record

type CreateRequest = registry.CreateRequest

type Status = supervisor.Status

type FileConfig = config.FileConfig

type HistorySink = history.Sink

// Sentinel error kinds, re-exported for errors.Is classification.
var (
	ErrNotFound        = errdef.ErrNotFound
	ErrConflict        = errdef.ErrConflict
	ErrInvalidState    = errdef.ErrInvalidState
	ErrInvalidArgument = errdef.ErrInvalidArgument
	ErrIO              = errdef.ErrIO
)

// Manager bundles the registry, supervisor, and artifact store behind a
// stable public API for embedding.
type Manager struct {
	reg *registry.Registry
	sup *supervisor.Supervisor
	art *artifact.Store
}

// New constructs a Manager from a configuration, creating the base and
// artifact directories as needed.
func New(fc FileConfig) (*Manager, error) {
	art, err := artifact.New(fc.ArtifactDir)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(fc.BaseDir, art)
	if err != nil {
		return nil, err
	}
	if fc.DefaultMemory != "" {
		mb, err := config.MemoryMB(fc.DefaultMemory)
		if err != nil {
			return nil, errdef.InvalidArgumentf("default_memory: %v", err)
		}
		reg.SetDefaultMemoryMB(mb)
	}
	sup := supervisor.New(reg, art, fc.JavaBin)
	return &Manager{reg: reg, sup: sup, art: art}, nil
}

func (m *Manager) List() ([]Record, error) { return m.reg.List() }
func (m *Manager) Get(id string) (Record, error) { return m.reg.Get(id) }
func (m *Manager) Create(req CreateRequest) (Record, error) {
	return m.reg.Create(req)
}
func (m *Manager) Delete(id string) error { return m.reg.Delete(id, m.sup) }
func (m *Manager) Start(id string) (int, error) { return m.sup.Start(id) }
func (m *Manager) Stop(id string) error { return m.sup.Stop(id) }
func (m *Manager) Kill(id string) error { return m.sup.Kill(id) }
func (m *Manager) SendCommand(id, text string) error { return m.sup.SendCommand(id, text) }
func (m *Manager) IsRunning(id string) bool { return m.sup.IsRunning(id) }
func (m *Manager) Status(id string) Status { return m.sup.Status(id) }
func (m *Manager) Shutdown(ctx context.Context) error { return m.sup.Shutdown(ctx) }

// Console returns the bounded tail of an instance's log. Unknown ids
// fail with ErrNotFound; a missing log file yields empty content.
func (m *Manager) Console(id string) (string, error) {
	rec, err := m.reg.Get(id)
	if err != nil {
		return "", err
	}
	return console.Tail(supervisor.ConsoleLogPath(rec.Dir))
}

// SetHistorySink attaches a lifecycle event sink.
func (m *Manager) SetHistorySink(s HistorySink) { m.sup.SetHistorySink(s) }

// NewSQLHistorySink opens a SQL-backed history sink by DSN.
func NewSQLHistorySink(dsn string) (HistorySink, error) {
	return history.NewSQLSinkFromDSN(dsn)
}

// RegisterMetrics registers the instance metrics with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// NewHTTPHandler builds the daemon's HTTP API handler for embedding.
func (m *Manager) NewHTTPHandler(basePath string, enableMetrics bool) http.Handler {
	return server.NewRouter(m.reg, m.sup, m.art, basePath, enableMetrics).Handler()
}

// Serve starts the daemon's HTTP API on addr.
func (m *Manager) Serve(addr, basePath string, enableMetrics bool) *http.Server {
	return server.NewServer(addr, server.NewRouter(m.reg, m.sup, m.art, basePath, enableMetrics))
}
