package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/console"
	"github.com/loykin/craftd/internal/errdef"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/registry"
	"github.com/loykin/craftd/internal/supervisor"
)

// Router provides the daemon's HTTP API over the registry, supervisor,
// log reader, and artifact store.
// Endpoints (under {basePath}, default /api):
//   GET    /instances                list records
//   POST   /instances                create {name, port, memory|maxMemoryMB, jar}
//   GET    /instances/:id            one record
//   DELETE /instances/:id            delete (409 while running)
//   POST   /instances/:id/start      spawn
//   POST   /instances/:id/stop       graceful-stop line (fire and forget)
//   POST   /instances/:id/kill       SIGKILL process group
//   POST   /instances/:id/command    {command}
//   GET    /instances/:id/console    bounded tail
//   GET    /instances/:id/status     runtime snapshot
//   GET    /artifacts                list uploaded jars
//   POST   /artifacts                multipart upload, field "file"
type Router struct {
	reg      *registry.Registry
	sup      *supervisor.Supervisor
	art      *artifact.Store
	basePath string
	metrics  bool
}

func NewRouter(reg *registry.Registry, sup *supervisor.Supervisor, art *artifact.Store, basePath string, enableMetrics bool) *Router {
	return &Router{reg: reg, sup: sup, art: art, basePath: sanitizeBase(basePath), metrics: enableMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/instances", r.handleList)
	group.POST("/instances", r.handleCreate)
	group.GET("/instances/:id", r.handleGet)
	group.DELETE("/instances/:id", r.handleDelete)
	group.POST("/instances/:id/start", r.handleStart)
	group.POST("/instances/:id/stop", r.handleStop)
	group.POST("/instances/:id/kill", r.handleKill)
	group.POST("/instances/:id/command", r.handleCommand)
	group.GET("/instances/:id/console", r.handleConsole)
	group.GET("/instances/:id/status", r.handleStatus)
	group.GET("/artifacts", r.handleArtifactList)
	group.POST("/artifacts", r.handleArtifactUpload)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type createReq struct {
	Name        string `json:"name"`
	Port        int    `json:"port"`
	Memory      string `json:"memory"`
	MaxMemoryMB int    `json:"maxMemoryMB"`
	Jar         string `json:"jar"`
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleList(c *gin.Context) {
	recs, err := r.reg.List()
	if err != nil {
		writeErr(c, err)
		return
	}
	if recs == nil {
		recs = []registry.Record{}
	}
	c.JSON(http.StatusOK, recs)
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	memMB := req.MaxMemoryMB
	if req.Memory != "" {
		mb, err := config.MemoryMB(req.Memory)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		memMB = mb
	}
	rec, err := r.reg.Create(registry.CreateRequest{
		Name:        req.Name,
		Port:        req.Port,
		MaxMemoryMB: memMB,
		Jar:         req.Jar,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (r *Router) handleGet(c *gin.Context) {
	rec, err := r.reg.Get(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleDelete(c *gin.Context) {
	if err := r.reg.Delete(c.Param("id"), r.sup); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	pid, err := r.sup.Start(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "pid": pid})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleKill(c *gin.Context) {
	if err := r.sup.Kill(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.sup.SendCommand(c.Param("id"), req.Command); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleConsole(c *gin.Context) {
	rec, err := r.reg.Get(c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	content, err := console.Tail(supervisor.ConsoleLogPath(rec.Dir))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": rec.ID, "console": content})
}

func (r *Router) handleStatus(c *gin.Context) {
	if _, err := r.reg.Get(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, r.sup.Status(c.Param("id")))
}

func (r *Router) handleArtifactList(c *gin.Context) {
	names, err := r.art.List()
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": names})
}

func (r *Router) handleArtifactUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "file field required: " + err.Error()})
		return
	}
	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	defer func() { _ = src.Close() }()
	name, err := r.art.Save(fh.Filename, src)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"artifact": name})
}

// writeErr maps the error taxonomy onto HTTP status codes.
func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errdef.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errdef.ErrConflict), errors.Is(err, errdef.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, errdef.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, errdef.ErrIO):
		status = http.StatusBadGateway
	}
	c.JSON(status, errorResp{Error: err.Error()})
}
