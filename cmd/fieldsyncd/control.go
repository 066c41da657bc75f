package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/coordinator"
	"github.com/unkn0wn-root/fieldsync/foreground"
	"github.com/unkn0wn-root/fieldsync/provider"
	"github.com/unkn0wn-root/fieldsync/queue"
	"github.com/unkn0wn-root/fieldsync/worker"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Active   string               `json:"active,omitempty"`
	Waiting  string               `json:"waiting,omitempty"`
	Clients  int                  `json:"clients"`
	Pending  []coordinator.Signal `json:"pending_syncs"`
	Data     int                  `json:"data_queue"`
	Files    int                  `json:"file_queue"`
	BuildVer string               `json:"build_version"`
}

type SubmitRequest struct {
	Kind       string          `json:"kind"` // "data" (default) or "file"
	EntityType string          `json:"entity_type" binding:"required"`
	Method     string          `json:"method"`
	Path       string          `json:"path" binding:"required"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type SubmitResponse struct {
	Outcome string `json:"outcome"`
}

// control is the daemon's management API.
type control struct {
	reg     *worker.Registration
	sched   *coordinator.Scheduler
	local   *foreground.Context
	data    *queue.Queue
	files   *queue.Queue
	clients *clients.Registry
	cache   provider.Provider
	tags    []string
	ws      http.Handler
	metrics http.Handler
	log     fieldsync.Logger
}

func (c *control) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", c.health)
	if c.metrics != nil {
		r.GET("/metrics", gin.WrapH(c.metrics))
	}
	if c.ws != nil {
		r.GET("/ws", gin.WrapH(c.ws))
	}

	v1 := r.Group("/v1")
	v1.GET("/status", c.status)
	v1.POST("/sync/:tag", c.sync)
	v1.POST("/online", c.online)
	v1.POST("/skip-waiting", c.skipWaiting)
	v1.POST("/mutations", c.submit)
	v1.GET("/mutations", c.listMutations)
	v1.POST("/mutations/:id/retry", c.retry)
	v1.DELETE("/mutations/:id", c.discard)
	return r
}

func (c *control) health(ctx *gin.Context) {
	if c.reg.Active() == nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "no active version"})
		return
	}
	if p, ok := c.cache.(provider.Pinger); ok {
		pctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(pctx); err != nil {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "cache unreachable", "error": err.Error()})
			return
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (c *control) status(ctx *gin.Context) {
	resp := StatusResponse{
		Clients:  c.clients.Len(),
		Pending:  c.sched.Pending(),
		BuildVer: buildVersion,
	}
	if w := c.reg.Active(); w != nil {
		resp.Active = w.Version()
	}
	if w := c.reg.Waiting(); w != nil {
		resp.Waiting = w.Version()
	}
	resp.Data, _ = c.data.Len(ctx.Request.Context())
	resp.Files, _ = c.files.Len(ctx.Request.Context())
	ctx.JSON(http.StatusOK, resp)
}

// sync registers a deferred-retry signal. With ?wait=1 the session runs in
// the request and its verdict is returned.
func (c *control) sync(ctx *gin.Context) {
	tag := ctx.Param("tag")
	if !slices.Contains(c.tags, tag) {
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: coordinator.ErrUnknownTag.Error()})
		return
	}
	if ctx.Query("wait") == "" {
		c.sched.Register(tag)
		ctx.Status(http.StatusAccepted)
		return
	}
	if err := c.reg.Sync(ctx.Request.Context(), tag); err != nil {
		c.sched.Register(tag)
		ctx.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"tag": tag, "state": coordinator.Resolved.String()})
}

func (c *control) online(ctx *gin.Context) {
	c.local.SetOffline(false)
	c.sched.Online()
	ctx.Status(http.StatusAccepted)
}

func (c *control) skipWaiting(ctx *gin.Context) {
	rep, err := c.reg.SkipWaiting(ctx.Request.Context())
	if errors.Is(err, worker.ErrNoWaiting) {
		ctx.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	body := gin.H{"active": c.reg.Active().Version(), "deleted": rep.NamespacesDeleted, "purged": rep.EntriesPurged}
	if err := rep.Err(); err != nil {
		body["cleanup_error"] = err.Error()
	}
	ctx.JSON(http.StatusOK, body)
}

func (c *control) submit(ctx *gin.Context) {
	var req SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "kind must be data or file"})
		return
	}
	d := queue.Draft{EntityType: req.EntityType, Method: req.Method, Path: req.Path}
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		d.Payload = req.Payload
	}
	out, err := c.local.Submit(ctx.Request.Context(), kind, d)
	if err != nil {
		var se *queue.StatusError
		if errors.As(err, &se) {
			ctx.JSON(http.StatusBadGateway, ErrorResponse{Error: se.Error()})
			return
		}
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	code := http.StatusOK
	if out == foreground.Queued {
		code = http.StatusAccepted
	}
	ctx.JSON(code, SubmitResponse{Outcome: out.String()})
}

func (c *control) listMutations(ctx *gin.Context) {
	kind, ok := parseKind(ctx.Query("kind"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "kind must be data or file"})
		return
	}
	q := c.data
	if kind == foreground.File {
		q = c.files
	}
	list := q.Pending
	if ctx.Query("status") == string(queue.StatusFailed) {
		list = q.Failed
	}
	ms, err := list(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if ms == nil {
		ms = []queue.Mutation{}
	}
	ctx.JSON(http.StatusOK, ms)
}

func (c *control) retry(ctx *gin.Context) {
	c.eachQueue(ctx, func(q *queue.Queue, id string) error { return q.Retry(ctx.Request.Context(), id) })
}

func (c *control) discard(ctx *gin.Context) {
	c.eachQueue(ctx, func(q *queue.Queue, id string) error {
		if _, err := q.Get(ctx.Request.Context(), id); err != nil {
			return err
		}
		return q.Discard(ctx.Request.Context(), id)
	})
}

// eachQueue applies f to the queue holding :id.
func (c *control) eachQueue(ctx *gin.Context, f func(*queue.Queue, string) error) {
	id := ctx.Param("id")
	for _, q := range []*queue.Queue{c.data, c.files} {
		err := f(q, id)
		if errors.Is(err, queue.ErrNotFound) {
			continue
		}
		if err != nil {
			ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusNotFound, ErrorResponse{Error: queue.ErrNotFound.Error()})
}

func parseKind(s string) (foreground.Kind, bool) {
	switch s {
	case "", "data":
		return foreground.Data, true
	case "file":
		return foreground.File, true
	}
	return 0, false
}
