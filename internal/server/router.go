package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botvisr/internal/bot"
	"github.com/loykin/botvisr/internal/history"
	"github.com/loykin/botvisr/internal/logstream"
	"github.com/loykin/botvisr/internal/metrics"
	"github.com/loykin/botvisr/internal/stats"
	"github.com/loykin/botvisr/internal/store"
	"github.com/loykin/botvisr/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing bots.
// Bot routes live under basePath; /metrics is always served at the root.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup       *supervisor.Supervisor
	store     store.Store
	logs      *logstream.Hub
	resources *metrics.ResourceCollector
	stats     *stats.Collector
	events    EventSource
	log       *slog.Logger
	basePath  string
}

// EventSource is a history sink that can be queried back.
type EventSource interface {
	Events(ctx context.Context, botID string, limit int) ([]history.Event, error)
}

// Deps are the components behind the routes. Supervisor and Store are
// required; a nil optional component makes its routes answer 503.
type Deps struct {
	Supervisor *supervisor.Supervisor
	Store      store.Store
	Logs       *logstream.Hub
	Resources  *metrics.ResourceCollector
	Stats      *stats.Collector
	Events     EventSource
	Logger     *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(d Deps, basePath string) *Router {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Router{
		sup:       d.Supervisor,
		store:     d.Store,
		logs:      d.Logs,
		resources: d.Resources,
		stats:     d.Stats,
		events:    d.Events,
		log:       l,
		basePath:  sanitizeBase(basePath),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := g.Group(r.basePath)
	api.POST("/bots", r.handleCreate)
	api.GET("/bots", r.handleList)
	api.GET("/bots/status", r.handleAllStatus)

	one := api.Group("/bots/:id", r.requireID)
	one.GET("", r.handleGet)
	one.DELETE("", r.handleDelete)
	one.POST("/start", r.handleStart)
	one.POST("/stop", r.handleStop)
	one.POST("/restart", r.handleRestart)
	one.GET("/status", r.handleStatus)
	one.GET("/logs", r.handleLogs)
	one.GET("/logs/tail", r.handleTail)
	one.DELETE("/logs", r.handleClearLogs)
	one.GET("/logs/stream", r.handleStream)
	one.GET("/metrics/history", r.handleResourceHistory)
	one.GET("/history", r.handleHistory)

	api.GET("/stats/system", r.handleSystemStats)
	api.GET("/stats/bots", r.handleBotStats)
	api.GET("/stats/aggregate", r.handleAggregateStats)
	return g
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; later serve errors are logged.
func NewServer(addr, basePath string, d Deps) (*http.Server, error) {
	r := NewRouter(d, basePath)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: log streams are long-lived
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server stopped", "error", err)
		}
	}()
	return srv, nil
}

func (r *Router) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.log.Debug("http request", "method", c.Request.Method, "path", c.Request.URL.Path,
		"status", c.Writer.Status(), "duration", time.Since(start))
}

// --- Responses ---

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) fail(c *gin.Context, err error) {
	code := supervisor.Code(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	writeJSON(c, status, errorResp{Error: err.Error(), Code: code})
}

func httpStatus(code string) int {
	switch code {
	case supervisor.CodeNotFound:
		return http.StatusNotFound
	case supervisor.CodeAlreadyRunning, supervisor.CodeConflict, supervisor.CodeActive:
		return http.StatusConflict
	case supervisor.CodeUnknownKind, supervisor.CodeMissingConfig:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, msg string) {
	writeJSON(c, http.StatusBadRequest, errorResp{Error: msg, Code: "bad_request"})
}

func unavailable(c *gin.Context, what string) {
	writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: what + " is not enabled", Code: "unavailable"})
}

// --- Bot records ---

type createReq struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Config      map[string]any `json:"config"`
	AutoRestart *bool          `json:"auto_restart"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createReq
	dec := json.NewDecoder(c.Request.Body)
	// keep 1 and 1.0 apart so bot config reaches the child as written
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	rec := bot.Record{
		Name:        strings.TrimSpace(req.Name),
		Kind:        bot.Kind(req.Kind),
		Config:      req.Config,
		AutoRestart: true,
	}
	if req.AutoRestart != nil {
		rec.AutoRestart = *req.AutoRestart
	}
	if err := rec.Validate(); err != nil {
		if errors.Is(err, bot.ErrUnknownKind) {
			r.fail(c, err)
			return
		}
		badRequest(c, err.Error())
		return
	}
	if err := r.store.Create(c.Request.Context(), &rec); err != nil {
		r.fail(c, err)
		return
	}
	r.log.Info("bot created", "bot_id", rec.ID, "bot", rec.Name, "kind", rec.Kind)
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleList(c *gin.Context) {
	var (
		recs []bot.Record
		err  error
	)
	if s := c.Query("status"); s != "" {
		st, perr := bot.ParseStatus(s)
		if perr != nil {
			badRequest(c, perr.Error())
			return
		}
		recs, err = r.store.ListByStatus(c.Request.Context(), st)
	} else {
		recs, err = r.store.List(c.Request.Context())
	}
	if err != nil {
		r.fail(c, err)
		return
	}
	if recs == nil {
		recs = []bot.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) requireID(c *gin.Context) {
	if !isSafeName(c.Param("id")) {
		badRequest(c, "invalid bot id: allowed [A-Za-z0-9._-]")
		c.Abort()
		return
	}
	c.Next()
}

// record answers 404 and reports false when the bot does not exist.
func (r *Router) record(c *gin.Context) (bot.Record, bool) {
	rec, err := r.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return bot.Record{}, false
	}
	return rec, true
}

func (r *Router) handleGet(c *gin.Context) {
	if rec, ok := r.record(c); ok {
		writeJSON(c, http.StatusOK, rec)
	}
}

func (r *Router) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := r.sup.DeleteBot(c.Request.Context(), id); err != nil {
		r.fail(c, err)
		return
	}
	if r.logs != nil {
		r.logs.Forget(id)
	}
	r.log.Info("bot deleted", "bot_id", id)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// --- Lifecycle ---

// lifecycle runs op and answers with the resulting record.
func (r *Router) lifecycle(c *gin.Context, op func(ctx context.Context, id string) error) {
	id := c.Param("id")
	if err := op(c.Request.Context(), id); err != nil {
		r.fail(c, err)
		return
	}
	if rec, ok := r.record(c); ok {
		writeJSON(c, http.StatusOK, rec)
	}
}

func (r *Router) handleStart(c *gin.Context) { r.lifecycle(c, r.sup.StartBot) }

func (r *Router) handleRestart(c *gin.Context) { r.lifecycle(c, r.sup.RestartBot) }

func (r *Router) handleStop(c *gin.Context) {
	force := false
	if v := c.Query("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "force must be a boolean")
			return
		}
		force = b
	}
	r.lifecycle(c, func(ctx context.Context, id string) error { return r.sup.StopBot(ctx, id, force) })
}

type statusResp struct {
	Bot     bot.Record             `json:"bot"`
	Process *supervisor.BotStatus `json:"process"`
}

func (r *Router) handleStatus(c *gin.Context) {
	rec, ok := r.record(c)
	if !ok {
		return
	}
	resp := statusResp{Bot: rec}
	if bs, ok := r.sup.GetBotStatus(c.Request.Context(), rec.ID); ok {
		resp.Process = &bs
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleAllStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.GetAllBotsStatus(c.Request.Context()))
}

// --- Logs ---

const (
	defaultLogLimit = 100
	maxLogLimit     = 5000
)

// intQuery parses a non-negative integer query parameter capped at maxLogLimit.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative integer")
		return 0, false
	}
	return min(n, maxLogLimit), true
}

type logsResp struct {
	BotID  string   `json:"bot_id"`
	Offset int      `json:"offset,omitempty"`
	Lines  []string `json:"lines"`
}

func (r *Router) handleLogs(c *gin.Context) {
	if r.logs == nil {
		unavailable(c, "log streaming")
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", defaultLogLimit)
	if !ok {
		return
	}
	if _, ok := r.record(c); !ok {
		return
	}
	id := c.Param("id")
	lines, err := r.logs.Read(id, offset, limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logsResp{BotID: id, Offset: offset, Lines: lines})
}

func (r *Router) handleTail(c *gin.Context) {
	if r.logs == nil {
		unavailable(c, "log streaming")
		return
	}
	n, ok := intQuery(c, "lines", defaultLogLimit)
	if !ok {
		return
	}
	if _, ok := r.record(c); !ok {
		return
	}
	id := c.Param("id")
	lines, err := r.logs.Tail(id, n)
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, logsResp{BotID: id, Lines: lines})
}

func (r *Router) handleClearLogs(c *gin.Context) {
	if r.logs == nil {
		unavailable(c, "log streaming")
		return
	}
	if _, ok := r.record(c); !ok {
		return
	}
	existed, err := r.logs.Clear(c.Param("id"))
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"cleared": existed})
}

// --- Resource history and events ---

func (r *Router) handleResourceHistory(c *gin.Context) {
	if r.resources == nil || !r.resources.IsEnabled() {
		unavailable(c, "resource collection")
		return
	}
	if _, ok := r.record(c); !ok {
		return
	}
	samples, ok := r.resources.History(c.Param("id"))
	if !ok {
		samples = []metrics.Sample{}
	}
	writeJSON(c, http.StatusOK, gin.H{"bot_id": c.Param("id"), "samples": samples})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.events == nil {
		unavailable(c, "queryable history")
		return
	}
	limit, ok := intQuery(c, "limit", defaultLogLimit)
	if !ok {
		return
	}
	evs, err := r.events.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

// --- Stats ---

func (r *Router) handleSystemStats(c *gin.Context) {
	if r.stats == nil {
		unavailable(c, "stats")
		return
	}
	s, err := r.stats.System(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleBotStats(c *gin.Context) {
	if r.stats == nil {
		unavailable(c, "stats")
		return
	}
	s, err := r.stats.Bots(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleAggregateStats(c *gin.Context) {
	if r.stats == nil {
		unavailable(c, "stats")
		return
	}
	s, err := r.stats.Aggregate(c.Request.Context())
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}
