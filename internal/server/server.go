// Package server exposes the job engine over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/recast/internal/engine"
	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/store"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	healthCheckTimeout  = 2 * time.Second
	dryRunHeadroom      = 30 * time.Second
	defaultListLimit    = 50
	defaultLogLimit     = 200
)

// Engine is the part of engine.Service the API drives.
type Engine interface {
	StartJob(ctx context.Context, instanceID string, kind models.JobKind) (*models.Job, error)
	CancelJob(ctx context.Context, jobID string) (*models.Job, error)
	ResumeJob(ctx context.Context, jobID string) (*models.Job, error)
}

// Deps are the collaborators behind the API. Collector and Gatherer may be nil.
type Deps struct {
	Engine     Engine
	Jobs       store.JobStore
	Collector  *metrics.Collector
	Gatherer   prometheus.Gatherer
	// TickBudget bounds a synchronous dry run and stretches the write timeout to fit it.
	TickBudget time.Duration
}

// StartRequest is the body of POST /api/instances/:id/jobs.
type StartRequest struct {
	Kind models.JobKind `json:"kind"`
}

// Server wraps the HTTP server with its router and lifecycle.
type Server struct {
	router *gin.Engine
	http   *http.Server
	deps   Deps
	logger *slog.Logger
}

// New builds the router and an http.Server listening on addr.
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(RecoveryMiddleware(logger), LoggingMiddleware(logger))

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
	}
	s.routes()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: writeTimeout(deps.TickBudget),
		IdleTimeout:  defaultIdleTimeout,
	}
	return s
}

// writeTimeout leaves room for a dry run that uses its whole tick budget.
func writeTimeout(tickBudget time.Duration) time.Duration {
	return max(defaultWriteTimeout, tickBudget+dryRunHeadroom)
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	api.GET("/stats", s.stats)
	api.GET("/instances", s.listInstances)
	api.GET("/instances/:id", s.getInstance)
	api.POST("/instances/:id/jobs", s.startJob)
	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.GET("/jobs/:id/logs", s.jobLogs)
	api.POST("/jobs/:id/cancel", s.cancelJob)
	api.POST("/jobs/:id/resume", s.resumeJob)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()
	if _, err := s.deps.Jobs.ListInstances(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) stats(c *gin.Context) {
	if s.deps.Collector == nil {
		c.JSON(http.StatusOK, metrics.Snapshot{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Collector.Snapshot())
}

func (s *Server) listInstances(c *gin.Context) {
	instances, err := s.deps.Jobs.ListInstances(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": instances, "count": len(instances)})
}

func (s *Server) getInstance(c *gin.Context) {
	inst, err := s.deps.Jobs.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) startJob(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	if req.Kind == "" {
		req.Kind = models.JobKindFull
	}
	if req.Kind != models.JobKindFull && req.Kind != models.JobKindDryRun {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown job kind %q", req.Kind)})
		return
	}

	job, err := s.deps.Engine.StartJob(c.Request.Context(), c.Param("id"), req.Kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) listJobs(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultListLimit)
	if !ok {
		return
	}
	jobs, err := s.deps.Jobs.ListJobs(c.Request.Context(), store.JobFilter{
		Status:     models.JobStatus(c.Query("status")),
		InstanceID: c.Query("instance_id"),
		Kind:       models.JobKind(c.Query("kind")),
		Limit:      limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.deps.Jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) jobLogs(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultLogLimit)
	if !ok {
		return
	}
	id := c.Param("id")
	if _, err := s.deps.Jobs.GetJob(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	logs, err := s.deps.Jobs.Logs(c.Request.Context(), id, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.deps.Engine.CancelJob(c.Request.Context(), c.Param("id"))
	s.transition(c, job, err)
}

func (s *Server) resumeJob(c *gin.Context) {
	job, err := s.deps.Engine.ResumeJob(c.Request.Context(), c.Param("id"))
	s.transition(c, job, err)
}

// transition answers a cancel or resume. A rejected transition still carries
// the job so the caller can see its current status.
func (s *Server) transition(c *gin.Context, job *models.Job, err error) {
	if err != nil && job != nil && errors.Is(err, engine.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "job": job})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// fail maps engine and store errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrActiveJob), errors.Is(err, engine.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrConfig):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s %q", key, raw)})
		return 0, false
	}
	return n, true
}
