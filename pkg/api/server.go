// Package api provides the HTTP surface of spec.md §6: outcome/task/worker
// CRUD, HOMЯ context and escalation endpoints, dispatch, supervisor status,
// improvement jobs, and a per-outcome WebSocket event stream.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/digitaltwin/dtwind/pkg/dispatcher"
	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/jobqueue"
	"github.com/digitaltwin/dtwind/pkg/metrics"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
	"github.com/digitaltwin/dtwind/pkg/supervisor"
	"github.com/digitaltwin/dtwind/pkg/version"
	"github.com/digitaltwin/dtwind/pkg/workermanager"
)

// Server is the HTTP API server of spec.md §6.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store      *store.Store
	ids        *idgen.Generator
	clock      idgen.Clock
	sched      *scheduler.Scheduler
	workers    *workermanager.Manager
	sv         *supervisor.Supervisor
	jobs       *jobqueue.Queue
	dispatch   *dispatcher.Dispatcher
	connMgr    *events.Manager
	metricsReg *metrics.Registry // nil if metrics disabled

	bodyLimitBytes    int
	defaultCostCapUSD float64
}

// New constructs a Server with all routes registered.
func New(s *store.Store, ids *idgen.Generator, clock idgen.Clock, sched *scheduler.Scheduler,
	workers *workermanager.Manager, sv *supervisor.Supervisor, jobs *jobqueue.Queue,
	dispatch *dispatcher.Dispatcher, connMgr *events.Manager, bodyLimitBytes int) *Server {
	if bodyLimitBytes <= 0 {
		bodyLimitBytes = 2 * 1024 * 1024
	}

	srv := &Server{
		echo:           echo.New(),
		store:          s,
		ids:            ids,
		clock:          clock,
		sched:          sched,
		workers:        workers,
		sv:             sv,
		jobs:           jobs,
		dispatch:       dispatch,
		connMgr:        connMgr,
		bodyLimitBytes: bodyLimitBytes,
	}
	srv.setupRoutes()
	return srv
}

// SetMetrics wires the Prometheus registry in, exposing GET /metrics. Left
// nil, the server simply doesn't serve that route — mirroring the
// teacher's optional Set* wiring for components that aren't always present.
func (s *Server) SetMetrics(reg *metrics.Registry) {
	s.metricsReg = reg
	if reg != nil {
		s.echo.GET("/metrics", echo.WrapHandler(reg.Handler()))
	}
}

// SetDefaultCostCap sets the cost cap applied to a newly created Outcome
// whose request body leaves cost_cap_usd unset — backs OUTCOME_COST_CAP_USD.
func (s *Server) SetDefaultCostCap(usd float64) {
	s.defaultCostCapUSD = usd
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(s.bodyLimitBytes))

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	v1.GET("/outcomes", s.listOutcomesHandler)
	v1.POST("/outcomes", s.createOutcomeHandler)
	v1.GET("/outcomes/:id", s.getOutcomeHandler)
	v1.PATCH("/outcomes/:id", s.patchOutcomeHandler)
	v1.DELETE("/outcomes/:id", s.deleteOutcomeHandler)

	v1.GET("/outcomes/:id/tasks", s.listTasksHandler)
	v1.POST("/outcomes/:id/tasks", s.createTaskHandler)
	v1.PATCH("/tasks/:taskId", s.patchTaskHandler)
	v1.DELETE("/tasks/:taskId", s.deleteTaskHandler)

	v1.POST("/outcomes/:id/workers", s.startWorkerHandler)
	v1.GET("/workers/:workerId", s.getWorkerHandler)
	v1.PATCH("/workers/:workerId", s.patchWorkerHandler)
	v1.POST("/workers/:workerId/interventions", s.sendInterventionHandler)

	v1.GET("/outcomes/:id/progress", s.listProgressHandler)

	v1.GET("/outcomes/:id/homr", s.homrSummaryHandler)
	v1.GET("/outcomes/:id/homr/context", s.homrContextHandler)
	v1.GET("/outcomes/:id/homr/escalations", s.listEscalationsHandler)
	v1.POST("/outcomes/:id/homr/escalations/:escId/answer", s.answerEscalationHandler)
	v1.POST("/outcomes/:id/homr/escalations/:escId/dismiss", s.dismissEscalationHandler)
	v1.GET("/outcomes/:id/homr/activity", s.homrActivityHandler)
	v1.POST("/outcomes/:id/auto-resolve", s.autoResolveHandler)

	v1.POST("/dispatch", s.dispatchHandler)

	v1.GET("/supervisor", s.supervisorStatusHandler)

	v1.POST("/improvements/analyze", s.analyzeImprovementsHandler)
	v1.GET("/improvements/jobs/active", s.listActiveJobsHandler)
	v1.GET("/improvements/jobs/recent", s.listRecentJobsHandler)
	v1.GET("/improvements/jobs/:jobId", s.getJobHandler)

	v1.GET("/outcomes/:id/stream", s.streamHandler)
}

// Start starts the HTTP server on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.store.DB().PingContext(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	resp := map[string]any{
		"status":  "healthy",
		"version": version.Full(),
	}
	if s.connMgr != nil {
		resp["active_connections"] = s.connMgr.ActiveConnections()
	}
	return c.JSON(http.StatusOK, resp)
}
