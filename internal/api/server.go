// Package api serves the health, status and metrics endpoints of a running
// yardcam process.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/yardcam/internal/engine"
	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/region"
	"github.com/roach88/yardcam/internal/supervisor"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 5 * time.Second

// EngineStatus is implemented by *engine.Engine.
type EngineStatus interface {
	Status() engine.Status
}

// WorkerStatus is implemented by *supervisor.Supervisor.
type WorkerStatus interface {
	Status() []supervisor.WorkerStatus
}

// Server is the gin router plus the components it reports on.
type Server struct {
	engine  EngineStatus
	workers WorkerStatus
	logger  *slog.Logger
	node    string
	version string
	origins []string
	started time.Time
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNode sets the node label on HTTP metrics.
func WithNode(node string) Option {
	return func(s *Server) { s.node = node }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithCORSOrigins allows browsers on these origins to read the API.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New builds the router. workers may be nil when no cameras are supervised.
func New(eng EngineStatus, workers WorkerStatus, opts ...Option) *Server {
	s := &Server{
		engine:  eng,
		workers: workers,
		logger:  slog.Default(),
		node:    "yardcam",
		version: "dev",
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	if len(s.origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.origins,
			AllowMethods: []string{http.MethodGet},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetricsMiddleware(s.node))
	s.router = r
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/ready", s.ready)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/status", s.status)
	s.router.GET("/status/ends/:end", s.endStatus)
	s.router.GET("/status/cameras", s.cameras)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"service": s.node,
		"version": s.version,
	})
}

// ready fails while any camera worker has given up.
func (s *Server) ready(c *gin.Context) {
	var failed []string
	for _, w := range s.workerStatus() {
		if w.State == supervisor.StateFailed {
			failed = append(failed, w.Camera)
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "failed_cameras": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (s *Server) status(c *gin.Context) {
	st := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"regions":    st.Regions,
		"ends":       st.Ends,
		"queue_len":  st.QueueLen,
		"queue_peak": st.QueuePeak,
		"seq":        st.Seq,
		"cameras":    s.workerStatus(),
	})
}

func (s *Server) endStatus(c *gin.Context) {
	id := region.Normalize(c.Param("end"))
	for _, end := range s.engine.Status().Ends {
		if end.End == id {
			c.JSON(http.StatusOK, end)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown end region " + string(id)})
}

func (s *Server) cameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": s.workerStatus()})
}

func (s *Server) workerStatus() []supervisor.WorkerStatus {
	if s.workers == nil {
		return []supervisor.WorkerStatus{}
	}
	return s.workers.Status()
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("http server stopped")
		return nil
	}
}
