// Package api is the optional, thin REST façade over the pipeline (spec.md
// §6): a health check and a synchronous single-cycle run endpoint, for
// callers that want one research pass without going through the durable
// task queue. Grounded in the teacher's cmd/tarsy/main.go gin.Default() +
// router.GET("/health", ...) shape, paired with gin-contrib/cors the way
// cklxx-elephant.ai's go.mod pairs the two.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/scholaragent/core/pkg/pipeline"
)

// Server wraps a gin.Engine bound to one Pipeline.
type Server struct {
	engine   *gin.Engine
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// New builds the router: structured request logging, permissive CORS (the
// façade has no notion of session auth; callers are trusted at the network
// boundary), /healthz, and POST /v1/run.
func New(p *pipeline.Pipeline) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	logger := slog.Default().With("component", "api")
	engine.Use(requestLogger(logger))
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
	}))

	s := &Server{engine: engine, pipeline: p, logger: logger}
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/v1/run", s.handleRun)
	return s
}

// Run starts the HTTP server, blocking until the listener fails
// (mirrors the teacher's router.Run(":"+httpPort) call in
// cmd/tarsy/main.go).
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Engine exposes the underlying gin.Engine so main can register additional
// routes (e.g. a pool-health endpoint) alongside this façade's own routes.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
