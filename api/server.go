package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/changeorder/config"
	"example.com/backstage/services/changeorder/handlers"
	"example.com/backstage/services/changeorder/metrics"
	"example.com/backstage/services/changeorder/utils"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		utils.UseJSONFieldNames(v)
		utils.RegisterCaseIDValidation(v)
	}
}

// Server is the HTTP server for the API
type Server struct {
	cfg         config.ServerConfig
	router      *gin.Engine
	httpServer  *http.Server
	caseHandler *handlers.CaseHandler
	metrics     *metrics.Metrics
	nrApp       *newrelic.Application
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithNewRelic traces every request into app. A nil app is ignored.
func WithNewRelic(app *newrelic.Application) ServerOption {
	return func(s *Server) { s.nrApp = app }
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, caseHandler *handlers.CaseHandler, m *metrics.Metrics, opts ...ServerOption) *Server {
	server := &Server{
		cfg:         cfg,
		router:      gin.New(),
		caseHandler: caseHandler,
		metrics:     m,
	}
	for _, opt := range opts {
		opt(server)
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())

	if s.nrApp != nil {
		s.router.Use(NewRelicMiddleware(s.nrApp))
	}

	if s.cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	}

	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())

	if s.cfg.Timeout > 0 {
		s.router.Use(TimeoutMiddleware(s.cfg.Timeout))
	}
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// API v1 group
	v1 := s.router.Group("/api/v1")

	// Case routes
	caseRoutes := v1.Group("/cases")
	{
		caseRoutes.GET("", s.listCases)
		caseRoutes.POST("", s.createCase)
		caseRoutes.GET("/:id", s.getCase)
		caseRoutes.GET("/:id/history", s.getHistory)
		caseRoutes.POST("/:id/commands/:command", s.submitCommand)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Msgf("HTTP server starting on %s", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
