package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzzdr/warrant-risk-engine/config"
	"github.com/rzzdr/warrant-risk-engine/pkg/metrics"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// Server represents the API server
type Server struct {
	config     config.APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	recorder   *metrics.Recorder
	log        *logger.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.Config, handlers *Handlers, recorder *metrics.Recorder) *Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:   cfg.API,
		engine:   gin.New(),
		handlers: handlers,
		recorder: recorder,
		log:      logger.GetLogger("api.server"),
	}
	server.setupRoutes(cfg)
	return server
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(cfg config.Config) {
	s.engine.Use(LoggingMiddleware())
	s.engine.Use(ErrorMiddleware())
	s.engine.Use(CORSMiddleware(cfg.API.CORS))
	if s.recorder != nil {
		s.engine.Use(MetricsMiddleware(s.recorder))
	}

	s.engine.GET("/health", s.handlers.HealthCheckHandler)
	if cfg.Metrics.Prometheus.Enabled {
		s.engine.GET(cfg.Metrics.Prometheus.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := s.engine.Group("/api/v1")

	riskGroup := v1.Group("/risk")
	riskGroup.POST("/var", s.handlers.CalculateVaRHandler)
	riskGroup.POST("/stress-test", s.handlers.RunStressTestHandler)
	riskGroup.POST("/taylor-series", s.handlers.AnalyzeTaylorSeriesHandler)
	riskGroup.POST("/greeks-var", s.handlers.GreeksVaRHandler)

	warrants := v1.Group("/warrants")
	warrants.POST("", s.handlers.RegisterWarrantHandler)
	warrants.GET("", s.handlers.ListWarrantsHandler)
	warrants.GET("/:symbol/greeks", s.handlers.GetGreeksHandler)

	v1.POST("/portfolio/greeks", s.handlers.PortfolioGreeksHandler)

	heston := v1.Group("/heston")
	heston.POST("/calibrate", s.handlers.CalibrateHestonHandler)
	heston.GET("/params", s.handlers.GetHestonParamsHandler)
}

// Start starts the API server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Infof("Starting API server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		s.log.Info("Stopping API server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
