package httpserver

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/pulse/internal/collector"
	"github.com/tinytelemetry/pulse/internal/model"
)

const DefaultAddr = "127.0.0.1:3000"

// API is the collector surface served over HTTP.
type API interface {
	model.ReadAPI
	SendMetric(name string, value float64, unit string, tags map[string]string)
	SendLog(level model.LogLevel, message string, opts ...collector.LogOptions)
	SendAlert(alertType model.AlertType, title, message string, severity model.Severity,
		category model.Category, source string, metadata map[string]any) model.Alert
	AcknowledgeAlert(ctx context.Context, id, by string) (bool, error)
	Flush(ctx context.Context)
}

// Server exposes ingestion, queries and the Prometheus scrape endpoint.
type Server struct {
	addr      string
	api       API
	metrics   http.Handler
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	stopOnce  sync.Once
}

// NewServer creates a server for api. metrics, when non-nil, is mounted at
// GET /metrics.
func NewServer(addr string, api API, metrics http.Handler) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		api:       api,
		metrics:   metrics,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.POST("/metrics", s.handleSendMetric)
	api.GET("/metrics", s.handleGetMetrics)
	api.POST("/logs", s.handleSendLog)
	api.GET("/logs", s.handleGetLogs)
	api.POST("/alerts", s.handleSendAlert)
	api.GET("/alerts", s.handleGetAlerts)
	api.POST("/alerts/:id/ack", s.handleAckAlert)
	api.POST("/flush", s.handleFlush)

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("httpserver: serve error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		if s.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).String(),
		"enabled": s.api.Stats().Enabled,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.Stats())
}

func (s *Server) handleFlush(c *gin.Context) {
	s.api.Flush(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}
