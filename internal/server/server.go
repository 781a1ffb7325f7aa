// file: internal/server/server.go
// version: 2.0.0
// guid: c3d4e5f6-a7b8-9012-cdef-345678901234

package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdfalk/library-manager/internal/database"
	"github.com/jdfalk/library-manager/internal/metrics"
	"github.com/jdfalk/library-manager/internal/status"
)

// Server exposes the observability surface: health, processing status, and
// Prometheus metrics. It never mutates anything.
type Server struct {
	store   *database.Store
	tracker *status.Tracker
	httpSrv *http.Server
}

// New creates a Server listening on addr.
func New(addr string, store *database.Store, tracker *status.Tracker) *Server {
	metrics.Register()
	gin.SetMode(gin.ReleaseMode)

	s := &Server{store: store, tracker: tracker}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/api/status", s.handleStatus)
	router.GET("/api/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	log.Printf("[INFO] status server listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealth(c *gin.Context) {
	if _, err := s.store.CountBooks(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.tracker.Get()
	depth, err := s.store.QueueDepth()
	if err == nil {
		snap.QueueRemaining = depth
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStats(c *gin.Context) {
	day := c.DefaultQuery("day", time.Now().Format("2006-01-02"))
	stats, err := s.store.StatsForDay(day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	books, _ := s.store.CountBooks()
	c.JSON(http.StatusOK, gin.H{
		"day":   stats,
		"books": books,
	})
}
