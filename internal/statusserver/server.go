// Package statusserver exposes a read-only HTTP/JSON view of a running
// capture session: queue depth and loss counters, per-device state, and
// key-store size. It is a supplemental feature (not present in the
// original C++ tool) re-expressed over gin the way guiperry-HASHER exposes
// its own device/health telemetry, instead of the gRPC transport the
// teacher uses elsewhere — this capture host has no other RPC surface to
// share a transport with.
package statusserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// DeviceStatus is one device's read-only snapshot.
type DeviceStatus struct {
	ID    int    `json:"id"`
	Port  string `json:"port"`
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

// Snapshot is the full point-in-time view the status endpoint serves.
type Snapshot struct {
	Uptime       string         `json:"uptime"`
	QueueDepth   int            `json:"queue_depth"`
	QueueDropped int64          `json:"queue_dropped"`
	LinkKeys     int            `json:"link_keys"`
	NetworkKeys  int            `json:"network_keys"`
	Devices      []DeviceStatus `json:"devices"`
}

// Provider supplies the live Snapshot; internal/orchestrator implements
// this once a session is running.
type Provider interface {
	Snapshot() Snapshot
}

// Server is the status/metrics HTTP surface. It never mutates session
// state — every handler is a GET that reads through Provider.
type Server struct {
	addr     string
	provider Provider
	start    time.Time
	srv      *http.Server
	log      *log.Logger
}

// New builds a Server bound to addr (e.g. ":9099") that reports through
// provider.
func New(addr string, provider Provider) *Server {
	return &Server{
		addr:     addr,
		provider: provider,
		start:    time.Now(),
		log:      log.With("component", "statusserver"),
	}
}

// Start runs the HTTP server in a background goroutine and returns
// immediately; call Shutdown to stop it.
func (s *Server) Start() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/health", s.handleHealth)
	}

	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	go func() {
		s.log.Info("status server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server error", "err", err)
		}
	}()
}

// Shutdown stops the HTTP server, waiting up to 5 seconds for in-flight
// requests to finish.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("statusserver: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.provider.Snapshot()
	snap.Uptime = time.Since(s.start).String()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
