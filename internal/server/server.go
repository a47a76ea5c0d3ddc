// Package server exposes the HTTP surface: the WebSocket endpoint plus the
// operational routes for health, stats, and prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/config"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/ws"
)

// Server runs the HTTP listener in front of the hub.
type Server struct {
	cfg        config.ServerConfig
	hub        *ws.Hub
	registry   *ws.Registry
	stats      *stats.Aggregator
	translator engine.Translator
	logger     *zap.Logger

	http *http.Server
}

// New builds the router and listener. gatherer is the prometheus registry
// backing /metrics; pass the same one the stats aggregator registered with.
func New(cfg config.ServerConfig, hub *ws.Hub, reg *ws.Registry, agg *stats.Aggregator, tr engine.Translator, gatherer *prometheus.Registry, logger *zap.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		hub:        hub,
		registry:   reg,
		stats:      agg,
		translator: tr,
		logger:     logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})
	router.GET("/healthz", s.handleHealthz)
	router.GET("/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Handler returns the HTTP handler, for serving through a custom listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the listener closes. A graceful Shutdown is not an error.
func (s *Server) Run() error {
	s.logger.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, drains the HTTP server, and tears
// down every live WebSocket connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.registry.CloseAll()
	return err
}

// handleHealthz is the liveness probe. It reports process state without
// touching the translation engine, so a slow model never fails liveness.
func (s *Server) handleHealthz(c *gin.Context) {
	snap := s.stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"uptime_seconds":     snap.Uptime.Seconds(),
		"active_connections": snap.ActiveConnections,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	snap := s.stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"server_stats":        snap.ServerStatsMap(),
		"supported_languages": s.translator.Languages(),
	})
}
