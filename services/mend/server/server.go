// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes health, status, and metrics endpoints for the
// agent over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Status is the snapshot reported by GET /status.
type Status struct {
	Project   string    `json:"project"`
	Model     string    `json:"model"`
	Workspace string    `json:"workspace"`
	DryRun    bool      `json:"dry_run"`
	StartedAt time.Time `json:"started_at"`
	UptimeSec int64     `json:"uptime_seconds"`
}

// Server is the agent's HTTP surface.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates the server.
//
// Inputs:
//
//	addr - Listen address, e.g. ":8735".
//	registry - Prometheus registry backing GET /metrics.
//	status - Snapshot callback for GET /status. Must not be nil.
//	logger - Structured logger. slog.Default() when nil.
func New(addr string, registry *prometheus.Registry, status func() Status, logger *slog.Logger) (*Server, error) {
	if addr == "" || registry == nil || status == nil {
		return nil, errors.New("server: addr, registry, and status callback are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("mend"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		snapshot := status()
		snapshot.UptimeSec = int64(time.Since(snapshot.StartedAt).Seconds())
		c.JSON(http.StatusOK, snapshot)
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return <-errCh
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
