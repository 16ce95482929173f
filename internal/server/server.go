/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the services together and owns their lifecycles.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/api"
	"github.com/friendsincode/showglass/internal/bridge"
	"github.com/friendsincode/showglass/internal/config"
	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
	"github.com/friendsincode/showglass/internal/hub"
	"github.com/friendsincode/showglass/internal/logbuffer"
	"github.com/friendsincode/showglass/internal/media"
	"github.com/friendsincode/showglass/internal/state"
	"github.com/friendsincode/showglass/internal/telemetry"
	"github.com/friendsincode/showglass/internal/thumbs"
	"github.com/friendsincode/showglass/internal/watcher"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	library   *media.Library
	store     *docstore.Store
	state     *state.Manager
	hub       *hub.Hub
	bridge    *bridge.Bridge
	watcher   *watcher.Watcher
	thumbs    *thumbs.Service
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for websocket connections, they are long lived.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so websocket connections are not cut off, the
		// middleware timeout covers the plain routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	for _, dir := range []string{s.cfg.AnimationsDir, s.cfg.VideosDir, s.cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	s.logger.Info().
		Str("animations", s.cfg.AnimationsDir).
		Str("videos", s.cfg.VideosDir).
		Msg("media directories ready")

	store, err := docstore.New(s.cfg.DataDir)
	if err != nil {
		return err
	}
	s.store = store

	s.library = media.NewLibrary(s.cfg.AnimationsDir, s.cfg.VideosDir, s.logger)

	mgr, err := state.NewManager(s.library, store, s.bus, s.logger)
	if err != nil {
		return err
	}
	s.state = mgr

	s.hub = hub.New(mgr, store, s.bus, s.logger)

	thumbSvc, err := thumbs.NewService(s.library, store, s.bus, thumbs.Config{
		Dir:       filepath.Join(s.cfg.DataDir, "thumbnails"),
		Workers:   s.cfg.ThumbWorkers,
		Timeout:   s.cfg.ThumbTimeout,
		FFmpegBin: s.cfg.FFmpegBin,
	}, s.logger)
	if err != nil {
		return err
	}
	s.thumbs = thumbSvc
	s.hub.ThumbStatus = func() any { return thumbSvc.Status() }

	if s.cfg.OBSURL != "" {
		s.bridge = bridge.New(bridge.Config{
			URL:           s.cfg.OBSURL,
			Password:      s.cfg.OBSPassword,
			MaxAttempts:   s.cfg.OBSReconnectMaxAttempts,
			MaxInterval:   s.cfg.OBSReconnectMaxInterval,
			ProbeInterval: s.cfg.OBSProbeInterval,
		}, store, s.bus, s.logger)
		s.hub.BridgeStatus = func() any { return s.bridge.Status() }
	} else {
		s.logger.Info().Msg("external control bridge disabled, no controller URL configured")
	}

	s.watcher = watcher.New(store, s.cfg.SceneMappingPath, s.cfg.WatchInterval, s.hub.Trigger, s.logger)

	s.api = api.New(s.library, s.hub, thumbSvc, s.logBuffer, s.logger)

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.thumbs.Start(ctx)

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("hub exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("automation watcher exited")
		}
	}()

	if s.bridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("control bridge exited")
			}
		}()
	}

	// Keep the bridge state gauge in step with bus transitions.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runBridgeGauge(ctx)
	}()
}

func (s *Server) runBridgeGauge(ctx context.Context) {
	statusCh := s.bus.Subscribe(events.EventBridgeStatus)
	defer s.bus.Unsubscribe(events.EventBridgeStatus, statusCh)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-statusCh:
			st, _ := payload["state"].(string)
			telemetry.BridgeState.Set(bridgeStateValue(bridge.State(st)))
		}
	}
}

func bridgeStateValue(st bridge.State) float64 {
	switch st {
	case bridge.StateConnecting:
		return 1
	case bridge.StateConnected:
		return 2
	case bridge.StateReconnecting:
		return 3
	case bridge.StateExhausted:
		return 4
	default:
		return 0
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// HTTPServer returns the configured HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Hub returns the realtime hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Thumbs returns the thumbnail service.
func (s *Server) Thumbs() *thumbs.Service {
	return s.thumbs
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
