/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: the REST fallback for clients that
// cannot hold a websocket, the media and thumbnail file handlers, and the
// operational endpoints (health, status, logs, metrics).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/hub"
	"github.com/friendsincode/showglass/internal/logbuffer"
	"github.com/friendsincode/showglass/internal/media"
	"github.com/friendsincode/showglass/internal/telemetry"
	"github.com/friendsincode/showglass/internal/thumbs"
	"github.com/friendsincode/showglass/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	lib       *media.Library
	hub       *hub.Hub
	thumbs    *thumbs.Service
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

func New(lib *media.Library, h *hub.Hub, thumbSvc *thumbs.Service, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		lib:       lib,
		hub:       h,
		thumbs:    thumbSvc,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/", a.handleDisplayPage)
	r.Get("/ws", a.hub.HandleWebSocket)

	r.Get("/health", a.handleHealth)
	r.Get("/animations", a.handleAnimationsList)
	r.Post("/trigger", a.handleTrigger)
	r.Post("/stop", a.handleStop)

	r.Get("/media/{name}", a.handleMediaFile)
	r.Get("/thumbnails/{name}", a.handleThumbnailFile)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Post("/thumbnails/generate", a.handleThumbnailsGenerate)
		r.Get("/thumbnails/status", a.handleThumbnailsStatus)
		r.Post("/thumbnails/clean", a.handleThumbnailsClean)
		r.Get("/logs", a.handleLogs)
		r.Get("/logs/stats", a.handleLogStats)
	})

	r.Method(http.MethodGet, "/metrics", telemetry.Handler())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"version":              version.Version,
		"animations_available": len(a.lib.List()),
	})
}

type animationItem struct {
	Name      string     `json:"name"`
	Kind      media.Kind `json:"kind"`
	Thumbnail string     `json:"thumbnail,omitempty"`
}

func (a *API) handleAnimationsList(w http.ResponseWriter, r *http.Request) {
	refs := a.lib.List()
	items := make([]animationItem, 0, len(refs))
	for _, ref := range refs {
		item := animationItem{Name: ref.Name, Kind: ref.Kind}
		if a.thumbs != nil {
			if _, ok := a.thumbs.ThumbnailPath(ref.Name); ok {
				item.Thumbnail = "/thumbnails/" + ref.Name
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"animations": items,
		"current":    a.hub.Current().Media,
		"count":      len(items),
	})
}

// triggerRequest accepts the original "animation" key, with "name" kept as a
// fallback for newer clients.
type triggerRequest struct {
	Animation string `json:"animation"`
	Name      string `json:"name"`
}

func (r triggerRequest) target() string {
	if r.Animation != "" {
		return r.Animation
	}
	return r.Name
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.target() == "" {
		writeError(w, http.StatusBadRequest, "animation required")
		return
	}

	if err := a.hub.Trigger(req.target(), "rest"); err != nil {
		var nf *media.NotFoundError
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": nf.Error(),
				"known": nf.Known,
			})
			return
		}
		a.logger.Error().Err(err).Str("media", req.target()).Msg("trigger failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered", "animation": req.target()})
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.Stop("rest"); err != nil {
		a.logger.Error().Err(err).Msg("stop failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.Status())
}

func (a *API) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ref, err := a.lib.Resolve(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown media")
		return
	}
	http.ServeFile(w, r, a.lib.Path(ref))
}

func (a *API) handleThumbnailFile(w http.ResponseWriter, r *http.Request) {
	if a.thumbs == nil {
		writeError(w, http.StatusNotFound, "thumbnails disabled")
		return
	}
	path, ok := a.thumbs.ThumbnailPath(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "no thumbnail")
		return
	}
	http.ServeFile(w, r, path)
}

type generateRequest struct {
	Names []string `json:"names,omitempty"`
}

func (a *API) handleThumbnailsGenerate(w http.ResponseWriter, r *http.Request) {
	if a.thumbs == nil {
		writeError(w, http.StatusServiceUnavailable, "thumbnails disabled")
		return
	}

	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}

	batch, err := a.thumbs.Generate(req.Names)
	if err != nil {
		if errors.Is(err, thumbs.ErrBatchRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		var nf *media.NotFoundError
		if errors.As(err, &nf) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": nf.Error(),
				"known": nf.Known,
			})
			return
		}
		a.logger.Error().Err(err).Msg("thumbnail generation failed to start")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"batch": batch})
}

func (a *API) handleThumbnailsStatus(w http.ResponseWriter, r *http.Request) {
	if a.thumbs == nil {
		writeError(w, http.StatusServiceUnavailable, "thumbnails disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.thumbs.Status())
}

func (a *API) handleThumbnailsClean(w http.ResponseWriter, r *http.Request) {
	if a.thumbs == nil {
		writeError(w, http.StatusServiceUnavailable, "thumbnails disabled")
		return
	}
	removed, err := a.thumbs.CleanOrphans()
	if err != nil {
		a.logger.Error().Err(err).Msg("orphan cleanup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log buffer not available")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: r.URL.Query().Get("order") != "asc",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		params.Limit = limit
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		params.Since = since
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log buffer not available")
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
