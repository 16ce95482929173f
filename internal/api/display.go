/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/friendsincode/showglass/internal/media"
	"github.com/friendsincode/showglass/internal/version"
)

//go:embed templates
var templateFS embed.FS

var displayTmpl = template.Must(template.ParseFS(templateFS, "templates/display.html"))

type displayData struct {
	Current *media.Ref
	IsVideo bool
	Version string
}

// handleDisplayPage serves the fullscreen display surface. A fresh install
// with nothing persisted falls back to the first library item so a display
// never boots to a blank screen, and the fallback goes through the normal
// trigger path so it is persisted and broadcast like any other change.
func (a *API) handleDisplayPage(w http.ResponseWriter, r *http.Request) {
	cur, _ := a.hub.Status()["current"].(*media.Ref)
	if cur == nil {
		if refs := a.lib.List(); len(refs) > 0 {
			if err := a.hub.Trigger(refs[0].Name, "display_fallback"); err == nil {
				first := refs[0]
				cur = &first
			}
		}
	}

	data := displayData{Current: cur, Version: version.Version}
	if cur != nil {
		data.IsVideo = cur.Kind == media.KindVideo
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := displayTmpl.Execute(w, data); err != nil {
		a.logger.Error().Err(err).Msg("render display page")
	}
}
