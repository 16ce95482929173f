/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package watcher polls the persisted scene snapshot and fires media
// triggers according to the scene mapping file. It walks the same trigger
// path as a manual dashboard action, so downstream behaviour (persistence,
// broadcast, thumbnails) is identical regardless of who asked.
package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/bridge"
	"github.com/friendsincode/showglass/internal/docstore"
)

// TriggerFunc requests a media change by name. It matches the signature
// the hub and the REST layer use so all trigger sources converge.
type TriggerFunc func(name, source string) error

type Watcher struct {
	store    *docstore.Store
	loader   *mappingLoader
	trigger  TriggerFunc
	interval time.Duration
	logger   zerolog.Logger

	lastScene string
}

func New(store *docstore.Store, mappingPath string, interval time.Duration, trigger TriggerFunc, logger zerolog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		loader:   newMappingLoader(mappingPath, logger),
		trigger:  trigger,
		interval: interval,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled. Stopping is bounded by one interval.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", w.interval).Msg("automation watcher started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("automation watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watcher) tick() {
	var snap bridge.SceneSnapshot
	ok, err := w.store.Load(bridge.SnapshotDocument, &snap)
	if err != nil {
		w.logger.Warn().Err(err).Msg("scene snapshot unreadable")
		return
	}
	if !ok || snap.SceneName == "" || snap.SceneName == w.lastScene {
		return
	}
	w.lastScene = snap.SceneName

	target, mapped := w.loader.Current()[snap.SceneName]
	if !mapped {
		w.logger.Debug().Str("scene", snap.SceneName).Msg("scene has no mapping")
		return
	}

	w.logger.Info().Str("scene", snap.SceneName).Str("media", target).Msg("scene mapping matched")
	if err := w.trigger(target, "automation"); err != nil {
		w.logger.Warn().Err(err).Str("scene", snap.SceneName).Str("media", target).Msg("automation trigger failed")
	}
}
