/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state owns the authoritative "what is currently showing" document.
// All mutation goes through the Manager; concurrent triggers are serialized
// under one mutex, so the outcome of a race is strict arrival order with the
// last writer winning.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
	"github.com/friendsincode/showglass/internal/media"
)

// DocumentName is the persisted current-media document.
const DocumentName = "current_media.json"

// Current is the persisted singleton state.
type Current struct {
	Media     *media.Ref `json:"current"`
	ChangedAt time.Time  `json:"changed_at"`
}

// Manager is the single writer of the current-media document.
type Manager struct {
	lib    *media.Library
	store  *docstore.Store
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.Mutex
	current Current
}

// NewManager loads the persisted state and returns a manager. A persisted
// item that no longer exists on disk degrades to empty state rather than
// failing boot.
func NewManager(lib *media.Library, store *docstore.Store, bus *events.Bus, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		lib:    lib,
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "state_manager").Logger(),
	}

	var persisted Current
	found, err := store.Load(DocumentName, &persisted)
	if err != nil {
		return nil, fmt.Errorf("load current media: %w", err)
	}
	if found && persisted.Media != nil {
		if _, err := lib.Resolve(persisted.Media.Name); err != nil {
			m.logger.Warn().
				Str("media", persisted.Media.Name).
				Msg("persisted media no longer exists, starting empty")
			persisted = Current{ChangedAt: persisted.ChangedAt}
		}
	}
	m.current = persisted

	return m, nil
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Current {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RequestChange validates the name against the library and, if known,
// atomically persists it as the current media. It returns the previous and
// the new state. Re-triggering the current item refreshes the timestamp and
// still counts as one accepted change.
func (m *Manager) RequestChange(name string) (Current, Current, error) {
	ref, err := m.lib.Resolve(name)
	if err != nil {
		return Current{}, Current{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.current
	next := Current{Media: &ref, ChangedAt: time.Now().UTC()}

	if err := m.store.Save(DocumentName, next); err != nil {
		return Current{}, Current{}, fmt.Errorf("persist current media: %w", err)
	}
	m.current = next

	m.logger.Info().
		Str("media", ref.Name).
		Str("kind", string(ref.Kind)).
		Msg("current media changed")

	m.publish(previous, next)
	return previous, next, nil
}

// RequestStop clears the current media.
func (m *Manager) RequestStop() (Current, Current, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.current
	next := Current{ChangedAt: time.Now().UTC()}

	if err := m.store.Save(DocumentName, next); err != nil {
		return Current{}, Current{}, fmt.Errorf("persist current media: %w", err)
	}
	m.current = next

	m.logger.Info().Msg("current media cleared")

	m.publish(previous, next)
	return previous, next, nil
}

// RefreshPage reports whether a transition requires displays to reload the
// whole page: the item kind changed, or the display was idle before.
func RefreshPage(previous, current Current) bool {
	if current.Media == nil || previous.Media == nil {
		return true
	}
	return previous.Media.Kind != current.Media.Kind
}

func (m *Manager) publish(previous, current Current) {
	if m.bus == nil {
		return
	}
	payload := events.Payload{
		"previous":     previous.Media,
		"current":      current.Media,
		"changed_at":   current.ChangedAt,
		"refresh_page": RefreshPage(previous, current),
	}
	m.bus.Publish(events.EventMediaChanged, payload)
}
