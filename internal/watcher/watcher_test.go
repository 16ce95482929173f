/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/bridge"
	"github.com/friendsincode/showglass/internal/docstore"
)

type triggerRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *triggerRecorder) trigger(name, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+"/"+source)
	return nil
}

func (r *triggerRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func writeMapping(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeSnapshot(t *testing.T, store *docstore.Store, scene string) {
	t.Helper()
	snap := bridge.SceneSnapshot{SceneName: scene, ObservedAt: time.Now().UTC()}
	if err := store.Save(bridge.SnapshotDocument, snap); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestMappedSceneTriggersWithinOneTick(t *testing.T) {
	dir := t.TempDir()
	store, err := docstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	mappingPath := filepath.Join(dir, "scene_mapping.json")
	writeMapping(t, mappingPath, `{"Intro": "countdown.html"}`)

	rec := &triggerRecorder{}
	w := New(store, mappingPath, 10*time.Millisecond, rec.trigger, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	writeSnapshot(t, store, "Intro")
	if !waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 }) {
		t.Fatalf("expected one trigger, got %v", rec.snapshot())
	}
	if got := rec.snapshot()[0]; got != "countdown.html/automation" {
		t.Fatalf("unexpected trigger %q", got)
	}

	// The same scene must not retrigger on subsequent ticks.
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("scene retriggered, %d calls", n)
	}
}

func TestUnmappedSceneIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store, err := docstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	mappingPath := filepath.Join(dir, "scene_mapping.json")
	writeMapping(t, mappingPath, `{"Intro": "countdown.html"}`)

	rec := &triggerRecorder{}
	w := New(store, mappingPath, 5*time.Millisecond, rec.trigger, zerolog.Nop())
	writeSnapshot(t, store, "Interview")

	w.tick()
	w.tick()
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("unmapped scene triggered %d times", n)
	}
}

func TestMissingMappingActsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := docstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}

	rec := &triggerRecorder{}
	w := New(store, filepath.Join(dir, "nope.json"), 5*time.Millisecond, rec.trigger, zerolog.Nop())
	writeSnapshot(t, store, "Intro")

	w.tick()
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("missing mapping triggered %d times", n)
	}
}

func TestMalformedMappingActsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := docstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	mappingPath := filepath.Join(dir, "scene_mapping.json")
	writeMapping(t, mappingPath, `{"Intro": `)

	rec := &triggerRecorder{}
	w := New(store, mappingPath, 5*time.Millisecond, rec.trigger, zerolog.Nop())
	writeSnapshot(t, store, "Intro")

	w.tick()
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("malformed mapping triggered %d times", n)
	}
}

func TestMappingReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	store, err := docstore.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	mappingPath := filepath.Join(dir, "scene_mapping.yaml")
	writeMapping(t, mappingPath, "Intro: countdown.html\n")

	rec := &triggerRecorder{}
	w := New(store, mappingPath, 5*time.Millisecond, rec.trigger, zerolog.Nop())

	writeSnapshot(t, store, "Intro")
	w.tick()
	if got := rec.snapshot(); len(got) != 1 || got[0] != "countdown.html/automation" {
		t.Fatalf("yaml mapping did not trigger, got %v", got)
	}

	// Rewrite the mapping with a future mtime so the reload is detected
	// even on filesystems with coarse timestamps.
	writeMapping(t, mappingPath, "Break: loop.mp4\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(mappingPath, future, future); err != nil {
		t.Fatal(err)
	}

	writeSnapshot(t, store, "Break")
	w.tick()
	got := rec.snapshot()
	if len(got) != 2 || got[1] != "loop.mp4/automation" {
		t.Fatalf("reloaded mapping did not trigger, got %v", got)
	}
}
