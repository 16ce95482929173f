/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package thumbs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
	"github.com/friendsincode/showglass/internal/media"
)

func newService(t *testing.T, files map[string]string) (*Service, *media.Library, *docstore.Store) {
	t.Helper()

	dir := t.TempDir()
	animations := filepath.Join(dir, "animations")
	videos := filepath.Join(dir, "videos")
	for _, d := range []string{animations, videos} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for name, body := range files {
		target := animations
		if kind, _ := media.KindForName(name); kind == media.KindVideo {
			target = videos
		}
		if err := os.WriteFile(filepath.Join(target, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	lib := media.NewLibrary(animations, videos, zerolog.Nop())
	store, err := docstore.New(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatal(err)
	}

	svc, err := NewService(lib, store, events.NewBus(), Config{
		Dir:       filepath.Join(dir, "thumbnails"),
		Workers:   2,
		Timeout:   5 * time.Second,
		FFmpegBin: "ffmpeg",
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return svc, lib, store
}

// writeStub is a renderer that just writes a marker file.
func writeStub(marker string) Renderer {
	return func(ctx context.Context, src, dest string) error {
		return os.WriteFile(dest, []byte(marker), 0o644)
	}
}

func waitIdle(t *testing.T, svc *Service) BatchStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := svc.Status()
		if !st.Running && st.Batch != "" {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("batch never finished")
	return BatchStatus{}
}

func TestGenerateRendersEveryItem(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{
		"intro.html": "<html></html>",
		"loop.mp4":   "video bytes",
	})
	svc.SetRenderers(writeStub("markup"), writeStub("video"))

	batch, err := svc.Generate(nil)
	if err != nil {
		t.Fatal(err)
	}
	if batch == "" {
		t.Fatal("empty batch id")
	}

	st := waitIdle(t, svc)
	if st.Done != 2 || st.Failed != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Percent != 100 {
		t.Fatalf("percent = %v", st.Percent)
	}

	for _, name := range []string{"intro.html", "loop.mp4"} {
		if _, ok := svc.ThumbnailPath(name); !ok {
			t.Fatalf("thumbnail missing for %s", name)
		}
	}
}

func TestKindSelectsRenderer(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{
		"intro.html": "<html></html>",
		"loop.mp4":   "video bytes",
	})
	svc.SetRenderers(writeStub("markup"), writeStub("video"))

	if _, err := svc.Generate(nil); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	path, _ := svc.ThumbnailPath("intro.html")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "markup" {
		t.Fatalf("markup item rendered by %q renderer", data)
	}

	path, _ = svc.ThumbnailPath("loop.mp4")
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "video" {
		t.Fatalf("video item rendered by %q renderer", data)
	}
}

func TestUnchangedItemsAreSkipped(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{
		"intro.html": "<html></html>",
	})

	var renders atomic.Int64
	counting := func(ctx context.Context, src, dest string) error {
		renders.Add(1)
		return os.WriteFile(dest, []byte("x"), 0o644)
	}
	svc.SetRenderers(counting, counting)

	if _, err := svc.Generate(nil); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)
	if n := renders.Load(); n != 1 {
		t.Fatalf("first batch rendered %d times", n)
	}

	if _, err := svc.Generate(nil); err != nil {
		t.Fatal(err)
	}
	st := waitIdle(t, svc)
	if n := renders.Load(); n != 1 {
		t.Fatalf("unchanged item re-rendered, %d total renders", n)
	}
	if st.Skipped != 1 {
		t.Fatalf("skip not reported, status %+v", st)
	}
}

func TestFailedJobIsIsolatedAndPartialRemoved(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{
		"good.html": "<html></html>",
		"bad.html":  "<html></html>",
	})

	svc.SetRenderers(func(ctx context.Context, src, dest string) error {
		if strings.Contains(src, "bad") {
			// Leave a partial file behind, the pipeline must remove it.
			os.WriteFile(dest, []byte("partial"), 0o644)
			return errors.New("render exploded")
		}
		return os.WriteFile(dest, []byte("ok"), 0o644)
	}, writeStub("video"))

	if _, err := svc.Generate(nil); err != nil {
		t.Fatal(err)
	}
	st := waitIdle(t, svc)

	if st.Done != 1 || st.Failed != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, ok := svc.ThumbnailPath("good.html"); !ok {
		t.Fatal("healthy item lost to the failed one")
	}
	if _, ok := svc.ThumbnailPath("bad.html"); ok {
		t.Fatal("partial thumbnail left behind")
	}
}

func TestGenerateUnknownNameRejected(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{"intro.html": "<html></html>"})
	svc.SetRenderers(writeStub("m"), writeStub("v"))

	_, err := svc.Generate([]string{"ghost.html"})
	var nf *media.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestConcurrentBatchRejected(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{"intro.html": "<html></html>"})

	release := make(chan struct{})
	svc.SetRenderers(func(ctx context.Context, src, dest string) error {
		<-release
		return os.WriteFile(dest, []byte("x"), 0o644)
	}, writeStub("v"))

	if _, err := svc.Generate(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Generate(nil); !errors.Is(err, ErrBatchRunning) {
		t.Fatalf("expected ErrBatchRunning, got %v", err)
	}
	close(release)
	waitIdle(t, svc)
}

func TestCleanOrphansRemovesStrays(t *testing.T) {
	svc, _, _ := newService(t, map[string]string{"intro.html": "<html></html>"})
	svc.SetRenderers(writeStub("m"), writeStub("v"))

	if _, err := svc.Generate(nil); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, svc)

	stray := filepath.Join(svc.dir, "deleted_item_deadbeef.png")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := svc.CleanOrphans()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed %d orphans", removed)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatal("stray survived cleanup")
	}
	if _, ok := svc.ThumbnailPath("intro.html"); !ok {
		t.Fatal("live thumbnail removed by cleanup")
	}
}

func TestThumbFileNameStableAndSanitized(t *testing.T) {
	a := thumbFileName("weird name!.html")
	if a != thumbFileName("weird name!.html") {
		t.Fatal("filename not stable")
	}
	if strings.ContainsAny(a, " !") {
		t.Fatalf("filename not sanitized: %q", a)
	}
	if a == thumbFileName("weird name?.html") {
		t.Fatal("distinct names collided")
	}
}
