/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package thumbs generates preview images for media items with a bounded
// worker pool. Items whose file fingerprint has not changed since the last
// run are skipped, and a failed item never takes the batch down with it.
package thumbs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
	"github.com/friendsincode/showglass/internal/media"
	"github.com/friendsincode/showglass/internal/telemetry"
)

// IndexDocument records the fingerprint each thumbnail was rendered from.
const IndexDocument = "thumbnail_index.json"

// ErrBatchRunning is returned when a generation batch is already in flight.
var ErrBatchRunning = errors.New("thumbnail generation already running")

type indexEntry struct {
	File    string `json:"file"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
}

// BatchStatus reports progress of the current or most recent batch.
type BatchStatus struct {
	Batch   string  `json:"batch"`
	Total   int     `json:"total"`
	Done    int     `json:"done"`
	Failed  int     `json:"failed"`
	Skipped int     `json:"skipped"`
	Percent float64 `json:"percent"`
	Running bool    `json:"running"`
}

// Config holds thumbnail pipeline settings.
type Config struct {
	Dir       string
	Workers   int
	Timeout   time.Duration
	FFmpegBin string
}

// Service owns the thumbnail directory and the generation worker pool.
type Service struct {
	lib    *media.Library
	store  *docstore.Store
	bus    *events.Bus
	logger zerolog.Logger

	dir     string
	workers int
	timeout time.Duration

	markup Renderer
	video  Renderer

	// lifecycle bounds background batches. Set by Start; batches must not
	// inherit a request context, which dies as soon as the response is sent.
	lifecycle context.Context

	mu     sync.Mutex
	status BatchStatus
	index  map[string]indexEntry
}

func NewService(lib *media.Library, store *docstore.Store, bus *events.Bus, cfg Config, logger zerolog.Logger) (*Service, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}

	s := &Service{
		lib:       lib,
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("component", "thumbs").Logger(),
		dir:       cfg.Dir,
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		markup:    newMarkupRenderer(),
		video:     newVideoRenderer(cfg.FFmpegBin),
		lifecycle: context.Background(),
		index:     make(map[string]indexEntry),
	}
	if s.workers < 1 {
		s.workers = 1
	}

	if _, err := store.Load(IndexDocument, &s.index); err != nil {
		logger.Warn().Err(err).Msg("thumbnail index unreadable, starting fresh")
		s.index = make(map[string]indexEntry)
	}

	return s, nil
}

// SetRenderers swaps the renderer implementations. Used by tests and by
// deployments without a browser or ffmpeg on the host.
func (s *Service) SetRenderers(markup, video Renderer) {
	s.markup = markup
	s.video = video
}

// Start binds background batches to ctx so shutdown cancels in-flight jobs.
func (s *Service) Start(ctx context.Context) {
	s.lifecycle = ctx
}

// Status returns the progress of the current or last batch.
func (s *Service) Status() BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ThumbnailPath returns the image path for a media item, and whether it
// exists on disk.
func (s *Service) ThumbnailPath(name string) (string, bool) {
	path := filepath.Join(s.dir, thumbFileName(name))
	_, err := os.Stat(path)
	return path, err == nil
}

// Generate starts a batch over the named items, or the whole library when
// names is empty. It returns the batch id immediately; workers run in the
// background under the service lifecycle, not the caller's context.
func (s *Service) Generate(names []string) (string, error) {
	refs, err := s.resolve(names)
	if err != nil {
		return "", err
	}

	batch := uuid.NewString()

	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return "", ErrBatchRunning
	}
	s.status = BatchStatus{Batch: batch, Total: len(refs), Running: true}
	s.mu.Unlock()

	s.logger.Info().
		Str("batch", batch).
		Int("items", len(refs)).
		Int("workers", s.workers).
		Msg("thumbnail batch started")

	go s.runBatch(s.lifecycle, batch, refs)
	return batch, nil
}

func (s *Service) resolve(names []string) ([]media.Ref, error) {
	if len(names) == 0 {
		return s.lib.List(), nil
	}
	refs := make([]media.Ref, 0, len(names))
	for _, name := range names {
		ref, err := s.lib.Resolve(name)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Service) runBatch(ctx context.Context, batch string, refs []media.Ref) {
	jobs := make(chan media.Ref)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				s.processJob(ctx, batch, ref)
			}
		}()
	}

	for _, ref := range refs {
		select {
		case jobs <- ref:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			s.finishBatch(batch)
			return
		}
	}
	close(jobs)
	wg.Wait()
	s.finishBatch(batch)
}

func (s *Service) finishBatch(batch string) {
	s.mu.Lock()
	s.status.Running = false
	done, failed, skipped := s.status.Done, s.status.Failed, s.status.Skipped
	index := make(map[string]indexEntry, len(s.index))
	for k, v := range s.index {
		index[k] = v
	}
	s.mu.Unlock()

	if err := s.store.Save(IndexDocument, index); err != nil {
		s.logger.Error().Err(err).Msg("persist thumbnail index")
	}

	s.logger.Info().
		Str("batch", batch).
		Int("done", done).
		Int("failed", failed).
		Int("skipped", skipped).
		Msg("thumbnail batch finished")
}

func (s *Service) processJob(ctx context.Context, batch string, ref media.Ref) {
	fp, err := s.lib.Fingerprint(ref)
	if err != nil {
		s.recordOutcome(batch, ref.Name, "failed", err)
		return
	}

	dest := filepath.Join(s.dir, thumbFileName(ref.Name))

	s.mu.Lock()
	entry, known := s.index[ref.Name]
	s.mu.Unlock()
	if known && entry.Size == fp.Size && entry.ModTime == fp.ModTime {
		if _, err := os.Stat(dest); err == nil {
			s.recordOutcome(batch, ref.Name, "skipped", nil)
			return
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	render := s.markup
	if ref.Kind == media.KindVideo {
		render = s.video
	}

	if err := render(jobCtx, s.lib.Path(ref), dest); err != nil {
		// A half-written image must not shadow the failure.
		os.Remove(dest)
		s.recordOutcome(batch, ref.Name, "failed", err)
		return
	}

	s.mu.Lock()
	s.index[ref.Name] = indexEntry{File: filepath.Base(dest), Size: fp.Size, ModTime: fp.ModTime}
	s.mu.Unlock()
	s.recordOutcome(batch, ref.Name, "done", nil)
}

func (s *Service) recordOutcome(batch, name, outcome string, err error) {
	s.mu.Lock()
	switch outcome {
	case "failed":
		s.status.Failed++
	case "skipped":
		s.status.Skipped++
		s.status.Done++
	default:
		s.status.Done++
	}
	completed := s.status.Done + s.status.Failed
	if s.status.Total > 0 {
		s.status.Percent = float64(completed) / float64(s.status.Total) * 100
	}
	snapshot := s.status
	s.mu.Unlock()

	telemetry.ThumbnailJobsTotal.WithLabelValues(outcome).Inc()

	if err != nil {
		s.logger.Warn().Err(err).Str("media", name).Msg("thumbnail render failed")
	}

	if s.bus != nil {
		s.bus.Publish(events.EventThumbnailProgress, events.Payload{
			"batch":   batch,
			"media":   name,
			"outcome": outcome,
			"done":    snapshot.Done,
			"failed":  snapshot.Failed,
			"total":   snapshot.Total,
			"percent": snapshot.Percent,
		})
	}
}

// CleanOrphans removes thumbnails whose media item no longer exists and
// returns how many were removed.
func (s *Service) CleanOrphans() (int, error) {
	expected := make(map[string]bool)
	for _, ref := range s.lib.List() {
		expected[thumbFileName(ref.Name)] = true
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read thumbnail dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || expected[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("orphan removal failed")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.mu.Lock()
		names := make(map[string]bool, len(expected))
		for _, ref := range s.lib.List() {
			names[ref.Name] = true
		}
		for name := range s.index {
			if !names[name] {
				delete(s.index, name)
			}
		}
		index := make(map[string]indexEntry, len(s.index))
		for k, v := range s.index {
			index[k] = v
		}
		s.mu.Unlock()
		if err := s.store.Save(IndexDocument, index); err != nil {
			s.logger.Error().Err(err).Msg("persist thumbnail index")
		}
		s.logger.Info().Int("removed", removed).Msg("orphan thumbnails cleaned")
	}

	return removed, nil
}

// thumbFileName derives a stable image filename from a media name. The hash
// disambiguates names that sanitize to the same string.
func thumbFileName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)

	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("%s_%08x.png", sanitized, h.Sum32())
}
