/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media maintains the library of displayable items: markup animations
// and video files discovered on disk.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Kind classifies a media item.
type Kind string

const (
	KindMarkup Kind = "markup"
	KindVideo  Kind = "video"
)

// Ref identifies a media item. Identity is the file name across the union of
// the animations and videos directories.
type Ref struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Fingerprint captures enough of a file's identity to detect content changes
// without hashing it.
type Fingerprint struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime"`
}

// NotFoundError reports an unknown media name together with the known set so
// callers can surface valid alternatives.
type NotFoundError struct {
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("media %q not found (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

var markupExtensions = map[string]bool{
	".html": true,
	".htm":  true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
}

// KindForName infers the media kind from the file extension. The second
// return value is false for unsupported extensions.
func KindForName(name string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case markupExtensions[ext]:
		return KindMarkup, true
	case videoExtensions[ext]:
		return KindVideo, true
	default:
		return "", false
	}
}

// Library scans the animations and videos directories on demand. It holds no
// cache: the directories are the source of truth and a scan is cheap at the
// library sizes this system serves.
type Library struct {
	animationsDir string
	videosDir     string
	logger        zerolog.Logger
}

// NewLibrary creates a library over the two media directories.
func NewLibrary(animationsDir, videosDir string, logger zerolog.Logger) *Library {
	return &Library{
		animationsDir: animationsDir,
		videosDir:     videosDir,
		logger:        logger.With().Str("component", "media_library").Logger(),
	}
}

// List returns all known media items sorted by name. When the same name
// exists in both directories the animations entry wins.
func (l *Library) List() []Ref {
	seen := make(map[string]Ref)

	l.scanDir(l.videosDir, seen)
	l.scanDir(l.animationsDir, seen)

	refs := make([]Ref, 0, len(seen))
	for _, ref := range seen {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs
}

// Names returns the sorted names of all known media items.
func (l *Library) Names() []string {
	refs := l.List()
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return names
}

// Resolve looks up a media item by name. Unknown names return a
// *NotFoundError carrying the known set.
func (l *Library) Resolve(name string) (Ref, error) {
	if _, err := os.Stat(l.Path(Ref{Name: name})); err == nil {
		if kind, ok := KindForName(name); ok {
			return Ref{Name: name, Kind: kind}, nil
		}
	}
	return Ref{}, &NotFoundError{Name: name, Known: l.Names()}
}

// Path returns the filesystem path for a media item. The animations directory
// is preferred; existence is not checked for callers that already resolved.
func (l *Library) Path(ref Ref) string {
	animPath := filepath.Join(l.animationsDir, ref.Name)
	if _, err := os.Stat(animPath); err == nil {
		return animPath
	}
	return filepath.Join(l.videosDir, ref.Name)
}

// Fingerprint returns the size+mtime fingerprint of a media item's file.
func (l *Library) Fingerprint(ref Ref) (Fingerprint, error) {
	info, err := os.Stat(l.Path(ref))
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Size: info.Size(), ModTime: info.ModTime().Unix()}, nil
}

func (l *Library) scanDir(dir string, out map[string]Ref) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn().Err(err).Str("dir", dir).Msg("media scan failed")
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if kind, ok := KindForName(entry.Name()); ok {
			out[entry.Name()] = Ref{Name: entry.Name(), Kind: kind}
		}
	}
}
