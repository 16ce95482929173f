/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package watcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Mapping maps scene names to media item names. The file is user-authored,
// so both JSON and YAML are accepted, keyed off the extension.
type Mapping map[string]string

// mappingLoader reloads the mapping file when its mtime changes and degrades
// to an empty mapping when the file is missing or malformed. The degradation
// is logged once per distinct failure, not per poll.
type mappingLoader struct {
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	mapping  Mapping
	loadedAt time.Time
	lastErr  string
}

func newMappingLoader(path string, logger zerolog.Logger) *mappingLoader {
	return &mappingLoader{
		path:    path,
		logger:  logger,
		mapping: Mapping{},
	}
}

// Current returns the mapping, reloading if the file changed on disk.
func (l *mappingLoader) Current() Mapping {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		l.degrade(fmt.Sprintf("stat: %v", err))
		return l.mapping
	}

	if !info.ModTime().After(l.loadedAt) {
		return l.mapping
	}

	mapping, err := parseMapping(l.path)
	if err != nil {
		l.degrade(err.Error())
		return l.mapping
	}

	l.mapping = mapping
	l.loadedAt = info.ModTime()
	if l.lastErr != "" {
		l.lastErr = ""
		l.logger.Info().Str("path", l.path).Int("entries", len(mapping)).Msg("scene mapping recovered")
	} else {
		l.logger.Debug().Str("path", l.path).Int("entries", len(mapping)).Msg("scene mapping loaded")
	}
	return l.mapping
}

func (l *mappingLoader) degrade(reason string) {
	if l.lastErr == reason {
		return
	}
	l.lastErr = reason
	l.mapping = Mapping{}
	l.loadedAt = time.Time{}
	l.logger.Warn().Str("path", l.path).Str("reason", reason).Msg("scene mapping unavailable, automation disabled")
}

func parseMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %v", err)
	}

	mapping := Mapping{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("parse yaml: %v", err)
		}
	default:
		if err := json.Unmarshal(data, &mapping); err != nil {
			return nil, fmt.Errorf("parse json: %v", err)
		}
	}
	return mapping, nil
}
