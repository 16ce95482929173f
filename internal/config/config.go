/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Media directories. A media item's name is its file name; the union of
	// both directories forms the library.
	AnimationsDir string
	VideosDir     string

	// DataDir holds the persisted documents (current media, scene snapshot,
	// thumbnail index) and the generated thumbnails.
	DataDir string

	// SceneMappingPath points at the user-authored scene -> media mapping
	// (.json, .yaml or .yml). Defaults to <DataDir>/scene_mapping.json.
	SceneMappingPath string

	// OBS control bridge. The bridge is disabled when OBSURL is empty.
	OBSURL                   string
	OBSPassword              string
	OBSReconnectMaxAttempts  int
	OBSReconnectMaxInterval  time.Duration
	OBSProbeInterval         time.Duration

	// Automation watcher poll interval.
	WatchInterval time.Duration

	// Thumbnail pipeline.
	ThumbWorkers int
	ThumbTimeout time.Duration
	FFmpegBin    string

	LegacyEnvWarnings []string
}

// fileConfig mirrors Config for the optional YAML overlay file.
type fileConfig struct {
	Environment      string `yaml:"environment"`
	HTTPBind         string `yaml:"http_bind"`
	HTTPPort         int    `yaml:"http_port"`
	AnimationsDir    string `yaml:"animations_dir"`
	VideosDir        string `yaml:"videos_dir"`
	DataDir          string `yaml:"data_dir"`
	SceneMappingPath string `yaml:"scene_mapping_path"`
	OBSURL           string `yaml:"obs_url"`
	OBSPassword      string `yaml:"obs_password"`
	WatchInterval    string `yaml:"watch_interval"`
	ThumbWorkers     int    `yaml:"thumb_workers"`
	FFmpegBin        string `yaml:"ffmpeg_bin"`
}

// Load reads environment variables, applies defaults, and validates the
// result. When SHOWGLASS_CONFIG points at a YAML file its values fill in
// anything the environment left unset.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"SHOWGLASS_ENV", "OTA_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"SHOWGLASS_HTTP_BIND", "OTA_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"SHOWGLASS_HTTP_PORT", "OTA_HTTP_PORT"}, 8080),
		AnimationsDir: getEnvAny([]string{"SHOWGLASS_ANIMATIONS_DIR", "OTA_ANIMATIONS_DIR"}, "./animations"),
		VideosDir:     getEnvAny([]string{"SHOWGLASS_VIDEOS_DIR", "OTA_VIDEOS_DIR"}, "./videos"),
		DataDir:       getEnvAny([]string{"SHOWGLASS_DATA_DIR", "OTA_DATA_DIR"}, "./data"),

		SceneMappingPath: getEnvAny([]string{"SHOWGLASS_SCENE_MAPPING", "OTA_SCENE_MAPPING"}, ""),

		OBSURL:                  getEnvAny([]string{"SHOWGLASS_OBS_URL", "OTA_OBS_URL"}, ""),
		OBSPassword:             getEnvAny([]string{"SHOWGLASS_OBS_PASSWORD", "OTA_OBS_PASSWORD"}, ""),
		OBSReconnectMaxAttempts: getEnvIntAny([]string{"SHOWGLASS_OBS_RECONNECT_MAX_ATTEMPTS"}, 20),
		OBSReconnectMaxInterval: getEnvDurationAny([]string{"SHOWGLASS_OBS_RECONNECT_MAX_INTERVAL"}, 30*time.Second),
		OBSProbeInterval:        getEnvDurationAny([]string{"SHOWGLASS_OBS_PROBE_INTERVAL"}, 30*time.Second),

		WatchInterval: getEnvDurationAny([]string{"SHOWGLASS_WATCH_INTERVAL", "OTA_WATCH_INTERVAL"}, 100*time.Millisecond),

		ThumbWorkers: getEnvIntAny([]string{"SHOWGLASS_THUMB_WORKERS"}, 2),
		ThumbTimeout: getEnvDurationAny([]string{"SHOWGLASS_THUMB_TIMEOUT"}, 30*time.Second),
		FFmpegBin:    getEnvAny([]string{"SHOWGLASS_FFMPEG_BIN", "OTA_FFMPEG_BIN"}, "ffmpeg"),
	}

	if path := os.Getenv("SHOWGLASS_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if cfg.SceneMappingPath == "" {
		cfg.SceneMappingPath = cfg.DataDir + "/scene_mapping.json"
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port %d", cfg.HTTPPort)
	}
	if cfg.WatchInterval <= 0 {
		return nil, fmt.Errorf("SHOWGLASS_WATCH_INTERVAL must be positive")
	}
	if cfg.ThumbWorkers < 1 {
		return nil, fmt.Errorf("SHOWGLASS_THUMB_WORKERS must be at least 1")
	}
	if cfg.OBSReconnectMaxAttempts < 1 {
		return nil, fmt.Errorf("SHOWGLASS_OBS_RECONNECT_MAX_ATTEMPTS must be at least 1")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// applyFile fills unset fields from a YAML overlay. Environment variables win.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	setIfEmpty := func(dst *string, envKeys []string, val string) {
		if val == "" {
			return
		}
		for _, k := range envKeys {
			if os.Getenv(k) != "" {
				return
			}
		}
		*dst = val
	}

	setIfEmpty(&c.Environment, []string{"SHOWGLASS_ENV", "OTA_ENV"}, fc.Environment)
	setIfEmpty(&c.HTTPBind, []string{"SHOWGLASS_HTTP_BIND", "OTA_HTTP_BIND"}, fc.HTTPBind)
	setIfEmpty(&c.AnimationsDir, []string{"SHOWGLASS_ANIMATIONS_DIR", "OTA_ANIMATIONS_DIR"}, fc.AnimationsDir)
	setIfEmpty(&c.VideosDir, []string{"SHOWGLASS_VIDEOS_DIR", "OTA_VIDEOS_DIR"}, fc.VideosDir)
	setIfEmpty(&c.DataDir, []string{"SHOWGLASS_DATA_DIR", "OTA_DATA_DIR"}, fc.DataDir)
	setIfEmpty(&c.SceneMappingPath, []string{"SHOWGLASS_SCENE_MAPPING", "OTA_SCENE_MAPPING"}, fc.SceneMappingPath)
	setIfEmpty(&c.OBSURL, []string{"SHOWGLASS_OBS_URL", "OTA_OBS_URL"}, fc.OBSURL)
	setIfEmpty(&c.OBSPassword, []string{"SHOWGLASS_OBS_PASSWORD", "OTA_OBS_PASSWORD"}, fc.OBSPassword)
	setIfEmpty(&c.FFmpegBin, []string{"SHOWGLASS_FFMPEG_BIN", "OTA_FFMPEG_BIN"}, fc.FFmpegBin)

	if fc.HTTPPort != 0 && os.Getenv("SHOWGLASS_HTTP_PORT") == "" && os.Getenv("OTA_HTTP_PORT") == "" {
		c.HTTPPort = fc.HTTPPort
	}
	if fc.ThumbWorkers != 0 && os.Getenv("SHOWGLASS_THUMB_WORKERS") == "" {
		c.ThumbWorkers = fc.ThumbWorkers
	}
	if fc.WatchInterval != "" && os.Getenv("SHOWGLASS_WATCH_INTERVAL") == "" && os.Getenv("OTA_WATCH_INTERVAL") == "" {
		d, err := time.ParseDuration(fc.WatchInterval)
		if err != nil {
			return fmt.Errorf("watch_interval: %w", err)
		}
		c.WatchInterval = d
	}

	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ANIMATIONS_DIR": "use SHOWGLASS_ANIMATIONS_DIR (or OTA_ANIMATIONS_DIR)",
		"VIDEOS_DIR":     "use SHOWGLASS_VIDEOS_DIR (or OTA_VIDEOS_DIR)",
		"OBS_URL":        "use SHOWGLASS_OBS_URL (or OTA_OBS_URL)",
		"OBS_PASSWORD":   "use SHOWGLASS_OBS_PASSWORD (or OTA_OBS_PASSWORD)",
		"PORT":           "use SHOWGLASS_HTTP_PORT (or OTA_HTTP_PORT)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
		}
	}
	return def
}
