/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/showglass/internal/config"
	"github.com/friendsincode/showglass/internal/logbuffer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment:      "test",
		HTTPBind:         "127.0.0.1",
		HTTPPort:         0,
		AnimationsDir:    filepath.Join(dir, "animations"),
		VideosDir:        filepath.Join(dir, "videos"),
		DataDir:          filepath.Join(dir, "data"),
		SceneMappingPath: filepath.Join(dir, "data", "scene_mapping.json"),
		WatchInterval:    50 * time.Millisecond,
		ThumbWorkers:     1,
		ThumbTimeout:     time.Second,
		FFmpegBin:        "ffmpeg",
	}
}

func TestNewServesCoreRoutes(t *testing.T) {
	srv, err := New(testConfig(t), logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	handler := srv.HTTPServer().Handler

	for _, path := range []string{"/healthz", "/health", "/animations", "/api/status", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
}

// The websocket route must upgrade through the full middleware stack, not
// just through a bare handler.
func TestWebsocketUpgradesThroughMiddleware(t *testing.T) {
	srv, err := New(testConfig(t), logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	ts := httptest.NewServer(srv.HTTPServer().Handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?role=display"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial through middleware: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The display greeting proves the connection is actually served.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "animation_changed" {
		t.Fatalf("unexpected greeting %q", env.Type)
	}
}

func TestBridgeDisabledWithoutURL(t *testing.T) {
	srv, err := New(testConfig(t), logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	if srv.bridge != nil {
		t.Fatal("bridge should be nil when no controller URL is configured")
	}
	if _, ok := srv.Hub().Status()["bridge"]; ok {
		t.Fatal("status payload should omit bridge when disabled")
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	srv, err := New(testConfig(t), logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close never returned")
	}
}
