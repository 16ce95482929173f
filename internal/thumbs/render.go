/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	thumbWidth  = 640
	thumbHeight = 360

	// Markup pages get a moment for animations and fonts to settle before
	// the screenshot is taken.
	settleDelay = 2 * time.Second
)

// Renderer produces a thumbnail image at dest from the media file at src.
type Renderer func(ctx context.Context, src, dest string) error

// newMarkupRenderer screenshots HTML pages with a headless browser.
func newMarkupRenderer() Renderer {
	return func(ctx context.Context, src, dest string) error {
		controlURL, err := launcher.New().Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}

		browser := rod.New().ControlURL(controlURL).Context(ctx)
		if err := browser.Connect(); err != nil {
			return fmt.Errorf("connect browser: %w", err)
		}
		defer browser.Close()

		page, err := browser.Page(proto.TargetCreateTarget{URL: "file://" + src})
		if err != nil {
			return fmt.Errorf("open page: %w", err)
		}

		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             thumbWidth,
			Height:            thumbHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}

		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("wait load: %w", err)
		}

		select {
		case <-time.After(settleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return fmt.Errorf("screenshot: %w", err)
		}

		return os.WriteFile(dest, data, 0o644)
	}
}

// newVideoRenderer extracts a frame one second in, scaled to thumbnail size.
func newVideoRenderer(bin string) Renderer {
	return func(ctx context.Context, src, dest string) error {
		cmd := exec.CommandContext(ctx, bin,
			"-ss", "1",
			"-i", src,
			"-frames:v", "1",
			"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", thumbWidth, thumbHeight),
			"-y", dest,
		)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(output))
		}
		return nil
	}
}
