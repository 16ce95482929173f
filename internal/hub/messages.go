/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package hub

import (
	"encoding/json"
	"time"
)

// Role identifies what a websocket client is for. Displays render media,
// dashboards drive it, automation clients observe, and control bridges
// relay external state.
type Role string

const (
	RoleDisplay       Role = "display"
	RoleDashboard     Role = "dashboard"
	RoleAutomation    Role = "automation_client"
	RoleControlBridge Role = "control_bridge"
)

// ParseRole maps a query value to a known role, defaulting to display.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleDashboard, RoleAutomation, RoleControlBridge:
		return Role(s)
	default:
		return RoleDisplay
	}
}

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Inbound message types.
const (
	msgTrigger      = "trigger_animation"
	msgStop         = "stop_animation"
	msgVideoControl = "video_control"
	msgSceneChange  = "scene_change"
	msgGetStatus    = "get_status"
	msgPong         = "pong"
)

// Outbound message types.
const (
	msgAnimationChanged = "animation_changed"
	msgDevicesUpdated   = "devices_updated"
	msgStatus           = "status"
	msgSceneChanged     = "scene_changed"
	msgBridgeStatus     = "bridge_status"
	msgError            = "error"
	msgPing             = "ping"
)

type triggerPayload struct {
	Name string `json:"name"`
}

type videoControlPayload struct {
	Action string   `json:"action"`
	Volume *float64 `json:"volume,omitempty"`
	Seek   *float64 `json:"seek,omitempty"`
}

type sceneChangePayload struct {
	SceneName string `json:"scene_name"`
	Animation string `json:"animation,omitempty"`
	// AnimationMapping is an inline scene -> animation table consulted for
	// this one change only; the persisted mapping is untouched.
	AnimationMapping map[string]string `json:"animation_mapping,omitempty"`
}

// Device describes a connected client in the roster broadcast.
type Device struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	ConnectedAt time.Time `json:"connected_at"`
}

func encode(msgType string, data any) ([]byte, error) {
	env := Envelope{Type: msgType, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
