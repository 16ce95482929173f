/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package hub fans realtime state out to websocket clients and accepts
// control messages from them. Every trigger source ends up in the state
// manager, and every accepted change comes back through the event bus, so
// each write produces exactly one broadcast no matter who asked for it.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/showglass/internal/bridge"
	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
	"github.com/friendsincode/showglass/internal/media"
	"github.com/friendsincode/showglass/internal/state"
	"github.com/friendsincode/showglass/internal/telemetry"
	"github.com/friendsincode/showglass/internal/version"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
	pingInterval = 15 * time.Second
)

type client struct {
	id          string
	role        Role
	connectedAt time.Time
	out         chan []byte
}

// Hub is the realtime broadcast center.
type Hub struct {
	state  *state.Manager
	store  *docstore.Store
	bus    *events.Bus
	logger zerolog.Logger

	// Optional status providers, wired by the server after construction.
	BridgeStatus func() any
	ThumbStatus  func() any

	mu      sync.Mutex
	clients map[string]*client
}

func New(st *state.Manager, store *docstore.Store, bus *events.Bus, logger zerolog.Logger) *Hub {
	return &Hub{
		state:   st,
		store:   store,
		bus:     bus,
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[string]*client),
	}
}

// Run forwards bus events to connected clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	mediaCh := h.bus.Subscribe(events.EventMediaChanged)
	sceneCh := h.bus.Subscribe(events.EventSceneChanged)
	bridgeCh := h.bus.Subscribe(events.EventBridgeStatus)
	defer h.bus.Unsubscribe(events.EventMediaChanged, mediaCh)
	defer h.bus.Unsubscribe(events.EventSceneChanged, sceneCh)
	defer h.bus.Unsubscribe(events.EventBridgeStatus, bridgeCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-mediaCh:
			raw, err := encode(msgAnimationChanged, payload)
			if err != nil {
				h.logger.Error().Err(err).Msg("encode animation_changed")
				continue
			}
			h.broadcast(raw, RoleDisplay, RoleDashboard)
		case payload := <-sceneCh:
			raw, err := encode(msgSceneChanged, payload)
			if err != nil {
				continue
			}
			h.broadcast(raw, RoleDashboard, RoleAutomation)
		case payload := <-bridgeCh:
			raw, err := encode(msgBridgeStatus, payload)
			if err != nil {
				continue
			}
			h.broadcast(raw, RoleDashboard, RoleAutomation)
		}
	}
}

// Trigger requests a media change. It is the convergence point for the
// websocket, REST and automation paths.
func (h *Hub) Trigger(name, source string) error {
	_, _, err := h.state.RequestChange(name)
	if err != nil {
		telemetry.TriggerFailuresTotal.WithLabelValues(source).Inc()
		return err
	}
	telemetry.TriggersTotal.WithLabelValues(source).Inc()
	return nil
}

// Stop clears the current media.
func (h *Hub) Stop(source string) error {
	_, _, err := h.state.RequestStop()
	if err != nil {
		telemetry.TriggerFailuresTotal.WithLabelValues(source).Inc()
		return err
	}
	telemetry.TriggersTotal.WithLabelValues(source).Inc()
	return nil
}

// Current returns the current media state.
func (h *Hub) Current() state.Current {
	return h.state.Snapshot()
}

// Roster returns the connected devices.
func (h *Hub) Roster() []Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	devices := make([]Device, 0, len(h.clients))
	for _, c := range h.clients {
		devices = append(devices, Device{ID: c.id, Role: c.role, ConnectedAt: c.connectedAt})
	}
	return devices
}

// HandleWebSocket upgrades the request and serves the connection until the
// client leaves or the server shuts down.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := ParseRole(r.URL.Query().Get("role"))

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	c := &client{
		id:          uuid.NewString(),
		role:        role,
		connectedAt: time.Now().UTC(),
		out:         make(chan []byte, clientBuffer),
	}

	h.register(c)
	defer h.unregister(c)

	telemetry.HubConnections.WithLabelValues(string(role)).Inc()
	defer telemetry.HubConnections.WithLabelValues(string(role)).Dec()

	h.logger.Debug().
		Str("client_id", c.id).
		Str("role", string(role)).
		Msg("websocket client connected")

	ctx := r.Context()

	if err := h.sendInitial(ctx, conn, c); err != nil {
		h.logger.Error().Err(err).Msg("failed to send initial state")
		conn.Close(ws.StatusInternalError, "send failed")
		return
	}

	done := make(chan struct{})
	inbound := make(chan Envelope, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("websocket read error")
				return
			}

			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				h.logger.Warn().Err(err).Str("client_id", c.id).Msg("invalid websocket message")
				continue
			}

			select {
			case inbound <- env:
			default:
				h.logger.Warn().Str("client_id", c.id).Msg("inbound channel full, dropping message")
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "server shutting down")
			return

		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return

		case <-pingTicker.C:
			raw, _ := encode(msgPing, nil)
			if err := h.write(ctx, conn, raw); err != nil {
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("ping failed")
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case raw := <-c.out:
			if err := h.write(ctx, conn, raw); err != nil {
				h.logger.Debug().Err(err).Str("client_id", c.id).Msg("send failed")
				conn.Close(ws.StatusInternalError, "send failed")
				return
			}

		case env := <-inbound:
			h.handleMessage(c, env)
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *ws.Conn, raw []byte) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, ws.MessageText, raw)
}

func (h *Hub) sendInitial(ctx context.Context, conn *ws.Conn, c *client) error {
	var raw []byte
	var err error
	if c.role == RoleDisplay {
		cur := h.state.Snapshot()
		raw, err = encode(msgAnimationChanged, events.Payload{
			"previous":     nil,
			"current":      cur.Media,
			"changed_at":   cur.ChangedAt,
			"refresh_page": true,
		})
	} else {
		raw, err = encode(msgStatus, h.Status())
	}
	if err != nil {
		return err
	}
	return h.write(ctx, conn, raw)
}

func (h *Hub) handleMessage(c *client, env Envelope) {
	switch env.Type {
	case msgTrigger:
		var p triggerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Name == "" {
			h.sendError(c, env.Type, "name required")
			return
		}
		if err := h.Trigger(p.Name, string(c.role)); err != nil {
			h.sendError(c, env.Type, err.Error())
		}

	case msgStop:
		if err := h.Stop(string(c.role)); err != nil {
			h.sendError(c, env.Type, err.Error())
		}

	case msgVideoControl:
		h.handleVideoControl(c, env)

	case msgSceneChange:
		h.handleSceneChange(c, env)

	case msgGetStatus:
		raw, err := encode(msgStatus, h.Status())
		if err != nil {
			return
		}
		h.send(c, raw)

	case msgPong:
		// Client ping response, ignore.

	default:
		h.logger.Warn().Str("type", env.Type).Str("client_id", c.id).Msg("unknown message type")
		h.sendError(c, env.Type, "unknown message type")
	}
}

// handleVideoControl validates the command against the current media and
// relays it to displays. Transport commands make no sense for markup items.
func (h *Hub) handleVideoControl(c *client, env Envelope) {
	var p videoControlPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.sendError(c, env.Type, "invalid payload")
		return
	}

	switch p.Action {
	case "play", "pause", "toggle", "restart", "mute", "unmute", "seek", "volume":
	default:
		h.sendError(c, env.Type, "unknown action "+p.Action)
		return
	}

	cur := h.state.Snapshot()
	if cur.Media == nil || cur.Media.Kind != media.KindVideo {
		h.sendError(c, env.Type, "current media is not a video")
		return
	}

	if p.Volume != nil {
		v := *p.Volume
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		p.Volume = &v
	}
	if p.Seek != nil && *p.Seek < 0 {
		zero := 0.0
		p.Seek = &zero
	}

	raw, err := encode(msgVideoControl, p)
	if err != nil {
		return
	}
	h.broadcast(raw, RoleDisplay)
}

// handleSceneChange treats a client-reported scene like one observed from
// the external controller: it lands in the scene snapshot document and the
// automation watcher takes it from there. A message naming an animation
// directly, or carrying an inline mapping that covers the scene, bypasses
// the persisted mapping for that one change.
func (h *Hub) handleSceneChange(c *client, env Envelope) {
	var p sceneChangePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.sendError(c, env.Type, "invalid payload")
		return
	}

	target := p.Animation
	if target == "" && p.SceneName != "" {
		target = p.AnimationMapping[p.SceneName]
	}
	if target != "" {
		if err := h.Trigger(target, string(c.role)); err != nil {
			h.sendError(c, env.Type, err.Error())
		}
		return
	}

	if p.SceneName == "" {
		h.sendError(c, env.Type, "scene_name required")
		return
	}

	snap := bridge.SceneSnapshot{SceneName: p.SceneName, ObservedAt: time.Now().UTC()}
	if err := h.store.Save(bridge.SnapshotDocument, snap); err != nil {
		h.logger.Error().Err(err).Msg("persist scene snapshot")
		h.sendError(c, env.Type, "internal error")
	}
}

// Status assembles the full status payload shared by the websocket
// get_status reply and the REST status endpoint.
func (h *Hub) Status() events.Payload {
	cur := h.state.Snapshot()
	payload := events.Payload{
		"current":    cur.Media,
		"changed_at": cur.ChangedAt,
		"devices":    h.Roster(),
		"version":    version.Version,
	}
	if h.BridgeStatus != nil {
		payload["bridge"] = h.BridgeStatus()
	}
	if h.ThumbStatus != nil {
		payload["thumbnails"] = h.ThumbStatus()
	}
	return payload
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.broadcastRoster()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.broadcastRoster()
}

func (h *Hub) broadcastRoster() {
	roster := h.Roster()
	raw, err := encode(msgDevicesUpdated, map[string]any{"devices": roster})
	if err != nil {
		return
	}
	h.broadcast(raw)
	if h.bus != nil {
		h.bus.Publish(events.EventRosterChanged, events.Payload{"count": len(roster)})
	}
}

// broadcast queues raw for every client, or only the given roles. A client
// whose buffer is full is skipped so one stuck display cannot stall the rest.
func (h *Hub) broadcast(raw []byte, roles ...Role) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if len(roles) > 0 && !roleIn(c.role, roles) {
			continue
		}
		select {
		case c.out <- raw:
		default:
			h.logger.Warn().Str("client_id", c.id).Msg("client buffer full, dropping broadcast")
		}
	}
}

func (h *Hub) send(c *client, raw []byte) {
	select {
	case c.out <- raw:
	default:
		h.logger.Warn().Str("client_id", c.id).Msg("client buffer full, dropping message")
	}
}

func (h *Hub) sendError(c *client, action, message string) {
	raw, err := encode(msgError, map[string]string{
		"action":  action,
		"message": message,
	})
	if err != nil {
		return
	}
	h.send(c, raw)
}

func roleIn(role Role, roles []Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
