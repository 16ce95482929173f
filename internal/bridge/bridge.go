/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bridge maintains the persistent client connection to the external
// production tool's control websocket (obs-websocket protocol). It supervises
// reconnection with capped exponential backoff, republishes scene change
// notifications, and keeps the persisted scene snapshot current.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/showglass/internal/docstore"
	"github.com/friendsincode/showglass/internal/events"
)

// SnapshotDocument is the persisted scene snapshot, overwritten on every
// scene change notification. The automation watcher polls it.
const SnapshotDocument = "scene_snapshot.json"

// SceneSnapshot records the most recently observed scene.
type SceneSnapshot struct {
	SceneName  string    `json:"scene_name"`
	ObservedAt time.Time `json:"observed_at"`
}

// State enumerates the supervisor states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateExhausted    State = "exhausted"
)

// ErrConnectionExhausted reports that the reconnect attempt budget ran out.
var ErrConnectionExhausted = errors.New("bridge: reconnect attempts exhausted")

// errProbeFailed tears down a silently-dead socket found by the liveness probe.
var errProbeFailed = errors.New("bridge: liveness probe failed")

// Status is a point-in-time view of the bridge for dashboards.
type Status struct {
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	LastScene string    `json:"last_scene,omitempty"`
	Since     time.Time `json:"since"`
}

// Config holds bridge tuning.
type Config struct {
	URL           string
	Password      string
	MaxAttempts   int
	MaxInterval   time.Duration
	ProbeInterval time.Duration
}

// Bridge supervises the control connection.
type Bridge struct {
	cfg    Config
	store  *docstore.Store
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.RWMutex
	status    Status
	sceneList []string
	conn      *ws.Conn

	pendingMu sync.Mutex
	pending   map[string]chan requestResponse
}

// New creates a bridge. Run must be called to start it.
func New(cfg Config, store *docstore.Store, bus *events.Bus, logger zerolog.Logger) *Bridge {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	return &Bridge{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		logger:  logger.With().Str("component", "bridge").Logger(),
		status:  Status{State: StateDisconnected, Since: time.Now()},
		pending: make(map[string]chan requestResponse),
	}
}

// Status returns the current supervisor status.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// newReconnectBackoff builds the reconnect schedule: exponential from one
// second, doubling, capped at the configured ceiling. Randomization is off so
// the schedule is strictly non-decreasing.
func newReconnectBackoff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	if maxInterval < bo.InitialInterval {
		bo.InitialInterval = maxInterval
	}
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = 0 // attempts are bounded by count, not wall clock
	bo.Reset()
	return bo
}

// Run drives the supervisor until ctx is cancelled or the attempt budget is
// exhausted. Exhaustion is reported through Status and the event bus, not as
// a process failure.
func (b *Bridge) Run(ctx context.Context) error {
	bo := newReconnectBackoff(b.cfg.MaxInterval)
	attempts := 0
	reconnecting := false

	for {
		if ctx.Err() != nil {
			b.setState(StateDisconnected, nil)
			return ctx.Err()
		}

		if reconnecting {
			b.setState(StateReconnecting, nil)
		} else {
			b.setState(StateConnecting, nil)
		}

		conn, err := b.connect(ctx)
		if err != nil {
			attempts++
			b.noteAttempt(attempts, err)
			if attempts >= b.cfg.MaxAttempts {
				b.logger.Error().Err(err).Int("attempts", attempts).Msg("giving up on control connection")
				b.setState(StateExhausted, ErrConnectionExhausted)
				return ErrConnectionExhausted
			}

			wait := bo.NextBackOff()
			b.logger.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("retry_in", wait).
				Msg("control connection failed")

			select {
			case <-ctx.Done():
				b.setState(StateDisconnected, nil)
				return ctx.Err()
			case <-time.After(wait):
			}
			reconnecting = true
			continue
		}

		attempts = 0
		bo.Reset()
		b.setState(StateConnected, nil)
		b.logger.Info().Str("url", b.cfg.URL).Msg("control connection established")

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		err = b.serve(ctx, conn)

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		conn.Close(ws.StatusNormalClosure, "closing")
		b.failPending()

		if ctx.Err() != nil {
			b.setState(StateDisconnected, nil)
			return ctx.Err()
		}

		b.logger.Warn().Err(err).Msg("control connection lost")
		reconnecting = true
	}
}

// serve pumps notifications until the connection dies. The notification path
// never performs a synchronous round-trip: scene events are written to the
// snapshot document and republished, nothing else.
func (b *Bridge) serve(ctx context.Context, conn *ws.Conn) error {
	readCh := make(chan incomingMessage, 16)
	readErr := make(chan error, 1)

	go func() {
		for {
			var msg incomingMessage
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				b.logger.Debug().Err(err).Msg("unparseable control message")
				continue
			}
			select {
			case readCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	probe := time.NewTicker(b.cfg.ProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(probeCtx)
			cancel()
			if err != nil {
				b.logger.Warn().Err(err).Msg("liveness probe failed")
				return errProbeFailed
			}

		case msg := <-readCh:
			b.dispatch(msg)
		}
	}
}

func (b *Bridge) dispatch(msg incomingMessage) {
	switch msg.Op {
	case opEvent:
		var ev eventData
		if err := json.Unmarshal(msg.D, &ev); err != nil {
			b.logger.Debug().Err(err).Msg("bad event payload")
			return
		}
		if ev.EventType == eventSceneChanged {
			b.handleSceneChanged(ev.EventData.SceneName)
		}

	case opRequestResponse:
		var resp requestResponse
		if err := json.Unmarshal(msg.D, &resp); err != nil {
			b.logger.Debug().Err(err).Msg("bad request response")
			return
		}
		b.pendingMu.Lock()
		ch, ok := b.pending[resp.RequestID]
		delete(b.pending, resp.RequestID)
		b.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (b *Bridge) handleSceneChanged(sceneName string) {
	snapshot := SceneSnapshot{SceneName: sceneName, ObservedAt: time.Now().UTC()}
	if err := b.store.Save(SnapshotDocument, snapshot); err != nil {
		b.logger.Error().Err(err).Msg("failed to persist scene snapshot")
		return
	}

	b.mu.Lock()
	b.status.LastScene = sceneName
	b.mu.Unlock()

	b.logger.Debug().Str("scene", sceneName).Msg("scene changed")

	if b.bus != nil {
		b.bus.Publish(events.EventSceneChanged, events.Payload{
			"scene_name":  sceneName,
			"observed_at": snapshot.ObservedAt,
		})
	}
}

// SceneList requests the scene list from the tool. This is the slow, lazy
// query path; it shares nothing with the notification handler beyond the
// connection itself, and falls back to the last cached list while
// disconnected.
func (b *Bridge) SceneList(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	conn := b.conn
	cached := append([]string(nil), b.sceneList...)
	b.mu.RUnlock()

	if conn == nil {
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, errors.New("bridge: not connected")
	}

	requestID := uuid.NewString()
	ch := make(chan requestResponse, 1)
	b.pendingMu.Lock()
	b.pending[requestID] = ch
	b.pendingMu.Unlock()

	req := outgoingMessage{
		Op: opRequest,
		D: requestData{
			RequestType: requestGetSceneList,
			RequestID:   requestID,
		},
	}
	if err := writeJSON(ctx, conn, req); err != nil {
		b.pendingMu.Lock()
		delete(b.pending, requestID)
		b.pendingMu.Unlock()
		return nil, fmt.Errorf("send scene list request: %w", err)
	}

	select {
	case <-ctx.Done():
		b.pendingMu.Lock()
		delete(b.pending, requestID)
		b.pendingMu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.New("bridge: connection lost")
		}
		if resp.RequestStatus.Code != 100 {
			return nil, fmt.Errorf("scene list request failed: %s", resp.RequestStatus.Comment)
		}
		var data sceneListResponse
		if err := json.Unmarshal(resp.ResponseData, &data); err != nil {
			return nil, fmt.Errorf("decode scene list: %w", err)
		}
		names := make([]string, 0, len(data.Scenes))
		for _, s := range data.Scenes {
			names = append(names, s.SceneName)
		}
		b.mu.Lock()
		b.sceneList = names
		b.mu.Unlock()
		return names, nil
	}
}

func (b *Bridge) setState(state State, err error) {
	b.mu.Lock()
	prev := b.status.State
	b.status.State = state
	b.status.Since = time.Now()
	if err != nil {
		b.status.LastError = err.Error()
	}
	if state == StateConnected {
		b.status.Attempts = 0
		b.status.LastError = ""
	}
	b.mu.Unlock()

	if prev != state && b.bus != nil {
		b.bus.Publish(events.EventBridgeStatus, events.Payload{"state": string(state)})
	}
}

func (b *Bridge) noteAttempt(attempts int, err error) {
	b.mu.Lock()
	b.status.Attempts = attempts
	b.status.LastError = err.Error()
	b.mu.Unlock()
}

func (b *Bridge) failPending() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
}
