/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	ws "nhooyr.io/websocket"
)

// obs-websocket v5 opcodes, limited to what the bridge uses.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const (
	eventSceneChanged   = "CurrentProgramSceneChanged"
	requestGetSceneList = "GetSceneList"

	// EventSubscription bitmask: Scenes.
	subscriptionScenes = 1 << 2
)

type incomingMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type outgoingMessage struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type identifyData struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type eventData struct {
	EventType string `json:"eventType"`
	EventData struct {
		SceneName string `json:"sceneName"`
	} `json:"eventData"`
}

type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type requestResponse struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment,omitempty"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData,omitempty"`
}

type sceneListResponse struct {
	Scenes []struct {
		SceneName string `json:"sceneName"`
	} `json:"scenes"`
}

// connect dials the control socket and completes the Hello/Identify
// handshake, subscribing to scene events only.
func (b *Bridge) connect(ctx context.Context) (*ws.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(dialCtx, b.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", b.cfg.URL, err)
	}

	hello, err := readMessage(dialCtx, conn, opHello)
	if err != nil {
		conn.Close(ws.StatusProtocolError, "no hello")
		return nil, fmt.Errorf("await hello: %w", err)
	}

	var h helloData
	if err := json.Unmarshal(hello.D, &h); err != nil {
		conn.Close(ws.StatusProtocolError, "bad hello")
		return nil, fmt.Errorf("decode hello: %w", err)
	}

	identify := identifyData{
		RPCVersion:         1,
		EventSubscriptions: subscriptionScenes,
	}
	if h.Authentication != nil {
		identify.Authentication = authResponse(b.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}

	if err := writeJSON(dialCtx, conn, outgoingMessage{Op: opIdentify, D: identify}); err != nil {
		conn.Close(ws.StatusProtocolError, "identify failed")
		return nil, fmt.Errorf("send identify: %w", err)
	}

	if _, err := readMessage(dialCtx, conn, opIdentified); err != nil {
		conn.Close(ws.StatusProtocolError, "not identified")
		return nil, fmt.Errorf("await identified: %w", err)
	}

	return conn, nil
}

// authResponse implements the obs-websocket challenge:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])
	responseHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(responseHash[:])
}

// readMessage reads until a message with the wanted opcode arrives. Other
// opcodes received during the handshake are discarded.
func readMessage(ctx context.Context, conn *ws.Conn, wantOp int) (incomingMessage, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return incomingMessage{}, err
		}
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Op == wantOp {
			return msg, nil
		}
	}
}

func writeJSON(ctx context.Context, conn *ws.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}
