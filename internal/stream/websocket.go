package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// WebSocketConfig holds configuration for the websocket push channel.
type WebSocketConfig struct {
	URL              string
	AuthToken        string
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

// DefaultWebSocketConfig returns default websocket configuration.
func DefaultWebSocketConfig(url string) WebSocketConfig {
	return WebSocketConfig{
		URL:              url,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// WebSocketConn is the websocket implementation of Conn. One goroutine
// reads and dispatches events; writes are serialized behind a mutex since
// gorilla allows at most one concurrent writer.
type WebSocketConn struct {
	conn   *websocket.Conn
	config WebSocketConfig

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]Handlers

	done      chan struct{}
	closeOnce sync.Once
}

var _ Conn = (*WebSocketConn)(nil)

// DialWebSocket connects the push channel and starts the read loop.
func DialWebSocket(ctx context.Context, config WebSocketConfig) (*WebSocketConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	header := http.Header{}
	if config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+config.AuthToken)
	}

	conn, _, err := dialer.DialContext(ctx, config.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	ws := &WebSocketConn{
		conn:   conn,
		config: config,
		subs:   make(map[string]Handlers),
		done:   make(chan struct{}),
	}

	go ws.readLoop()
	go ws.pingLoop()

	log.Info().Str("url", config.URL).Msg("push channel connected")
	return ws, nil
}

// Subscribe routes the room's events into the handler table until the
// returned subscription is closed.
func (ws *WebSocketConn) Subscribe(roomID string, h Handlers) (*Subscription, error) {
	ws.subsMu.Lock()
	if _, exists := ws.subs[roomID]; exists {
		ws.subsMu.Unlock()
		return nil, fmt.Errorf("room %s already subscribed", roomID)
	}
	ws.subs[roomID] = h
	ws.subsMu.Unlock()

	return NewSubscription(func() error {
		ws.subsMu.Lock()
		delete(ws.subs, roomID)
		ws.subsMu.Unlock()
		log.Debug().Str("room_id", roomID).Msg("push subscription closed")
		return nil
	}), nil
}

func (ws *WebSocketConn) readLoop() {
	defer ws.Close()
	for {
		var evt Event
		if err := ws.conn.ReadJSON(&evt); err != nil {
			select {
			case <-ws.done:
			default:
				log.Error().Err(err).Msg("push channel read failed")
			}
			return
		}

		ws.subsMu.Lock()
		h, ok := ws.subs[evt.RoomID]
		ws.subsMu.Unlock()
		if !ok {
			continue
		}

		if err := h.dispatch(evt); err != nil {
			log.Error().
				Err(err).
				Str("event_type", string(evt.Type)).
				Str("room_id", evt.RoomID).
				Msg("failed to dispatch push event")
		}
	}
}

func (ws *WebSocketConn) pingLoop() {
	ticker := time.NewTicker(ws.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			ws.writeMu.Lock()
			err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.config.WriteTimeout))
			ws.writeMu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("push channel ping failed")
			}
		}
	}
}

func (ws *WebSocketConn) send(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	deadline := time.Now().Add(ws.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := ws.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Action, err)
	}
	return nil
}

// JoinRoom announces the local account's entry on the push channel.
func (ws *WebSocketConn) JoinRoom(ctx context.Context, roomID string) error {
	return ws.send(ctx, Command{Action: ActionJoinRoom, RoomID: roomID})
}

// LeaveRoom announces the local account's exit on the push channel.
func (ws *WebSocketConn) LeaveRoom(ctx context.Context, roomID string) error {
	return ws.send(ctx, Command{Action: ActionLeaveRoom, RoomID: roomID})
}

// SendMessage emits a chat message.
func (ws *WebSocketConn) SendMessage(ctx context.Context, roomID, content string) error {
	return ws.send(ctx, Command{Action: ActionSendMessage, RoomID: roomID, Content: content})
}

// CastVote emits an extension-vote ballot.
func (ws *WebSocketConn) CastVote(ctx context.Context, roomID string, approve bool) error {
	return ws.send(ctx, Command{Action: ActionCastVote, RoomID: roomID, Approve: &approve})
}

// SetParticipantRole promotes or demotes a participant (host control).
func (ws *WebSocketConn) SetParticipantRole(ctx context.Context, roomID, participantID string, role room.Role) error {
	return ws.send(ctx, Command{Action: ActionSetRole, RoomID: roomID, TargetID: participantID, Role: role})
}

// SetListenerMessaging toggles listener chat for the room (host control).
func (ws *WebSocketConn) SetListenerMessaging(ctx context.Context, roomID string, enabled bool) error {
	return ws.send(ctx, Command{Action: ActionSetListenerChat, RoomID: roomID, Enabled: &enabled})
}

// PinMessage sets or clears a message's pinned flag.
func (ws *WebSocketConn) PinMessage(ctx context.Context, roomID, messageID string, pinned bool) error {
	return ws.send(ctx, Command{Action: ActionPinMessage, RoomID: roomID, MessageID: messageID, Pinned: &pinned})
}

// DeleteMessage requests authoritative removal of a message.
func (ws *WebSocketConn) DeleteMessage(ctx context.Context, roomID, messageID string) error {
	return ws.send(ctx, Command{Action: ActionDeleteMessage, RoomID: roomID, MessageID: messageID})
}

// ReportMessage flags a message for moderation.
func (ws *WebSocketConn) ReportMessage(ctx context.Context, roomID, messageID string) error {
	return ws.send(ctx, Command{Action: ActionReportMessage, RoomID: roomID, MessageID: messageID})
}

// Close shuts the push channel down. Idempotent; read and ping loops stop
// once the underlying connection closes.
func (ws *WebSocketConn) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		close(ws.done)
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		err = ws.conn.Close()
	})
	return err
}
