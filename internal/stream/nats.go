package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// NATSConfig holds configuration for the NATS-backed push channel, used by
// deployments that fan room events out over NATS subjects instead of a
// websocket edge.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS push-channel configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSConn is the NATS implementation of Conn. Events for a room arrive on
// "<prefix>.<roomID>.events"; commands are published to
// "<prefix>.<roomID>.commands".
type NATSConn struct {
	nc     *nats.Conn
	config NATSConfig
}

var _ Conn = (*NATSConn)(nil)

// DialNATS connects the NATS push channel.
func DialNATS(config NATSConfig) (*NATSConn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", config.URL).Msg("NATS push channel connected")
	return &NATSConn{nc: nc, config: config}, nil
}

// Subscribe routes the room's event subject into the handler table until
// the returned subscription is closed.
func (n *NATSConn) Subscribe(roomID string, h Handlers) (*Subscription, error) {
	subject := fmt.Sprintf("%s.%s.events", n.config.SubjectPrefix, roomID)
	sub, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal push event")
			return
		}
		if err := h.dispatch(evt); err != nil {
			log.Error().
				Err(err).
				Str("event_type", string(evt.Type)).
				Str("room_id", evt.RoomID).
				Msg("failed to dispatch push event")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	return NewSubscription(func() error {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", subject, err)
		}
		log.Debug().Str("room_id", roomID).Msg("push subscription closed")
		return nil
	}), nil
}

func (n *NATSConn) publish(cmd Command) error {
	subject := fmt.Sprintf("%s.%s.commands", n.config.SubjectPrefix, cmd.RoomID)
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Action, err)
	}
	return nil
}

// JoinRoom announces the local account's entry on the push channel.
func (n *NATSConn) JoinRoom(_ context.Context, roomID string) error {
	return n.publish(Command{Action: ActionJoinRoom, RoomID: roomID})
}

// LeaveRoom announces the local account's exit on the push channel.
func (n *NATSConn) LeaveRoom(_ context.Context, roomID string) error {
	return n.publish(Command{Action: ActionLeaveRoom, RoomID: roomID})
}

// SendMessage emits a chat message.
func (n *NATSConn) SendMessage(_ context.Context, roomID, content string) error {
	return n.publish(Command{Action: ActionSendMessage, RoomID: roomID, Content: content})
}

// CastVote emits an extension-vote ballot.
func (n *NATSConn) CastVote(_ context.Context, roomID string, approve bool) error {
	return n.publish(Command{Action: ActionCastVote, RoomID: roomID, Approve: &approve})
}

// SetParticipantRole promotes or demotes a participant (host control).
func (n *NATSConn) SetParticipantRole(_ context.Context, roomID, participantID string, role room.Role) error {
	return n.publish(Command{Action: ActionSetRole, RoomID: roomID, TargetID: participantID, Role: role})
}

// SetListenerMessaging toggles listener chat for the room (host control).
func (n *NATSConn) SetListenerMessaging(_ context.Context, roomID string, enabled bool) error {
	return n.publish(Command{Action: ActionSetListenerChat, RoomID: roomID, Enabled: &enabled})
}

// PinMessage sets or clears a message's pinned flag.
func (n *NATSConn) PinMessage(_ context.Context, roomID, messageID string, pinned bool) error {
	return n.publish(Command{Action: ActionPinMessage, RoomID: roomID, MessageID: messageID, Pinned: &pinned})
}

// DeleteMessage requests authoritative removal of a message.
func (n *NATSConn) DeleteMessage(_ context.Context, roomID, messageID string) error {
	return n.publish(Command{Action: ActionDeleteMessage, RoomID: roomID, MessageID: messageID})
}

// ReportMessage flags a message for moderation.
func (n *NATSConn) ReportMessage(_ context.Context, roomID, messageID string) error {
	return n.publish(Command{Action: ActionReportMessage, RoomID: roomID, MessageID: messageID})
}

// Close drains and closes the NATS connection. Idempotent.
func (n *NATSConn) Close() error {
	if n.nc != nil && !n.nc.IsClosed() {
		n.nc.Close()
	}
	return nil
}
