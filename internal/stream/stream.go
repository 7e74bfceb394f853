// Package stream adapts the server's push-event channel into typed events
// and carries the client's outbound room commands over the same channel.
package stream

import (
	"context"
	"sync"

	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// Command names accepted by the push channel.
const (
	ActionJoinRoom        = "join-room"
	ActionLeaveRoom       = "leave-room"
	ActionSendMessage     = "send-message"
	ActionCastVote        = "cast-vote"
	ActionSetRole         = "set-role"
	ActionSetListenerChat = "set-listener-chat"
	ActionPinMessage      = "pin-message"
	ActionDeleteMessage   = "delete-message"
	ActionReportMessage   = "report-message"
)

// Command is the outbound envelope written to the push channel.
type Command struct {
	Action    string    `json:"action"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content,omitempty"`
	Approve   *bool     `json:"approve,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Role      room.Role `json:"role,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Enabled   *bool     `json:"enabled,omitempty"`
	Pinned    *bool     `json:"pinned,omitempty"`
}

// Conn is a connected push channel. Subscribe delivers the room's events
// to the handler table until the returned subscription is closed; the
// remaining methods emit outbound commands.
type Conn interface {
	Subscribe(roomID string, h Handlers) (*Subscription, error)

	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID, content string) error
	CastVote(ctx context.Context, roomID string, approve bool) error
	SetParticipantRole(ctx context.Context, roomID, participantID string, role room.Role) error
	SetListenerMessaging(ctx context.Context, roomID string, enabled bool) error
	PinMessage(ctx context.Context, roomID, messageID string, pinned bool) error
	DeleteMessage(ctx context.Context, roomID, messageID string) error
	ReportMessage(ctx context.Context, roomID, messageID string) error

	Close() error
}

// Subscription is the handle returned by Subscribe. Closing it is the only
// way to unsubscribe, so a subscription can never leak a half-removed
// handler pair. Close is idempotent.
type Subscription struct {
	once    sync.Once
	closeFn func() error
}

// NewSubscription wraps a teardown function into a subscription handle.
// Custom Conn implementations use this for their Subscribe results.
func NewSubscription(closeFn func() error) *Subscription {
	return &Subscription{closeFn: closeFn}
}

// Close tears the subscription down. Safe to call more than once and safe
// to call during transport teardown.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.closeFn != nil {
			err = s.closeFn()
		}
	})
	return err
}
