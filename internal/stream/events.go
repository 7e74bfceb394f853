package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// EventType names a push event on the room channel.
type EventType string

const (
	EventRoomUpdate      EventType = "room-update"
	EventRoomMessage     EventType = "room-message"
	EventRoomClosed      EventType = "room-closed"
	EventVoteStart       EventType = "extension-vote-start"
	EventVoteResult      EventType = "vote-result"
	EventMessageReaction EventType = "room-message-reaction"
	EventRateLimited     EventType = "chat-rate-limited"
)

// Event is the envelope every push event arrives in.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"event"`
	RoomID    string          `json:"room_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RoomMessagePayload carries a single new chat message.
type RoomMessagePayload struct {
	RoomID  string           `json:"room_id"`
	Message room.ChatMessage `json:"message"`
}

// RoomClosedPayload announces the authoritative end of a room.
type RoomClosedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// VoteStartPayload opens an extension-vote window.
type VoteStartPayload struct {
	RoomID      string `json:"room_id"`
	TimeLeftSec int    `json:"time_left_sec"`
}

// VoteResultPayload carries the authoritative vote outcome.
type VoteResultPayload struct {
	RoomID      string `json:"room_id"`
	YesCount    int    `json:"yes_count"`
	NoCount     int    `json:"no_count"`
	Extended    bool   `json:"extended"`
	TimeLeftSec int    `json:"time_left_sec"`
}

// MessageReactionPayload adds or removes a reaction on a chat message.
type MessageReactionPayload struct {
	RoomID    string        `json:"room_id"`
	MessageID string        `json:"message_id"`
	Reaction  room.Reaction `json:"reaction"`
	Removed   bool          `json:"removed"`
}

// RateLimitedPayload is the server's rejection of a chat send, carrying
// the countdown before the client may send again.
type RateLimitedPayload struct {
	RoomID    string `json:"room_id"`
	RetrySec  int    `json:"retry_sec"`
	Suspended bool   `json:"suspended,omitempty"`
}

// Handlers is the statically-declared table of event handlers for one
// subscription. Every subscription's wiring is visible at the single
// Subscribe call site; a nil entry means the event is ignored.
type Handlers struct {
	RoomUpdate      func(room.Session)
	RoomMessage     func(room.ChatMessage)
	RoomClosed      func(RoomClosedPayload)
	VoteStarted     func(VoteStartPayload)
	VoteResult      func(VoteResultPayload)
	MessageReaction func(MessageReactionPayload)
	RateLimited     func(RateLimitedPayload)
}

// dispatch decodes the event payload and routes it to the matching
// handler. Unknown event types are reported, not dropped silently.
func (h Handlers) dispatch(evt Event) error {
	switch evt.Type {
	case EventRoomUpdate:
		if h.RoomUpdate == nil {
			return nil
		}
		var p room.Session
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.RoomUpdate(p)

	case EventRoomMessage:
		if h.RoomMessage == nil {
			return nil
		}
		var p RoomMessagePayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.RoomMessage(p.Message)

	case EventRoomClosed:
		if h.RoomClosed == nil {
			return nil
		}
		var p RoomClosedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.RoomClosed(p)

	case EventVoteStart:
		if h.VoteStarted == nil {
			return nil
		}
		var p VoteStartPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.VoteStarted(p)

	case EventVoteResult:
		if h.VoteResult == nil {
			return nil
		}
		var p VoteResultPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.VoteResult(p)

	case EventMessageReaction:
		if h.MessageReaction == nil {
			return nil
		}
		var p MessageReactionPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.MessageReaction(p)

	case EventRateLimited:
		if h.RateLimited == nil {
			return nil
		}
		var p RateLimitedPayload
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("unmarshal %s: %w", evt.Type, err)
		}
		h.RateLimited(p)

	default:
		return fmt.Errorf("unknown event type: %s", evt.Type)
	}
	return nil
}
