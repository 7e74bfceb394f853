// Package chat implements the room's chat side-channel: message history,
// dedupe against the push stream, pin/delete/report actions, reactions,
// and the server-signalled rate-limit countdown.
package chat

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/units61/MatchTalkV2-sub000/internal/countdown"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// ErrSendBlocked is returned when the send gate is closed (rate limit or
// messaging policy).
var ErrSendBlocked = errors.New("chat sending is blocked")

// Sender carries the chat subsystem's outbound actions on the push channel.
type Sender interface {
	SendMessage(ctx context.Context, roomID, content string) error
	PinMessage(ctx context.Context, roomID, messageID string, pinned bool) error
	DeleteMessage(ctx context.Context, roomID, messageID string) error
	ReportMessage(ctx context.Context, roomID, messageID string) error
}

// RateLimitState is the transient send-gate derived from a server signal.
// The countdown decrements locally and clears itself at zero; no server
// confirmation is needed to re-enable sending.
type RateLimitState struct {
	Active       bool
	RemainingSec int
}

// Log is the chat subsystem for one room.
type Log struct {
	mu     sync.Mutex
	sender Sender
	roomID string

	messages []room.ChatMessage
	seen     map[string]struct{}

	rate      RateLimitState
	rateTimer *countdown.Countdown

	draft string
}

// NewLog creates the chat subsystem for a room. The clock drives the
// rate-limit countdown.
func NewLog(sender Sender, roomID string, clock clockwork.Clock) *Log {
	l := &Log{
		sender: sender,
		roomID: roomID,
		seen:   make(map[string]struct{}),
	}
	l.rateTimer = countdown.New(clock)
	l.rateTimer.OnTick(func(remaining int) {
		l.mu.Lock()
		l.rate.RemainingSec = remaining
		l.mu.Unlock()
	})
	l.rateTimer.OnExpire(func() {
		l.mu.Lock()
		l.rate = RateLimitState{}
		l.mu.Unlock()
		log.Debug().Str("room_id", roomID).Msg("chat rate limit cleared")
	})
	return l
}

// LoadHistory seeds the log from the snapshot's chat history.
func (l *Log) LoadHistory(msgs []room.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		l.appendLocked(m)
	}
}

// AppendIncoming adds a message delivered by the push stream. Appending a
// message whose id is already present is a no-op, since a message the
// local user just sent may arrive a second time via the stream. Returns
// whether the message was new.
func (l *Log) AppendIncoming(m room.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(m)
}

func (l *Log) appendLocked(m room.ChatMessage) bool {
	if _, dup := l.seen[m.ID]; dup {
		return false
	}
	l.seen[m.ID] = struct{}{}
	l.messages = append(l.messages, m)
	return true
}

// Messages returns a copy of the log in display order: pinned messages
// first, otherwise by creation time ascending.
func (l *Log) Messages() []room.ChatMessage {
	l.mu.Lock()
	out := append([]room.ChatMessage(nil), l.messages...)
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of messages held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// CanSend is the send gate, a pure function of current state: sending is
// blocked while rate-limited and, while the host's listener-messaging
// mode reserves the chat for listeners, for the speaker role.
func (l *Log) CanSend(localRole room.Role, listenerMessagesEnabled bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rate.Active {
		return false
	}
	if listenerMessagesEnabled && localRole == room.RoleSpeaker {
		return false
	}
	return true
}

// Send emits a chat message on the push channel. On failure the composed
// text is kept as the draft so the caller can restore it to the input;
// the attempt is never retried automatically.
func (l *Log) Send(ctx context.Context, content string) error {
	l.mu.Lock()
	l.draft = content
	l.mu.Unlock()

	if err := l.sender.SendMessage(ctx, l.roomID, content); err != nil {
		return err
	}

	l.mu.Lock()
	l.draft = ""
	l.mu.Unlock()
	return nil
}

// Draft returns the composed text of the last failed send, empty when the
// last send succeeded.
func (l *Log) Draft() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draft
}

// TogglePin flips a message's pinned flag optimistically (immediate local
// mutation) and then informs the server. A server rejection leaves the
// optimistic flag in place; the next room snapshot or update corrects it.
func (l *Log) TogglePin(ctx context.Context, messageID string) error {
	l.mu.Lock()
	var pinned bool
	found := false
	for i := range l.messages {
		if l.messages[i].ID == messageID {
			l.messages[i].Pinned = !l.messages[i].Pinned
			pinned = l.messages[i].Pinned
			found = true
			break
		}
	}
	l.mu.Unlock()
	if !found {
		return nil
	}
	return l.sender.PinMessage(ctx, l.roomID, messageID, pinned)
}

// Delete removes a message authoritatively: the local copy goes away only
// after the originating call resolves, so a rejected delete (insufficient
// privilege) never ghosts a message out of the list.
func (l *Log) Delete(ctx context.Context, messageID string) error {
	if err := l.sender.DeleteMessage(ctx, l.roomID, messageID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID == messageID {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			delete(l.seen, messageID)
			break
		}
	}
	return nil
}

// Report flags a message for moderation. No local mutation.
func (l *Log) Report(ctx context.Context, messageID string) error {
	return l.sender.ReportMessage(ctx, l.roomID, messageID)
}

// ApplyReaction applies a reaction add or removal pushed by the stream.
func (l *Log) ApplyReaction(messageID string, r room.Reaction, removed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.messages {
		if l.messages[i].ID != messageID {
			continue
		}
		if removed {
			for j, existing := range l.messages[i].Reactions {
				if existing.Type == r.Type && existing.ReactorID == r.ReactorID {
					l.messages[i].Reactions = append(l.messages[i].Reactions[:j], l.messages[i].Reactions[j+1:]...)
					break
				}
			}
		} else {
			l.messages[i].Reactions = append(l.messages[i].Reactions, r)
		}
		return
	}
}

// SetRateLimited applies a server-signalled rate-limit rejection with the
// server-provided countdown.
func (l *Log) SetRateLimited(seconds int) {
	if seconds <= 0 {
		return
	}
	l.mu.Lock()
	l.rate = RateLimitState{Active: true, RemainingSec: seconds}
	l.mu.Unlock()
	l.rateTimer.Resync(seconds)
	log.Debug().Str("room_id", l.roomID).Int("seconds", seconds).Msg("chat rate limited")
}

// RateLimit returns the current rate-limit view.
func (l *Log) RateLimit() RateLimitState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

// Stop cancels the rate-limit countdown. Part of room teardown.
func (l *Log) Stop() {
	l.rateTimer.Stop()
}
