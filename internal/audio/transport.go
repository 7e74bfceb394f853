// Package audio owns the voice-transport lifecycle for one room: a single
// join per entry, role switches via publish/unpublish, and local mute.
// The transport itself is an opaque capability behind the Transport
// interface.
package audio

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a transport when the voice service is
// not provisioned for this deployment. Join failures of this class are
// suppressed: the session continues without audio.
var ErrNotConfigured = errors.New("voice transport not configured")

// TransientError wraps a temporary transport failure (e.g. a 5xx from the
// signalling edge). Join failures of this class are suppressed as well.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient transport error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// SuppressJoinError reports whether a join failure is logged only rather
// than surfaced to the user.
func SuppressJoinError(err error) bool {
	var transient *TransientError
	return errors.Is(err, ErrNotConfigured) || errors.As(err, &transient)
}

// EventKind names an asynchronous transport event.
type EventKind string

const (
	EventUserJoined      EventKind = "user-joined"
	EventUserLeft        EventKind = "user-left"
	EventUserPublished   EventKind = "user-published"
	EventUserUnpublished EventKind = "user-unpublished"
	EventAudioLevel      EventKind = "audio-level"
	EventConnectionState EventKind = "connection-state"
	EventError           EventKind = "error"
)

// Event is one asynchronous transport notification.
type Event struct {
	Kind  EventKind
	UID   uint32
	Level float64
	State string
	Err   error
}

// Transport is the opaque real-time audio capability. Implementations own
// their own connection lifecycle; the manager guarantees call ordering
// (one Join per entry, Leave on teardown, Publish/Unpublish between).
type Transport interface {
	Join(ctx context.Context, channel, token string, uid uint32) error
	Leave(ctx context.Context) error
	Publish(ctx context.Context) error
	Unpublish(ctx context.Context) error
	SetMuted(muted bool) error
	Events() <-chan Event
}
