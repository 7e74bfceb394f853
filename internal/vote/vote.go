// Package vote tracks the mid-session "extend the room" vote lifecycle:
// Idle → Open → {Submitted | TimedOut} → Resolved → Idle. Local timeout
// never decides the outcome; it only closes the interaction surface until
// the authoritative result arrives.
package vote

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultWindowSec is the vote window used when the vote-started event
// carries no window length.
const DefaultWindowSec = 30

// ErrVoteClosed is returned when casting while no vote window is open.
var ErrVoteClosed = errors.New("no open extension vote")

// State is the vote lifecycle state.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateSubmitted
	StateTimedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateSubmitted:
		return "submitted"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Caster sends the local ballot out on the push channel.
type Caster interface {
	CastVote(ctx context.Context, roomID string, approve bool) error
}

// Result is the authoritative vote outcome.
type Result struct {
	YesCount    int
	NoCount     int
	Extended    bool
	TimeLeftSec int
}

// Session is the transient vote view that exists only while a window is
// open; destroyed on resolution.
type Session struct {
	RoomID        string
	TimeLeftSec   int
	YesCount      int
	NoCount       int
	LocalHasVoted bool
}

// Machine is the extension-vote state machine.
type Machine struct {
	mu     sync.Mutex
	caster Caster

	state   State
	session Session
}

// NewMachine creates an idle vote machine that casts ballots through the
// given caster.
func NewMachine(caster Caster) *Machine {
	return &Machine{caster: caster}
}

// Start opens a vote window from an authoritative vote-started event and
// returns the effective window length (the default when the event carried
// none). A window arriving while one is already active is a redelivery and
// is ignored.
func (m *Machine) Start(roomID string, windowSec int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		log.Debug().Str("room_id", roomID).Msg("vote already active, ignoring start")
		return 0, false
	}
	if windowSec <= 0 {
		windowSec = DefaultWindowSec
	}
	m.state = StateOpen
	m.session = Session{RoomID: roomID, TimeLeftSec: windowSec}
	return windowSec, true
}

// Cast submits the local user's ballot. Exactly one outbound vote message
// is sent per window: a second attempt is a local no-op, and casting while
// no window is open returns ErrVoteClosed. The local-has-voted guard is
// set before the network call so a concurrent second cast cannot slip
// through; it is rolled back if the send fails so the user can retry.
func (m *Machine) Cast(ctx context.Context, approve bool) error {
	m.mu.Lock()
	if m.state != StateOpen {
		if m.state == StateSubmitted {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return ErrVoteClosed
	}
	if m.session.LocalHasVoted {
		m.mu.Unlock()
		return nil
	}
	m.session.LocalHasVoted = true
	m.state = StateSubmitted
	roomID := m.session.RoomID
	m.mu.Unlock()

	if err := m.caster.CastVote(ctx, roomID, approve); err != nil {
		m.mu.Lock()
		if m.state == StateSubmitted {
			m.state = StateOpen
			m.session.LocalHasVoted = false
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Timeout closes the interaction surface when the local vote countdown
// reaches zero without a server resolution. It decides nothing: the
// machine keeps waiting for the authoritative result.
func (m *Machine) Timeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return
	}
	m.state = StateTimedOut
	log.Debug().Str("room_id", m.session.RoomID).Msg("vote window timed out locally, awaiting result")
}

// SetTimeLeft mirrors the vote countdown into the session view.
func (m *Machine) SetTimeLeft(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return
	}
	m.session.TimeLeftSec = seconds
}

// Resolve applies the authoritative result and returns the machine to
// Idle, destroying the vote session. Returns false when no vote was
// active (late or duplicate result).
func (m *Machine) Resolve(res Result) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return false
	}
	log.Info().
		Str("room_id", m.session.RoomID).
		Int("yes", res.YesCount).
		Int("no", res.NoCount).
		Bool("extended", res.Extended).
		Msg("extension vote resolved")
	m.state = StateIdle
	m.session = Session{}
	return true
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the transient vote view. The second return is
// false while no vote is active.
func (m *Machine) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle {
		return Session{}, false
	}
	return m.session, true
}
