package audio

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

// Membership is the client's standing in the room's voice channel.
// Exactly one instance exists per room per client process, owned by the
// Manager; it is created on the first successful join and reset on leave.
type Membership struct {
	ChannelName string
	UID         uint32
	Role        room.Role
	Joined      bool
	Muted       bool
}

type joinState int

const (
	stateIdle joinState = iota
	stateJoining
	stateJoined
)

// Manager drives the transport's join/leave/publish lifecycle for one
// room. JoinIfNeeded results in at most one underlying transport join per
// room entry regardless of how many callers race into it; the latch is
// the manager's own, no SDK idempotence is assumed.
type Manager struct {
	mu        sync.Mutex
	transport Transport

	state      joinState
	membership Membership
}

// NewManager creates a manager bound to the given transport.
func NewManager(transport Transport) *Manager {
	return &Manager{transport: transport}
}

// JoinIfNeeded joins the voice channel unless a join is already in flight
// or completed. Suppressed failure classes (unconfigured transport,
// transient signalling errors) are logged and reported as nil so the
// session continues without audio; any other error is returned for a
// single user-visible notice. A Leave arriving while the join is still
// negotiating wins: the fresh connection is torn down and no membership
// is installed.
func (m *Manager) JoinIfNeeded(ctx context.Context, channel, token string, uid uint32, role room.Role) error {
	m.mu.Lock()
	if m.state != stateIdle {
		m.mu.Unlock()
		return nil
	}
	m.state = stateJoining
	m.mu.Unlock()

	if err := m.transport.Join(ctx, channel, token, uid); err != nil {
		m.mu.Lock()
		m.state = stateIdle
		m.mu.Unlock()

		if SuppressJoinError(err) {
			log.Warn().Err(err).Str("channel", channel).Msg("audio join suppressed, continuing without audio")
			return nil
		}
		log.Error().Err(err).Str("channel", channel).Msg("audio join failed")
		return err
	}

	m.mu.Lock()
	if m.state != stateJoining {
		// Leave won the race while the transport was negotiating. Tear
		// the fresh connection down instead of resurrecting the
		// membership after teardown.
		m.mu.Unlock()
		if err := m.transport.Leave(ctx); err != nil {
			log.Error().Err(err).Msg("failed to leave voice channel after cancelled join")
		}
		return nil
	}
	m.state = stateJoined
	// A SetRole that landed while the join was in flight is fresher than
	// the caller's role argument.
	if m.membership.Role != "" {
		role = m.membership.Role
	}
	m.membership = Membership{
		ChannelName: channel,
		UID:         uid,
		Role:        role,
		Joined:      true,
		Muted:       m.membership.Muted,
	}
	muted := m.membership.Muted
	m.mu.Unlock()

	log.Info().Str("channel", channel).Uint32("uid", uid).Str("role", string(role)).Msg("joined voice channel")

	if role == room.RoleSpeaker {
		if err := m.transport.Publish(ctx); err != nil {
			log.Error().Err(err).Msg("failed to publish audio after join")
		} else if muted {
			if err := m.transport.SetMuted(true); err != nil {
				log.Error().Err(err).Msg("failed to restore mute after join")
			}
		}
	}
	return nil
}

// SetRole applies a role change from the reconciler. While joined this
// publishes or unpublishes the local audio, never a leave+rejoin, since a
// rejoin causes an audible dropout. Before a join completes it only
// records the desired role for the join path to apply.
func (m *Manager) SetRole(ctx context.Context, role room.Role) error {
	m.mu.Lock()
	prev := m.membership.Role
	m.membership.Role = role
	joined := m.state == stateJoined
	m.mu.Unlock()

	if !joined || prev == role {
		return nil
	}

	if role == room.RoleSpeaker {
		if err := m.transport.Publish(ctx); err != nil {
			log.Error().Err(err).Msg("failed to publish audio on role switch")
			return err
		}
		log.Info().Msg("switched to speaker, audio published")
		return nil
	}

	if err := m.transport.Unpublish(ctx); err != nil {
		// Unpublish failures never surface: the participant list already
		// shows the new role and the server will stop forwarding anyway.
		log.Error().Err(err).Msg("failed to unpublish audio on role switch")
		return nil
	}
	log.Info().Msg("switched to listener, audio unpublished")
	return nil
}

// SetMuted toggles the local mute flag. Mute is layered on top of publish
// state and never changes join or publish status.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.membership.Muted = muted
	joined := m.state == stateJoined
	m.mu.Unlock()

	if !joined {
		return
	}
	if err := m.transport.SetMuted(muted); err != nil {
		log.Error().Err(err).Bool("muted", muted).Msg("failed to toggle mute")
	}
}

// Leave tears the voice membership down. Idempotent and safe when never
// joined; errors are logged, never surfaced, so leaving the room screen is
// never blocked.
func (m *Manager) Leave(ctx context.Context) {
	m.mu.Lock()
	wasJoined := m.state == stateJoined
	m.state = stateIdle
	m.membership = Membership{}
	m.mu.Unlock()

	if !wasJoined {
		return
	}
	if err := m.transport.Leave(ctx); err != nil {
		log.Error().Err(err).Msg("failed to leave voice channel")
	} else {
		log.Info().Msg("left voice channel")
	}
}

// Membership returns a copy of the current voice membership.
func (m *Manager) Membership() Membership {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membership
}
