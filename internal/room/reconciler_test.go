package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testSession(timeLeft int, participants ...Participant) Session {
	return Session{
		ID:              "room-1",
		Name:            "late night talk",
		Category:        "casual",
		MaxParticipants: 8,
		DurationSec:     600,
		TimeLeftSec:     timeLeft,
		HostID:          "acct-host",
		CreatedAt:       time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC),
		Participants:    participants,
	}
}

func TestApplySnapshotOnlyOnce(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")

	first := testSession(120, Participant{ID: "p1", AccountID: "acct-1", Role: RoleSpeaker})
	req.True(r.ApplySnapshot(first))

	// A second, slower snapshot must not overwrite anything.
	second := testSession(300, Participant{ID: "p9", AccountID: "acct-9", Role: RoleListener})
	req.False(r.ApplySnapshot(second))

	got := r.Snapshot()
	req.Equal(120, got.TimeLeftSec)
	req.Len(got.Participants, 1)
	req.Equal("p1", got.Participants[0].ID)
}

func TestApplyDeltaLastWriteWins(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")
	r.ApplySnapshot(testSession(120))

	d1 := testSession(100,
		Participant{ID: "p1", AccountID: "acct-1", Role: RoleListener},
		Participant{ID: "p2", AccountID: "acct-2", Role: RoleSpeaker},
	)
	d2 := testSession(90,
		Participant{ID: "p3", AccountID: "acct-3", Role: RoleSpeaker},
	)
	r.ApplyDelta(d1)
	r.ApplyDelta(d2)

	got := r.Snapshot()
	req.Equal(90, got.TimeLeftSec)
	req.Len(got.Participants, 1)
	req.Equal("p3", got.Participants[0].ID)
}

func TestSnapshotThenDeltaScenario(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")

	r.ApplySnapshot(testSession(120,
		Participant{ID: "p1", AccountID: "acct-1", Role: RoleSpeaker},
		Participant{ID: "p2", AccountID: "acct-2", Role: RoleListener},
	))

	r.ApplyDelta(testSession(90,
		Participant{ID: "p1", AccountID: "acct-1", Role: RoleSpeaker},
		Participant{ID: "p2", AccountID: "acct-2", Role: RoleListener},
		Participant{ID: "p3", AccountID: "acct-3", Role: RoleListener},
	))

	got := r.Snapshot()
	req.Equal(90, got.TimeLeftSec)
	req.Len(got.Participants, 3)
}

func TestRoleChangeSignal(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")

	var roles []Role
	r.OnRoleChange(func(role Role) { roles = append(roles, role) })

	r.ApplySnapshot(testSession(120, Participant{ID: "p1", AccountID: "acct-1", Role: RoleListener}))
	req.Equal([]Role{RoleListener}, roles)

	// Same role again: no signal.
	r.ApplyDelta(testSession(110, Participant{ID: "p1", AccountID: "acct-1", Role: RoleListener}))
	req.Equal([]Role{RoleListener}, roles)

	// Promoted to speaker: one signal.
	r.ApplyDelta(testSession(100, Participant{ID: "p1", AccountID: "acct-1", Role: RoleSpeaker}))
	req.Equal([]Role{RoleListener, RoleSpeaker}, roles)

	role, ok := r.LocalRole()
	req.True(ok)
	req.Equal(RoleSpeaker, role)
}

func TestParticipantDedupeByAccount(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")

	r.ApplySnapshot(testSession(120,
		Participant{ID: "p1", AccountID: "acct-2", Role: RoleSpeaker},
		Participant{ID: "p2", AccountID: "acct-2", Role: RoleListener},
		Participant{ID: "p3", Role: RoleListener},
		Participant{ID: "p4", Role: RoleListener},
	))

	got := r.Snapshot()
	req.Len(got.Participants, 3)
	req.Equal("p1", got.Participants[0].ID)
}

func TestApplyVoteResult(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")
	r.ApplySnapshot(testSession(30))

	r.ApplyVoteResult(true, 330)
	got := r.Snapshot()
	req.True(got.Extended)
	req.Equal(330, got.TimeLeftSec)

	// A not-extended result never shrinks the remaining time.
	r.ApplyVoteResult(false, 0)
	got = r.Snapshot()
	req.True(got.Extended)
	req.Equal(330, got.TimeLeftSec)
}

func TestSetSpeaking(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")
	r.ApplySnapshot(testSession(120, Participant{ID: "p1", AccountID: "acct-1", Role: RoleSpeaker}))

	r.SetSpeaking("p1", true)
	req.True(r.Snapshot().Participants[0].IsSpeaking)

	r.SetSpeaking("nope", true) // unknown ids are ignored
	r.SetSpeaking("p1", false)
	req.False(r.Snapshot().Participants[0].IsSpeaking)
}

func TestSnapshotIsACopy(t *testing.T) {
	req := require.New(t)
	r := NewReconciler("acct-1")
	r.ApplySnapshot(testSession(120, Participant{ID: "p1", Role: RoleListener}))

	got := r.Snapshot()
	got.Participants[0].Role = RoleSpeaker

	req.Equal(RoleListener, r.Snapshot().Participants[0].Role)
}
