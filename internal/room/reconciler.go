package room

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Reconciler merges the one-shot snapshot and the push-event deltas into
// the single canonical Session. It is the only writer of the session;
// handlers on other goroutines call in through the two mutation entry
// points, ApplySnapshot and ApplyDelta, which are idempotent with respect
// to duplicate delivery of the same payload and last-write-wins across
// different payloads.
type Reconciler struct {
	mu        sync.Mutex
	accountID string

	session         Session
	snapshotApplied bool

	localRole    Role
	hasLocalRole bool
	onRoleChange func(Role)
}

// NewReconciler creates a reconciler for the local account id. The account
// id is used to derive the local participant's role after each merge.
func NewReconciler(accountID string) *Reconciler {
	return &Reconciler{accountID: accountID}
}

// OnRoleChange registers the callback fired when a merge changes the local
// participant's role. Must be set before the first merge; the callback runs
// synchronously on the merging goroutine, outside the reconciler lock.
func (r *Reconciler) OnRoleChange(fn func(Role)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRoleChange = fn
}

// ApplySnapshot installs the initial room state fetched on entry. Only the
// first call mutates state; later calls are no-ops so a slow, stale REST
// response can never overwrite fresher stream data. Returns whether the
// snapshot was applied.
func (r *Reconciler) ApplySnapshot(s Session) bool {
	r.mu.Lock()
	if r.snapshotApplied {
		r.mu.Unlock()
		log.Debug().Str("room_id", s.ID).Msg("snapshot already applied, ignoring")
		return false
	}
	r.snapshotApplied = true
	r.session = s
	r.session.Participants = dedupeParticipants(s.Participants)
	notify := r.refreshLocalRole()
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}

// ApplyDelta merges a room-update event. Each delta carries a complete
// replacement for the fields it governs, so the participant list and the
// scalar fields are replaced wholesale, last write wins.
func (r *Reconciler) ApplyDelta(s Session) {
	r.mu.Lock()
	r.session.Name = s.Name
	r.session.Category = s.Category
	r.session.MaxParticipants = s.MaxParticipants
	r.session.DurationSec = s.DurationSec
	r.session.TimeLeftSec = s.TimeLeftSec
	r.session.Extended = s.Extended
	r.session.HostID = s.HostID
	r.session.ListenerMessagesEnabled = s.ListenerMessagesEnabled
	r.session.Participants = dedupeParticipants(s.Participants)
	if r.session.ID == "" {
		r.session.ID = s.ID
	}
	notify := r.refreshLocalRole()
	r.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// ApplyVoteResult applies an authoritative extension-vote outcome to the
// session's remaining time and extended flag.
func (r *Reconciler) ApplyVoteResult(extended bool, timeLeftSec int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Extended = r.session.Extended || extended
	if extended && timeLeftSec > 0 {
		r.session.TimeLeftSec = timeLeftSec
	}
}

// SetSpeaking flips the speaking indicator for one participant, driven by
// the audio transport's level events. Unknown participants are ignored.
func (r *Reconciler) SetSpeaking(participantID string, speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.session.Participants {
		if r.session.Participants[i].ID == participantID {
			r.session.Participants[i].IsSpeaking = speaking
			return
		}
	}
}

// Snapshot returns a copy of the current session safe for the caller to
// read without holding any reconciler state.
func (r *Reconciler) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.session
	s.Participants = append([]Participant(nil), r.session.Participants...)
	return s
}

// LocalRole returns the local participant's current role, if the local
// account appears in the participant list.
func (r *Reconciler) LocalRole() (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localRole, r.hasLocalRole
}

// SnapshotApplied reports whether the entry snapshot has been installed.
func (r *Reconciler) SnapshotApplied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotApplied
}

// refreshLocalRole rescans the participant list for the local account and
// returns a deferred notification to run outside the lock when the role
// changed since the previous merge.
func (r *Reconciler) refreshLocalRole() func() {
	p, ok := r.session.ParticipantByAccount(r.accountID)
	if !ok {
		r.hasLocalRole = false
		return nil
	}
	changed := !r.hasLocalRole || r.localRole != p.Role
	r.localRole = p.Role
	r.hasLocalRole = true
	if !changed || r.onRoleChange == nil {
		return nil
	}
	fn, role := r.onRoleChange, p.Role
	return func() {
		log.Debug().Str("role", string(role)).Msg("local role changed")
		fn(role)
	}
}

// dedupeParticipants enforces the at-most-one-participant-per-account
// invariant, keeping the first occurrence. Participants without an account
// back-reference are keyed by their anonymized id.
func dedupeParticipants(in []Participant) []Participant {
	return lo.UniqBy(in, func(p Participant) string {
		if p.AccountID != "" {
			return "acct:" + p.AccountID
		}
		return "anon:" + p.ID
	})
}
