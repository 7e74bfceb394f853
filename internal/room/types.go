package room

import "time"

// Role is a participant's audio role within a room.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// Participant is one member of a room. The ID is an anonymized,
// per-room identifier distinct from the account id. AccountID is an
// optional back-reference used only for host-identity comparison,
// never for display.
type Participant struct {
	ID         string `json:"id"`
	Alias      string `json:"alias"`
	AvatarSeed string `json:"avatar_seed"`
	Gender     string `json:"gender,omitempty"`
	Role       Role   `json:"role"`
	IsSpeaking bool   `json:"is_speaking"`
	IsMuted    bool   `json:"is_muted"`
	AccountID  string `json:"account_id,omitempty"`
}

// Session is the canonical view of one live room. It is owned by the
// Reconciler; everything else reads copies and never mutates it directly.
type Session struct {
	ID                      string        `json:"id"`
	Name                    string        `json:"name"`
	Category                string        `json:"category"`
	MaxParticipants         int           `json:"max_participants"`
	DurationSec             int           `json:"duration_sec"`
	TimeLeftSec             int           `json:"time_left_sec"`
	Extended                bool          `json:"extended"`
	HostID                  string        `json:"host_id"`
	ListenerMessagesEnabled bool          `json:"listener_messages_enabled"`
	CreatedAt               time.Time     `json:"created_at"`
	Participants            []Participant `json:"participants"`
}

// ParticipantByAccount returns the participant backed by the given
// account id, if present.
func (s *Session) ParticipantByAccount(accountID string) (Participant, bool) {
	if accountID == "" {
		return Participant{}, false
	}
	for _, p := range s.Participants {
		if p.AccountID == accountID {
			return p, true
		}
	}
	return Participant{}, false
}

// IsHost reports whether the given account id owns the room.
func (s *Session) IsHost(accountID string) bool {
	return accountID != "" && s.HostID == accountID
}

// Reaction is a single reaction attached to a chat message.
type Reaction struct {
	Type      string `json:"type"`
	ReactorID string `json:"reactor_id"`
}

// ChatMessage is one entry of the room's chat side-channel. Ids are
// globally unique within a room; messages are append-only except for
// the pinned flag and deletion.
type ChatMessage struct {
	ID            string     `json:"id"`
	ParticipantID string     `json:"participant_id"`
	Alias         string     `json:"alias"`
	AvatarSeed    string     `json:"avatar_seed"`
	Content       string     `json:"content"`
	Pinned        bool       `json:"pinned"`
	CreatedAt     time.Time  `json:"created_at"`
	Reactions     []Reaction `json:"reactions,omitempty"`
}
