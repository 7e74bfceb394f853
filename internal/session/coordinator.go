// Package session wires the room subsystems together: snapshot loader,
// push-event stream, audio lifecycle, countdown timers, vote machine and
// chat merge into one canonical session view. The coordinator only
// signals intent (notices, exit requests) to the presentation layer; it
// never renders anything itself.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/units61/MatchTalkV2-sub000/internal/api"
	"github.com/units61/MatchTalkV2-sub000/internal/audio"
	"github.com/units61/MatchTalkV2-sub000/internal/chat"
	"github.com/units61/MatchTalkV2-sub000/internal/countdown"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
	"github.com/units61/MatchTalkV2-sub000/internal/stream"
	"github.com/units61/MatchTalkV2-sub000/internal/vote"
)

// speakingLevel is the audio level above which the local participant is
// shown as speaking.
const speakingLevel = 0.1

// Presenter receives the coordinator's user-facing intents.
type Presenter interface {
	ShowNotice(text string)
	RequestExit(reason string)
}

// SnapshotLoader is the one-shot fetch performed on room entry.
type SnapshotLoader interface {
	GetRoom(ctx context.Context, roomID string) (room.Session, error)
	GetRoomMessages(ctx context.Context, roomID string) ([]room.ChatMessage, error)
}

// Config holds the identity and transport parameters for one room entry.
type Config struct {
	RoomID       string
	AccountID    string
	AudioChannel string // defaults to the room id
	AudioToken   string
	AudioUID     uint32
	ExitDelay    time.Duration // delay before exit after a fatal snapshot failure
}

// Coordinator is the room session coordinator for a single room entry.
// Construct with NewCoordinator, call Enter once, Leave on the way out.
type Coordinator struct {
	config    Config
	clock     clockwork.Clock
	loader    SnapshotLoader
	conn      stream.Conn
	presenter Presenter

	reconciler *room.Reconciler
	chatLog    *chat.Log
	roomTimer  *countdown.Countdown
	voteTimer  *countdown.Countdown
	votes      *vote.Machine
	audioMgr   *audio.Manager
	transport  audio.Transport

	mu   sync.Mutex
	sub  *stream.Subscription
	done chan struct{}

	leaveOnce sync.Once
}

// NewCoordinator builds a coordinator and its subsystems. Nothing touches
// the network until Enter.
func NewCoordinator(config Config, clock clockwork.Clock, loader SnapshotLoader, conn stream.Conn, transport audio.Transport, presenter Presenter) *Coordinator {
	if config.AudioChannel == "" {
		config.AudioChannel = config.RoomID
	}
	if config.ExitDelay <= 0 {
		config.ExitDelay = 2 * time.Second
	}

	c := &Coordinator{
		config:     config,
		clock:      clock,
		loader:     loader,
		conn:       conn,
		presenter:  presenter,
		reconciler: room.NewReconciler(config.AccountID),
		chatLog:    chat.NewLog(conn, config.RoomID, clock),
		roomTimer:  countdown.New(clock),
		voteTimer:  countdown.New(clock),
		votes:      vote.NewMachine(conn),
		audioMgr:   audio.NewManager(transport),
		transport:  transport,
		done:       make(chan struct{}),
	}

	c.reconciler.OnRoleChange(c.handleRoleChange)
	c.voteTimer.OnTick(c.votes.SetTimeLeft)
	c.voteTimer.OnExpire(c.votes.Timeout)

	return c
}

// Enter performs room entry: snapshot, stream subscription, presence
// announcement, audio join. A snapshot failure is fatal to the session:
// the user sees a notice and, after a short delay, the coordinator
// requests an exit — the room may no longer exist, so there is no retry.
func (c *Coordinator) Enter(ctx context.Context) error {
	snapshot, err := c.loader.GetRoom(ctx, c.config.RoomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", c.config.RoomID).Msg("room snapshot fetch failed")
		if errors.Is(err, api.ErrRoomNotFound) {
			c.presenter.ShowNotice("This room is no longer available.")
		} else {
			c.presenter.ShowNotice("Could not load the room.")
		}
		c.clock.AfterFunc(c.config.ExitDelay, func() {
			c.presenter.RequestExit("snapshot failed")
		})
		return err
	}

	history, err := c.loader.GetRoomMessages(ctx, c.config.RoomID)
	if err != nil {
		// Chat history is not worth killing the session over; the stream
		// still delivers everything from here on.
		log.Warn().Err(err).Str("room_id", c.config.RoomID).Msg("chat history fetch failed")
	}

	c.reconciler.ApplySnapshot(snapshot)
	c.chatLog.LoadHistory(history)
	c.roomTimer.Resync(snapshot.TimeLeftSec)

	// Every subscription this session holds is declared right here.
	sub, err := c.conn.Subscribe(c.config.RoomID, stream.Handlers{
		RoomUpdate:      c.handleRoomUpdate,
		RoomMessage:     c.handleRoomMessage,
		RoomClosed:      c.handleRoomClosed,
		VoteStarted:     c.handleVoteStarted,
		VoteResult:      c.handleVoteResult,
		MessageReaction: c.handleMessageReaction,
		RateLimited:     c.handleRateLimited,
	})
	if err != nil {
		c.presenter.ShowNotice("Could not connect to the room.")
		c.clock.AfterFunc(c.config.ExitDelay, func() {
			c.presenter.RequestExit("stream subscribe failed")
		})
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	if err := c.conn.JoinRoom(ctx, c.config.RoomID); err != nil {
		log.Error().Err(err).Msg("failed to announce room join")
		c.presenter.ShowNotice("Joining the room failed. Trying to continue.")
	}

	go c.pumpAudioEvents()

	role := room.RoleListener
	if r, ok := c.reconciler.LocalRole(); ok {
		role = r
	}
	if err := c.audioMgr.JoinIfNeeded(ctx, c.config.AudioChannel, c.config.AudioToken, c.config.AudioUID, role); err != nil {
		c.presenter.ShowNotice("Voice connection failed. You can still read the chat.")
	}

	log.Info().
		Str("room_id", c.config.RoomID).
		Int("participants", len(snapshot.Participants)).
		Int("time_left_sec", snapshot.TimeLeftSec).
		Msg("entered room")
	return nil
}

// Leave tears the session down in the fixed order: timers first, then the
// audio channel, then the push subscription. Every step is idempotent and
// safe even when entry failed partway, and none of them can block
// navigation away from the room.
func (c *Coordinator) Leave(ctx context.Context) {
	c.leaveOnce.Do(func() {
		close(c.done)

		c.roomTimer.Stop()
		c.voteTimer.Stop()
		c.chatLog.Stop()

		c.audioMgr.Leave(ctx)

		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()
		if sub != nil {
			if err := sub.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close push subscription")
			}
		}
		if err := c.conn.LeaveRoom(ctx, c.config.RoomID); err != nil {
			log.Error().Err(err).Msg("failed to announce room leave")
		}

		log.Info().Str("room_id", c.config.RoomID).Msg("left room")
	})
}

// --- push event handlers ---

func (c *Coordinator) handleRoomUpdate(s room.Session) {
	c.reconciler.ApplyDelta(s)
	c.roomTimer.Resync(s.TimeLeftSec)
}

func (c *Coordinator) handleRoomMessage(m room.ChatMessage) {
	c.chatLog.AppendIncoming(m)
}

func (c *Coordinator) handleRoomClosed(p stream.RoomClosedPayload) {
	log.Info().Str("room_id", p.RoomID).Str("reason", p.Reason).Msg("room closed by server")
	c.roomTimer.Close()
	if p.Reason != "" {
		c.presenter.ShowNotice("The room has ended: " + p.Reason)
	} else {
		c.presenter.ShowNotice("The room has ended.")
	}
	c.presenter.RequestExit("room closed")
}

func (c *Coordinator) handleVoteStarted(p stream.VoteStartPayload) {
	window, opened := c.votes.Start(p.RoomID, p.TimeLeftSec)
	if !opened {
		return
	}
	c.voteTimer.Resync(window)
	log.Info().Str("room_id", p.RoomID).Int("window_sec", window).Msg("extension vote opened")
}

func (c *Coordinator) handleVoteResult(p stream.VoteResultPayload) {
	handled := c.votes.Resolve(vote.Result{
		YesCount:    p.YesCount,
		NoCount:     p.NoCount,
		Extended:    p.Extended,
		TimeLeftSec: p.TimeLeftSec,
	})
	c.voteTimer.Stop()
	if !handled {
		return
	}

	c.reconciler.ApplyVoteResult(p.Extended, p.TimeLeftSec)
	if p.Extended {
		if p.TimeLeftSec > 0 {
			c.roomTimer.Resync(p.TimeLeftSec)
		}
		c.presenter.ShowNotice("The room has been extended!")
	} else {
		c.presenter.ShowNotice("The vote failed, the room ends on time.")
	}
}

func (c *Coordinator) handleMessageReaction(p stream.MessageReactionPayload) {
	c.chatLog.ApplyReaction(p.MessageID, p.Reaction, p.Removed)
}

func (c *Coordinator) handleRateLimited(p stream.RateLimitedPayload) {
	c.chatLog.SetRateLimited(p.RetrySec)
	c.presenter.ShowNotice("You are sending messages too fast.")
}

// handleRoleChange reacts to the reconciler's derived-role signal by
// switching publish state; the channel membership itself stays up.
func (c *Coordinator) handleRoleChange(role room.Role) {
	if err := c.audioMgr.SetRole(context.Background(), role); err != nil {
		c.presenter.ShowNotice("Switching your microphone failed.")
	}
}

// pumpAudioEvents consumes the voice SDK's asynchronous events until
// teardown: local audio levels feed the speaking indicator, everything
// else is logged.
func (c *Coordinator) pumpAudioEvents() {
	events := c.transport.Events()
	for {
		select {
		case <-c.done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case audio.EventAudioLevel:
				if evt.UID == c.config.AudioUID {
					snapshot := c.reconciler.Snapshot()
					if p, found := snapshot.ParticipantByAccount(c.config.AccountID); found {
						c.reconciler.SetSpeaking(p.ID, evt.Level > speakingLevel)
					}
				}
			case audio.EventConnectionState:
				log.Debug().Str("state", evt.State).Msg("voice connection state changed")
			case audio.EventError:
				log.Error().Err(evt.Err).Msg("voice transport error")
			default:
				log.Debug().Str("kind", string(evt.Kind)).Uint32("uid", evt.UID).Msg("voice transport event")
			}
		}
	}
}

// --- user actions ---

// SendChat emits a chat message after the pure send gate passes. On
// failure the composed text stays available via Draft for manual resend.
func (c *Coordinator) SendChat(ctx context.Context, content string) error {
	s := c.reconciler.Snapshot()
	role := room.RoleListener
	if r, ok := c.reconciler.LocalRole(); ok {
		role = r
	}
	if !c.chatLog.CanSend(role, s.ListenerMessagesEnabled) {
		return chat.ErrSendBlocked
	}

	if err := c.chatLog.Send(ctx, content); err != nil {
		log.Error().Err(err).Msg("chat send failed")
		c.presenter.ShowNotice("Your message was not sent.")
		return err
	}
	return nil
}

// Draft returns the unsent composed text after a failed send.
func (c *Coordinator) Draft() string {
	return c.chatLog.Draft()
}

// CastVote submits the local ballot for the open extension vote.
func (c *Coordinator) CastVote(ctx context.Context, approve bool) error {
	if err := c.votes.Cast(ctx, approve); err != nil {
		if !errors.Is(err, vote.ErrVoteClosed) {
			log.Error().Err(err).Msg("vote send failed")
			c.presenter.ShowNotice("Your vote was not sent.")
		}
		return err
	}
	return nil
}

// ToggleMute flips the local microphone mute.
func (c *Coordinator) ToggleMute() {
	muted := !c.audioMgr.Membership().Muted
	c.audioMgr.SetMuted(muted)
}

// TogglePin flips a message's pinned flag (optimistic).
func (c *Coordinator) TogglePin(ctx context.Context, messageID string) error {
	return c.chatLog.TogglePin(ctx, messageID)
}

// DeleteMessage removes a chat message (authoritative).
func (c *Coordinator) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.chatLog.Delete(ctx, messageID); err != nil {
		c.presenter.ShowNotice("The message could not be deleted.")
		return err
	}
	return nil
}

// ReportMessage flags a chat message for moderation.
func (c *Coordinator) ReportMessage(ctx context.Context, messageID string) error {
	return c.chatLog.Report(ctx, messageID)
}

// SetParticipantRole promotes or demotes a participant (host control).
func (c *Coordinator) SetParticipantRole(ctx context.Context, participantID string, role room.Role) error {
	return c.conn.SetParticipantRole(ctx, c.config.RoomID, participantID, role)
}

// SetListenerMessaging toggles the room's listener-chat policy (host
// control).
func (c *Coordinator) SetListenerMessaging(ctx context.Context, enabled bool) error {
	return c.conn.SetListenerMessaging(ctx, c.config.RoomID, enabled)
}

// --- read views ---

// Session returns a copy of the canonical room view.
func (c *Coordinator) Session() room.Session {
	return c.reconciler.Snapshot()
}

// Messages returns the chat log in display order.
func (c *Coordinator) Messages() []room.ChatMessage {
	return c.chatLog.Messages()
}

// TimeLeft returns the locally displayed room countdown.
func (c *Coordinator) TimeLeft() int {
	return c.roomTimer.Remaining()
}

// Vote returns the transient vote view while a window is active.
func (c *Coordinator) Vote() (vote.Session, bool) {
	return c.votes.Session()
}

// Membership returns the voice-channel membership view.
func (c *Coordinator) Membership() audio.Membership {
	return c.audioMgr.Membership()
}
