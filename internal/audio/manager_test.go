package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

type fakeTransport struct {
	mu          sync.Mutex
	joins       int
	leaves      int
	publishes   int
	unpublishes int
	muteCalls   []bool
	joinErr     error
	joinGate    chan struct{} // when set, Join blocks until closed
	events      chan Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 8)}
}

func (f *fakeTransport) Join(_ context.Context, _, _ string, _ uint32) error {
	f.mu.Lock()
	gate := f.joinGate
	f.joins++
	err := f.joinErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeTransport) Leave(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return nil
}

func (f *fakeTransport) Publish(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes++
	return nil
}

func (f *fakeTransport) Unpublish(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpublishes++
	return nil
}

func (f *fakeTransport) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muteCalls = append(f.muteCalls, muted)
	return nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) counts() (joins, leaves, publishes, unpublishes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins, f.leaves, f.publishes, f.unpublishes
}

func TestSingleJoinUnderConcurrentCalls(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.joinGate = make(chan struct{})
	m := NewManager(transport)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		done <- m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleListener)
	}()

	// Wait for the first join to be in flight, then race more calls in.
	req.Eventually(func() bool {
		joins, _, _, _ := transport.counts()
		return joins == 1
	}, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		req.NoError(m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleListener))
	}

	close(transport.joinGate)
	req.NoError(<-done)

	joins, _, _, _ := transport.counts()
	req.Equal(1, joins)
	req.True(m.Membership().Joined)
}

func TestLeaveDuringJoinTearsDownTransport(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.joinGate = make(chan struct{})
	m := NewManager(transport)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleListener)
	}()
	req.Eventually(func() bool {
		joins, _, _, _ := transport.counts()
		return joins == 1
	}, time.Second, time.Millisecond)

	// The user exits the room while the join is still negotiating.
	m.Leave(ctx)

	close(transport.joinGate)
	req.NoError(<-done)

	// The completed join must not outlive the teardown.
	_, leaves, _, _ := transport.counts()
	req.Equal(1, leaves)
	req.False(m.Membership().Joined)
}

func TestRoleChangeDuringJoinIsNotLost(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.joinGate = make(chan struct{})
	m := NewManager(transport)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleListener)
	}()
	req.Eventually(func() bool {
		joins, _, _, _ := transport.counts()
		return joins == 1
	}, time.Second, time.Millisecond)

	// A promotion lands while the join is still negotiating; it must win
	// over the role the join was started with.
	req.NoError(m.SetRole(ctx, room.RoleSpeaker))

	close(transport.joinGate)
	req.NoError(<-done)

	req.Equal(room.RoleSpeaker, m.Membership().Role)
	_, _, publishes, _ := transport.counts()
	req.Equal(1, publishes)
}

func TestRoleSwitchNeverRejoins(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	m := NewManager(transport)
	ctx := context.Background()

	req.NoError(m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleListener))

	req.NoError(m.SetRole(ctx, room.RoleSpeaker))
	joins, leaves, publishes, unpublishes := transport.counts()
	req.Equal(1, joins)
	req.Equal(0, leaves)
	req.Equal(1, publishes)
	req.Equal(0, unpublishes)

	req.NoError(m.SetRole(ctx, room.RoleListener))
	joins, leaves, _, unpublishes = transport.counts()
	req.Equal(1, joins)
	req.Equal(0, leaves)
	req.Equal(1, unpublishes)

	// Same role again: nothing to do.
	req.NoError(m.SetRole(ctx, room.RoleListener))
	_, _, publishes, unpublishes = transport.counts()
	req.Equal(1, publishes)
	req.Equal(1, unpublishes)
}

func TestSpeakerJoinPublishesImmediately(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	m := NewManager(transport)

	req.NoError(m.JoinIfNeeded(context.Background(), "ch", "tok", 7, room.RoleSpeaker))
	_, _, publishes, _ := transport.counts()
	req.Equal(1, publishes)
}

func TestUnconfiguredJoinIsSuppressed(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.joinErr = ErrNotConfigured
	m := NewManager(transport)

	req.NoError(m.JoinIfNeeded(context.Background(), "ch", "tok", 7, room.RoleListener))
	req.False(m.Membership().Joined)
}

func TestTransientJoinIsSuppressed(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.joinErr = &TransientError{Err: errors.New("edge returned 503")}
	m := NewManager(transport)

	req.NoError(m.JoinIfNeeded(context.Background(), "ch", "tok", 7, room.RoleListener))
	req.False(m.Membership().Joined)
}

func TestOtherJoinErrorsSurface(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	transport.joinErr = errors.New("permission denied")
	m := NewManager(transport)

	req.Error(m.JoinIfNeeded(context.Background(), "ch", "tok", 7, room.RoleListener))
	req.False(m.Membership().Joined)

	// The latch was released: a later entry attempt may join again.
	transport.joinErr = nil
	req.NoError(m.JoinIfNeeded(context.Background(), "ch", "tok", 7, room.RoleListener))
	req.True(m.Membership().Joined)
}

func TestLeaveIsIdempotent(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	m := NewManager(transport)
	ctx := context.Background()

	// Safe to call when never joined.
	m.Leave(ctx)
	_, leaves, _, _ := transport.counts()
	req.Equal(0, leaves)

	req.NoError(m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleListener))
	m.Leave(ctx)
	m.Leave(ctx)
	_, leaves, _, _ = transport.counts()
	req.Equal(1, leaves)
	req.False(m.Membership().Joined)
}

func TestMuteNeverTouchesJoinOrPublish(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	m := NewManager(transport)
	ctx := context.Background()

	req.NoError(m.JoinIfNeeded(ctx, "ch", "tok", 7, room.RoleSpeaker))
	joinsBefore, _, publishesBefore, _ := transport.counts()

	m.SetMuted(true)
	m.SetMuted(false)

	joins, leaves, publishes, unpublishes := transport.counts()
	req.Equal(joinsBefore, joins)
	req.Equal(0, leaves)
	req.Equal(publishesBefore, publishes)
	req.Equal(0, unpublishes)
	req.Equal([]bool{true, false}, transport.muteCalls)
}

func TestMuteBeforeJoinIsLocal(t *testing.T) {
	req := require.New(t)
	transport := newFakeTransport()
	m := NewManager(transport)

	m.SetMuted(true)
	req.Empty(transport.muteCalls)

	// The mute flag is restored once the speaker join publishes.
	req.NoError(m.JoinIfNeeded(context.Background(), "ch", "tok", 7, room.RoleSpeaker))
	req.Equal([]bool{true}, transport.muteCalls)
	req.True(m.Membership().Muted)
}
