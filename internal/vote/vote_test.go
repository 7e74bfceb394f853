package vote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCaster struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCaster) CastVote(_ context.Context, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeCaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCastExactlyOnce(t *testing.T) {
	req := require.New(t)
	caster := &fakeCaster{}
	m := NewMachine(caster)

	window, opened := m.Start("room-1", 10)
	req.True(opened)
	req.Equal(10, window)

	req.NoError(m.Cast(context.Background(), true))
	req.Equal(StateSubmitted, m.State())

	// Second attempt is a local no-op: no second outbound message.
	req.NoError(m.Cast(context.Background(), false))
	req.Equal(1, caster.count())
}

func TestCastWithoutOpenWindow(t *testing.T) {
	req := require.New(t)
	m := NewMachine(&fakeCaster{})

	err := m.Cast(context.Background(), true)
	req.ErrorIs(err, ErrVoteClosed)
}

func TestCastAfterTimeout(t *testing.T) {
	req := require.New(t)
	caster := &fakeCaster{}
	m := NewMachine(caster)

	m.Start("room-1", 10)
	m.Timeout()
	req.Equal(StateTimedOut, m.State())

	err := m.Cast(context.Background(), true)
	req.ErrorIs(err, ErrVoteClosed)
	req.Equal(0, caster.count())
}

func TestCastFailureAllowsRetry(t *testing.T) {
	req := require.New(t)
	caster := &fakeCaster{err: errors.New("send failed")}
	m := NewMachine(caster)

	m.Start("room-1", 10)
	req.Error(m.Cast(context.Background(), true))
	req.Equal(StateOpen, m.State())

	caster.err = nil
	req.NoError(m.Cast(context.Background(), true))
	req.Equal(StateSubmitted, m.State())
	req.Equal(2, caster.count())
}

func TestStartRedeliveryIgnored(t *testing.T) {
	req := require.New(t)
	m := NewMachine(&fakeCaster{})

	_, opened := m.Start("room-1", 10)
	req.True(opened)

	_, opened = m.Start("room-1", 10)
	req.False(opened)
}

func TestDefaultWindowWhenAbsent(t *testing.T) {
	req := require.New(t)
	m := NewMachine(&fakeCaster{})

	window, opened := m.Start("room-1", 0)
	req.True(opened)
	req.Equal(DefaultWindowSec, window)
}

func TestTimeoutDoesNotDecideOutcome(t *testing.T) {
	req := require.New(t)
	m := NewMachine(&fakeCaster{})

	m.Start("room-1", 5)
	req.NoError(m.Cast(context.Background(), true))
	m.Timeout()

	// Already submitted: the interaction surface is closed either way.
	req.Equal(StateSubmitted, m.State())

	// The authoritative result still resolves the machine.
	req.True(m.Resolve(Result{YesCount: 3, NoCount: 1, Extended: true, TimeLeftSec: 300}))
	req.Equal(StateIdle, m.State())

	_, active := m.Session()
	req.False(active)
}

func TestResolveWithoutActiveVote(t *testing.T) {
	req := require.New(t)
	m := NewMachine(&fakeCaster{})
	req.False(m.Resolve(Result{Extended: true}))
}

func TestSessionView(t *testing.T) {
	req := require.New(t)
	m := NewMachine(&fakeCaster{})

	m.Start("room-1", 10)
	m.SetTimeLeft(7)

	s, active := m.Session()
	req.True(active)
	req.Equal("room-1", s.RoomID)
	req.Equal(7, s.TimeLeftSec)
	req.False(s.LocalHasVoted)

	req.NoError(m.Cast(context.Background(), false))
	s, _ = m.Session()
	req.True(s.LocalHasVoted)
}
