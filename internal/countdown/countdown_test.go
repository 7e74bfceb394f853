package countdown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func recvTick(t *testing.T, ch <-chan int) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
		return 0
	}
}

func TestCountdownTicksDownMonotonically(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()

	c := New(clock)
	ticks := make(chan int, 16)
	expired := make(chan struct{})
	c.OnTick(func(remaining int) { ticks <- remaining })
	c.OnExpire(func() { close(expired) })

	c.Resync(3)
	req.Equal(StateRunning, c.State())
	req.Equal(3, c.Remaining())

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	req.Equal(2, recvTick(t, ticks))

	clock.Advance(time.Second)
	req.Equal(1, recvTick(t, ticks))

	clock.Advance(time.Second)
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("countdown did not expire")
	}
	req.Equal(StateExpired, c.State())
	req.Equal(0, c.Remaining())
}

func TestResyncReplacesDisplayedValue(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()

	c := New(clock)
	ticks := make(chan int, 16)
	c.OnTick(func(remaining int) { ticks <- remaining })

	c.Resync(120)
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	req.Equal(119, recvTick(t, ticks))

	// Authoritative update wins over the local tick.
	c.Resync(90)
	req.Equal(90, c.Remaining())
	req.Equal(StateRunning, c.State())

	clock.Advance(time.Second)
	req.Equal(89, recvTick(t, ticks))
}

func TestAuthoritativeCloseExpiresImmediately(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()

	c := New(clock)
	expired := make(chan struct{})
	c.OnExpire(func() { close(expired) })

	c.Resync(60)
	clock.BlockUntil(1)

	c.Close()
	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("close did not expire the countdown")
	}
	req.Equal(StateExpired, c.State())
	req.Equal(0, c.Remaining())
}

func TestResyncZeroExpires(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()

	c := New(clock)
	expireCount := 0
	c.OnExpire(func() { expireCount++ })

	c.Resync(0)
	req.Equal(StateExpired, c.State())
	req.Equal(1, expireCount)

	// A second authoritative zero is a no-op.
	c.Close()
	req.Equal(1, expireCount)
}

func TestExpiredReentersRunningOnResync(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()

	c := New(clock)
	c.Close()
	req.Equal(StateExpired, c.State())

	// Authoritative update after local expiry (e.g. room extended).
	c.Resync(30)
	req.Equal(StateRunning, c.State())
	req.Equal(30, c.Remaining())
	c.Stop()
}

func TestStopIsIdempotentAndSafeWhenNeverStarted(t *testing.T) {
	req := require.New(t)
	clock := clockwork.NewFakeClock()

	c := New(clock)
	c.Stop()
	c.Stop()
	req.Equal(StateIdle, c.State())

	c.Resync(10)
	c.Stop()
	c.Stop()
	req.Equal(StateIdle, c.State())
	req.Equal(0, c.Remaining())
}
