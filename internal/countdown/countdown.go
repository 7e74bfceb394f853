// Package countdown implements the resynchronizing countdown used for the
// room duration and the extension-vote window. The server value is always
// authoritative; the local one-second tick is visual feedback only, so
// every resync replaces the displayed value instead of accumulating drift.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the countdown lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateExpired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Countdown is one countdown state machine: Idle → Running → Expired.
// Running is entered when a non-zero remaining value is observed; while
// Running a local tick decrements the displayed value once per second and
// every authoritative update resets it. Expired is reached when the local
// value hits zero or an authoritative close arrives, whichever is first.
// Reaching Expired locally gates display only; a later authoritative
// resync re-enters Running.
type Countdown struct {
	mu    sync.Mutex
	clock clockwork.Clock

	state     State
	remaining int
	stop      chan struct{}

	onTick   func(remaining int)
	onExpire func()
}

// New creates an idle countdown on the given clock.
func New(clock clockwork.Clock) *Countdown {
	return &Countdown{clock: clock}
}

// OnTick registers the callback fired after each local decrement while
// Running. Runs on the tick goroutine, outside the countdown lock.
func (c *Countdown) OnTick(fn func(remaining int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = fn
}

// OnExpire registers the callback fired once when the countdown expires.
func (c *Countdown) OnExpire(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = fn
}

// Resync installs an authoritative remaining value. A positive value
// (re-)enters Running; zero or less expires immediately.
func (c *Countdown) Resync(seconds int) {
	c.mu.Lock()
	if seconds <= 0 {
		fn := c.expireLocked()
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	c.remaining = seconds
	if c.state != StateRunning {
		c.state = StateRunning
		c.stop = make(chan struct{})
		go c.run(c.stop)
	}
	c.mu.Unlock()
}

// Close applies an authoritative closed signal, expiring the countdown
// regardless of the locally displayed value.
func (c *Countdown) Close() {
	c.mu.Lock()
	fn := c.expireLocked()
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop cancels the countdown and returns it to Idle. Always called on
// teardown so no tick goroutine outlives the room screen; safe to call
// when never started.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.state = StateIdle
	c.remaining = 0
}

// Remaining returns the currently displayed value.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// State returns the current lifecycle state.
func (c *Countdown) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// expireLocked transitions to Expired and returns the expiry callback to
// run outside the lock, or nil when already expired or idle with nothing
// to report.
func (c *Countdown) expireLocked() func() {
	if c.state == StateExpired {
		return nil
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.state = StateExpired
	c.remaining = 0
	return c.onExpire
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !c.tick() {
				return
			}
		}
	}
}

// tick performs one local decrement. Returns false when the loop should
// exit because the countdown expired or was stopped.
func (c *Countdown) tick() bool {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return false
	}
	c.remaining--
	if c.remaining <= 0 {
		c.remaining = 0
		c.state = StateExpired
		c.stop = nil
		fn := c.onExpire
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
		return false
	}
	remaining := c.remaining
	fn := c.onTick
	c.mu.Unlock()
	if fn != nil {
		fn(remaining)
	}
	return true
}
