// Package playback implements PlaybackController: tick-duration
// smoothing, speed, and the seek/play/pause request surface consumed by
// the player state machine.
package playback

import (
	"sync"
	"time"

	"github.com/loghive/mcapviz/internal/alerts"
	"github.com/loghive/mcapviz/internal/mcap"
)

const (
	// MaxTickDuration clamps the smoothed per-tick range (spec §5).
	MaxTickDuration = 300 * time.Millisecond
	// bootstrapTickDuration seeds the EMA before the first real tick.
	bootstrapTickDuration = 20 * time.Millisecond
	// emaPrior/emaNew are the smoothing coefficients spec §4.6 fixes at
	// 0.9/0.1; carried forward unchanged per the design decision in
	// DESIGN.md.
	emaPrior = 0.9
	emaNew   = 0.1
)

// Request is emitted by the controller's public operations for the
// state machine to react to.
type Request string

const (
	RequestSeek  Request = "seekRequest"
	RequestPlay  Request = "playRequest"
	RequestPause Request = "pauseRequest"
)

// Listener receives controller requests; the state machine implements
// this to drive its own transitions.
type Listener func(Request)

// Controller owns the playback cursor, speed, and tick-duration
// smoothing state. Its methods are called both from the state
// machine's single run loop goroutine and directly from Player's
// public StartPlayback/PausePlayback/SeekPlayback/SetPlaybackSpeed,
// which the UI invokes from its own goroutine; mu guards every mutable
// field against that concurrent access.
type Controller struct {
	start, end mcap.Time

	mu          sync.Mutex
	isPlaying   bool
	speed       float64
	currentTime mcap.Time
	seekTarget  *mcap.Time
	untilTime   *mcap.Time

	lastTick        time.Time
	lastRangeMillis float64
	hasLastTick     bool

	listener Listener
}

// New constructs a Controller over [start,end] with the default speed.
func New(start, end mcap.Time, listener Listener) *Controller {
	return &Controller{
		start:       start,
		end:         end,
		speed:       1.0,
		currentTime: start,
		listener:    listener,
	}
}

// emit invokes the listener. Callers must not hold mu while calling
// this, since the listener may re-enter the controller.
func (c *Controller) emit(r Request) {
	if c.listener != nil {
		c.listener(r)
	}
}

// CurrentTime returns the controller's cursor.
func (c *Controller) CurrentTime() mcap.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

// End returns the log's configured end time (not affected by a pending
// playUntil bound — see ClampToWindow for that). start/end are fixed at
// construction, so no lock is needed.
func (c *Controller) End() mcap.Time { return c.end }

// SetCurrentTime is called by the state machine after a tick/backfill
// advances the cursor.
func (c *Controller) SetCurrentTime(t mcap.Time) {
	c.mu.Lock()
	c.currentTime = t
	c.mu.Unlock()
}

// IsPlaying reports whether playback is active.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPlaying
}

// SetIsPlaying is called by the state machine's play/idle handlers.
func (c *Controller) SetIsPlaying(playing bool) {
	c.mu.Lock()
	c.isPlaying = playing
	c.mu.Unlock()
}

// SeekTarget returns the pending seek target, if any.
func (c *Controller) SeekTarget() *mcap.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seekTarget
}

// ClearSeekTarget completes the current seek; per the invariant this is
// only called by the backfill state handler's success path.
func (c *Controller) ClearSeekTarget() {
	c.mu.Lock()
	c.seekTarget = nil
	c.mu.Unlock()
}

// UntilTime returns the pending playUntil bound, if any.
func (c *Controller) UntilTime() *mcap.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.untilTime
}

// ClearUntilTime clears the playUntil bound (pause or bound reached).
func (c *Controller) ClearUntilTime() {
	c.mu.Lock()
	c.untilTime = nil
	c.mu.Unlock()
}

// Speed returns the current playback speed multiplier.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SeekPlayback clamps t to [start,end]; no-ops if equal to the current
// seek target or current time; otherwise arms a new seek.
func (c *Controller) SeekPlayback(t mcap.Time) {
	t = t.Clamp(c.start, c.end)

	c.mu.Lock()
	if c.seekTarget != nil && t.Equal(*c.seekTarget) {
		c.mu.Unlock()
		return
	}
	if t.Equal(c.currentTime) {
		c.mu.Unlock()
		return
	}
	c.seekTarget = &t
	c.untilTime = nil
	c.hasLastTick = false
	c.lastRangeMillis = 0
	c.mu.Unlock()

	c.emit(RequestSeek)
}

// StartPlayback begins unconditional forward playback.
func (c *Controller) StartPlayback() {
	c.mu.Lock()
	if c.isPlaying || c.untilTime != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.emit(RequestPlay)
}

// PlayUntil begins playback bounded at t.
func (c *Controller) PlayUntil(t mcap.Time) error {
	c.mu.Lock()
	if c.isPlaying || c.untilTime != nil {
		c.mu.Unlock()
		return nil
	}
	if !t.After(c.currentTime) {
		c.mu.Unlock()
		return alerts.PreconditionViolation("playUntil target must be after currentTime")
	}
	clamped := t.Clamp(c.start, c.end)
	c.untilTime = &clamped
	c.mu.Unlock()

	c.emit(RequestPlay)
	return nil
}

// PausePlayback stops playback and clears timing state.
func (c *Controller) PausePlayback() {
	c.mu.Lock()
	c.untilTime = nil
	c.hasLastTick = false
	c.lastRangeMillis = 0
	c.isPlaying = false
	c.mu.Unlock()

	c.emit(RequestPause)
}

// SetPlaybackSpeed sets the speed multiplier; fails for s<=0.
func (c *Controller) SetPlaybackSpeed(s float64) error {
	if s <= 0 {
		return alerts.PreconditionViolation("playback speed must be positive")
	}
	c.mu.Lock()
	c.speed = s
	c.mu.Unlock()
	return nil
}

// NextTickRange computes the smoothed, speed-scaled tick duration to
// use for the upcoming tick, per spec §4.6's EMA.
func (c *Controller) NextTickRange(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var elapsed time.Duration
	if c.hasLastTick {
		elapsed = now.Sub(c.lastTick)
	} else {
		elapsed = bootstrapTickDuration
	}
	c.lastTick = now
	c.hasLastTick = true

	scaled := time.Duration(float64(elapsed) * c.speed)
	if scaled > MaxTickDuration {
		scaled = MaxTickDuration
	}
	if scaled < 0 {
		scaled = 0
	}

	if c.lastRangeMillis == 0 {
		c.lastRangeMillis = float64(scaled)
	} else {
		c.lastRangeMillis = emaPrior*c.lastRangeMillis + emaNew*float64(scaled)
	}
	return time.Duration(c.lastRangeMillis)
}

// ClampToWindow clamps endTime to [start, untilTime ?? end].
func (c *Controller) ClampToWindow(endTime mcap.Time) mcap.Time {
	c.mu.Lock()
	hi := c.end
	if c.untilTime != nil {
		hi = *c.untilTime
	}
	c.mu.Unlock()
	return endTime.Clamp(c.start, hi)
}
