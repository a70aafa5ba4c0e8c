// Package pipeline implements spec §4.K's integrated pipeline: the
// top-level orchestrator that turns begin_scrub/update_scrub/end_scrub
// calls from the timeline UI into per-clip decode targets, dispatched to
// one clip actor per clip and never blocking the caller.
package pipeline

import "time"

// jitterBand is one row of the observe-mode anti-jitter threshold table,
// keyed by the absolute velocity band it applies to.
type jitterBand struct {
	frames int
	holdS  float64
}

var jitterTable = []jitterBand{
	{3, 0.18},
	{4, 0.16},
	{6, 0.14},
	{8, 0.12},
	{10, 0.10},
	{14, 0.08},
}

// cursorMode distinguishes the two quantization regimes the reverse cursor
// runs under.
type cursorMode int

const (
	modeAdvance cursorMode = iota
	modeObserve
)

const largeJumpFrames = 30
const largeJumpElapsedS = 1.0

// ReverseCursor maintains the monotone-backward per-clip reverse frame
// index of spec §4.K "Reverse cursor quantization". It never lets the
// cursor drift arbitrarily far ahead of what the timeline is actually
// requesting, but resists being dragged forward by noisy single-frame
// jitter during a reverse drag.
type ReverseCursor struct {
	have         bool
	cursor       int64
	lastChangeAt time.Time
	now          func() time.Time
}

// NewReverseCursor creates an unset cursor. now may be nil to use
// time.Now.
func NewReverseCursor(now func() time.Time) *ReverseCursor {
	if now == nil {
		now = time.Now
	}
	return &ReverseCursor{now: now}
}

// Value returns the current cursor index and whether it has been set yet.
func (c *ReverseCursor) Value() (int64, bool) {
	return c.cursor, c.have
}

// Observe updates the cursor for one requested frame index, per the
// advance/observe mode rules, then clamps the result so it never lags the
// requested index by more than max(3*reverseLZFrames, 12).
func (c *ReverseCursor) Observe(mode cursorMode, requested int64, velocity float64, reverseLZFrames int) int64 {
	now := c.now()
	if !c.have {
		c.cursor = requested
		c.have = true
		c.lastChangeAt = now
		return c.cursor
	}

	switch mode {
	case modeAdvance:
		c.observeAdvance(requested, now)
	case modeObserve:
		c.observeObserve(requested, velocity, now)
	}

	c.clamp(requested, reverseLZFrames)
	return c.cursor
}

func (c *ReverseCursor) observeAdvance(requested int64, now time.Time) {
	if requested <= c.cursor {
		c.cursor = requested
		c.lastChangeAt = now
		return
	}
	jumpFrames := requested - c.cursor
	elapsed := now.Sub(c.lastChangeAt).Seconds()
	if jumpFrames >= largeJumpFrames && elapsed >= largeJumpElapsedS {
		c.cursor = requested
		c.lastChangeAt = now
		return
	}
	// Hold: a forward-drifting request inside a reverse drag does not move
	// the cursor.
}

func (c *ReverseCursor) observeObserve(requested int64, velocity float64, now time.Time) {
	if velocity < 0 {
		jumpFrames := c.cursor - requested
		if jumpFrames < 0 {
			jumpFrames = -jumpFrames
		}
		elapsed := now.Sub(c.lastChangeAt).Seconds()
		if jumpFrames >= largeJumpFrames && elapsed >= largeJumpElapsedS {
			c.cursor = requested
			c.lastChangeAt = now
		}
		return
	}

	// Forward velocity: apply the anti-jitter hold table keyed by |v|.
	absV := velocity
	if absV < 0 {
		absV = -absV
	}
	hold := 0.0
	for _, band := range jitterTable {
		if absV <= float64(band.frames) {
			hold = band.holdS
			break
		}
	}
	if now.Sub(c.lastChangeAt).Seconds() < hold {
		return
	}
	if requested > c.cursor {
		c.cursor = requested
		c.lastChangeAt = now
	}
}

func (c *ReverseCursor) clamp(requested int64, reverseLZFrames int) {
	maxLag := int64(reverseLZFrames * 3)
	if maxLag < 12 {
		maxLag = 12
	}
	floor := requested - maxLag
	if c.cursor < floor {
		c.cursor = floor
	}
}

// CommitReverse decrements the cursor by one on a successful reverse
// decode, per spec's commit_reverse_cursor(clip).
func (c *ReverseCursor) CommitReverse() {
	if c.have {
		c.cursor--
	}
}

// Reset clears the cursor so the next Observe re-seeds it, used on
// begin_scrub and on a cold-reset timeline jump.
func (c *ReverseCursor) Reset() {
	c.have = false
	c.cursor = 0
}
