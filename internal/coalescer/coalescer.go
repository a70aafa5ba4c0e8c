// Package coalescer implements spec §4.H's per-clip GOP coalescer: it
// tracks the single active decode job for a clip and decides whether a new
// request can reuse it, must retarget it, or requires cancelling and
// starting fresh.
package coalescer

import "math"

// gopSpanFloorS is the minimum GOP span (spec: max(frame_duration*12, 0.5s)).
const gopSpanFloorS = 0.5

// gopSpanFrames is the frame-duration multiplier for the GOP span.
const gopSpanFrames = 12

// reuseGOPToleranceS and retargetToleranceS bound the "same GOP" and
// "target barely moved" windows (1ms and 10ms respectively, per spec).
const (
	reuseGOPToleranceS  = 0.001
	retargetToleranceS  = 0.010
)

// Outcome is the decision kind decide() returns.
type Outcome int

const (
	Start Outcome = iota
	Reuse
	Cancel
)

func (o Outcome) String() string {
	switch o {
	case Reuse:
		return "reuse"
	case Cancel:
		return "cancel"
	default:
		return "start"
	}
}

// Decision is decide()'s full result.
type Decision struct {
	Outcome  Outcome
	Retarget bool
	Reason   string
}

// Job is the active decode job tracked for one clip.
type Job struct {
	GOPKey    float64
	TargetPTS float64
	TaskID    string
}

// Coalescer tracks the single active job for one clip.
type Coalescer struct {
	active *Job
}

// New creates an empty coalescer (no active job).
func New() *Coalescer { return &Coalescer{} }

// GOPSpan returns the GOP span for a given frame duration.
func GOPSpan(frameDurationS float64) float64 {
	span := frameDurationS * gopSpanFrames
	if span < gopSpanFloorS {
		span = gopSpanFloorS
	}
	return span
}

// GOPKey returns floor(pts / gop_span) * gop_span.
func GOPKey(pts, gopSpan float64) float64 {
	if gopSpan <= 0 {
		return pts
	}
	return math.Floor(pts/gopSpan) * gopSpan
}

// Active returns the currently tracked job, if any.
func (c *Coalescer) Active() (Job, bool) {
	if c.active == nil {
		return Job{}, false
	}
	return *c.active, true
}

// Decide implements decide(new_gop, new_target) per spec §4.H.
func (c *Coalescer) Decide(newGOP, newTarget float64) Decision {
	if c.active == nil {
		return Decision{Outcome: Start, Reason: "no_active_job"}
	}

	sameGOP := math.Abs(newGOP-c.active.GOPKey) < reuseGOPToleranceS
	if !sameGOP {
		return Decision{Outcome: Cancel, Reason: "different_gop"}
	}

	targetMoved := math.Abs(newTarget-c.active.TargetPTS) > retargetToleranceS
	if targetMoved {
		// Stale targets cause future-frame rejection in reverse: always
		// restart rather than letting the job drift toward a stale target.
		return Decision{Outcome: Reuse, Retarget: true, Reason: "target_moved"}
	}
	return Decision{Outcome: Reuse, Retarget: false, Reason: "same_job"}
}

// Start records a new active job (after a Start or a Cancel+Start).
func (c *Coalescer) Start(job Job) {
	j := job
	c.active = &j
}

// Retarget updates the active job's target, preserving its GOP key/task.
func (c *Coalescer) Retarget(newTarget float64) {
	if c.active != nil {
		c.active.TargetPTS = newTarget
	}
}

// Clear drops the active job (after cancellation or completion).
func (c *Coalescer) Clear() {
	c.active = nil
}
