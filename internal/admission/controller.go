// Package admission implements spec §4.G's admission controller: a global
// burst-rate gate plus a per-clip, per-direction inflight cap, with support
// for bypassing the rate gate on immediate/deadline submissions and forced
// release of a running slot when a clip's cap is exceeded.
package admission

import (
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

var log = logging.L("admission")

// ReleaseFunc is invoked to force-release one running slot belonging to a
// clip, e.g. cancelling an in-flight reader/decode task. It returns true if
// a slot was actually released.
type ReleaseFunc func(clipID, reason string) bool

// Config holds the tunables sourced from internal/config.
type Config struct {
	MaxInflightPerClip       int
	NeverCancelRunning       bool
	GlobalBurstCapacity      int
	GlobalBurstRefillPeriod  time.Duration
}

// Result is the outcome of CheckAdmission.
type Result struct {
	Admitted bool
	Reason   string
}

type clipState struct {
	forwardInflight int
	reverseInflight int
}

// Controller is the process-wide admission gate.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	release ReleaseFunc
	now     func() time.Time

	clips map[string]*clipState

	tokens         float64
	lastRefillTime time.Time
}

// New creates a controller. release may be nil, in which case a clip-cap
// breach with NeverCancelRunning=false simply denies admission instead of
// evicting a running slot.
func New(cfg Config, release ReleaseFunc, now func() time.Time) *Controller {
	if cfg.MaxInflightPerClip <= 0 {
		cfg.MaxInflightPerClip = 4
	}
	if cfg.GlobalBurstCapacity <= 0 {
		cfg.GlobalBurstCapacity = 16
	}
	if cfg.GlobalBurstRefillPeriod <= 0 {
		cfg.GlobalBurstRefillPeriod = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:            cfg,
		release:        release,
		now:            now,
		clips:          make(map[string]*clipState),
		tokens:         float64(cfg.GlobalBurstCapacity),
		lastRefillTime: now(),
	}
}

func (c *Controller) clip(clipID string) *clipState {
	cs, ok := c.clips[clipID]
	if !ok {
		cs = &clipState{}
		c.clips[clipID] = cs
	}
	return cs
}

func (cs *clipState) inflight(direction ports.Direction) int {
	if direction == ports.Reverse {
		return cs.reverseInflight
	}
	return cs.forwardInflight
}

func (cs *clipState) adjust(direction ports.Direction, delta int) {
	if direction == ports.Reverse {
		cs.reverseInflight += delta
		if cs.reverseInflight < 0 {
			cs.reverseInflight = 0
		}
		return
	}
	cs.forwardInflight += delta
	if cs.forwardInflight < 0 {
		cs.forwardInflight = 0
	}
}

// refillLocked tops up the global token bucket for elapsed time.
func (c *Controller) refillLocked() {
	now := c.now()
	elapsed := now.Sub(c.lastRefillTime)
	if elapsed <= 0 {
		return
	}
	rate := float64(c.cfg.GlobalBurstCapacity) / c.cfg.GlobalBurstRefillPeriod.Seconds()
	c.tokens += rate * elapsed.Seconds()
	if c.tokens > float64(c.cfg.GlobalBurstCapacity) {
		c.tokens = float64(c.cfg.GlobalBurstCapacity)
	}
	c.lastRefillTime = now
}

func (c *Controller) consumeTokenLocked() bool {
	c.refillLocked()
	if c.tokens < 1 {
		return false
	}
	c.tokens--
	return true
}

// CheckAdmission implements spec §4.G's check_admission. purpose=="deadline"
// submissions are isolated: they neither consume nor contend with the
// shared burst bucket.
func (c *Controller) CheckAdmission(clipID string, direction ports.Direction, isStop, needsImmediate bool, purpose string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs := c.clip(clipID)
	isDeadline := purpose == "deadline"

	if cs.inflight(direction) >= c.cfg.MaxInflightPerClip {
		if c.cfg.NeverCancelRunning || c.release == nil || !c.release(clipID, "clip_limit_guard") {
			return Result{Admitted: false, Reason: "clip_cap"}
		}
		cs.adjust(direction, -1)
		log.Debug("force-released a running slot for clip cap", "clip", clipID, "direction", direction.String())
	}

	if !needsImmediate && !isDeadline {
		if !c.consumeTokenLocked() {
			return Result{Admitted: false, Reason: "rate_gate"}
		}
	}

	cs.adjust(direction, 1)
	return Result{Admitted: true}
}

// OnDecodeFailureOrTimeout decrements the proper per-clip, per-direction
// counter after an attempt concludes (success or failure).
func (c *Controller) OnDecodeFailureOrTimeout(clipID string, direction ports.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clip(clipID).adjust(direction, -1)
}

// ForceReleaseForClip decrements every counter belonging to clipID to zero,
// used by stuck-task detection and source switches.
func (c *Controller) ForceReleaseForClip(clipID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.clip(clipID)
	cs.forwardInflight = 0
	cs.reverseInflight = 0
	log.Info("force-released all slots for clip", "clip", clipID, "reason", reason)
}

// Inflight returns the current per-direction inflight count for a clip, for
// tests and the stall-detection logic in internal/pipeline.
func (c *Controller) Inflight(clipID string, direction ports.Direction) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clip(clipID).inflight(direction)
}
