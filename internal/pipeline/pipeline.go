package pipeline

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/admission"
	"github.com/breeze-rmm/scrubd/internal/coalescer"
	"github.com/breeze-rmm/scrubd/internal/config"
	"github.com/breeze-rmm/scrubd/internal/decodesession"
	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/landingzone"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
	"github.com/breeze-rmm/scrubd/internal/proxymanager"
	"github.com/breeze-rmm/scrubd/internal/reader"
	"github.com/breeze-rmm/scrubd/internal/scrubdecoder"
	"github.com/breeze-rmm/scrubd/internal/telemetry"
	"github.com/breeze-rmm/scrubd/internal/velocity"
	"github.com/breeze-rmm/scrubd/internal/workerpool"
)

var log = logging.L("pipeline")

// ClipSource names the source/track a clip binds for the lifetime of one
// begin_scrub/end_scrub span.
type ClipSource struct {
	SourceRef string
	TrackRef  string
}

// clipActor holds one clip's decode orchestration handle: its predictor,
// coalescer, reverse cursor, decoder, and bookkeeping for debounce and
// stuck-task cooldown. Every field is reached only with mu held, the
// same single-mutex-per-unit-of-work posture as internal/gopindex and
// internal/scrubdecoder, since dispatch (below) already hands off the
// actual decode work to the pipeline's bounded worker pool.
type clipActor struct {
	mu sync.Mutex

	clipID  string
	source  ClipSource
	decoder *scrubdecoder.Decoder
	coal    *coalescer.Coalescer
	pred    *velocity.Predictor
	cursor  *ReverseCursor

	lastDecodeStartAt time.Time
	lastDecodeDeltaS  float64
	everSucceeded     bool
}

// Deps bundles the process-wide collaborators the pipeline dispatches
// into; every field except Registries (one registry per clip) is shared
// across every clip.
type Deps struct {
	Index      *gopindex.Index
	Admission  *admission.Controller
	Proxy      *proxymanager.Manager
	Surface    ports.CompositorSurface
	Registries map[string]*decodesession.Registry // keyed by clipID, supplied by production wiring
	SourceFor  func(clipID string) ports.SampleSource
	Telemetry  *telemetry.Emitter // may be nil
}

// Pipeline is the integrated pipeline of spec §4.K: the top-level
// orchestrator driven by begin_scrub/update_scrub/end_scrub.
type Pipeline struct {
	mu    sync.Mutex
	clips map[string]*clipActor

	cfg  *config.Config
	deps Deps
	now  func() time.Time
	pool *workerpool.Pool

	epoch uint64
}

// New creates a pipeline. now may be nil to use time.Now. Dispatched decode
// targets run on a bounded worker pool (cfg.DispatchWorkers/
// DispatchQueueSize) rather than one goroutine per target, so a scrub burst
// across many clips can't pile up unbounded concurrent decodes.
func New(cfg *config.Config, deps Deps, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		clips: make(map[string]*clipActor),
		cfg:   cfg,
		deps:  deps,
		now:   now,
		pool:  workerpool.New(cfg.DispatchWorkers, cfg.DispatchQueueSize),
	}
}

// Close stops accepting new dispatched decode tasks and waits (up to ctx's
// deadline) for in-flight and queued ones to finish.
func (p *Pipeline) Close(ctx context.Context) {
	p.pool.StopAccepting()
	p.pool.Drain(ctx)
}

// BeginScrub implements begin_scrub(clips): bump the global epoch, tear
// down any actors left over from a previous span, and create one fresh
// actor per clip.
func (p *Pipeline) BeginScrub(clips map[string]ClipSource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, actor := range p.clips {
		actor.decoder.Close()
		delete(p.clips, id)
	}

	p.epoch = p.deps.Index.ResetAllCaches()

	for clipID, src := range clips {
		registry := p.deps.Registries[clipID]
		var source ports.SampleSource
		if p.deps.SourceFor != nil {
			source = p.deps.SourceFor(clipID)
		}
		dcfg := scrubdecoder.Config{
			PrerollFrames:             p.cfg.PrerollFrames,
			BadDataRetryMax:           p.cfg.BadDataRetryMax,
			FrameDurationS:            p.cfg.FrameDurationS,
			CompressedIDRTargetGateS:  p.cfg.CompressedIDRTargetGateS,
			ReverseFailureBackoffS:    p.cfg.ReverseFailureBackoffS,
			ReverseFailureMaxBackoffS: p.cfg.ReverseFailureMaxBackoffS,
			StallCooldown:             time.Duration(p.cfg.StallCooldownS * float64(time.Second)),
			FreezeRecenterDuration:    time.Duration(p.cfg.SessionFreezeGateDurationS * float64(time.Second)),
			Window: reader.WindowParams{
				FrameDurationS:     p.cfg.FrameDurationS,
				MaxReverseLookback: p.cfg.MaxReverseLookbackS,
				MaxForwardHead:     p.cfg.MaxForwardHeadS,
			},
		}
		sessCfg := decodesession.Config{
			ErrorEscalationWindow: time.Duration(p.cfg.SessionErrorEscalationWindowS * float64(time.Second)),
			ErrorEscalationCount:  p.cfg.SessionErrorEscalationCount,
			ProxyOnlyDuration:     time.Duration(p.cfg.SessionProxyOnlyDurationS * float64(time.Second)),
			FreezeGateDuration:    time.Duration(p.cfg.SessionFreezeGateDurationS * float64(time.Second)),
			RebuildMaxPerWindow:   p.cfg.SessionRebuildMaxPerWindow,
			RebuildWindow:         time.Duration(p.cfg.SessionRebuildWindowS * float64(time.Second)),
			WarmCacheSize:         p.cfg.SessionWarmCacheSize,
			WarmCacheEpsilonS:     p.cfg.SessionWarmCacheEpsilonS,
		}

		actor := &clipActor{
			clipID: clipID,
			source: src,
			coal:   coalescer.New(),
			pred:   velocity.New(p.cfg.VelocityEMAAlpha),
			cursor: NewReverseCursor(p.now),
		}
		actor.decoder = scrubdecoder.New(clipID, src.TrackRef, src.SourceRef, p.deps.Index, source, registry, sessCfg, p.deps.Proxy, dcfg, p.now, p.deps.Telemetry, func(id string) {
			p.commitReverse(id)
		})
		p.clips[clipID] = actor
	}
}

func (p *Pipeline) commitReverse(clipID string) {
	p.mu.Lock()
	actor, ok := p.clips[clipID]
	p.mu.Unlock()
	if !ok {
		return
	}
	actor.mu.Lock()
	actor.cursor.CommitReverse()
	actor.everSucceeded = true
	actor.mu.Unlock()
}

// Target is one decode target produced by UpdateScrub's selection step.
type Target struct {
	ClipID string
	PTS    float64
	Cost   float64
}

func gopSpan(frameDurationS float64) float64 { return coalescer.GOPSpan(frameDurationS) }

// UpdateScrub implements update_scrub(t_now, raw_velocity, direction): run
// the predictor for each clip, build a cost-ordered set of decode targets,
// and dispatch each as a fire-and-forget tracked task.
func (p *Pipeline) UpdateScrub(ctx context.Context, tNow, rawVelocity float64, direction ports.Direction) {
	p.mu.Lock()
	actors := make([]*clipActor, 0, len(p.clips))
	for _, a := range p.clips {
		actors = append(actors, a)
	}
	p.mu.Unlock()

	for _, actor := range actors {
		p.updateClip(ctx, actor, tNow, rawVelocity, direction)
	}
}

func (p *Pipeline) updateClip(ctx context.Context, actor *clipActor, tNow, rawVelocity float64, direction ports.Direction) {
	actor.mu.Lock()

	actor.pred.Observe(tNow, p.now())
	tPred := actor.pred.Predict(tNow, p.cfg.PredictionClampMinS, p.cfg.PredictionClampMaxS)
	windowFrames := actor.pred.AdaptiveWindow()
	zone := landingzone.Compute(tPred, direction, p.cfg.FrameDurationS, windowFrames, actor.lastDecodeDeltaS)

	behindWarm := 0
	aheadWarm := 0
	if p.deps.Surface != nil {
		behindWarm = p.deps.Surface.WarmFrameCount(ctx, actor.clipID, zone.Behind.Lo, zone.Behind.Hi)
		aheadWarm = p.deps.Surface.WarmFrameCount(ctx, actor.clipID, zone.Ahead.Lo, zone.Ahead.Hi)
	}

	if behindWarm == 0 && aheadWarm == 0 {
		actor.coal.Clear()
		p.deps.Admission.ForceReleaseForClip(actor.clipID, "cold_reset")
		actor.decoder.ResetForTimelineJump()
	}

	mode := modeAdvance
	if rawVelocity != 0 {
		mode = modeObserve
	}
	requestedIdx := int64(math.Round(tPred / p.cfg.FrameDurationS))
	actor.cursor.Observe(mode, requestedIdx, rawVelocity, p.cfg.ReverseLZFrames)

	severeDelta := math.Abs(actor.lastDecodeDeltaS) > p.cfg.FrameDurationS*0.75
	bypassDebounce := behindWarm == 0 || zone.RepairMode || severeDelta
	now := p.now()
	if !bypassDebounce && !actor.lastDecodeStartAt.IsZero() &&
		now.Sub(actor.lastDecodeStartAt).Seconds() < p.cfg.DebounceMinIntervalS {
		actor.mu.Unlock()
		return
	}

	budget := p.cfg.ForwardTargetBudget
	if direction == ports.Reverse {
		budget = p.cfg.ReverseTargetBudget
		if p.deps.Proxy != nil && p.deps.Proxy.UsingProxy(actor.clipID) {
			budget = p.cfg.ReverseTargetBudgetProxy
		}
	}

	targets := p.buildTargets(zone, tNow, direction, budget)
	actor.lastDecodeStartAt = now
	decoder := actor.decoder
	clipID := actor.clipID
	coal := actor.coal
	actor.mu.Unlock()

	frameDuration := p.cfg.FrameDurationS
	gspan := gopSpan(frameDuration)
	for _, target := range targets {
		gk := coalescer.GOPKey(target.PTS, gspan)
		decision := coal.Decide(gk, target.PTS)
		switch decision.Outcome {
		case coalescer.Reuse:
			if decision.Retarget {
				coal.Retarget(target.PTS)
			}
			continue
		case coalescer.Cancel:
			coal.Clear()
		}
		coal.Start(coalescer.Job{GOPKey: gk, TargetPTS: target.PTS})

		p.dispatch(ctx, clipID, decoder, target, tPred, direction, false)
	}
}

// buildTargets implements the cost-ordered target selection of update_scrub
// step 4: priority PTS vector from the landing zone, cost = |delta|/fd (+
// ahead penalty for future samples in reverse), dropped past the
// reverse-future-lead cap, budget-capped.
func (p *Pipeline) buildTargets(zone landingzone.Zone, tNow float64, direction ports.Direction, budget int) []Target {
	fd := p.cfg.FrameDurationS
	pts := zone.PriorityPTS(fd, direction)

	out := make([]Target, 0, len(pts))
	for _, t := range pts {
		if direction == ports.Reverse && t > tNow+p.cfg.ReverseFutureLeadCapS {
			continue
		}
		delta := t - zone.TPred
		cost := math.Abs(delta) / fd
		if delta > 0 {
			cost += 1.0
		}
		out = append(out, Target{PTS: t, Cost: cost})
		if len(out) >= budget {
			break
		}
	}
	return out
}

// dispatch spawns a tracked, fire-and-forget decode task for one target,
// gated through admission and guarded by a watchdog timeout.
func (p *Pipeline) dispatch(ctx context.Context, clipID string, decoder *scrubdecoder.Decoder, target Target, tPred float64, direction ports.Direction, isStop bool) {
	res := p.deps.Admission.CheckAdmission(clipID, direction, isStop, false, "scrub")
	if !res.Admitted {
		return
	}

	// p95 decode-duration tracking is not modeled here; the watchdog always
	// runs at its configured floor, which spec gives as max(3*p95, 180ms)
	// and a cold clip has no p95 sample yet to exceed that floor with.
	watchdog := time.Duration(p.cfg.WatchdogFloorS * float64(time.Second))

	submitted := p.pool.Submit(func() {
		defer p.deps.Admission.OnDecodeFailureOrTimeout(clipID, direction)

		dctx, cancel := context.WithTimeout(ctx, watchdog)
		defer cancel()

		result, err := decoder.DecodeFrame(dctx, target.PTS, tPred, direction, isStop)
		if err != nil {
			log.Debug("decode target failed", "clip", clipID, "target", target.PTS, "error", err)
			return
		}

		p.onDecodeSuccess(ctx, clipID, target.PTS, result, direction, isStop)
	})
	if !submitted {
		log.Warn("dispatch queue full, dropping decode target", "clip", clipID, "target", target.PTS)
		p.deps.Admission.OnDecodeFailureOrTimeout(clipID, direction)
	}
}

// onDecodeSuccess implements update_scrub step 6: compute delta, decide
// store_in_primary, drop future frames on reverse, prune stale history.
func (p *Pipeline) onDecodeSuccess(ctx context.Context, clipID string, requestedPTS float64, result scrubdecoder.Result, direction ports.Direction, isStop bool) {
	p.mu.Lock()
	actor, ok := p.clips[clipID]
	p.mu.Unlock()
	if !ok {
		return
	}

	delta := requestedPTS - result.PTS
	actor.mu.Lock()
	actor.lastDecodeDeltaS = delta
	actor.everSucceeded = true
	actor.mu.Unlock()

	fd := p.cfg.FrameDurationS
	if direction == ports.Reverse && result.PTS > requestedPTS+p.cfg.ReverseFutureLeadCapS {
		return // future frame, dropped per spec
	}

	storeInPrimary := isStop || math.Abs(delta) <= fd*0.75

	if p.deps.Surface == nil {
		return
	}
	origin := ports.OriginScrub
	_ = p.deps.Surface.CacheFrame(ctx, result.Pixels, 0, 0, clipID, result.PTS, p.epoch, origin, storeInPrimary)

	keepAfter := fd
	if 4*fd < 0.020 {
		keepAfter = 0.020
	} else if 4*fd < keepAfter {
		keepAfter = 4 * fd
	}
	p.deps.Surface.PruneHistory(ctx, clipID, result.PTS-keepAfter)
}

// CheckStall runs stuck-task detection for every clip: if a clip's reverse
// inflight is saturated and it has no warm frames behind the playhead, the
// decoder is fully reset (spec "Stuck-task detection", 500ms cooldown
// owned by scrubdecoder.Decoder.CheckStall itself).
func (p *Pipeline) CheckStall(ctx context.Context) {
	p.mu.Lock()
	actors := make([]*clipActor, 0, len(p.clips))
	for _, a := range p.clips {
		actors = append(actors, a)
	}
	p.mu.Unlock()

	for _, actor := range actors {
		reverseInflight := p.deps.Admission.Inflight(actor.clipID, ports.Reverse)
		warmBehind := 0
		if p.deps.Surface != nil {
			warmBehind = p.deps.Surface.WarmFrameCount(ctx, actor.clipID, -1e18, 0)
		}
		if actor.decoder.CheckStall(reverseInflight, p.cfg.MaxInflightPerClip, warmBehind) {
			p.deps.Admission.ForceReleaseForClip(actor.clipID, "stuck_task")
		}
	}
}

// EndScrub implements end_scrub(t_final): mandatory-decode any clip with
// no successful decode yet, then a deadline decode per clip with
// is_stop=true, freezing recentering for end_scrub_freeze, then tears
// every clip actor down.
func (p *Pipeline) EndScrub(ctx context.Context, tFinal float64) {
	p.mu.Lock()
	actors := make([]*clipActor, 0, len(p.clips))
	for _, a := range p.clips {
		actors = append(actors, a)
	}
	p.mu.Unlock()

	for _, actor := range actors {
		actor.mu.Lock()
		needsMandatory := !actor.everSucceeded
		decoder := actor.decoder
		clipID := actor.clipID
		actor.mu.Unlock()

		if needsMandatory {
			for i := 0; i < p.cfg.MandatoryDecodeMaxRetries; i++ {
				if _, err := decoder.DecodeFrame(ctx, tFinal, tFinal, ports.Forward, true); err == nil {
					break
				}
			}
		}

		dctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.EndScrubFreezeS*float64(time.Second))+time.Second)
		result, err := decoder.DecodeFrame(dctx, tFinal, tFinal, ports.Forward, true)
		cancel()
		if err == nil {
			p.onDecodeSuccess(ctx, clipID, tFinal, result, ports.Forward, true)
		}
	}

	p.mu.Lock()
	for id, actor := range p.clips {
		actor.decoder.Close()
		delete(p.clips, id)
	}
	p.mu.Unlock()
}
