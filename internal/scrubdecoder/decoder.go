// Package scrubdecoder implements spec §4.D's per-clip Enhanced Scrub
// Decoder: the orchestrator that turns "I want the frame at t" into a
// delivered buffer by resolving a random-access point, driving the reader's
// sliding window, and retrying through bad-data anchors and cut-edge
// narrowing.
//
// State lives behind a single mutex rather than a dedicated goroutine, the
// same posture internal/gopindex and internal/admission take: every
// suspension point here (reader rebuilds, decode submission) is already an
// awaited call, so there is no request/response boundary that needs its own
// actor loop — the clip-level serialization the donor gets for free from
// its per-session goroutine, we get from the caller (internal/pipeline)
// only ever driving one DecodeFrame at a time per clip.
package scrubdecoder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/decodesession"
	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
	"github.com/breeze-rmm/scrubd/internal/proxymanager"
	"github.com/breeze-rmm/scrubd/internal/reader"
	"github.com/breeze-rmm/scrubd/internal/telemetry"
)

var log = logging.L("scrubdecoder")

const maxAttempts = 12

// Config holds the per-clip tunables sourced from internal/config.
type Config struct {
	PrerollFrames             int
	BadDataRetryMax           int
	FrameDurationS            float64
	Codec                     ports.CodecClass
	Window                    reader.WindowParams
	CompressedIDRTargetGateS  float64
	ReverseFailureBackoffS    float64
	ReverseFailureMaxBackoffS float64
	RAPBucketMs               int64
	StallCooldown             time.Duration
	FreezeRecenterDuration    time.Duration
}

func defaultConfig(cfg Config) Config {
	if cfg.PrerollFrames <= 0 {
		cfg.PrerollFrames = 2
	}
	if cfg.BadDataRetryMax <= 0 {
		cfg.BadDataRetryMax = 3
	}
	if cfg.RAPBucketMs <= 0 {
		cfg.RAPBucketMs = 120
	}
	if cfg.StallCooldown <= 0 {
		cfg.StallCooldown = 500 * time.Millisecond
	}
	if cfg.FreezeRecenterDuration <= 0 {
		cfg.FreezeRecenterDuration = 150 * time.Millisecond
	}
	if cfg.ReverseFailureBackoffS <= 0 {
		cfg.ReverseFailureBackoffS = 0.25
	}
	if cfg.ReverseFailureMaxBackoffS <= 0 {
		cfg.ReverseFailureMaxBackoffS = 2.0
	}
	return cfg
}

// Result is decode_frame's return value.
type Result struct {
	Pixels []byte
	PTS    float64
	Stages []string
}

// Decoder is one clip's scrub-decode orchestrator.
type Decoder struct {
	mu sync.Mutex

	clipID    string
	trackID   string
	sourceRef string

	cfg Config
	now func() time.Time

	index    *gopindex.Index
	source   ports.SampleSource
	registry *decodesession.Registry
	sessCfg  decodesession.Config
	proxy    *proxymanager.Manager
	tele     *telemetry.Emitter

	onReverseCommit func(clipID string)

	reader  *reader.Reader
	session *decodesession.Session

	rapBuckets map[int64]gopindex.RAPRecord

	lastStallAt         time.Time
	freezeRecenterUntil time.Time
}

// New creates a per-clip decoder. proxy, tele, and onReverseCommit may be
// nil.
func New(clipID, trackID, sourceRef string, index *gopindex.Index, source ports.SampleSource, registry *decodesession.Registry, sessCfg decodesession.Config, proxy *proxymanager.Manager, cfg Config, now func() time.Time, tele *telemetry.Emitter, onReverseCommit func(clipID string)) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{
		clipID:          clipID,
		trackID:         trackID,
		sourceRef:       sourceRef,
		cfg:             defaultConfig(cfg),
		now:             now,
		index:           index,
		source:          source,
		registry:        registry,
		sessCfg:         sessCfg,
		proxy:           proxy,
		tele:            tele,
		onReverseCommit: onReverseCommit,
		rapBuckets:      make(map[int64]gopindex.RAPRecord),
	}
}

func msFromS(t float64) int64 { return int64(t*1000 + 0.5) }

// ensureResourcesLocked lazily creates the reader and decoder session (spec
// §4.D.1).
func (d *Decoder) ensureResourcesLocked() {
	if d.reader == nil {
		d.reader = reader.New(d.trackID, d.source)
	}
	if d.session == nil {
		d.session = decodesession.New(d.registry, d.sessCfg, d.now, d.clipID, d.tele)
	}
}

// bucketKey floors t to the configured RAP-resolution bucket width.
func (d *Decoder) bucketKey(t float64) int64 {
	ms := msFromS(t)
	width := d.cfg.RAPBucketMs
	return (ms / width) * width
}

// resolveRAPLocked implements step 2: consult the 120ms bucket cache,
// otherwise call find_random_access, and remember the result at both the
// target bucket and the RAP's own bucket. Buckets whose key has live
// failures are evicted rather than trusted.
func (d *Decoder) resolveRAPLocked(targetT float64) gopindex.RAPRecord {
	key := d.bucketKey(targetT)
	if rap, ok := d.rapBuckets[key]; ok {
		if d.index.Failures(rap.Key) == 0 && !rap.IsFallback {
			return rap
		}
		delete(d.rapBuckets, key)
	}

	rap := d.index.FindRandomAccess(d.trackID, msFromS(targetT))
	d.rapBuckets[key] = rap
	d.rapBuckets[d.bucketKey(rap.PTS)] = rap
	return rap
}

func (d *Decoder) evictFailedBucketsLocked() {
	for k, rap := range d.rapBuckets {
		if d.index.Failures(rap.Key) > 0 {
			delete(d.rapBuckets, k)
		}
	}
}

// isCutEdgeLocked implements step 4's cut-edge detection: target or t_pred
// within 150ms of a RAP, or the current RAP already carries failures.
func (d *Decoder) isCutEdgeLocked(targetT, tPred float64, rap gopindex.RAPRecord) bool {
	if d.index.IsNearCut(d.trackID, msFromS(targetT), 0) {
		return true
	}
	if d.index.IsNearCut(d.trackID, msFromS(tPred), 0) {
		return true
	}
	return d.index.Failures(rap.Key) > 0
}

type attemptHashKey struct {
	anchorMs int64
	targetMs int64
	format   uint64
}

// adoptFallback implements step 5: clamp a replacement RAP to at most
// target_ms+guard, stepping backward through prev_sync up to 12 times if
// still ahead of that bound, falling back to prev_sync(target) directly if
// that still isn't enough.
func (d *Decoder) adoptFallback(candidate gopindex.RAPRecord, targetMs int64) gopindex.RAPRecord {
	guardMs := int64(d.cfg.ReverseFailureBackoffS * 1000)
	if guardMs < 500 {
		guardMs = 500
	}
	if candidate.Key.AbsMs <= targetMs+guardMs {
		return candidate
	}

	c := candidate
	for i := 0; i < 12 && c.Key.AbsMs > targetMs+guardMs; i++ {
		prev, ok := d.index.PrevSyncBefore(d.trackID, c.Key.AbsMs-1)
		if !ok {
			break
		}
		c = prev
	}
	if c.Key.AbsMs > targetMs+guardMs {
		if direct, ok := d.index.PrevSyncBefore(d.trackID, targetMs); ok {
			c = direct
		}
	}
	return c
}

// DecodeFrame implements decode_frame(target_t, t_pred, direction,
// deadline_mode) -> (buffer, pts, stages).
func (d *Decoder) DecodeFrame(ctx context.Context, targetT, tPred float64, direction ports.Direction, deadlineMode bool) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ensureResourcesLocked()
	d.evictFailedBucketsLocked()

	if cached, ok := d.session.Lookup(targetT, direction); ok {
		return Result{Pixels: cached.Pixels, PTS: cached.PTS, Stages: []string{"warm_cache_hit"}}, nil
	}

	rap := d.resolveRAPLocked(targetT)
	stages := []string{"rap_resolved"}

	targetMs := msFromS(targetT)
	seenHashes := make(map[attemptHashKey]int)
	badDataLeadBoost := 0
	badDataAttempts := 0
	prevSyncTurn := true

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		hashKey := attemptHashKey{anchorMs: rap.Key.AbsMs, targetMs: targetMs, format: d.reader.LastFormatSig()}
		if n, seen := seenHashes[hashKey]; seen {
			seenHashes[hashKey] = n + 1
			badDataLeadBoost++
			if deadlineMode {
				lastErr = ports.ErrTimeout
				stages = append(stages, "skipped_deadline")
				break
			}
			continue
		}
		seenHashes[hashKey] = 1

		cutEdge := d.isCutEdgeLocked(targetT, tPred, rap)
		preroll := d.cfg.PrerollFrames
		nearCut := false
		if cutEdge {
			if preroll < 3 {
				preroll = 3
			}
			nearCut = true
			stages = append(stages, "cut_edge")
		}

		params := d.cfg.Window
		leadFrames := float64(preroll) + float64(badDataLeadBoost)
		params.MaxForwardHead += leadFrames * d.cfg.FrameDurationS

		var prevSyncS float64
		if prev, ok := d.index.PrevSyncBefore(d.trackID, targetMs); ok {
			prevSyncS = prev.PTS
		}

		if _, err := d.reader.EnsureWindow(ctx, tPred, rap, targetT, d.cfg.Codec, params, nearCut, prevSyncS); err != nil {
			lastErr = err
			if errors.Is(err, ports.ErrCancelled) {
				break
			}
			continue
		}

		snappedTarget := targetT
		pixels, pts, err := d.reader.CopyFrame(ctx, d.session, direction, snappedTarget, d.cfg.FrameDurationS)
		if err == nil {
			d.index.ResetFail(rap.Key)
			if direction == ports.Reverse {
				if d.proxy != nil {
					d.proxy.ResetReverseBadDataStreak(d.clipID)
				}
				if d.onReverseCommit != nil {
					d.onReverseCommit(d.clipID)
				}
			}
			stages = append(stages, "success")
			return Result{Pixels: pixels, PTS: pts, Stages: stages}, nil
		}

		lastErr = err
		if errors.Is(err, ports.ErrCancelled) {
			break
		}
		if !errors.Is(err, ports.ErrBadData) {
			continue
		}

		stages = append(stages, "bad_data")
		d.index.NoteFail(rap.Key)
		badDataAttempts++
		if d.tele != nil {
			d.tele.Emit(d.clipID, telemetry.KindBadDataRetry, "bad data at current anchor")
		}

		var candidate gopindex.RAPRecord
		var ok bool
		if prevSyncTurn {
			candidate, ok = d.index.PrevSyncBefore(d.trackID, targetMs)
		} else {
			candidate, ok = d.index.NextSyncAfter(d.trackID, targetMs)
		}
		prevSyncTurn = !prevSyncTurn

		if badDataAttempts > d.cfg.BadDataRetryMax {
			d.onRepeatedBadData(ctx, direction, targetMs)
		}

		if ok {
			rap = d.adoptFallback(candidate, targetMs)
			d.freezeRecenterUntil = d.now().Add(d.cfg.FreezeRecenterDuration)
			if d.session != nil {
				_ = d.session.Reset(ctx)
			}
			stages = append(stages, "fallback_adopted")
		}
	}

	return Result{Stages: stages}, lastErr
}

// onRepeatedBadData implements the part of step 4's failure handler that
// escalates to proxy coverage once the attempt loop's bad-data budget is
// exhausted; internal/proxymanager owns the cross-call consecutive-streak
// count and decides when that crosses the trigger threshold.
func (d *Decoder) onRepeatedBadData(ctx context.Context, direction ports.Direction, targetMs int64) {
	if d.proxy == nil || direction != ports.Reverse {
		return
	}
	d.proxy.NoteReverseBadDataFailure(ctx, d.clipID, d.sourceRef, targetMs, 4000)
}

// FreezeRecenterActive reports whether a fallback adoption froze reader
// recentering within the last FreezeRecenterDuration.
func (d *Decoder) FreezeRecenterActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.freezeRecenterUntil)
}

// CheckStall implements spec §4.D's stall detection: when reverse inflight
// is saturated and there are no warm-behind frames, and the 500ms cooldown
// has elapsed, force a full decoder reset and report true so the caller
// (internal/pipeline) also force-releases admission and cancels the
// coalesced GOP job.
func (d *Decoder) CheckStall(reverseInflight, maxInflight, warmBehind int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reverseInflight != maxInflight || warmBehind != 0 {
		return false
	}
	now := d.now()
	if !d.lastStallAt.IsZero() && now.Sub(d.lastStallAt) < d.cfg.StallCooldown {
		return false
	}
	d.lastStallAt = now
	log.Warn("stall detected, forcing full decoder reset", "clip", d.clipID)
	if d.tele != nil {
		d.tele.Emit(d.clipID, telemetry.KindStuckTaskRecovery, "reverse inflight saturated with no warm-behind frames")
	}
	d.resetAllLocked()
	return true
}

func (d *Decoder) resetAllLocked() {
	if d.session != nil {
		_ = d.session.Close()
		d.session = nil
	}
	if d.reader != nil {
		_ = d.reader.Close()
		d.reader = nil
	}
	d.rapBuckets = make(map[int64]gopindex.RAPRecord)
}

// Close releases the decoder's reader and session, leaving it ready to
// lazily recreate both on the next DecodeFrame call.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.session != nil {
		err = d.session.Close()
	}
	if d.reader != nil {
		if cerr := d.reader.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	d.resetAllLocked()
	return err
}

// ResetForTimelineJump implements the pipeline's reset_for_timeline_jump:
// a full reader+session teardown, used when the landing zone finds nothing
// warm on either side of a newly predicted position.
func (d *Decoder) ResetForTimelineJump() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetAllLocked()
}
