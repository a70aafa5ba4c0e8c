// Package reader implements the per-clip sliding sample-window reader of
// spec §4.B: it decides whether the active compressed-sample window can be
// shifted in place or must be rebuilt around a fresh random-access point,
// throttles rebuild storms, and drives the read loop that drops leading
// dependent/partial samples and delivers the sample nearest a target PTS to
// a decoder driver.
package reader

import (
	"context"
	"errors"
	"time"

	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

var log = logging.L("reader")

const (
	rebuildThrottleWindow = 500 * time.Millisecond
	rebuildThrottleMax    = 5
	maxFormatChangeStreak = 2
)

// Decision records what EnsureWindow did, for telemetry and tests.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionShift
	DecisionRebuild
	DecisionRebuildEscalated
)

func (d Decision) String() string {
	switch d {
	case DecisionShift:
		return "shift"
	case DecisionRebuild:
		return "rebuild"
	case DecisionRebuildEscalated:
		return "rebuild-escalated"
	default:
		return "none"
	}
}

// Reader holds one clip track's active sample window and stream.
type Reader struct {
	trackID string
	source  ports.SampleSource

	window      Window
	epoch       uint64
	stream      ports.SampleStream
	anchorDone  bool
	lastFormat  uint64
	formatChangeStreak int

	rebuilds        int
	rebuildTimes    []time.Time
	recentRebuilds  int // count within the throttle window, recomputed each rebuild attempt
}

// New creates a reader bound to one clip's sample source.
func New(trackID string, source ports.SampleSource) *Reader {
	return &Reader{trackID: trackID, source: source}
}

func (r *Reader) Window() Window { return r.window }

// LastFormatSig returns the format-description fingerprint of the most
// recently read sample, or 0 before any sample has been read. Used by
// internal/scrubdecoder's attempt-hash dedup key.
func (r *Reader) LastFormatSig() uint64 { return r.lastFormat }

// Close releases the current stream, if any.
func (r *Reader) Close() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	return err
}

// pruneRebuildTimes drops rebuild timestamps older than the throttle window.
func (r *Reader) pruneRebuildTimes(now time.Time) {
	cutoff := now.Add(-rebuildThrottleWindow)
	i := 0
	for ; i < len(r.rebuildTimes); i++ {
		if r.rebuildTimes[i].After(cutoff) {
			break
		}
	}
	r.rebuildTimes = r.rebuildTimes[i:]
}

// EnsureWindow implements spec §4.B: decide shift vs rebuild, then (for a
// rebuild) cancel the current stream and open a new one over the computed
// window. nearCut forces the safe-window override.
func (r *Reader) EnsureWindow(ctx context.Context, tPred float64, rap gopindex.RAPRecord, targetPTS float64, codec ports.CodecClass, params WindowParams, nearCut bool, prevSyncS float64) (Decision, error) {
	var want Window
	if nearCut {
		want = safeWindow(prevSyncS, tPred)
	} else {
		want = computeWindow(rap.PTS, tPred, targetPTS, codec, params)
	}

	canShift := r.stream != nil &&
		r.epoch == rap.Key.Epoch &&
		r.window.covers(tPred) &&
		want.StartS == r.window.StartS && // start never moves off RAP alignment
		want.EndS >= r.window.EndS-params.FrameDurationS // extension, not a shrink past tolerance

	if canShift {
		r.window = want
		return DecisionShift, nil
	}

	now := time.Now()
	r.pruneRebuildTimes(now)
	decision := DecisionRebuild
	if len(r.rebuildTimes) >= rebuildThrottleMax {
		// Escalate: widen the window instead of rebuilding again immediately,
		// and reset the throttle so the next genuine rebuild isn't blocked
		// forever.
		want.StartS = 0
		if params.MaxReverseLookback > 0 {
			want.StartS = rap.PTS - params.MaxReverseLookback
			if want.StartS < 0 {
				want.StartS = 0
			}
		}
		r.rebuildTimes = nil
		decision = DecisionRebuildEscalated
	} else {
		r.rebuildTimes = append(r.rebuildTimes, now)
	}

	if err := r.Close(); err != nil {
		log.Warn("close reader before rebuild failed", "track", r.trackID, "error", err)
	}
	stream, err := r.source.OpenWindow(ctx, r.trackID, want.StartS, want.EndS)
	if err != nil {
		return decision, err
	}
	r.stream = stream
	r.window = want
	r.epoch = rap.Key.Epoch
	r.anchorDone = false
	r.formatChangeStreak = 0
	r.rebuilds++
	log.Debug("reader rebuilt", "track", r.trackID, "decision", decision.String(), "start", want.StartS, "end", want.EndS, "rebuilds", r.rebuilds)
	return decision, nil
}

// NeedsRebuild reports whether the last CopyFrame saw too many consecutive
// format-description changes and the caller should force a rebuild.
func (r *Reader) NeedsRebuild() bool {
	return r.formatChangeStreak > maxFormatChangeStreak
}

// CopyFrame reads forward through the current stream, dropping leading
// dependent/partial samples until the RAP anchor is satisfied, then submits
// the first sample within tolerance of the snapped target to driver and
// waits for its decode result.
func (r *Reader) CopyFrame(ctx context.Context, driver ports.DecoderDriver, direction ports.Direction, snappedTargetPTS, frameDurationS float64) (pixels []byte, actualPTS float64, err error) {
	if r.stream == nil {
		return nil, 0, ports.ErrReaderConfig
	}
	tolerance := frameDurationS / 2
	if tolerance < 0.010 {
		tolerance = 0.010
	}

	for {
		select {
		case <-ctx.Done():
			return nil, 0, ports.ErrCancelled
		default:
		}

		sample, err := r.stream.Next(ctx)
		if err != nil {
			if errors.Is(err, ports.ErrBadData) {
				return nil, 0, err
			}
			return nil, 0, err
		}

		if r.lastFormat != 0 && sample.FormatSig != r.lastFormat {
			r.formatChangeStreak++
		} else {
			r.formatChangeStreak = 0
		}
		r.lastFormat = sample.FormatSig
		if r.NeedsRebuild() {
			return nil, 0, ports.ErrReaderConfig
		}

		if !r.anchorDone {
			if sample.Attachments.DependsOnOthers || sample.Attachments.PartialSync {
				continue
			}
			r.anchorDone = true
		}

		if abs(sample.PTS-snappedTargetPTS) > tolerance {
			continue
		}

		resCh, err := driver.Submit(ctx, sample, direction)
		if err != nil {
			return nil, 0, err
		}
		select {
		case res := <-resCh:
			if res.Err != nil {
				return nil, 0, res.Err
			}
			return res.Pixels, res.PTS, nil
		case <-ctx.Done():
			return nil, 0, ports.ErrCancelled
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
