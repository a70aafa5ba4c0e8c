package gopindex

import (
	"sort"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

const nearCutSlackMs = 150

// trackIndex is the per-track ordered table of classified samples. Not safe
// for concurrent use on its own; callers go through Index's mutex.
type trackIndex struct {
	trackID string
	samples []RAPRecord // sorted ascending by Key.AbsMs
}

func newTrackIndex(trackID string) *trackIndex {
	return &trackIndex{trackID: trackID}
}

// add inserts a classified sample, keeping samples sorted by AbsMs. Callers
// are expected to add in roughly-increasing order (index build order); the
// insertion sort below degrades gracefully for the rare out-of-order add.
func (t *trackIndex) add(rec RAPRecord) {
	i := sort.Search(len(t.samples), func(i int) bool {
		return t.samples[i].Key.AbsMs >= rec.Key.AbsMs
	})
	t.samples = append(t.samples, RAPRecord{})
	copy(t.samples[i+1:], t.samples[i:])
	t.samples[i] = rec
}

func (t *trackIndex) isSync(c ports.SyncClass) bool {
	return c == ports.SyncIDR || c == ports.SyncCRA || c == ports.SyncBLA
}

// searchAbsMs returns the index of the first sample with AbsMs >= target.
func (t *trackIndex) searchAbsMs(target int64) int {
	return sort.Search(len(t.samples), func(i int) bool {
		return t.samples[i].Key.AbsMs >= target
	})
}

// prevSyncBefore returns the nearest full-sync (IDR/CRA/BLA) sample at or
// before tMs, if any.
func (t *trackIndex) prevSyncBefore(tMs int64) (RAPRecord, bool) {
	i := t.searchAbsMs(tMs + 1)
	for j := i - 1; j >= 0; j-- {
		if t.isSync(t.samples[j].Class) {
			return t.samples[j], true
		}
	}
	return RAPRecord{}, false
}

// nearestAtOrBefore returns the nearest sample (any class) at or before tMs.
func (t *trackIndex) nearestAtOrBefore(tMs int64) (RAPRecord, bool) {
	i := t.searchAbsMs(tMs + 1)
	if i == 0 {
		return RAPRecord{}, false
	}
	return t.samples[i-1], true
}

// nextSyncAfter returns the nearest full-sync sample strictly after tMs.
func (t *trackIndex) nextSyncAfter(tMs int64) (RAPRecord, bool) {
	i := t.searchAbsMs(tMs + 1)
	for ; i < len(t.samples); i++ {
		if t.isSync(t.samples[i].Class) {
			return t.samples[i], true
		}
	}
	return RAPRecord{}, false
}

// isNearCut reports whether tMs sits within slackMs of a sync sample, used
// by the reader to decide whether a "safe window" override applies.
func (t *trackIndex) isNearCut(tMs int64, slackMs int64) bool {
	if slackMs <= 0 {
		slackMs = nearCutSlackMs
	}
	if before, ok := t.prevSyncBefore(tMs); ok && tMs-before.Key.AbsMs <= slackMs {
		return true
	}
	if after, ok := t.nextSyncAfter(tMs - 1); ok && after.Key.AbsMs-tMs <= slackMs {
		return true
	}
	return false
}

// findRandomAccess implements spec §4.A's find_random_access(near t):
// search samples over [t-2s, t+2s], keep the best candidate on each of four
// buckets (non-partial before/after, partial before/after), and apply the
// preference order: best-before non-partial, else best-after within 0.5s,
// else best-before-partial, else best-after-partial within 0.5s, else a
// synthetic fallback at t.
func (t *trackIndex) findRandomAccess(nearMs int64) RAPRecord {
	const windowMs = 2000
	const afterToleranceMs = 500

	lo := nearMs - windowMs
	hi := nearMs + windowMs

	var bestBefore, bestAfter, bestBeforePartial, bestAfterPartial RAPRecord
	haveBefore, haveAfter, haveBeforePartial, haveAfterPartial := false, false, false, false

	start := t.searchAbsMs(lo)
	for i := start; i < len(t.samples) && t.samples[i].Key.AbsMs <= hi; i++ {
		s := t.samples[i]
		switch {
		case t.isSync(s.Class) && s.Key.AbsMs <= nearMs:
			if !haveBefore || s.Key.AbsMs > bestBefore.Key.AbsMs {
				bestBefore, haveBefore = s, true
			}
		case t.isSync(s.Class) && s.Key.AbsMs > nearMs:
			if !haveAfter || s.Key.AbsMs < bestAfter.Key.AbsMs {
				bestAfter, haveAfter = s, true
			}
		case s.Class == ports.SyncPartial && s.Key.AbsMs <= nearMs:
			if !haveBeforePartial || s.Key.AbsMs > bestBeforePartial.Key.AbsMs {
				bestBeforePartial, haveBeforePartial = s, true
			}
		case s.Class == ports.SyncPartial && s.Key.AbsMs > nearMs:
			if !haveAfterPartial || s.Key.AbsMs < bestAfterPartial.Key.AbsMs {
				bestAfterPartial, haveAfterPartial = s, true
			}
		}
	}

	switch {
	case haveBefore:
		return bestBefore
	case haveAfter && bestAfter.Key.AbsMs-nearMs <= afterToleranceMs:
		return bestAfter
	case haveBeforePartial:
		return bestBeforePartial
	case haveAfterPartial && bestAfterPartial.Key.AbsMs-nearMs <= afterToleranceMs:
		return bestAfterPartial
	default:
		return RAPRecord{
			Key:        RAKey{TrackID: t.trackID, AbsMs: nearMs},
			Class:      ports.SyncNone,
			IsFallback: true,
		}
	}
}
