// Package gopindex implements the per-track GOP/RAP index (spec §4.A):
// classification of random-access points, binary-search lookups, and the
// failure/quarantine bookkeeping the reader and decoder session consult
// before trusting a random-access point a second time.
//
// Mirroring the donor's sessionbroker.Session, state lives behind a plain
// mutex rather than a channel actor: every operation here is pure in-memory
// computation, not an async I/O round-trip, so there is no request/response
// boundary worth serializing through a goroutine.
package gopindex

import (
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

var log = logging.L("gopindex")

// Index is the process-wide GOP index, holding one trackIndex per track.
type Index struct {
	mu      sync.Mutex
	tracks  map[string]*trackIndex
	epoch   uint64
	fails   *failureTable
	nowFunc func() time.Time
}

// New creates an empty index. nowFunc may be nil to use time.Now (tests
// inject a fake clock to exercise TTL expiry deterministically).
func New(nowFunc func() time.Time) *Index {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Index{
		tracks:  make(map[string]*trackIndex),
		fails:   newFailureTable(nowFunc),
		nowFunc: nowFunc,
	}
}

func (ix *Index) track(trackID string) *trackIndex {
	t, ok := ix.tracks[trackID]
	if !ok {
		t = newTrackIndex(trackID)
		ix.tracks[trackID] = t
	}
	return t
}

// Epoch returns the current index epoch.
func (ix *Index) Epoch() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.epoch
}

// ResetAllCaches bumps the epoch, making every previously issued RAKey
// stale (spec §4.A "State"). Track contents are not cleared; stale keys
// simply no longer resolve via Resolve.
func (ix *Index) ResetAllCaches() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.epoch++
	log.Info("index caches reset", "epoch", ix.epoch)
	return ix.epoch
}

// AddSample classifies and inserts one compressed sample's attachment
// record into trackID's index at the current epoch.
func (ix *Index) AddSample(trackID string, absMs int64, pts float64, attachments ports.SampleAttachments) RAKey {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	key := RAKey{TrackID: trackID, Epoch: ix.epoch, AbsMs: absMs}
	ix.track(trackID).add(RAPRecord{Key: key, PTS: pts, Class: classify(attachments)})
	return key
}

// Resolve reports whether key is still valid: its epoch must match the
// index's current epoch and it must not be quarantined or carrying live
// failures (spec §4.A: "A cached result is invalidated if its key has
// nonzero failures").
func (ix *Index) Resolve(key RAKey) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if key.Epoch != ix.epoch {
		return false
	}
	if ix.fails.quarantined(key) {
		return false
	}
	return ix.fails.failures(key) == 0
}

// PrevSyncBefore returns the nearest full-sync sample at or before tMs.
func (ix *Index) PrevSyncBefore(trackID string, tMs int64) (RAPRecord, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.track(trackID).prevSyncBefore(tMs)
}

// NearestAtOrBefore returns the nearest sample of any class at or before tMs.
func (ix *Index) NearestAtOrBefore(trackID string, tMs int64) (RAPRecord, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.track(trackID).nearestAtOrBefore(tMs)
}

// NextSyncAfter returns the nearest full-sync sample strictly after tMs.
func (ix *Index) NextSyncAfter(trackID string, tMs int64) (RAPRecord, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.track(trackID).nextSyncAfter(tMs)
}

// IsNearCut reports whether tMs is within slackMs of a sync sample.
// slackMs <= 0 uses the spec default of 150ms.
func (ix *Index) IsNearCut(trackID string, tMs int64, slackMs int64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.track(trackID).isNearCut(tMs, slackMs)
}

// FindRandomAccess implements find_random_access(near t). When the best
// candidate's key is currently quarantined or carries live failures, it
// returns a synthetic fallback at nearMs instead; other candidates are not
// tried.
func (ix *Index) FindRandomAccess(trackID string, nearMs int64) RAPRecord {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t := ix.track(trackID)
	rec := t.findRandomAccess(nearMs)
	if rec.IsFallback {
		return rec
	}
	if ix.fails.quarantined(rec.Key) || ix.fails.failures(rec.Key) > 0 {
		// The best candidate is tainted; report the synthetic fallback
		// rather than hand back a point known to be bad. Callers that want
		// ladder behavior across multiple candidates should note_fail and
		// retry, which advances this result on the next sample insertion.
		return RAPRecord{
			Key:        RAKey{TrackID: trackID, Epoch: ix.epoch, AbsMs: nearMs},
			Class:      ports.SyncNone,
			IsFallback: true,
		}
	}
	return rec
}

// NoteFail bumps key's failure count.
func (ix *Index) NoteFail(key RAKey) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.fails.noteFail(key)
}

// Failures returns key's live failure count.
func (ix *Index) Failures(key RAKey) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.fails.failures(key)
}

// Quarantine blocks key from being returned by FindRandomAccess until until.
func (ix *Index) Quarantine(key RAKey, until time.Time) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.fails.quarantine(key, until)
}

// ResetFail clears both failure count and quarantine for key.
func (ix *Index) ResetFail(key RAKey) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.fails.resetFail(key)
}
