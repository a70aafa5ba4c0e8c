package gopindex

import "time"

const (
	failureTTL      = 5 * time.Second
	failureCacheCap = 256
)

type failureEntry struct {
	count      int
	expiresAt  time.Time
	lastTouch  time.Time
}

// failureTable tracks note_fail/quarantine state per RAKey, LRU-capped at
// failureCacheCap entries with a 5s TTL per spec §4.A "Failure semantics".
type failureTable struct {
	entries     map[RAKey]*failureEntry
	quarantines map[RAKey]time.Time
	order       []RAKey // recency order, most-recently-touched last
	now         func() time.Time
}

func newFailureTable(now func() time.Time) *failureTable {
	if now == nil {
		now = time.Now
	}
	return &failureTable{
		entries:     make(map[RAKey]*failureEntry),
		quarantines: make(map[RAKey]time.Time),
		now:         now,
	}
}

func (f *failureTable) touch(k RAKey) {
	for i, existing := range f.order {
		if existing == k {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.order = append(f.order, k)
	for len(f.order) > failureCacheCap {
		evict := f.order[0]
		f.order = f.order[1:]
		delete(f.entries, evict)
	}
}

// noteFail bumps the failure count for k, refreshing its TTL.
func (f *failureTable) noteFail(k RAKey) {
	now := f.now()
	e, ok := f.entries[k]
	if !ok {
		e = &failureEntry{}
		f.entries[k] = e
	}
	e.count++
	e.expiresAt = now.Add(failureTTL)
	e.lastTouch = now
	f.touch(k)
}

// failures returns the live (non-expired) failure count for k.
func (f *failureTable) failures(k RAKey) int {
	e, ok := f.entries[k]
	if !ok {
		return 0
	}
	if f.now().After(e.expiresAt) {
		delete(f.entries, k)
		return 0
	}
	return e.count
}

// resetFail clears failure count and quarantine for k.
func (f *failureTable) resetFail(k RAKey) {
	delete(f.entries, k)
	delete(f.quarantines, k)
}

// quarantine blocks k from being returned until `until`.
func (f *failureTable) quarantine(k RAKey, until time.Time) {
	f.quarantines[k] = until
}

// quarantined reports whether k is currently blocked.
func (f *failureTable) quarantined(k RAKey) bool {
	until, ok := f.quarantines[k]
	if !ok {
		return false
	}
	if f.now().After(until) {
		delete(f.quarantines, k)
		return false
	}
	return true
}
