package gopindex

import (
	"testing"
	"time"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

func idr(a int64) ports.SampleAttachments       { _ = a; return ports.SampleAttachments{Known: true} }
func partial() ports.SampleAttachments          { return ports.SampleAttachments{PartialSync: true} }
func dependent() ports.SampleAttachments        { return ports.SampleAttachments{DependsOnOthers: true} }

func buildIndex(t *testing.T) *Index {
	t.Helper()
	ix := New(nil)
	// Sync points every 1000ms from 0..5000, with dependent frames between.
	for ms := int64(0); ms <= 5000; ms += 200 {
		if ms%1000 == 0 {
			ix.AddSample("v1", ms, float64(ms)/1000.0, idr(ms))
		} else {
			ix.AddSample("v1", ms, float64(ms)/1000.0, dependent())
		}
	}
	return ix
}

func TestPrevSyncBeforeAndNextSyncAfter(t *testing.T) {
	ix := buildIndex(t)

	rec, ok := ix.PrevSyncBefore("v1", 2500)
	if !ok || rec.Key.AbsMs != 2000 {
		t.Fatalf("PrevSyncBefore(2500) = %+v, %v", rec, ok)
	}

	rec, ok = ix.NextSyncAfter("v1", 2500)
	if !ok || rec.Key.AbsMs != 3000 {
		t.Fatalf("NextSyncAfter(2500) = %+v, %v", rec, ok)
	}

	rec, ok = ix.PrevSyncBefore("v1", 1000)
	if !ok || rec.Key.AbsMs != 1000 {
		t.Fatalf("PrevSyncBefore(1000) should include exact match, got %+v %v", rec, ok)
	}
}

func TestNearestAtOrBeforeReturnsAnyClass(t *testing.T) {
	ix := buildIndex(t)
	rec, ok := ix.NearestAtOrBefore("v1", 2650)
	if !ok || rec.Key.AbsMs != 2600 {
		t.Fatalf("NearestAtOrBefore(2650) = %+v, %v", rec, ok)
	}
}

func TestIsNearCut(t *testing.T) {
	ix := buildIndex(t)
	if !ix.IsNearCut("v1", 2120, 150) {
		t.Fatal("expected 2120 to be near the 2000 cut within 150ms slack")
	}
	if ix.IsNearCut("v1", 2500, 150) {
		t.Fatal("2500 is far from any cut")
	}
}

func TestFindRandomAccessPrefersBeforeOverAfter(t *testing.T) {
	ix := New(nil)
	ix.AddSample("v1", 0, 0, idr(0))
	ix.AddSample("v1", 4000, 4.0, idr(4000))
	rec := ix.FindRandomAccess("v1", 2000)
	if rec.IsFallback {
		t.Fatal("did not expect fallback")
	}
	if rec.Key.AbsMs != 0 {
		t.Fatalf("expected best-before (0), got %d", rec.Key.AbsMs)
	}
}

func TestFindRandomAccessFallsBackToAfterWithinTolerance(t *testing.T) {
	ix := New(nil)
	ix.AddSample("v1", 2300, 2.3, idr(2300))
	rec := ix.FindRandomAccess("v1", 2000)
	if rec.IsFallback {
		t.Fatal("did not expect fallback")
	}
	if rec.Key.AbsMs != 2300 {
		t.Fatalf("expected after-candidate within 500ms tolerance, got %d", rec.Key.AbsMs)
	}
}

func TestFindRandomAccessAfterCandidateTooFarIsFallback(t *testing.T) {
	ix := New(nil)
	ix.AddSample("v1", 2600, 2.6, idr(2600)) // 600ms away, beyond the 500ms after-tolerance
	rec := ix.FindRandomAccess("v1", 2000)
	if !rec.IsFallback {
		t.Fatalf("expected synthetic fallback, got %+v", rec)
	}
}

func TestFindRandomAccessUsesPartialWhenNoFullSync(t *testing.T) {
	ix := New(nil)
	ix.AddSample("v1", 1800, 1.8, partial())
	rec := ix.FindRandomAccess("v1", 2000)
	if rec.IsFallback || rec.Class != ports.SyncPartial {
		t.Fatalf("expected before-partial candidate, got %+v", rec)
	}
}

func TestFindRandomAccessNoCandidatesIsSyntheticFallback(t *testing.T) {
	ix := New(nil)
	ix.AddSample("v1", 0, 0, dependent()) // far outside the +-2s window of 10000
	rec := ix.FindRandomAccess("v1", 10000)
	if !rec.IsFallback || rec.Class != ports.SyncNone {
		t.Fatalf("expected synthetic fallback, got %+v", rec)
	}
	if rec.Key.AbsMs != 10000 {
		t.Fatalf("fallback key AbsMs = %d, want 10000", rec.Key.AbsMs)
	}
}

func TestResetAllCachesBumpsEpochAndInvalidatesStaleKeys(t *testing.T) {
	ix := New(nil)
	key := ix.AddSample("v1", 0, 0, idr(0))
	if !ix.Resolve(key) {
		t.Fatal("freshly added key should resolve")
	}
	ix.ResetAllCaches()
	if ix.Resolve(key) {
		t.Fatal("key stamped with a stale epoch must not resolve after reset")
	}
}

func TestNoteFailInvalidatesCachedKeyUntilTTLExpires(t *testing.T) {
	clock := time.Unix(0, 0)
	ix := New(func() time.Time { return clock })
	key := ix.AddSample("v1", 0, 0, idr(0))

	ix.NoteFail(key)
	if ix.Resolve(key) {
		t.Fatal("key with a live failure must not resolve")
	}

	clock = clock.Add(6 * time.Second) // past the 5s TTL
	if !ix.Resolve(key) {
		t.Fatal("failure should have expired after its TTL")
	}
}

func TestResetFailClearsFailureAndQuarantine(t *testing.T) {
	ix := New(nil)
	key := ix.AddSample("v1", 0, 0, idr(0))
	ix.NoteFail(key)
	ix.Quarantine(key, time.Now().Add(time.Hour))
	ix.ResetFail(key)
	if !ix.Resolve(key) {
		t.Fatal("expected ResetFail to clear both failure count and quarantine")
	}
}

func TestQuarantineBlocksFindRandomAccessCandidate(t *testing.T) {
	ix := New(nil)
	key := ix.AddSample("v1", 2000, 2.0, idr(2000))
	ix.Quarantine(key, time.Now().Add(time.Hour))

	rec := ix.FindRandomAccess("v1", 2000)
	if !rec.IsFallback {
		t.Fatalf("expected fallback once the only candidate is quarantined, got %+v", rec)
	}
}

func TestFailureTableLRUCapsAt256Entries(t *testing.T) {
	ix := New(nil)
	keys := make([]RAKey, 0, 300)
	for i := 0; i < 300; i++ {
		k := RAKey{TrackID: "v1", Epoch: 0, AbsMs: int64(i)}
		ix.NoteFail(k)
		keys = append(keys, k)
	}
	// The earliest-touched keys should have been evicted.
	if ix.Failures(keys[0]) != 0 {
		t.Fatal("expected the oldest failure entry to be evicted past the 256 cap")
	}
	if ix.Failures(keys[len(keys)-1]) == 0 {
		t.Fatal("expected the most recent failure entry to survive")
	}
}
