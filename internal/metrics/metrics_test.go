package metrics

import "testing"

func TestCountersIncrement(t *testing.T) {
	r := New()
	r.IncFramesDecoded()
	r.IncFramesDecoded()
	r.IncCacheHit("ram")
	r.IncCacheHit("disk")
	r.IncCacheHit("cold")
	r.IncCacheHit("")
	r.IncAdmissionDenial()
	r.IncFallbackTransition()
	r.IncGOPCoalesced()
	r.IncGOPReused()
	r.IncProxyFrameServed()
	r.IncWatchdogTimeout()
	r.IncRequestCancelled()
	r.IncBadDataRetry()

	s := r.Snapshot()
	if s.FramesDecoded != 2 {
		t.Fatalf("FramesDecoded = %d, want 2", s.FramesDecoded)
	}
	if s.CacheHitsRAM != 1 || s.CacheHitsDisk != 1 || s.CacheHitsCold != 1 || s.CacheMisses != 1 {
		t.Fatalf("cache counters wrong: %+v", s)
	}
	if s.AdmissionDenials != 1 || s.FallbackTransitions != 1 || s.GOPsCoalesced != 1 || s.GOPsReused != 1 {
		t.Fatalf("counters wrong: %+v", s)
	}
	if s.ProxyFramesServed != 1 || s.WatchdogTimeouts != 1 || s.RequestsCancelled != 1 || s.BadDataRetries != 1 {
		t.Fatalf("counters wrong: %+v", s)
	}
}

func TestClipStatsCreatedOnDemandAndUpdated(t *testing.T) {
	r := New()
	cs := r.ClipStats("clip-1")
	cs.Update(12345, "reverse", -0.8, "hardware", 2)
	cs.RecordFailure()
	cs.RecordFailure()

	snap := r.Snapshot()
	if len(snap.Clips) != 1 {
		t.Fatalf("len(Clips) = %d, want 1", len(snap.Clips))
	}
	got := snap.Clips[0]
	if got.ClipID != "clip-1" || got.LastCompletedAbsMs != 12345 || got.Direction != "reverse" {
		t.Fatalf("unexpected clip snapshot: %+v", got)
	}
	if got.ConsecutiveFailures != 2 {
		t.Fatalf("ConsecutiveFailures = %d, want 2", got.ConsecutiveFailures)
	}

	cs.ResetFailures()
	snap = r.Snapshot()
	if snap.Clips[0].ConsecutiveFailures != 0 {
		t.Fatal("expected ResetFailures to zero the counter")
	}
}

func TestClipStatsSameHandleReturnedOnRepeatLookup(t *testing.T) {
	r := New()
	a := r.ClipStats("clip-1")
	b := r.ClipStats("clip-1")
	if a != b {
		t.Fatal("expected ClipStats to return the same handle for the same clip ID")
	}
}

func TestDropClipRemovesFromSnapshot(t *testing.T) {
	r := New()
	r.ClipStats("clip-1")
	r.DropClip("clip-1")
	snap := r.Snapshot()
	if len(snap.Clips) != 0 {
		t.Fatalf("expected no clips after DropClip, got %d", len(snap.Clips))
	}
}
