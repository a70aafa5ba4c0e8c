package admission

import (
	"testing"
	"time"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

func TestAdmitsUntilClipCap(t *testing.T) {
	c := New(Config{MaxInflightPerClip: 2}, nil, nil)
	r1 := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	r2 := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if !r1.Admitted || !r2.Admitted {
		t.Fatalf("expected first two admissions to succeed: %+v %+v", r1, r2)
	}
	r3 := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if r3.Admitted || r3.Reason != "clip_cap" {
		t.Fatalf("expected clip_cap denial, got %+v", r3)
	}
}

func TestForwardAndReverseCountersAreIndependent(t *testing.T) {
	c := New(Config{MaxInflightPerClip: 1}, nil, nil)
	r1 := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	r2 := c.CheckAdmission("clip1", ports.Reverse, false, true, "")
	if !r1.Admitted || !r2.Admitted {
		t.Fatalf("forward and reverse caps should be independent: %+v %+v", r1, r2)
	}
}

func TestClipCapExceededForceReleasesWhenAllowed(t *testing.T) {
	released := false
	release := func(clipID, reason string) bool {
		released = true
		return reason == "clip_limit_guard"
	}
	c := New(Config{MaxInflightPerClip: 1, NeverCancelRunning: false}, release, nil)
	c.CheckAdmission("clip1", ports.Forward, false, true, "")
	r := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if !r.Admitted {
		t.Fatalf("expected admission after forced release, got %+v", r)
	}
	if !released {
		t.Fatal("expected release callback to be invoked")
	}
}

func TestNeverCancelRunningDeniesInsteadOfReleasing(t *testing.T) {
	releaseCalled := false
	release := func(clipID, reason string) bool {
		releaseCalled = true
		return true
	}
	c := New(Config{MaxInflightPerClip: 1, NeverCancelRunning: true}, release, nil)
	c.CheckAdmission("clip1", ports.Forward, false, true, "")
	r := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if r.Admitted || r.Reason != "clip_cap" {
		t.Fatalf("expected denial with NeverCancelRunning set, got %+v", r)
	}
	if releaseCalled {
		t.Fatal("release must not be called when NeverCancelRunning is set")
	}
}

func TestRateGateDeniesNonImmediateBeyondBurst(t *testing.T) {
	clock := time.Unix(0, 0)
	c := New(Config{MaxInflightPerClip: 100, GlobalBurstCapacity: 2, GlobalBurstRefillPeriod: time.Minute}, nil, func() time.Time { return clock })

	r1 := c.CheckAdmission("clip1", ports.Forward, false, false, "")
	r2 := c.CheckAdmission("clip2", ports.Forward, false, false, "")
	r3 := c.CheckAdmission("clip3", ports.Forward, false, false, "")
	if !r1.Admitted || !r2.Admitted {
		t.Fatalf("expected first two burst tokens to admit: %+v %+v", r1, r2)
	}
	if r3.Admitted || r3.Reason != "rate_gate" {
		t.Fatalf("expected rate_gate denial on third non-immediate request, got %+v", r3)
	}
}

func TestNeedsImmediateBypassesRateGateButNotClipCap(t *testing.T) {
	clock := time.Unix(0, 0)
	c := New(Config{MaxInflightPerClip: 1, GlobalBurstCapacity: 1, GlobalBurstRefillPeriod: time.Minute}, nil, func() time.Time { return clock })
	c.CheckAdmission("clip0", ports.Forward, false, false, "") // takes the only burst token
	if r := c.CheckAdmission("clip2", ports.Forward, false, false, ""); r.Admitted || r.Reason != "rate_gate" {
		t.Fatalf("expected the rate gate to be exhausted, got %+v", r)
	}
	r := c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if !r.Admitted {
		t.Fatalf("needs_immediate should bypass the exhausted rate gate, got %+v", r)
	}
	r = c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if r.Admitted || r.Reason != "clip_cap" {
		t.Fatalf("needs_immediate should still be held to the per-clip cap, got %+v", r)
	}
}

func TestDeadlinePurposeIsIsolatedFromBurstBucket(t *testing.T) {
	clock := time.Unix(0, 0)
	c := New(Config{MaxInflightPerClip: 100, GlobalBurstCapacity: 1, GlobalBurstRefillPeriod: time.Minute}, nil, func() time.Time { return clock })
	c.CheckAdmission("clip0", ports.Forward, false, false, "") // takes the only burst token
	r := c.CheckAdmission("clip1", ports.Forward, false, false, "deadline")
	if !r.Admitted {
		t.Fatalf("deadline purpose should not contend with the burst bucket, got %+v", r)
	}
}

func TestOnDecodeFailureDecrementsInflight(t *testing.T) {
	c := New(Config{MaxInflightPerClip: 1}, nil, nil)
	c.CheckAdmission("clip1", ports.Forward, false, true, "")
	if c.Inflight("clip1", ports.Forward) != 1 {
		t.Fatal("expected inflight=1 after admission")
	}
	c.OnDecodeFailureOrTimeout("clip1", ports.Forward)
	if c.Inflight("clip1", ports.Forward) != 0 {
		t.Fatal("expected inflight=0 after OnDecodeFailureOrTimeout")
	}
}

func TestForceReleaseForClipZeroesBothDirections(t *testing.T) {
	c := New(Config{MaxInflightPerClip: 5}, nil, nil)
	c.CheckAdmission("clip1", ports.Forward, false, true, "")
	c.CheckAdmission("clip1", ports.Reverse, false, true, "")
	c.ForceReleaseForClip("clip1", "stuck_detection")
	if c.Inflight("clip1", ports.Forward) != 0 || c.Inflight("clip1", ports.Reverse) != 0 {
		t.Fatal("expected both directions zeroed after ForceReleaseForClip")
	}
}
