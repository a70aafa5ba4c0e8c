package coalescer

import (
	"math"
	"testing"
)

func TestDecideStartWhenNoActiveJob(t *testing.T) {
	c := New()
	d := c.Decide(1.0, 1.2)
	if d.Outcome != Start {
		t.Fatalf("Outcome = %v, want Start", d.Outcome)
	}
}

func TestDecideReuseWhenSameGOPAndTargetUnchanged(t *testing.T) {
	c := New()
	c.Start(Job{GOPKey: 1.0, TargetPTS: 1.2, TaskID: "t1"})
	d := c.Decide(1.0, 1.205) // target moved 5ms, within the 10ms tolerance
	if d.Outcome != Reuse || d.Retarget {
		t.Fatalf("d = %+v, want Reuse without retarget", d)
	}
}

func TestDecideReuseWithRetargetWhenTargetMovesPastTolerance(t *testing.T) {
	c := New()
	c.Start(Job{GOPKey: 1.0, TargetPTS: 1.2, TaskID: "t1"})
	d := c.Decide(1.0, 1.3) // 100ms move, past 10ms tolerance
	if d.Outcome != Reuse || !d.Retarget {
		t.Fatalf("d = %+v, want Reuse with retarget", d)
	}
}

func TestDecideCancelWhenDifferentGOP(t *testing.T) {
	c := New()
	c.Start(Job{GOPKey: 1.0, TargetPTS: 1.2, TaskID: "t1"})
	d := c.Decide(2.0, 2.1)
	if d.Outcome != Cancel {
		t.Fatalf("d = %+v, want Cancel", d)
	}
}

func TestGOPKeyFloorsToSpan(t *testing.T) {
	span := GOPSpan(1.0 / 30)
	if span != 0.5 {
		t.Fatalf("GOPSpan = %v, want 0.5 (floor, since 12 frames at 1/30s = 0.4s < 0.5s)", span)
	}
	key := GOPKey(1.3, span)
	if key != 1.0 {
		t.Fatalf("GOPKey(1.3, 0.5) = %v, want 1.0", key)
	}
}

func TestGOPSpanUsesTwelveFramesWhenLarger(t *testing.T) {
	span := GOPSpan(0.1) // 12*0.1 = 1.2s > 0.5s floor
	if math.Abs(span-1.2) > 1e-9 {
		t.Fatalf("GOPSpan = %v, want 1.2", span)
	}
}

func TestClearResetsToStart(t *testing.T) {
	c := New()
	c.Start(Job{GOPKey: 1.0, TargetPTS: 1.2})
	c.Clear()
	d := c.Decide(1.0, 1.2)
	if d.Outcome != Start {
		t.Fatalf("Outcome = %v, want Start after Clear", d.Outcome)
	}
}
