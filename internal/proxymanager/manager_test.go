package proxymanager

import (
	"context"
	"testing"
	"time"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

type fakeProxyService struct {
	decision         ports.ProxyDecision
	coverage         ports.CoverageResult
	lateFrameAbsMs   int64
	lateFrameOK      bool
	markedFailures   []string
	deadlineFailures int
}

func (f *fakeProxyService) EnsureCoverage(ctx context.Context, clipID, sourceRef string, aroundAbsMs, spanMs int64, reason, reqContext string) (ports.CoverageResult, error) {
	return f.coverage, nil
}
func (f *fakeProxyService) Decision(ctx context.Context, clipID string, absMs int64) (ports.ProxyDecision, error) {
	return f.decision, nil
}
func (f *fakeProxyService) MarkPlaybackFailure(ctx context.Context, clipID, zoneID, reason string) {
	f.markedFailures = append(f.markedFailures, reason)
}
func (f *fakeProxyService) NoteDeadlineFailure(ctx context.Context, clipID string, targetMs int64, sourceRef string) {
	f.deadlineFailures++
}
func (f *fakeProxyService) ConsumeLateFrameTrigger(ctx context.Context, clipID string) (int64, bool) {
	return f.lateFrameAbsMs, f.lateFrameOK
}

func TestReverseBadDataStreakTriggersAfterTwo(t *testing.T) {
	svc := &fakeProxyService{coverage: ports.CoverageResult{Status: ports.CoveragePending, ZoneID: "z1"}}
	m := New(svc, nil, nil)
	if m.NoteReverseBadDataFailure(context.Background(), "clip1", "src", 1000, 500) {
		t.Fatal("first bad-data failure should not trigger")
	}
	if !m.NoteReverseBadDataFailure(context.Background(), "clip1", "src", 1000, 500) {
		t.Fatal("second consecutive bad-data failure should trigger ensure_spot_proxy")
	}
}

func TestDecisionAppliesHysteresisHold(t *testing.T) {
	clock := time.Unix(0, 0)
	svc := &fakeProxyService{decision: ports.ProxyDecision{UseProxy: true}}
	m := New(svc, func() time.Time { return clock }, nil)

	d, err := m.Decision(context.Background(), "clip1", 1000)
	if err != nil || !d.UseProxy {
		t.Fatalf("expected proxy decision, got %+v, %v", d, err)
	}

	// Service now says Original, but within the 1.5s hold we must stay Proxy.
	svc.decision = ports.ProxyDecision{UseProxy: false}
	clock = clock.Add(500 * time.Millisecond)
	d, err = m.Decision(context.Background(), "clip1", 1000)
	if err != nil || !d.UseProxy {
		t.Fatalf("expected hysteresis to hold proxy decision, got %+v", d)
	}

	// Past the hold duration, the service's Original decision should pass through.
	clock = clock.Add(2 * time.Second)
	d, err = m.Decision(context.Background(), "clip1", 1000)
	if err != nil || d.UseProxy {
		t.Fatalf("expected hysteresis to release after hold duration, got %+v", d)
	}
}

func TestTwoStrikePlaybackFailureSwitchesBackToOriginal(t *testing.T) {
	clock := time.Unix(0, 0)
	svc := &fakeProxyService{decision: ports.ProxyDecision{UseProxy: true}}
	m := New(svc, func() time.Time { return clock }, nil)
	m.Decision(context.Background(), "clip1", 0) // establishes usingProxy=true

	m.MarkPlaybackFailure(context.Background(), "clip1", "decode_error")
	if !m.UsingProxy("clip1") {
		t.Fatal("one strike should not switch back yet")
	}
	m.MarkPlaybackFailure(context.Background(), "clip1", "decode_error")
	if m.UsingProxy("clip1") {
		t.Fatal("two strikes should switch back to original")
	}
	if len(svc.markedFailures) != 2 {
		t.Fatalf("expected 2 forwarded failures, got %d", len(svc.markedFailures))
	}
}

func TestOverrideThrottledToOnceEvery250ms(t *testing.T) {
	clock := time.Unix(0, 0)
	m := New(&fakeProxyService{}, func() time.Time { return clock }, nil)
	if !m.SetOverride("clip1", time.Second) {
		t.Fatal("first override request should apply")
	}
	if m.SetOverride("clip1", time.Second) {
		t.Fatal("immediate re-request should be throttled")
	}
	clock = clock.Add(300 * time.Millisecond)
	if !m.SetOverride("clip1", time.Second) {
		t.Fatal("re-request after 250ms should apply")
	}
}

func TestOverrideForcesProxyDecision(t *testing.T) {
	clock := time.Unix(0, 0)
	svc := &fakeProxyService{decision: ports.ProxyDecision{UseProxy: false}}
	m := New(svc, func() time.Time { return clock }, nil)
	m.SetOverride("clip1", time.Second)

	d, err := m.Decision(context.Background(), "clip1", 0)
	if err != nil || !d.UseProxy {
		t.Fatalf("expected override to force Proxy, got %+v", d)
	}
}

func TestConsumeLateFrameTriggerRequestsCoverage(t *testing.T) {
	svc := &fakeProxyService{lateFrameAbsMs: 5000, lateFrameOK: true, coverage: ports.CoverageResult{Status: ports.CoveragePending}}
	m := New(svc, nil, nil)
	if !m.ConsumeLateFrameTrigger(context.Background(), "clip1", "src", 500) {
		t.Fatal("expected late-frame trigger to request coverage")
	}
}
