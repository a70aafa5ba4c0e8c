package harness

import (
	"context"
	"testing"

	"github.com/breeze-rmm/scrubd/internal/decodesession"
	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

func testClip() Clip {
	return Clip{
		ID: "clip1", TrackID: "track1", SourceRef: "src1",
		DurationS: 1.0, FrameDurationS: 1.0 / 24, GOPSpanS: 0.5,
	}
}

func TestClipSamplesStartsOnSync(t *testing.T) {
	samples := testClip().Samples()
	if len(samples) == 0 {
		t.Fatal("expected samples")
	}
	if !samples[0].Attachments.RandomAccess {
		t.Fatal("expected first sample to be random-access")
	}
}

func TestClipSamplesRepeatSyncEveryGOPSpan(t *testing.T) {
	c := testClip()
	samples := c.Samples()
	syncCount := 0
	for _, s := range samples {
		if s.Attachments.RandomAccess {
			syncCount++
		}
	}
	// 1.0s / 0.5s GOP span => 2 sync points.
	if syncCount != 2 {
		t.Fatalf("expected 2 sync points, got %d", syncCount)
	}
}

func TestBuildIndexResolvesRandomAccess(t *testing.T) {
	c := testClip()
	idx := gopindex.New(nil)
	BuildIndex(idx, c)

	rap := idx.FindRandomAccess(c.TrackID, 250)
	if rap.IsFallback {
		t.Fatalf("expected a real RAP, got fallback: %+v", rap)
	}
}

func TestSourceOpenWindowStartsAtOrAfterRequestedTime(t *testing.T) {
	c := testClip()
	src := NewSource(c)

	stream, err := src.OpenWindow(context.Background(), c.TrackID, 0.5, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	first, err := stream.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.PTS < 0.5 {
		t.Fatalf("expected first sample at or after 0.5, got %v", first.PTS)
	}
}

func TestSyntheticRegistryDecodesDistinctFrames(t *testing.T) {
	reg := SyntheticRegistry(4, 4)
	sess := decodesession.New(reg, decodesession.Config{}, nil, "clip1", nil)

	ch1, err := sess.Submit(context.Background(), testClip().Samples()[0], ports.Forward)
	if err != nil {
		t.Fatal(err)
	}
	r1 := <-ch1
	if len(r1.Pixels) != 16 {
		t.Fatalf("expected a 4x4 frame, got %d pixels", len(r1.Pixels))
	}
}

func TestProxyServiceEnsureCoverageAlwaysReady(t *testing.T) {
	p := NewProxyService()
	res, err := p.EnsureCoverage(context.Background(), "clip1", "src1", 1000, 2000, "test", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != ports.CoverageReady {
		t.Fatalf("expected CoverageReady, got %v", res.Status)
	}
}

func TestProxyServiceDecisionPrefersOriginal(t *testing.T) {
	p := NewProxyService()
	dec, err := p.Decision(context.Background(), "clip1", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if dec.UseProxy {
		t.Fatal("expected synthetic proxy service to never prefer proxy on its own")
	}
}
