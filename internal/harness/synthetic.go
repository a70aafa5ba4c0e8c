// Package harness provides synthetic, in-memory stand-ins for the three
// externally-owned ports (ports.SampleSource, ports.ProxyService) and a
// scripted-scrub driver, so cmd/scrubd-bench and cmd/scrubd-serve can
// exercise the full pipeline without a real media source, proxy service,
// or hardware decoder. Nothing here is part of the decode pipeline itself
// (spec §1's scope boundary) — it plays the role production wiring would
// otherwise fill with real adapters.
package harness

import (
	"context"
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/decodesession"
	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

// Clip describes one synthetic timeline: durationS long, one random-access
// sample every gopSpanS, every other sample depending on the prior one
// (AVC/HEVC-shaped, not intra).
type Clip struct {
	ID             string
	TrackID        string
	SourceRef      string
	DurationS      float64
	FrameDurationS float64
	GOPSpanS       float64
}

// Samples generates the clip's full compressed-sample timeline.
func (c Clip) Samples() []ports.CompressedSample {
	var out []ports.CompressedSample
	sinceSync := 0.0
	for i := 0; float64(i)*c.FrameDurationS < c.DurationS; i++ {
		t := float64(i) * c.FrameDurationS
		isSync := sinceSync >= c.GOPSpanS || len(out) == 0
		if isSync {
			sinceSync = 0
		}
		out = append(out, ports.CompressedSample{
			PTS: t,
			Attachments: ports.SampleAttachments{
				RandomAccess:    isSync,
				DependsOnOthers: !isSync,
				Known:           true,
			},
		})
		sinceSync += c.FrameDurationS
	}
	return out
}

// BuildIndex populates a gopindex.Index with the clip's samples, the way
// production wiring would after demuxing the real container's sample
// table.
func BuildIndex(idx *gopindex.Index, c Clip) {
	for _, s := range c.Samples() {
		idx.AddSample(c.TrackID, int64(s.PTS*1000+0.5), s.PTS, s.Attachments)
	}
}

// sourceStream is a simple forward-only iterator over a fixed sample
// slice, standing in for a real demuxer's per-window read cursor.
type sourceStream struct {
	samples []ports.CompressedSample
	i       int
}

func (s *sourceStream) Next(ctx context.Context) (ports.CompressedSample, error) {
	if s.i >= len(s.samples) {
		return ports.CompressedSample{}, ports.ErrReaderConfig
	}
	sm := s.samples[s.i]
	s.i++
	return sm, nil
}
func (s *sourceStream) Close() error { return nil }

// Source is a ports.SampleSource backed by in-memory clip timelines, keyed
// by TrackID since that's what internal/reader actually opens windows
// against (it calls OpenWindow with the track ref it was configured with,
// never the clip ID).
type Source struct {
	mu      sync.Mutex
	byTrack map[string][]ports.CompressedSample
}

// NewSource builds a Source covering every given clip's full timeline.
func NewSource(clips ...Clip) *Source {
	s := &Source{byTrack: make(map[string][]ports.CompressedSample)}
	for _, c := range clips {
		s.byTrack[c.TrackID] = c.Samples()
	}
	return s
}

// OpenWindow ignores endS and returns a stream over the track's timeline
// starting from its first sample at or after startS; internal/reader only
// ever reads forward from wherever it opens.
func (s *Source) OpenWindow(ctx context.Context, trackRef string, startS, endS float64) (ports.SampleStream, error) {
	s.mu.Lock()
	samples := s.byTrack[trackRef]
	s.mu.Unlock()

	from := 0
	for i, sm := range samples {
		if sm.PTS >= startS {
			from = i
			break
		}
	}
	return &sourceStream{samples: samples[from:]}, nil
}

// SyntheticRegistry builds a decodesession.Registry whose LevelHardware
// rung (the session's starting rung) "decodes" a sample into a flat
// test-pattern buffer sized width*height, cycling by sample count so
// successive frames are visibly distinct. It never registers the lower
// rungs: there is nothing real behind them to fall back to.
func SyntheticRegistry(width, height int) *decodesession.Registry {
	reg := decodesession.NewRegistry()
	decodesession.RegisterFunc(reg, decodesession.LevelHardware, func() *decodesession.FuncBackend {
		var n byte
		return &decodesession.FuncBackend{
			NameVal: "synthetic",
			DecodeFunc: func(ctx context.Context, sample ports.CompressedSample, direction ports.Direction) (ports.DecodeResult, error) {
				n++
				pixels := make([]byte, width*height)
				for i := range pixels {
					pixels[i] = n
				}
				return ports.DecodeResult{PTS: sample.PTS, Pixels: pixels, Width: width, Height: height}, nil
			},
		}
	})
	return reg
}

// ProxyService is a trivial in-memory ports.ProxyService: coverage
// requests always succeed immediately, decisions always prefer the
// original asset, and playback-failure/late-frame signals are recorded
// but otherwise inert. It exists only so internal/proxymanager has
// something to call; no proxy media is actually generated.
type ProxyService struct {
	mu       sync.Mutex
	coverage map[string]int
	failures []string
}

// NewProxyService creates an idle synthetic proxy service.
func NewProxyService() *ProxyService {
	return &ProxyService{coverage: make(map[string]int)}
}

func (p *ProxyService) EnsureCoverage(ctx context.Context, clipID, sourceRef string, aroundAbsMs, spanMs int64, reason, reqContext string) (ports.CoverageResult, error) {
	p.mu.Lock()
	p.coverage[clipID]++
	p.mu.Unlock()
	return ports.CoverageResult{Status: ports.CoverageReady, ZoneID: clipID + ":" + reason}, nil
}

func (p *ProxyService) Decision(ctx context.Context, clipID string, absMs int64) (ports.ProxyDecision, error) {
	return ports.ProxyDecision{UseProxy: false}, nil
}

func (p *ProxyService) MarkPlaybackFailure(ctx context.Context, clipID, zoneID, reason string) {
	p.mu.Lock()
	p.failures = append(p.failures, clipID+":"+zoneID+":"+reason)
	p.mu.Unlock()
}

func (p *ProxyService) NoteDeadlineFailure(ctx context.Context, clipID string, targetMs int64, sourceRef string) {
}

func (p *ProxyService) ConsumeLateFrameTrigger(ctx context.Context, clipID string) (int64, bool) {
	return 0, false
}

// ScrubPoint is one step of a scripted scrub session: move to T seconds
// after waiting Wait, in Direction.
type ScrubPoint struct {
	Wait      time.Duration
	T         float64
	Direction ports.Direction
}

// Script is a named sequence of scrub points applied to one clip, ending
// with EndScrub at the last point's T.
type Script struct {
	ClipID string
	Points []ScrubPoint
}
