package harness

import (
	"context"

	"github.com/breeze-rmm/scrubd/internal/admission"
	"github.com/breeze-rmm/scrubd/internal/cachestore"
	"github.com/breeze-rmm/scrubd/internal/compositor"
	"github.com/breeze-rmm/scrubd/internal/config"
	"github.com/breeze-rmm/scrubd/internal/decodesession"
	"github.com/breeze-rmm/scrubd/internal/framecache"
	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/metrics"
	"github.com/breeze-rmm/scrubd/internal/pipeline"
	"github.com/breeze-rmm/scrubd/internal/ports"
	"github.com/breeze-rmm/scrubd/internal/proxymanager"
	"github.com/breeze-rmm/scrubd/internal/telemetry"
)

// frameWidth/frameHeight size the synthetic decode backend's test-pattern
// buffer; nothing downstream cares about actual pixel content.
const frameWidth, frameHeight = 64, 64

// Built bundles everything cmd/scrubd-bench and cmd/scrubd-serve need to
// drive and inspect a pipeline wired entirely against synthetic ports.
type Built struct {
	Pipeline    *pipeline.Pipeline
	ClipSources map[string]pipeline.ClipSource
	Metrics     *metrics.Registry
}

// BuildPipeline wires a real *pipeline.Pipeline against the given clips
// using only this package's synthetic stand-ins plus the real framecache,
// compositor, admission, proxymanager, and telemetry components cfg
// describes — the same shape production wiring would use, minus the three
// externally-owned ports.
func BuildPipeline(ctx context.Context, cfg *config.Config, clips []Clip) (*Built, error) {
	reg := metrics.New()
	tele := telemetry.New(reg, nil)

	disk, err := cachestore.NewLocalStore(cfg.CacheRoot)
	if err != nil {
		return nil, err
	}
	cold, err := cachestore.NewColdProvider(ctx, cfg.CacheColdProvider, cfg.CacheColdBucket, cfg.CacheColdRegion, cfg.CacheColdPrefix)
	if err != nil {
		return nil, err
	}
	cache := framecache.New(framecache.Config{
		RAMBudgetBytes:  cfg.CacheRAMBytes,
		DiskBudgetBytes: cfg.CacheDiskBytes,
		TileSize:        cfg.CacheTileSize,
	}, disk, cold, reg, nil)
	surface := compositor.New(cache, cfg.FrameDurationS)

	idx := gopindex.New(nil)
	registries := make(map[string]*decodesession.Registry, len(clips))
	clipSources := make(map[string]pipeline.ClipSource, len(clips))
	for _, c := range clips {
		BuildIndex(idx, c)
		registries[c.ID] = SyntheticRegistry(frameWidth, frameHeight)
		clipSources[c.ID] = pipeline.ClipSource{SourceRef: c.SourceRef, TrackRef: c.TrackID}
	}

	source := NewSource(clips...)
	proxyMgr := proxymanager.New(NewProxyService(), nil, tele)

	admCtrl := admission.New(admission.Config{
		MaxInflightPerClip: cfg.MaxInflightPerClip,
		NeverCancelRunning: cfg.AdmissionNeverCancelRunning,
	}, nil, nil)

	deps := pipeline.Deps{
		Index:      idx,
		Admission:  admCtrl,
		Proxy:      proxyMgr,
		Surface:    surface,
		Registries: registries,
		SourceFor:  func(clipID string) ports.SampleSource { return source },
		Telemetry:  tele,
	}

	return &Built{
		Pipeline:    pipeline.New(cfg, deps, nil),
		ClipSources: clipSources,
		Metrics:     reg,
	}, nil
}
