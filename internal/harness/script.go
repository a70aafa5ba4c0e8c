package harness

import (
	"context"
	"time"

	"github.com/breeze-rmm/scrubd/internal/pipeline"
)

// Drive replays a Script against a real *pipeline.Pipeline: BeginScrub has
// already been called by the caller (it owns the ClipSource wiring), Drive
// only walks the scripted points, sleeping Wait between each and calling
// UpdateScrub, then ends the span with EndScrub at the last point's T. It
// blocks for the sum of every point's Wait, same shape as a human scrubbing
// a timeline in real time.
func Drive(ctx context.Context, p *pipeline.Pipeline, script Script) {
	var lastT float64
	for _, pt := range script.Points {
		if pt.Wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pt.Wait):
			}
		}
		p.UpdateScrub(ctx, pt.T, 0, pt.Direction)
		lastT = pt.T
	}
	p.EndScrub(ctx, lastT)
}
