package reader

import "github.com/breeze-rmm/scrubd/internal/ports"

// Window is the active compressed-sample range a Reader keeps open.
type Window struct {
	StartS float64
	EndS   float64
}

// WindowParams are the per-clip tuning knobs window computation needs,
// sourced from internal/config.
type WindowParams struct {
	FrameDurationS     float64
	MaxReverseLookback float64 // seconds, spec caps this at 1.0
	MaxForwardHead     float64 // seconds, spec caps this at 0.20
	AssetDurationS     float64
}

func reorderLeadFrames(codec ports.CodecClass) int {
	if codec == ports.CodecHEVC {
		return 8
	}
	return 6
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// computeWindow implements spec §4.B's "Window policy" for AVC/HEVC with a
// valid RAP. The window start is pinned to the RAP's PTS minus a lead-in and
// is never adjusted away from that alignment ("preserve IDR start").
func computeWindow(rapPTS, tPred, targetPTS float64, codec ports.CodecClass, p WindowParams) Window {
	leadIn := clampf(p.FrameDurationS*5, 0.18, p.MaxReverseLookback)
	if leadIn > p.MaxReverseLookback {
		leadIn = p.MaxReverseLookback
	}
	start := rapPTS - leadIn
	if start < 0 {
		start = 0
	}

	minSpan := p.FrameDurationS * 6
	if minSpan < 0.5 {
		minSpan = 0.5
	}

	lead := float64(reorderLeadFrames(codec)) * p.FrameDurationS
	target := tPred
	if targetPTS > target {
		target = targetPTS
	}
	end := target + lead
	if start+minSpan > end {
		end = start + minSpan
	}
	if p.AssetDurationS > 0 && end > p.AssetDurationS {
		end = p.AssetDurationS
	}

	maxSpan := p.MaxReverseLookback + p.MaxForwardHead
	if maxSpan > 0 && end-start > maxSpan {
		end = start + maxSpan
	}

	return Window{StartS: start, EndS: end}
}

// safeWindow implements the near-cut override: center on whichever of
// prev_sync_ms+120ms or t_pred-220ms is later, spanning +-500ms.
func safeWindow(prevSyncS, tPred float64) Window {
	centerA := prevSyncS + 0.120
	centerB := tPred - 0.220
	center := centerA
	if centerB > center {
		center = centerB
	}
	start := center - 0.5
	if start < 0 {
		start = 0
	}
	return Window{StartS: start, EndS: center + 0.5}
}

func (w Window) covers(t float64) bool {
	return t >= w.StartS && t <= w.EndS
}
