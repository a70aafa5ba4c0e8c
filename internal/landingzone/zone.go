// Package landingzone implements spec §4.F's landing-zone manager: the
// behind/ahead PTS ranges around a predicted scrub position, repair-mode
// detection, and a priority-ordered PTS vector for prefetch scheduling.
package landingzone

import "github.com/breeze-rmm/scrubd/internal/ports"

// Range is an inclusive PTS interval in seconds.
type Range struct {
	Lo float64
	Hi float64
}

// Zone is the computed landing zone around a predicted scrub position.
type Zone struct {
	TPred      float64
	Behind     Range
	Ahead      Range
	RepairMode bool
	WindowFrames int
	AheadFrames  int
}

// repairModeDeltaFactor is the fraction of one frame duration that a recent
// decode delta must exceed to flip into repair mode.
const repairModeDeltaFactor = 0.75

// aheadShrinkDivisor shrinks the ahead range relative to the behind range
// during reverse scrubbing, since a reverse drag rarely needs deep forward
// lookahead.
const aheadShrinkDivisor = 3

// Compute builds the landing zone for one decode_frame call.
func Compute(tPred float64, direction ports.Direction, frameDurationS float64, windowFrames int, recentDecodeDeltaS float64) Zone {
	if windowFrames < 1 {
		windowFrames = 1
	}
	aheadFrames := windowFrames
	if direction == ports.Reverse {
		aheadFrames = windowFrames / aheadShrinkDivisor
		if aheadFrames < 1 {
			aheadFrames = 1
		}
	}

	behindSpan := float64(windowFrames) * frameDurationS
	aheadSpan := float64(aheadFrames) * frameDurationS

	absDelta := recentDecodeDeltaS
	if absDelta < 0 {
		absDelta = -absDelta
	}
	repair := absDelta > frameDurationS*repairModeDeltaFactor

	return Zone{
		TPred:        tPred,
		Behind:       Range{Lo: tPred - behindSpan, Hi: tPred},
		Ahead:        Range{Lo: tPred, Hi: tPred + aheadSpan},
		RepairMode:   repair,
		WindowFrames: windowFrames,
		AheadFrames:  aheadFrames,
	}
}

// PriorityPTS returns a prefetch-priority-ordered PTS vector interleaved
// outward from t_pred. In reverse, the interleave is biased 2:1 toward
// behind samples, matching that a reverse drag's near-future frames are
// overwhelmingly behind the predicted position.
func (z Zone) PriorityPTS(frameDurationS float64, direction ports.Direction) []float64 {
	behind := make([]float64, z.WindowFrames)
	for i := range behind {
		behind[i] = z.TPred - float64(i+1)*frameDurationS
	}
	ahead := make([]float64, z.AheadFrames)
	for i := range ahead {
		ahead[i] = z.TPred + float64(i+1)*frameDurationS
	}

	behindPerAhead := 1
	if direction == ports.Reverse {
		behindPerAhead = 2
	}

	out := make([]float64, 0, 1+len(behind)+len(ahead))
	out = append(out, z.TPred)
	ib, ia := 0, 0
	for ib < len(behind) || ia < len(ahead) {
		for n := 0; n < behindPerAhead && ib < len(behind); n++ {
			out = append(out, behind[ib])
			ib++
		}
		if ia < len(ahead) {
			out = append(out, ahead[ia])
			ia++
		}
	}
	return out
}
