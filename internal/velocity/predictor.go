// Package velocity implements the scrub-velocity predictor of spec §4.E:
// an EWMA-smoothed instantaneous velocity estimate, a 120ms-ahead prediction
// with reverse-drag clamping, and an adaptive read-ahead window in frames.
//
// Grounded on internal/remote/desktop/adaptive.go's AdaptiveBitrate EWMA
// (alpha=0.3, seed-on-first-sample, history trimmed rather than windowed
// over a ring buffer).
package velocity

import "time"

const (
	defaultAlpha  = 0.3
	historyTrim   = 200 * time.Millisecond
	predictionLag = 0.12
)

// Sample is one timeline-position observation.
type Sample struct {
	TimelineS float64
	HostTime  time.Time
}

// Predictor tracks one clip's scrub velocity.
type Predictor struct {
	alpha float64

	history []Sample // trimmed to the last historyTrim of host time
	last    Sample
	haveLast bool
	smooth  float64
	seeded  bool
}

// New creates a predictor with the spec-default alpha (~0.3). alpha <= 0
// falls back to the default.
func New(alpha float64) *Predictor {
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	return &Predictor{alpha: alpha}
}

// Observe feeds a new timeline position at host time now and returns the
// updated smoothed velocity (timeline-seconds per host-second).
func (p *Predictor) Observe(timelineS float64, now time.Time) float64 {
	sample := Sample{TimelineS: timelineS, HostTime: now}
	p.history = append(p.history, sample)
	p.trim(now)

	if !p.haveLast {
		p.last, p.haveLast = sample, true
		p.smooth = 0
		p.seeded = false
		return p.smooth
	}

	prev := p.last
	p.last = sample
	dt := now.Sub(prev.HostTime).Seconds()
	var inst float64
	if dt > 0 {
		inst = (timelineS - prev.TimelineS) / dt
	}

	if !p.seeded {
		p.smooth = inst
		p.seeded = true
	} else {
		p.smooth = p.alpha*inst + (1-p.alpha)*p.smooth
	}
	return p.smooth
}

func (p *Predictor) trim(now time.Time) {
	cutoff := now.Add(-historyTrim)
	i := 0
	for ; i < len(p.history)-1; i++ { // always keep at least the most recent sample
		if p.history[i].HostTime.After(cutoff) {
			break
		}
	}
	p.history = p.history[i:]
}

// Smoothed returns the last computed EMA velocity.
func (p *Predictor) Smoothed() float64 { return p.smooth }

// predictionClampMin returns spec §4.E's tightened reverse-drag floor.
func predictionClampMin(vSmooth, configuredMin float64) float64 {
	switch {
	case vSmooth <= -1.0:
		return -0.30
	case vSmooth <= -0.5:
		return -0.35
	default:
		return configuredMin
	}
}

// Predict returns t_pred = t_now + clamp(v_smooth*0.12, clamp_min, clamp_max).
func (p *Predictor) Predict(tNow, configuredClampMin, configuredClampMax float64) float64 {
	lo := predictionClampMin(p.smooth, configuredClampMin)
	hi := configuredClampMax
	if hi <= 0 {
		hi = 0.5
	}
	delta := p.smooth * predictionLag
	if delta < lo {
		delta = lo
	}
	if delta > hi {
		delta = hi
	}
	return tNow + delta
}

// AdaptiveWindow returns W = clamp(|v_smooth|*0.5, 2, 12) frames, raised to
// 6 at v_smooth <= -0.4 and to 8 at v_smooth <= -0.8.
func (p *Predictor) AdaptiveWindow() int {
	v := p.smooth
	av := v
	if av < 0 {
		av = -av
	}
	w := av * 0.5
	if w < 2 {
		w = 2
	}
	if w > 12 {
		w = 12
	}
	if v <= -0.4 && w < 6 {
		w = 6
	}
	if v <= -0.8 && w < 8 {
		w = 8
	}
	return int(w + 0.5)
}
