// Package telemetry gives the error-recovery ladder (bad-data retries, proxy
// activation, fallback escalation, stuck-task recovery) one place to report
// a transition for operator visibility. It emits structured log events
// through internal/logging and, where a counter exists for the event kind,
// bumps internal/metrics alongside it. There is no external telemetry
// backend in scope: this package is a thin, typed wrapper around calls the
// clip actor would otherwise make directly against logging.L(component).
package telemetry

import (
	"time"

	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/metrics"
)

// Kind names one error-ladder transition. Components should use these
// constants rather than ad-hoc strings so log lines and counters agree.
type Kind string

const (
	KindBadDataRetry       Kind = "bad_data_retry"
	KindProxyActivated     Kind = "proxy_activated"
	KindFallbackEscalation Kind = "fallback_escalation"
	KindStuckTaskRecovery  Kind = "stuck_task_recovery"
)

// Event is one structured record of a ladder transition. At is left zero
// when unset; Emit stamps it from the Emitter's now func.
type Event struct {
	ClipID string
	Kind   Kind
	Detail string
	At     time.Time
}

// Emitter reports Events as structured log lines tagged with component
// "scrubdecoder", and, for the kinds internal/metrics already counts, bumps
// the matching Registry counter. A nil Registry skips the counter bump.
type Emitter struct {
	registry *metrics.Registry
	now      func() time.Time
	log      func(msg string, args ...any)
}

// New creates an Emitter. registry may be nil if no metrics counters should
// be bumped (e.g. a short-lived test harness).
func New(registry *metrics.Registry, now func() time.Time) *Emitter {
	if now == nil {
		now = time.Now
	}
	l := logging.L("scrubdecoder")
	return &Emitter{registry: registry, now: now, log: l.Warn}
}

// Emit records one transition: clipID is the clip it concerns, kind
// identifies the transition, detail is a short human-readable reason (e.g.
// "3 bad-data decodes in a row", "auto-return from proxy-only").
func (e *Emitter) Emit(clipID string, kind Kind, detail string) Event {
	ev := Event{ClipID: clipID, Kind: kind, Detail: detail, At: e.now()}
	e.log(string(kind), logging.KeyClipID, ev.ClipID, logging.KeyReason, ev.Detail)
	e.bump(kind)
	return ev
}

func (e *Emitter) bump(kind Kind) {
	if e.registry == nil {
		return
	}
	switch kind {
	case KindBadDataRetry:
		e.registry.IncBadDataRetry()
	case KindFallbackEscalation:
		e.registry.IncFallbackTransition()
	}
	// KindProxyActivated and KindStuckTaskRecovery have no dedicated
	// counter of their own and bump nothing here; they are recorded only
	// by the log line Emit writes.
}
