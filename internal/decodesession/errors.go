package decodesession

import "errors"

var (
	// ErrLevelUnavailable is returned when no factory is registered for a
	// ladder level the session tried to build.
	ErrLevelUnavailable = errors.New("decodesession: no backend factory registered for level")
	// ErrFrozen is returned by Submit during the post-reset freeze gate.
	ErrFrozen = errors.New("decodesession: session is frozen after reset")
	// ErrFirstSubmissionMustBeSync enforces the sync-sample invariant: the
	// first submission after a (re)create must be a sync sample.
	ErrFirstSubmissionMustBeSync = errors.New("decodesession: first submission after create must be a sync sample")
)
