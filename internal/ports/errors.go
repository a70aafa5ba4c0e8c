package ports

import "errors"

// Error taxonomy per spec §7. These are sentinel values checked with
// errors.Is; callers that need a code (e.g. BadData) wrap with fmt.Errorf
// and unwrap, mirroring the donor's ErrInvalidCodec/ErrInvalidBitrate style.
var (
	ErrBadData         = errors.New("scrubd: bad data")
	ErrSessionInvalid  = errors.New("scrubd: decoder session invalid")
	ErrUnsupportedFormat = errors.New("scrubd: unsupported format")
	ErrMalfunction     = errors.New("scrubd: decoder malfunction")
	ErrIndexMiss       = errors.New("scrubd: random access point not found")
	ErrReaderConfig    = errors.New("scrubd: reader configuration failed")
	ErrTimeout         = errors.New("scrubd: watchdog timeout")
	ErrCancelled       = errors.New("scrubd: cancelled")
	ErrIO              = errors.New("scrubd: cache io error")
	ErrSkippedDeadline = errors.New("scrubd: attempt skipped in deadline mode")
	ErrNoClip          = errors.New("scrubd: unknown clip")
	ErrAdmissionDenied = errors.New("scrubd: admission denied")
)
