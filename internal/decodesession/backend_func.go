package decodesession

import (
	"context"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

// FuncBackend adapts a plain decode function into a decodeBackend. It
// exists so callers outside this package (production wiring in
// internal/scrubdecoder, or tests in other packages) can register a
// backend without needing access to the unexported decodeBackend
// interface itself.
type FuncBackend struct {
	NameVal    string
	Hardware   bool
	DecodeFunc func(ctx context.Context, sample ports.CompressedSample, direction ports.Direction) (ports.DecodeResult, error)
	CloseFunc  func() error
}

func (f *FuncBackend) Decode(ctx context.Context, sample ports.CompressedSample, direction ports.Direction) (ports.DecodeResult, error) {
	return f.DecodeFunc(ctx, sample, direction)
}
func (f *FuncBackend) Name() string     { return f.NameVal }
func (f *FuncBackend) IsHardware() bool { return f.Hardware }
func (f *FuncBackend) Close() error {
	if f.CloseFunc != nil {
		return f.CloseFunc()
	}
	return nil
}

// RegisterFunc installs a factory for level that calls build fresh each
// time the session rebuilds, so CloseFunc call counts reflect actual
// rebuild cycles rather than a single shared backend instance.
func RegisterFunc(r *Registry, level Level, build func() *FuncBackend) {
	r.Register(level, func() (decodeBackend, error) { return build(), nil })
}
