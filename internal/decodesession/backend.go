package decodesession

import (
	"context"
	"sync"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

// decodeBackend is satisfied by each rung of the fallback ladder, mirroring
// the donor's encoderBackend interface (remote/desktop/encoder.go)
// generalized from encode to decode.
type decodeBackend interface {
	Decode(ctx context.Context, sample ports.CompressedSample, direction ports.Direction) (ports.DecodeResult, error)
	Name() string
	IsHardware() bool
	Close() error
}

// backendFactory builds one backend for a given level, mirroring the
// donor's backendFactory(cfg) (encoderBackend, error).
type backendFactory func() (decodeBackend, error)

// Registry holds one factory per ladder level. Production wiring registers
// concrete backends (e.g. a VideoToolbox/NVDEC adapter for LevelHardware,
// y9o/go-openh264 for LevelSoftware); tests register fakes.
type Registry struct {
	mu        sync.Mutex
	factories map[Level]backendFactory
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Level]backendFactory)}
}

// Register installs the factory for level, replacing any prior one.
func (r *Registry) Register(level Level, factory backendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[level] = factory
}

func (r *Registry) build(level Level) (decodeBackend, error) {
	r.mu.Lock()
	factory, ok := r.factories[level]
	r.mu.Unlock()
	if !ok {
		return nil, ErrLevelUnavailable
	}
	return factory()
}
