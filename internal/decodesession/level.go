// Package decodesession implements spec §4.C's decoder session: a lazily
// created, aggressively reused decode backend with a four-level fallback
// ladder, a small warm-frame cache, a post-reset freeze gate, and the
// sync-sample-first invariant.
package decodesession

// Level is a rung of the fallback ladder.
type Level int

const (
	LevelHardware Level = iota
	LevelProxyOnly
	LevelSoftware
	LevelImageGenerator
)

func (l Level) String() string {
	switch l {
	case LevelProxyOnly:
		return "proxy-only"
	case LevelSoftware:
		return "software"
	case LevelImageGenerator:
		return "image-generator"
	default:
		return "hardware"
	}
}
