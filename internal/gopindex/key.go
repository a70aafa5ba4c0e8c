package gopindex

import (
	"fmt"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

// RAKey identifies one random-access point within one epoch of one track's
// index. A reset_all_caches bumps the index epoch; keys stamped with a
// stale epoch are silently non-resolvable (spec §4.A "State").
type RAKey struct {
	TrackID string
	Epoch   uint64
	AbsMs   int64
}

func (k RAKey) String() string {
	return fmt.Sprintf("%s@%d#%d", k.TrackID, k.Epoch, k.AbsMs)
}

// RAPRecord is one classified sample in a track's index. Samples classified
// SyncNone are retained too: find_random_access must be able to report
// "no sync point nearby" and the reader needs the full ordered sequence to
// drop leading dependent/partial samples.
type RAPRecord struct {
	Key        RAKey
	PTS        float64
	Class      ports.SyncClass
	IsFallback bool
}
