package gopindex

import "github.com/breeze-rmm/scrubd/internal/ports"

// classify applies the sync-class decision table to a sample's attachment
// dictionary. Order matters: dependency/non-sync flags always win, then
// partial, then full random-access, then no-temporal-reference, then the
// explicit-IDR and metadata-less fallbacks.
// Classify applies the same decision table as classify, exported for
// internal/decodesession's sync-sample-invariant check.
func Classify(a ports.SampleAttachments) ports.SyncClass { return classify(a) }

func classify(a ports.SampleAttachments) ports.SyncClass {
	if a.DependsOnOthers || a.NotSync {
		return ports.SyncNone
	}
	if a.PartialSync {
		return ports.SyncPartial
	}
	if a.RandomAccess {
		return ports.SyncCRA
	}
	if a.NoTemporalReference {
		return ports.SyncBLA
	}
	if a.Known && !a.NotSync {
		return ports.SyncIDR
	}
	if !a.Known && a.StructuralSync {
		return ports.SyncIDR
	}
	return ports.SyncNone
}
