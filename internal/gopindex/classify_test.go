package gopindex

import (
	"testing"

	"github.com/breeze-rmm/scrubd/internal/ports"
)

func TestClassifyDependentOrNotSyncIsNone(t *testing.T) {
	if c := classify(ports.SampleAttachments{DependsOnOthers: true}); c != ports.SyncNone {
		t.Fatalf("got %v, want None", c)
	}
	if c := classify(ports.SampleAttachments{NotSync: true}); c != ports.SyncNone {
		t.Fatalf("got %v, want None", c)
	}
}

func TestClassifyPartialSync(t *testing.T) {
	if c := classify(ports.SampleAttachments{PartialSync: true}); c != ports.SyncPartial {
		t.Fatalf("got %v, want PartialSync", c)
	}
}

func TestClassifyRandomAccessIsCRA(t *testing.T) {
	if c := classify(ports.SampleAttachments{RandomAccess: true}); c != ports.SyncCRA {
		t.Fatalf("got %v, want CRA", c)
	}
}

func TestClassifyNoTemporalReferenceIsBLA(t *testing.T) {
	if c := classify(ports.SampleAttachments{NoTemporalReference: true}); c != ports.SyncBLA {
		t.Fatalf("got %v, want BLA", c)
	}
}

func TestClassifyExplicitNotSyncFalseIsIDR(t *testing.T) {
	if c := classify(ports.SampleAttachments{Known: true, NotSync: false}); c != ports.SyncIDR {
		t.Fatalf("got %v, want IDR", c)
	}
}

func TestClassifyMetadataLessStructuralSyncIsIDR(t *testing.T) {
	if c := classify(ports.SampleAttachments{Known: false, StructuralSync: true}); c != ports.SyncIDR {
		t.Fatalf("got %v, want IDR", c)
	}
}

func TestClassifyMetadataLessNonSyncIsNone(t *testing.T) {
	if c := classify(ports.SampleAttachments{Known: false, StructuralSync: false}); c != ports.SyncNone {
		t.Fatalf("got %v, want None", c)
	}
}

func TestClassifyPriorityDependsOverRandomAccess(t *testing.T) {
	// A sample flagged both dependent and random-access must still classify
	// as None: dependency disqualification runs first.
	c := classify(ports.SampleAttachments{DependsOnOthers: true, RandomAccess: true})
	if c != ports.SyncNone {
		t.Fatalf("got %v, want None", c)
	}
}
