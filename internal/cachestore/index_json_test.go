package cachestore

import "testing"

type fakeIndexSnapshot struct {
	AssetID string   `json:"asset_id"`
	Epoch   uint64   `json:"epoch"`
	RAPs    []string `json:"raps"`
}

func TestSaveLoadIndexSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := fakeIndexSnapshot{AssetID: "asset1", Epoch: 3, RAPs: []string{"t0", "t1000"}}

	if err := SaveIndexSnapshot(dir, "asset1", want); err != nil {
		t.Fatal(err)
	}

	var got fakeIndexSnapshot
	if err := LoadIndexSnapshot(dir, "asset1", &got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLoadIndexSnapshotMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	var got fakeIndexSnapshot
	if err := LoadIndexSnapshot(dir, "nope", &got); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}
