package state

import (
	"path/filepath"
	"testing"
)

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	empty, err := Load(path)
	if err != nil || empty != (Session{}) {
		t.Fatalf("missing state should load empty, got %+v err=%v", empty, err)
	}

	want := Session{SubmitterID: "alice", Language: "cpp", LastSubmissionID: "s-1"}
	if err := Save(path, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := Load(path)
	if err != nil || got != want {
		t.Fatalf("got %+v err=%v", got, err)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clearing twice should be a no-op: %v", err)
	}
}
