package main

import (
	"path/filepath"
	"testing"
)

func TestLoadAndIncrementBootsStartsAtOneForAFreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.state")
	boots, err := loadAndIncrementBoots(path)
	if err != nil {
		t.Fatal(err)
	}
	if boots != 1 {
		t.Fatalf("expected boots=1 for a fresh state file, got %d", boots)
	}
}

func TestLoadAndIncrementBootsPersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "engine.state")
	for want := uint32(1); want <= 3; want++ {
		got, err := loadAndIncrementBoots(path)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("call %d: expected boots=%d, got %d", want, want, got)
		}
	}
}

func TestReadEngineStateOnMissingFileReturnsZero(t *testing.T) {
	st, err := readEngineState(filepath.Join(t.TempDir(), "missing.state"))
	if err != nil {
		t.Fatal(err)
	}
	if st.EngineBoots != 0 {
		t.Fatalf("expected zero boots for a missing file, got %d", st.EngineBoots)
	}
}
