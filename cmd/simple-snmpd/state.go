package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// engineState is the small JSON record persisted at state_file_path,
// mirroring the original daemon's engine.state file: engineBoots must
// survive a restart so USM's anti-replay time window stays monotonic
// across process lifetimes (RFC 3414 §2.2.2).
type engineState struct {
	EngineBoots uint32 `json:"engine_boots"`
}

// loadAndIncrementBoots reads path's persisted engineBoots (0 if the file
// does not exist yet — a fresh install), increments it for this run, and
// writes the new value back before returning, so a crash between read and
// accepting traffic never replays a boot count.
func loadAndIncrementBoots(path string) (uint32, error) {
	st, err := readEngineState(path)
	if err != nil {
		return 0, err
	}
	st.EngineBoots++
	if err := writeEngineState(path, st); err != nil {
		return 0, err
	}
	return st.EngineBoots, nil
}

func readEngineState(path string) (engineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return engineState{}, nil
		}
		return engineState{}, fmt.Errorf("state: read %s: %w", path, err)
	}
	var st engineState
	if err := json.Unmarshal(data, &st); err != nil {
		return engineState{}, fmt.Errorf("state: parse %s: %w", path, err)
	}
	return st, nil
}

func writeEngineState(path string, st engineState) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("state: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", path, err)
	}
	return nil
}
