package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExitCodeForDistinguishesRuntimeFatalFromConfigError(t *testing.T) {
	if got := exitCodeFor(errors.New("bad config")); got != 1 {
		t.Fatalf("expected exit code 1 for a plain error, got %d", got)
	}
	if got := exitCodeFor(&runtimeFatalError{err: errors.New("bind failed")}); got != 2 {
		t.Fatalf("expected exit code 2 for a runtime fatal error, got %d", got)
	}
}

func TestRunTestConfigAcceptsDefaultConfiguration(t *testing.T) {
	cfgFile = ""
	verbose = false
	if err := runTestConfig(); err != nil {
		t.Fatalf("expected the default configuration to validate, got %v", err)
	}
}

func TestRunTestConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("port: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile = path
	defer func() { cfgFile = "" }()

	if err := runTestConfig(); err == nil {
		t.Fatal("expected a zero port to fail validation")
	}
}
