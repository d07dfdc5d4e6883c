package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewTextHandlerWritesReadableLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: FormatText, Level: slog.LevelInfo, Output: &buf})
	log.Info("listening", "port", 161)

	out := buf.String()
	if !strings.Contains(out, "listening") || !strings.Contains(out, "port=161") {
		t.Fatalf("expected a readable text line, got %q", out)
	}
}

func TestNewJSONHandlerWritesParsableLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: FormatJSON, Level: slog.LevelInfo, Output: &buf})
	log.Info("listening", "port", 161)

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON, got error %v on %q", err, buf.String())
	}
	if decoded["msg"] != "listening" {
		t.Fatalf("expected msg=listening, got %+v", decoded)
	}
}

func TestForComponentTagsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Format: FormatJSON, Level: slog.LevelInfo, Output: &buf})
	serverLog := ForComponent(base, "server")
	serverLog.Info("started")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["component"] != "server" {
		t.Fatalf("expected component=server, got %+v", decoded)
	}
}

func TestParseFormatDefaultsToText(t *testing.T) {
	if ParseFormat("json") != FormatJSON {
		t.Fatal("expected json to parse as FormatJSON")
	}
	if ParseFormat("bogus") != FormatText {
		t.Fatal("expected an unrecognized format to default to text")
	}
}

func TestParseLevelCoversAllNames(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
