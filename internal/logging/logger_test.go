package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/probescope/probescope/internal/target"
)

func readEntries(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "probescope.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Log line is not JSON: %q", line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	log.Info("session started", "exit_code", 0)
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries := readEntries(t, dir)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["msg"] != "session started" {
		t.Errorf("Expected message in entry, got %v", entries[0])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, LevelWarn)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")
	log.Error("also shown")
	log.Close()

	entries := readEntries(t, dir)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries at WARN level, got %d", len(entries))
	}
	if entries[0]["msg"] != "shown" || entries[1]["msg"] != "also shown" {
		t.Errorf("Wrong entries survived filtering: %v", entries)
	}
}

func TestLogger_ChildAttributes(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	tgt := target.Target{
		Loc:    target.Location{File: "demo.ps", Line: 3, Col: 1},
		Symbol: "v",
		Scope:  "countdown",
	}
	log.WithSide("producer").WithSeq(42).WithTarget(tgt).Info("target added")
	log.Close()

	entries := readEntries(t, dir)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["side"] != "producer" {
		t.Errorf("Expected side attribute, got %v", e)
	}
	if e["seq_num"] != float64(42) {
		t.Errorf("Expected seq_num attribute, got %v", e)
	}
	if s, _ := e["target"].(string); !strings.Contains(s, "demo.ps:3:1") {
		t.Errorf("Expected target identity attribute, got %v", e["target"])
	}
}

func TestLogger_ChildDoesNotMutateParent(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	_ = log.WithSide("consumer")
	log.Info("plain")
	log.Close()

	entries := readEntries(t, dir)
	if _, ok := entries[0]["side"]; ok {
		t.Error("Parent logger must not inherit child attributes")
	}
}

func TestNopLogger(t *testing.T) {
	log := NopLogger()
	log.WithSide("producer").With("k", "v").Info("discarded")
	if err := log.Close(); err != nil {
		t.Errorf("Close on a nop logger failed: %v", err)
	}
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	if len(levels) != 4 {
		t.Errorf("Expected 4 levels, got %v", levels)
	}
}
