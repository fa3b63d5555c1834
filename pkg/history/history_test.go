package history

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRecordAndListRuns(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state", "btrot.db"), testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	first := &Run{
		RunID:     "run-1",
		StartedAt: time.Unix(1700000000, 0),
		Mode:      "apply",
		Status:    StatusCompleted,
		Archived:  "20240315_103000",
		Eligible:  2,
		Removed:   1,
		Failed:    1,
		Prunes: []Prune{
			{Name: "20230101_000000", Path: "/mnt/root-backups/20230101_000000", Outcome: "removed"},
			{Name: "20230102_000000", Path: "/mnt/root-backups/20230102_000000", Outcome: "exit-error", Error: "exit status 1"},
		},
	}
	if err := db.RecordRun(first); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	second := &Run{
		RunID:     "run-2",
		StartedAt: time.Unix(1700000100, 0),
		Mode:      "dry-run",
		Status:    StatusFailed,
		Error:     "mount failed: no such device",
	}
	if err := db.RecordRun(second); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}

	// Newest first.
	if runs[0].RunID != "run-2" || runs[1].RunID != "run-1" {
		t.Errorf("run order = [%s, %s], want [run-2, run-1]", runs[0].RunID, runs[1].RunID)
	}

	got := runs[1]
	if got.Mode != "apply" || got.Status != StatusCompleted {
		t.Errorf("run-1 mode/status = %s/%s", got.Mode, got.Status)
	}
	if got.Archived != "20240315_103000" {
		t.Errorf("run-1 archived = %q", got.Archived)
	}
	if got.Eligible != 2 || got.Removed != 1 || got.Failed != 1 {
		t.Errorf("run-1 counts = %d/%d/%d, want 2/1/1", got.Eligible, got.Removed, got.Failed)
	}
	if !got.StartedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("run-1 started at %v", got.StartedAt)
	}

	if runs[0].Error != "mount failed: no such device" {
		t.Errorf("run-2 error = %q", runs[0].Error)
	}
}

func TestGetRunPrunes(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "btrot.db"), testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	run := &Run{
		RunID:     "run-1",
		StartedAt: time.Unix(1700000000, 0),
		Mode:      "apply",
		Status:    StatusCompleted,
		Prunes: []Prune{
			{Name: "a", Path: "/b/a", Outcome: "removed"},
			{Name: "b", Path: "/b/b", Outcome: "launch-error", Error: "executable not found"},
		},
	}
	if err := db.RecordRun(run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	prunes, err := db.GetRunPrunes("run-1")
	if err != nil {
		t.Fatalf("GetRunPrunes failed: %v", err)
	}
	if len(prunes) != 2 {
		t.Fatalf("expected 2 prune rows, got %d", len(prunes))
	}
	if prunes[0].Name != "a" || prunes[0].Outcome != "removed" {
		t.Errorf("prune[0] = %+v", prunes[0])
	}
	if prunes[1].Error != "executable not found" {
		t.Errorf("prune[1] error = %q", prunes[1].Error)
	}

	if empty, err := db.GetRunPrunes("missing"); err != nil || len(empty) != 0 {
		t.Errorf("unknown run should have no prunes, got %v, %v", empty, err)
	}
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btrot.db")

	db, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	run := &Run{RunID: "run-1", StartedAt: time.Unix(1, 0), Mode: "apply", Status: StatusCompleted}
	if err := db.RecordRun(run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening runs migrations again; they must be a no-op.
	db, err = Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-1" {
		t.Errorf("existing data lost across reopen: %v", runs)
	}
}
