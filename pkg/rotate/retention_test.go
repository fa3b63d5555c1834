package rotate

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func entryAt(name string, pos time.Duration) Entry {
	return Entry{Path: "/backups/" + name, Name: name, Position: pos}
}

func TestSelectPrunableUnderCount(t *testing.T) {
	entries := []Entry{
		entryAt("a", 1*time.Hour),
		entryAt("b", 2*time.Hour),
	}

	if got := SelectPrunable(entries, 5, 0); len(got) != 0 {
		t.Errorf("expected no eligible entries below keep count, got %d", len(got))
	}
	if got := SelectPrunable(entries, 2, 0); len(got) != 0 {
		t.Errorf("expected no eligible entries at exactly keep count, got %d", len(got))
	}
	if got := SelectPrunable(nil, 1, 0); len(got) != 0 {
		t.Errorf("expected no eligible entries for empty input, got %d", len(got))
	}
}

func TestSelectPrunableKeepsMostRecent(t *testing.T) {
	entries := []Entry{
		entryAt("c", 3*time.Hour),
		entryAt("a", 1*time.Hour),
		entryAt("e", 5*time.Hour),
		entryAt("b", 2*time.Hour),
		entryAt("d", 4*time.Hour),
	}

	got := SelectPrunable(entries, 2, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 eligible entries, got %d", len(got))
	}

	// Oldest first, most recent two never included.
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Name != want {
			t.Errorf("eligible[%d] = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestSelectPrunablePrefixStop(t *testing.T) {
	// A single too-young candidate halts selection even when later
	// candidates are old enough on their own.
	entries := []Entry{
		entryAt("young", 24*time.Hour),
		entryAt("mid", 5*24*time.Hour),
		entryAt("old", 10*24*time.Hour),
	}

	got := SelectPrunable(entries, 0, 48*time.Hour)
	if len(got) != 0 {
		t.Errorf("expected scan to stop at the first too-young candidate, got %d entries", len(got))
	}

	// With the threshold below every position, all three are taken.
	got = SelectPrunable(entries, 0, 12*time.Hour)
	if len(got) != 3 {
		t.Fatalf("expected all 3 eligible, got %d", len(got))
	}
	for i, want := range []string{"young", "mid", "old"} {
		if got[i].Name != want {
			t.Errorf("eligible[%d] = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestSelectPrunableThresholdIsStrict(t *testing.T) {
	entries := []Entry{
		entryAt("exact", 48*time.Hour),
		entryAt("above", 49*time.Hour),
	}

	// A position exactly at the threshold is too young.
	got := SelectPrunable(entries, 0, 48*time.Hour)
	if len(got) != 0 {
		t.Errorf("position equal to the threshold should stop the scan, got %d entries", len(got))
	}
}

func TestSelectPrunableRecentEntries(t *testing.T) {
	// Positions are measured from the Unix epoch, not from the current
	// moment, so entries modified seconds ago carry positions of decades
	// and exceed any practical duration threshold. Only the count limit
	// meaningfully bounds retention for present-day timestamps.
	now := time.Now()
	entries := []Entry{
		{Name: "fresh1", Position: timelinePosition(now.Add(-2 * time.Second))},
		{Name: "fresh2", Position: timelinePosition(now.Add(-1 * time.Second))},
		{Name: "fresh3", Position: timelinePosition(now)},
	}

	got := SelectPrunable(entries, 1, 1000*time.Hour)
	if len(got) != 2 {
		t.Fatalf("expected 2 eligible entries despite their recent modification, got %d", len(got))
	}
	if got[0].Name != "fresh1" || got[1].Name != "fresh2" {
		t.Errorf("eligible = [%q, %q], want [fresh1, fresh2]", got[0].Name, got[1].Name)
	}
}

func TestSelectPrunableDoesNotReorderInput(t *testing.T) {
	entries := []Entry{
		entryAt("b", 2*time.Hour),
		entryAt("a", 1*time.Hour),
	}

	SelectPrunable(entries, 0, 0)

	if entries[0].Name != "b" || entries[1].Name != "a" {
		t.Error("input slice was reordered")
	}
}

func TestTimelinePosition(t *testing.T) {
	if got := timelinePosition(time.Unix(3600, 0)); got != time.Hour {
		t.Errorf("timelinePosition = %v, want %v", got, time.Hour)
	}
	if got := timelinePosition(time.Unix(-100, 0)); got != 0 {
		t.Errorf("pre-epoch timestamp should clamp to zero, got %v", got)
	}
}

func TestListEntries(t *testing.T) {
	dir := t.TempDir()

	mtimes := map[string]time.Time{
		"20240101_000000": time.Unix(5000, 0),
		"20240102_000000": time.Unix(9000, 0),
		"20240103_000000": time.Unix(2000, 0),
	}
	for name, mtime := range mtimes {
		path := filepath.Join(dir, name)
		if err := os.Mkdir(path, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	ev := NewEvaluator(testLogger())
	entries, err := ev.ListEntries(dir)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	for _, e := range entries {
		mtime, ok := mtimes[e.Name]
		if !ok {
			t.Errorf("unexpected entry %q", e.Name)
			continue
		}
		if want := timelinePosition(mtime); e.Position != want {
			t.Errorf("entry %q position = %v, want %v", e.Name, e.Position, want)
		}
		if e.Path != filepath.Join(dir, e.Name) {
			t.Errorf("entry %q path = %q", e.Name, e.Path)
		}
	}
}

func TestListEntriesMissingDir(t *testing.T) {
	ev := NewEvaluator(testLogger())

	_, err := ev.ListEntries(filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if !IsFatal(err) {
		t.Errorf("listing failure should be fatal, got %v", err)
	}

	var fe *FatalError
	if !errors.As(err, &fe) || fe.Op != OpListBackups {
		t.Errorf("expected op %q, got %v", OpListBackups, err)
	}
}

func TestListEntriesEmptyDir(t *testing.T) {
	ev := NewEvaluator(testLogger())

	entries, err := ev.ListEntries(t.TempDir())
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}
