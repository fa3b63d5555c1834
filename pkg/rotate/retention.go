package rotate

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Entry is one archived root volume in the backups directory.
//
// Position is the entry's modification time measured as elapsed time
// since the Unix epoch, clamped at zero for pre-epoch timestamps.
type Entry struct {
	Path     string
	Name     string
	Position time.Duration
}

func timelinePosition(modTime time.Time) time.Duration {
	d := modTime.Sub(time.Unix(0, 0))
	if d < 0 {
		return 0
	}
	return d
}

// Evaluator reads the backups directory for the retention policy.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("component", "retention"),
	}
}

// ListEntries enumerates the backups directory. A directory that cannot
// be listed at all is a fatal error, as is an entry whose metadata
// cannot be read. A partial listing logs a warning and continues with
// the entries that were read.
func (ev *Evaluator) ListEntries(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if len(dirents) == 0 {
			return nil, fatal(OpListBackups, err)
		}
		ev.logger.Warn("skipping backup", "error", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			return nil, fatal(OpBackupDate, err)
		}

		entries = append(entries, Entry{
			Path:     filepath.Join(dir, de.Name()),
			Name:     de.Name(),
			Position: timelinePosition(info.ModTime()),
		})
	}

	return entries, nil
}

// SelectPrunable applies the retention policy and returns the entries
// eligible for deletion, oldest first.
//
// Entries sort ascending by timeline position. The most recent
// keepCount entries are never eligible. The remainder, scanned oldest
// first, stay eligible only while their position exceeds keepDuration;
// the first entry at or below the threshold stops the scan.
func SelectPrunable(entries []Entry, keepCount int, keepDuration time.Duration) []Entry {
	if len(entries) <= keepCount {
		return nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	removeCount := len(sorted) - keepCount

	var eligible []Entry
	for _, e := range sorted[:removeCount] {
		if e.Position <= keepDuration {
			break
		}
		eligible = append(eligible, e)
	}

	return eligible
}
