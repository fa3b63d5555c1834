package rotate

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/elee1766/btrot/pkg/logging"
)

// SubvolumeDeleter removes a subvolume tree from the filesystem.
type SubvolumeDeleter interface {
	DeleteSubvolumeRecursive(path string) error
}

// Outcome classifies one deletion attempt.
type Outcome int

const (
	OutcomeRemoved Outcome = iota
	OutcomeDryRun
	OutcomeExitError
	OutcomeLaunchError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRemoved:
		return "removed"
	case OutcomeDryRun:
		return "dry-run"
	case OutcomeExitError:
		return "exit-error"
	case OutcomeLaunchError:
		return "launch-error"
	}
	return "unknown"
}

// PruneResult records what happened to one eligible entry.
type PruneResult struct {
	Entry   Entry
	Outcome Outcome
	Err     error
}

// Pruner deletes eligible backup entries. Per-entry failures warn and
// never stop later deletions.
type Pruner struct {
	logger  *slog.Logger
	deleter SubvolumeDeleter
	mode    Mode
}

func NewPruner(logger *slog.Logger, deleter SubvolumeDeleter, mode Mode) *Pruner {
	return &Pruner{
		logger:  logger.With("component", "pruner"),
		deleter: deleter,
		mode:    mode,
	}
}

// Prune attempts to delete each entry in order.
func (p *Pruner) Prune(entries []Entry) []PruneResult {
	results := make([]PruneResult, 0, len(entries))

	for _, e := range entries {
		logging.Trace(p.logger, "removing backup", "path", e.Path)

		if p.mode == ModeDryRun {
			p.logger.Info("dry run", "cmd", fmt.Sprintf("btrfs subvolume delete --recursive '%s'", e.Path))
			results = append(results, PruneResult{Entry: e, Outcome: OutcomeDryRun})
			continue
		}

		err := p.deleter.DeleteSubvolumeRecursive(e.Path)
		if err == nil {
			results = append(results, PruneResult{Entry: e, Outcome: OutcomeRemoved})
			continue
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if code := exitErr.ExitCode(); code >= 0 {
				p.logger.Warn("btrfs subvolume delete exited with non-zero code", "path", e.Path, "code", code)
			} else {
				p.logger.Warn("btrfs subvolume delete exited with unknown code", "path", e.Path)
			}
			results = append(results, PruneResult{Entry: e, Outcome: OutcomeExitError, Err: err})
			continue
		}

		p.logger.Warn("failed to run btrfs subvolume delete", "path", e.Path, "error", err)
		results = append(results, PruneResult{Entry: e, Outcome: OutcomeLaunchError, Err: err})
	}

	return results
}
