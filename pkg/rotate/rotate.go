package rotate

import (
	"log/slog"
	"time"

	"github.com/elee1766/btrot/pkg/logging"
)

// Mounter is the mount controller surface the runner drives.
type Mounter interface {
	EnsureMountPoint(path string) (bool, error)
	Mount(device, path string) error
	Unmount(path string) error
}

// RunnerConfig carries the paths and retention policy for one run.
type RunnerConfig struct {
	Device       string
	MountDir     string
	RootVolume   string
	BackupsDir   string
	KeepCount    int
	KeepDuration time.Duration
}

// Result summarizes a completed run.
type Result struct {
	Archive  *Archive
	Eligible int
	Removed  int
	Failed   int
	Prunes   []PruneResult
}

// Runner sequences a full rotation: mount point, mount, archive,
// retention, prune, unmount.
type Runner struct {
	logger    *slog.Logger
	mounter   Mounter
	archiver  *Archiver
	evaluator *Evaluator
	pruner    *Pruner
	cfg       RunnerConfig
}

func NewRunner(logger *slog.Logger, mounter Mounter, archiver *Archiver, evaluator *Evaluator, pruner *Pruner, cfg RunnerConfig) *Runner {
	return &Runner{
		logger:    logger.With("component", "runner"),
		mounter:   mounter,
		archiver:  archiver,
		evaluator: evaluator,
		pruner:    pruner,
		cfg:       cfg,
	}
}

// Run executes one rotation. A fatal error returns immediately without
// unmounting; per-entry prune failures are reflected in the result and
// do not fail the run.
func (r *Runner) Run() (*Result, error) {
	created, err := r.mounter.EnsureMountPoint(r.cfg.MountDir)
	if err != nil {
		return nil, fatal(OpMountPoint, err)
	}
	if created {
		r.logger.Debug("created mount point")
	} else {
		r.logger.Debug("mount point already exists")
	}

	if err := r.mounter.Mount(r.cfg.Device, r.cfg.MountDir); err != nil {
		return nil, fatal(OpMount, err)
	}

	res := &Result{}

	arch, err := r.archiver.Rotate(r.cfg.RootVolume, r.cfg.BackupsDir)
	if err != nil {
		return nil, err
	}
	res.Archive = arch

	entries, err := r.evaluator.ListEntries(r.cfg.BackupsDir)
	if err != nil {
		return nil, err
	}

	removeCount := len(entries) - r.cfg.KeepCount
	if removeCount < 0 {
		removeCount = 0
	}
	logging.Trace(r.logger, "removing backups", "up_to", removeCount, "total", len(entries))

	eligible := SelectPrunable(entries, r.cfg.KeepCount, r.cfg.KeepDuration)
	res.Eligible = len(eligible)

	res.Prunes = r.pruner.Prune(eligible)
	for _, pr := range res.Prunes {
		switch pr.Outcome {
		case OutcomeRemoved:
			res.Removed++
		case OutcomeExitError, OutcomeLaunchError:
			res.Failed++
		}
	}

	if err := r.mounter.Unmount(r.cfg.MountDir); err != nil {
		return nil, fatal(OpUnmount, err)
	}

	r.logger.Info("rotation complete",
		"archived", arch != nil,
		"eligible", res.Eligible,
		"removed", res.Removed,
		"failed", res.Failed)

	return res, nil
}
