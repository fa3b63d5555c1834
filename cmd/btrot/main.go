package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/elee1766/btrot/pkg/btrfs"
	"github.com/elee1766/btrot/pkg/config"
	"github.com/elee1766/btrot/pkg/history"
	"github.com/elee1766/btrot/pkg/logging"
	"github.com/elee1766/btrot/pkg/rotate"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CLI is the root command structure
type CLI struct {
	// Global flags
	LogLevel string `short:"l" default:"info" env:"BTROT_LOG_LEVEL" enum:"trace,debug,info,warn,error" help:"Log level (trace, debug, info, warn, error)"`

	// Subcommands
	Rotate  RotateCmd  `cmd:"" default:"withargs" help:"Rotate the root volume and prune aged backups"`
	Backups BackupsCmd `cmd:"" help:"List archived root volumes and their retention disposition"`
	Status  StatusCmd  `cmd:"" help:"Show filesystem identity, usage and device error counters"`
	History HistoryCmd `cmd:"" help:"Show recorded rotation runs"`
}

// RotateCmd archives the active root volume and prunes aged backups
type RotateCmd struct {
	DryRun bool `help:"Log every mutation instead of performing it"`
}

func (c *RotateCmd) Run(cli *CLI) error {
	runID := uuid.New().String()
	logger := logging.New(cli.LogLevel).With("run_id", runID)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mode := rotate.ModeApply
	if c.DryRun {
		mode = rotate.ModeDryRun
	}
	logger.Info("starting rotation", "mode", mode.String(), "device", config.Device)

	mgr := btrfs.New(logger)
	runner := rotate.NewRunner(logger,
		mgr,
		rotate.NewArchiver(logger, mgr, cfg.BackupFormat, mode),
		rotate.NewEvaluator(logger),
		rotate.NewPruner(logger, mgr, mode),
		rotate.RunnerConfig{
			Device:       config.Device,
			MountDir:     cfg.MountDir,
			RootVolume:   cfg.RootVolumePath(),
			BackupsDir:   cfg.BackupsPath(),
			KeepCount:    cfg.KeepCount,
			KeepDuration: cfg.KeepDuration,
		})

	started := time.Now()
	res, runErr := runner.Run()
	recordRun(logger, cfg.DBPath, runID, mode, started, res, runErr)
	return runErr
}

// recordRun appends the run outcome to the local ledger. The ledger is
// best-effort; failures warn and never affect the exit status.
func recordRun(logger *slog.Logger, dbPath, runID string, mode rotate.Mode, started time.Time, res *rotate.Result, runErr error) {
	db, err := history.Open(dbPath, logger)
	if err != nil {
		logger.Warn("failed to open run ledger", "path", dbPath, "error", err)
		return
	}
	defer db.Close()

	run := &history.Run{
		RunID:     runID,
		StartedAt: started,
		Mode:      mode.String(),
		Status:    history.StatusCompleted,
	}
	if runErr != nil {
		run.Status = history.StatusFailed
		run.Error = runErr.Error()
	}
	if res != nil {
		if res.Archive != nil {
			run.Archived = res.Archive.Name
		}
		run.Eligible = res.Eligible
		run.Removed = res.Removed
		run.Failed = res.Failed
		for _, pr := range res.Prunes {
			p := history.Prune{
				Name:    pr.Entry.Name,
				Path:    pr.Entry.Path,
				Outcome: pr.Outcome.String(),
			}
			if pr.Err != nil {
				p.Error = pr.Err.Error()
			}
			run.Prunes = append(run.Prunes, p)
		}
	}

	if err := db.RecordRun(run); err != nil {
		logger.Warn("failed to record run in ledger", "error", err)
	}
}

// BackupsCmd lists archived root volumes and what the retention policy
// would do with each
type BackupsCmd struct{}

func (c *BackupsCmd) Run(cli *CLI) error {
	logger := logging.New(cli.LogLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mgr := btrfs.New(logger)
	unmount, err := mountReadOnly(logger, mgr, cfg.MountDir)
	if err != nil {
		return err
	}
	defer unmount()

	entries, err := rotate.NewEvaluator(logger).ListEntries(cfg.BackupsPath())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No backups found")
		return nil
	}

	// Subvolume identity is advisory here; lookup failures degrade to
	// name-only rows. Entries that resolve to the mount's own subvolume
	// are plain directories, not archived roots.
	var mountID int64
	if sv, err := mgr.SubvolumeAt(cfg.MountDir); err == nil {
		mountID = sv.ID
	} else {
		logger.Warn("failed to resolve mount subvolume", "error", err)
	}

	sorted := make([]rotate.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	eligible := rotate.SelectPrunable(entries, cfg.KeepCount, cfg.KeepDuration)
	prunable := make(map[string]bool, len(eligible))
	for _, e := range eligible {
		prunable[e.Path] = true
	}

	keepFrom := len(sorted) - cfg.KeepCount
	if keepFrom < 0 {
		keepFrom = 0
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "ID", "Gen", "Created", "Age", "Disposition"})

	for i, e := range sorted {
		disposition := "keep by count"
		if i < keepFrom {
			disposition = "keep by age"
			if prunable[e.Path] {
				disposition = "prune"
			}
		}

		var id, gen any = "", ""
		created := ""
		if sv, err := mgr.SubvolumeAt(e.Path); err == nil && sv.ID != mountID {
			id = sv.ID
			gen = sv.Gen
			if !sv.CreatedAt.IsZero() {
				created = sv.CreatedAt.Format("2006-01-02 15:04:05")
			}
		}

		modTime := time.Unix(0, 0).Add(e.Position)
		t.AppendRow(table.Row{e.Name, id, gen, created, humanize.Time(modTime), disposition})
	}
	t.Render()
	return nil
}

// StatusCmd shows filesystem identity, per-device usage and error
// counters, and allocation group usage
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	logger := logging.New(cli.LogLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mgr := btrfs.New(logger)
	unmount, err := mountReadOnly(logger, mgr, cfg.MountDir)
	if err != nil {
		return err
	}
	defer unmount()

	fsInfo, _, err := btrfs.GetFilesystemAndDeviceInfo(cfg.MountDir)
	if err != nil {
		return fmt.Errorf("failed to get filesystem info: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Filesystem")
	t.AppendRow(table.Row{"Device", config.Device})
	t.AppendRow(table.Row{"UUID", fsInfo.UUID})
	if fsInfo.MetadataUUID != "" {
		t.AppendRow(table.Row{"Metadata UUID", fsInfo.MetadataUUID})
	}
	t.AppendRow(table.Row{"Generation", fsInfo.Generation})
	t.AppendRow(table.Row{"Devices", fsInfo.NumDevices})
	t.AppendRow(table.Row{"Node size", humanize.IBytes(uint64(fsInfo.NodeSize))})
	t.AppendRow(table.Row{"Sector size", humanize.IBytes(uint64(fsInfo.SectorSize))})
	t.Render()

	fmt.Println()

	devices, err := mgr.GetDeviceStats(cfg.MountDir)
	if err != nil {
		return fmt.Errorf("failed to get device stats: %w", err)
	}

	dt := table.NewWriter()
	dt.SetOutputMirror(os.Stdout)
	dt.SetStyle(table.StyleRounded)
	dt.SetTitle("Devices")
	dt.AppendHeader(table.Row{"ID", "Path", "Size", "Used", "Free", "Write", "Read", "Flush", "Corrupt", "Gen"})
	dt.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
		{Number: 10, Align: text.AlignRight},
	})
	for _, dev := range devices {
		dt.AppendRow(table.Row{
			dev.DeviceID,
			dev.DevicePath,
			humanize.IBytes(uint64(dev.TotalBytes)),
			humanize.IBytes(uint64(dev.UsedBytes)),
			humanize.IBytes(uint64(dev.FreeBytes)),
			dev.WriteErrors,
			dev.ReadErrors,
			dev.FlushErrors,
			dev.CorruptionErrors,
			dev.GenerationErrors,
		})
	}
	dt.Render()

	fmt.Println()

	spaces, err := btrfs.GetSpaceInfo(cfg.MountDir)
	if err != nil {
		return fmt.Errorf("failed to get space info: %w", err)
	}

	st := table.NewWriter()
	st.SetOutputMirror(os.Stdout)
	st.SetStyle(table.StyleRounded)
	st.SetTitle("Allocation")
	st.AppendHeader(table.Row{"Type", "Profile", "Total", "Used"})
	st.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for _, sp := range spaces {
		st.AppendRow(table.Row{sp.Type, sp.Profile, humanize.IBytes(sp.TotalBytes), humanize.IBytes(sp.UsedBytes)})
	}
	st.Render()

	return nil
}

// HistoryCmd shows recorded rotation runs
type HistoryCmd struct {
	Limit int    `short:"n" default:"20" help:"Show at most N most recent runs"`
	RunID string `name:"run" help:"Show per-entry prune results for one run id"`
}

func (c *HistoryCmd) Run(cli *CLI) error {
	logger := logging.New(cli.LogLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := history.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer db.Close()

	if c.RunID != "" {
		return showRunPrunes(db, c.RunID)
	}

	runs, err := db.ListRuns(c.Limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Started", "Run ID", "Mode", "Status", "Archived", "Eligible", "Removed", "Failed"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.RunID,
			run.Mode,
			run.Status,
			run.Archived,
			run.Eligible,
			run.Removed,
			run.Failed,
		})
	}
	t.Render()
	return nil
}

func showRunPrunes(db *history.DB, runID string) error {
	prunes, err := db.GetRunPrunes(runID)
	if err != nil {
		return fmt.Errorf("failed to read prune results: %w", err)
	}
	if len(prunes) == 0 {
		fmt.Println("No prune results for run", runID)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Outcome", "Error"})
	for _, p := range prunes {
		t.AppendRow(table.Row{p.Name, p.Outcome, p.Error})
	}
	t.Render()
	return nil
}

// mountReadOnly mounts the managed device for inspection and returns the
// unmount cleanup. Inspect commands never mutate the filesystem, so an
// unmount failure only warns.
func mountReadOnly(logger *slog.Logger, mgr *btrfs.Manager, dir string) (func(), error) {
	if _, err := mgr.EnsureMountPoint(dir); err != nil {
		return nil, fmt.Errorf("failed to create mount point: %w", err)
	}
	if err := mgr.MountReadOnly(config.Device, dir); err != nil {
		return nil, fmt.Errorf("mount failed: %w", err)
	}
	return func() {
		if err := mgr.Unmount(dir); err != nil {
			logger.Warn("umount failed", "error", err)
		}
	}, nil
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("btrot"),
		kong.Description("BTRFS root volume rotation tool"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(cli); err != nil {
		slog.Error(err.Error())
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status. Malformed
// configuration exits 1; operational failures exit 2.
func exitCode(err error) int {
	var cfgErr *config.Error
	if errors.As(err, &cfgErr) {
		return 1
	}
	return 2
}
