package rotate

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CreationTimes resolves creation timestamps for filesystem paths.
type CreationTimes interface {
	CreationTime(path string) (time.Time, error)
}

// Archive describes one rotation of the root volume into the backups
// directory. Under dry run it describes the rename that would have
// happened.
type Archive struct {
	Source string
	Dest   string
	Name   string
}

// Archiver moves the active root volume into the backups directory
// under a name rendered from its creation timestamp.
type Archiver struct {
	logger *slog.Logger
	times  CreationTimes
	layout string
	mode   Mode
}

func NewArchiver(logger *slog.Logger, times CreationTimes, layout string, mode Mode) *Archiver {
	return &Archiver{
		logger: logger.With("component", "archiver"),
		times:  times,
		layout: layout,
		mode:   mode,
	}
}

// Rotate archives the root volume at rootPath into backupsDir. A
// missing root volume is not an error; the run continues with pruning
// only. Any other failure to read its creation time is fatal, as is a
// rename failure.
func (a *Archiver) Rotate(rootPath, backupsDir string) (*Archive, error) {
	created, err := a.times.CreationTime(rootPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.logger.Debug("no old root volume found")
			return nil, nil
		}
		return nil, fatal(OpCreationDate, err)
	}

	name := created.Format(a.layout)
	dest := filepath.Join(backupsDir, name)
	arch := &Archive{Source: rootPath, Dest: dest, Name: name}

	if a.mode == ModeDryRun {
		a.logger.Info("dry run", "cmd", fmt.Sprintf("mv '%s' '%s'", rootPath, dest))
		return arch, nil
	}

	if err := os.Rename(rootPath, dest); err != nil {
		return nil, fatal(OpArchive, err)
	}

	a.logger.Info("archived root volume", "dest", dest)
	return arch, nil
}
