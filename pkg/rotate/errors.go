package rotate

import (
	"errors"
	"fmt"
)

// Operation labels for fatal errors. Each one renders as the single
// error-level line the process emits before exiting.
const (
	OpMountPoint   = "failed to create mount point"
	OpMount        = "mount failed"
	OpCreationDate = "failed to get root volume creation date"
	OpArchive      = "failed to move existing root volume into backups"
	OpListBackups  = "failed to get entries of backups directory"
	OpBackupDate   = "failed to get backup creation date"
	OpUnmount      = "umount failed"
)

// FatalError aborts the run. The closed set of Op labels above
// distinguishes it from per-entry failures, which only warn.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
