package btrfs

import (
	"fmt"
	"os"
	"time"

	libbtrfs "github.com/dennwc/btrfs"
	"golang.org/x/sys/unix"
)

type SubvolumeInfo struct {
	ID         int64
	Gen        int64
	TopLevel   int64
	Path       string
	UUID       string
	ParentUUID string
	IsReadonly bool
	CreatedAt  time.Time
	Flags      uint64
}

// ListSubvolumes lists all subvolumes for a filesystem using ioctl
func (m *Manager) ListSubvolumes(mountPoint string) ([]*SubvolumeInfo, error) {
	items, err := listSubvolumes(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list subvolumes via ioctl: %w", err)
	}

	var subvolumes []*SubvolumeInfo
	for _, item := range items {
		subvol := &SubvolumeInfo{
			ID:         int64(item.ID),
			Gen:        int64(item.Generation),
			TopLevel:   int64(item.ParentID),
			Path:       item.Path,
			UUID:       item.UUIDString(),
			ParentUUID: item.ParentUUIDString(),
			IsReadonly: item.IsReadonly(),
			CreatedAt:  item.OTime,
			Flags:      item.Flags,
		}

		// The top-level subvolume has no backref entry.
		if item.ID == fsTreeObjectID && subvol.Path == "" {
			subvol.Path = "/"
		}

		subvolumes = append(subvolumes, subvol)
	}

	return subvolumes, nil
}

// SubvolumeAt returns info for the subvolume containing path.
func (m *Manager) SubvolumeAt(path string) (*SubvolumeInfo, error) {
	id, err := subvolumeIDForPath(path)
	if err != nil {
		return nil, err
	}

	subvolumes, err := m.ListSubvolumes(path)
	if err != nil {
		return nil, err
	}

	for _, sv := range subvolumes {
		if uint64(sv.ID) == id {
			return sv, nil
		}
	}

	return nil, fmt.Errorf("subvolume ID %d not found", id)
}

// CreationTime returns the creation timestamp of path. Subvolume roots
// report their otime from the root tree; anything else falls back to the
// inode birth time. A missing path surfaces as fs.ErrNotExist.
func (m *Manager) CreationTime(path string) (time.Time, error) {
	isSubvol, err := libbtrfs.IsSubVolume(path)
	if err != nil {
		return time.Time{}, err
	}

	if isSubvol {
		sv, err := m.SubvolumeAt(path)
		if err == nil && !sv.CreatedAt.IsZero() {
			return sv.CreatedAt, nil
		}
		// Root-tree lookup needs CAP_SYS_ADMIN; fall back to statx.
	}

	return birthTime(path)
}

// birthTime reads the inode birth time via statx.
func birthTime(path string) (time.Time, error) {
	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, 0, unix.STATX_BTIME, &stx); err != nil {
		return time.Time{}, &os.PathError{Op: "statx", Path: path, Err: err}
	}

	if stx.Mask&unix.STATX_BTIME == 0 {
		return time.Time{}, fmt.Errorf("birth time not available for %s", path)
	}

	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)), nil
}
