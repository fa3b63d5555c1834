package btrfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mountFlags keeps the archived roots inert while mounted: no atime
// updates, no device nodes, no executable mappings, no setuid honoring.
const mountFlags = unix.MS_NOATIME | unix.MS_NODEV | unix.MS_NOEXEC | unix.MS_NOSUID

// EnsureMountPoint creates the mount point directory and reports
// whether it was created. A directory that already exists is fine.
func (m *Manager) EnsureMountPoint(path string) (bool, error) {
	err := os.Mkdir(path, 0755)
	if err == nil {
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	return false, err
}

// Mount attaches device at path as a btrfs filesystem.
func (m *Manager) Mount(device, path string) error {
	if err := unix.Mount(device, path, "btrfs", mountFlags, ""); err != nil {
		return fmt.Errorf("mount %s at %s: %w", device, path, err)
	}
	m.logger.Debug("mounted device", "device", device, "path", path)
	return nil
}

// MountReadOnly attaches device at path as a btrfs filesystem without
// write access. Used by the inspection commands.
func (m *Manager) MountReadOnly(device, path string) error {
	if err := unix.Mount(device, path, "btrfs", mountFlags|unix.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("mount %s at %s read-only: %w", device, path, err)
	}
	m.logger.Debug("mounted device read-only", "device", device, "path", path)
	return nil
}

// Unmount detaches the filesystem at path.
func (m *Manager) Unmount(path string) error {
	if err := unix.Unmount(path, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}
	m.logger.Debug("unmounted", "path", path)
	return nil
}
