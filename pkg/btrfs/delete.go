package btrfs

import (
	"os"
	"os/exec"
)

// DeleteSubvolumeRecursive removes a subvolume and any subvolumes nested
// under it by shelling out to btrfs-progs. Stdout and stderr pass through
// to the parent; stdin is closed. The returned error preserves the
// subprocess exit state for callers that triage it.
func (m *Manager) DeleteSubvolumeRecursive(path string) error {
	cmd := exec.Command("btrfs", "subvolume", "delete", "--recursive", path)
	cmd.Stdin = nil
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		m.logger.Debug("btrfs subvolume delete failed", "path", path, "error", err)
	}
	return err
}
