package btrfs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const btrfsSysfsPath = "/sys/fs/btrfs"

// DeviceErrorStats contains the kernel's per-device error counters.
type DeviceErrorStats struct {
	DevID            uint64
	WriteErrors      int64
	ReadErrors       int64
	FlushErrors      int64
	CorruptionErrors int64
	GenerationErrors int64
}

// GetDeviceErrorStats reads error counters from sysfs for a mounted
// filesystem identified by UUID, keyed by device ID.
func GetDeviceErrorStats(fsUUID string) (map[uint64]*DeviceErrorStats, error) {
	devinfoPath := filepath.Join(btrfsSysfsPath, fsUUID, "devinfo")

	entries, err := os.ReadDir(devinfoPath)
	if err != nil {
		return nil, fmt.Errorf("read devinfo directory: %w", err)
	}

	stats := make(map[uint64]*DeviceErrorStats)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		devID, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			continue // not a device ID directory
		}

		devStats, err := parseErrorStatsFile(filepath.Join(devinfoPath, entry.Name(), "error_stats"))
		if err != nil {
			continue // skip devices we can't read
		}

		devStats.DevID = devID
		stats[devID] = devStats
	}

	return stats, nil
}

// parseErrorStatsFile parses the "name value" lines of an error_stats file.
func parseErrorStatsFile(path string) (*DeviceErrorStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stats := &DeviceErrorStats{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) != 2 {
			continue
		}

		val, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}

		switch parts[0] {
		case "write_errs":
			stats.WriteErrors = val
		case "read_errs":
			stats.ReadErrors = val
		case "flush_errs":
			stats.FlushErrors = val
		case "corruption_errs":
			stats.CorruptionErrors = val
		case "generation_errs":
			stats.GenerationErrors = val
		}
	}

	return stats, scanner.Err()
}
