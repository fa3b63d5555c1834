package btrfs

import (
	"fmt"
	"strconv"
)

// DeviceStats joins ioctl usage numbers with the sysfs error counters
// for one member device.
type DeviceStats struct {
	DevicePath       string
	DeviceID         string
	TotalBytes       int64
	UsedBytes        int64
	FreeBytes        int64
	WriteErrors      int64
	ReadErrors       int64
	FlushErrors      int64
	CorruptionErrors int64
	GenerationErrors int64
}

// GetDeviceStats reports usage and error counters for every member
// device of the filesystem at path. Multi-device filesystems get a
// leading aggregate row.
func (m *Manager) GetDeviceStats(path string) ([]*DeviceStats, error) {
	fsInfo, deviceInfos, err := GetFilesystemAndDeviceInfo(path)
	if err != nil {
		return nil, fmt.Errorf("get filesystem/device info: %w", err)
	}

	errorStats, err := GetDeviceErrorStats(fsInfo.UUID)
	if err != nil {
		m.logger.Warn("failed to get device error stats from sysfs", "error", err)
	}

	var devices []*DeviceStats
	var totalBytes, usedBytes int64

	for _, devInfo := range deviceInfos {
		dev := &DeviceStats{
			DevicePath: devInfo.Path,
			DeviceID:   strconv.FormatUint(devInfo.DevID, 10),
			TotalBytes: int64(devInfo.TotalBytes),
			UsedBytes:  int64(devInfo.BytesUsed),
			FreeBytes:  int64(devInfo.TotalBytes - devInfo.BytesUsed),
		}

		if errStat, ok := errorStats[devInfo.DevID]; ok {
			dev.WriteErrors = errStat.WriteErrors
			dev.ReadErrors = errStat.ReadErrors
			dev.FlushErrors = errStat.FlushErrors
			dev.CorruptionErrors = errStat.CorruptionErrors
			dev.GenerationErrors = errStat.GenerationErrors
		}

		devices = append(devices, dev)
		totalBytes += dev.TotalBytes
		usedBytes += dev.UsedBytes
	}

	if len(devices) > 1 {
		devices = append([]*DeviceStats{{
			DevicePath: "total",
			DeviceID:   "0",
			TotalBytes: totalBytes,
			UsedBytes:  usedBytes,
			FreeBytes:  totalBytes - usedBytes,
		}}, devices...)
	}

	return devices, nil
}
