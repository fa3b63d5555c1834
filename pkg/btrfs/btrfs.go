package btrfs

import (
	"log/slog"
)

// Package btrfs provides the filesystem side of root volume rotation:
// - Mounting and unmounting the backing device
// - Subvolume enumeration and creation times via ioctl
// - Recursive subvolume deletion through the btrfs CLI
// - Filesystem and device usage for inspection

type Manager struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger.With("component", "btrfs"),
	}
}
