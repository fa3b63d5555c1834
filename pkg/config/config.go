package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// AppName is the application name used in paths
	AppName = "btrot"

	// Device is the backing block device holding the root filesystem.
	// The tool manages exactly this device; it is not configurable.
	Device = "/dev/mapper/crypted"
)

// Config holds all application configuration.
type Config struct {
	// Paths
	MountDir   string // directory the device is mounted at
	RootVolume string // active root subvolume, relative to MountDir
	BackupDir  string // archived subvolumes directory, relative to MountDir

	// Rotation
	BackupFormat string        // time layout archive names are rendered with
	KeepDuration time.Duration // timeline span an entry must exceed to be prunable
	KeepCount    int           // most-recent entries always retained

	// Derived paths
	DBPath string // run history database
}

// Error is a malformed or out-of-range environment value. The CLI maps
// it to its own exit status, distinct from operational failures.
type Error struct {
	Var string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid format for %s: %v", e.Var, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads configuration from the environment, applying defaults for
// unset variables. It touches no filesystem state, so a failed load
// leaves nothing behind.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.MountDir = envOrDefault("BTROT_MOUNT_DIR", "./mnt")
	cfg.RootVolume = envOrDefault("BTROT_ROOT_VOLUME", "root")
	cfg.BackupDir = envOrDefault("BTROT_BACKUP_DIR", "root-backups")
	cfg.BackupFormat = envOrDefault("BTROT_BACKUP_FORMAT", "20060102_150405")

	span, err := ParseSpan(envOrDefault("BTROT_KEEP_DURATION", "1day"))
	if err != nil {
		return nil, &Error{Var: "BTROT_KEEP_DURATION", Err: err}
	}
	cfg.KeepDuration = span

	count, err := strconv.Atoi(envOrDefault("BTROT_KEEP_COUNT", "1"))
	if err != nil {
		return nil, &Error{Var: "BTROT_KEEP_COUNT", Err: err}
	}
	if count < 0 {
		return nil, &Error{Var: "BTROT_KEEP_COUNT", Err: fmt.Errorf("must not be negative: %d", count)}
	}
	cfg.KeepCount = count

	cfg.DBPath = envOrDefault("BTROT_DB_PATH", filepath.Join(dataDir(), "btrot.db"))

	return cfg, nil
}

// RootVolumePath returns the full path of the active root volume.
func (c *Config) RootVolumePath() string {
	return filepath.Join(c.MountDir, c.RootVolume)
}

// BackupsPath returns the full path of the backups directory.
func (c *Config) BackupsPath() string {
	return filepath.Join(c.MountDir, c.BackupDir)
}

/// dataDir returns the XDG data directory for the tool:
// $XDG_DATA_HOME/btrot or ~/.local/share/btrot
func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", AppName, "data")
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// envOrDefault returns the environment variable value or the default.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
