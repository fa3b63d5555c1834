package btrfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

// btrfsIoctlFsInfoArgs is the structure for BTRFS_IOC_FS_INFO
type btrfsIoctlFsInfoArgs struct {
	MaxID          uint64
	NumDevices     uint64
	FSID           [16]byte
	NodeSize       uint32
	SectorSize     uint32
	CloneAlignment uint32
	CsumType       uint16
	CsumSize       uint16
	Flags          uint64
	Generation     uint64
	MetadataUUID   [16]byte
	Reserved       [944]byte
}

// BTRFS_DEVICE_PATH_NAME_MAX from kernel headers
const devicePathNameMax = 1024

// btrfsIoctlDevInfoArgs for BTRFS_IOC_DEV_INFO
type btrfsIoctlDevInfoArgs struct {
	DevID      uint64
	UUID       [16]byte
	BytesUsed  uint64
	TotalBytes uint64
	FSID       [16]byte
	Unused     [377]uint64
	Path       [devicePathNameMax]byte
}

// btrfsIoctlSpaceArgs for BTRFS_IOC_SPACE_INFO
type btrfsIoctlSpaceArgs struct {
	SpaceSlots  uint64
	TotalSpaces uint64
}

var (
	ioctlFsInfo    = ioctl.IOR(btrfsIoctlMagic, 31, unsafe.Sizeof(btrfsIoctlFsInfoArgs{}))
	ioctlDevInfo   = ioctl.IOWR(btrfsIoctlMagic, 30, unsafe.Sizeof(btrfsIoctlDevInfoArgs{}))
	ioctlSpaceInfo = ioctl.IOWR(btrfsIoctlMagic, 20, unsafe.Sizeof(btrfsIoctlSpaceArgs{}))
)

// Block group type flags
const (
	blockGroupData     = 1 << 0
	blockGroupSystem   = 1 << 1
	blockGroupMetadata = 1 << 2
	blockGroupRaid0    = 1 << 3
	blockGroupRaid1    = 1 << 4
	blockGroupDup      = 1 << 5
	blockGroupRaid10   = 1 << 6
	blockGroupRaid5    = 1 << 7
	blockGroupRaid6    = 1 << 8
	blockGroupRaid1C3  = 1 << 9
	blockGroupRaid1C4  = 1 << 10
	spaceInfoGlobalRsv = 1 << 49 // BTRFS_SPACE_INFO_GLOBAL_RSV
)

// FilesystemInfo contains basic filesystem identity from ioctl
type FilesystemInfo struct {
	UUID         string
	MetadataUUID string
	NumDevices   uint64
	NodeSize     uint32
	SectorSize   uint32
	Generation   uint64
}

// DeviceInfo contains one member device's identity and usage
type DeviceInfo struct {
	DevID      uint64
	UUID       string
	BytesUsed  uint64
	TotalBytes uint64
	Path       string
}

// SpaceInfo contains one allocation group's usage
type SpaceInfo struct {
	Type       string // "Data", "Metadata", "System", "GlobalReserve"
	Profile    string // "single", "DUP", "RAID1", etc.
	TotalBytes uint64
	UsedBytes  uint64
}

// GetFilesystemAndDeviceInfo reads filesystem identity and per-device
// usage in a single file open. It fails if path is not on btrfs.
func GetFilesystemAndDeviceInfo(path string) (*FilesystemInfo, []*DeviceInfo, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open path: %w", err)
	}
	defer f.Close()

	var fsArgs btrfsIoctlFsInfoArgs
	if err := ioctl.Do(f, ioctlFsInfo, &fsArgs); err != nil {
		return nil, nil, fmt.Errorf("not a btrfs filesystem: %w", err)
	}

	fsInfo := &FilesystemInfo{
		UUID:       formatUUID(fsArgs.FSID),
		NumDevices: fsArgs.NumDevices,
		NodeSize:   fsArgs.NodeSize,
		SectorSize: fsArgs.SectorSize,
		Generation: fsArgs.Generation,
	}
	if !isZeroUUID(fsArgs.MetadataUUID) && fsArgs.MetadataUUID != fsArgs.FSID {
		fsInfo.MetadataUUID = formatUUID(fsArgs.MetadataUUID)
	}

	// Device IDs are sparse after removals; probe up to MaxID.
	var devices []*DeviceInfo
	for devID := uint64(1); devID <= fsArgs.MaxID; devID++ {
		var args btrfsIoctlDevInfoArgs
		args.DevID = devID

		if err := ioctl.Do(f, ioctlDevInfo, &args); err != nil {
			continue // device ID doesn't exist
		}

		pathLen := 0
		for i, b := range args.Path {
			if b == 0 {
				pathLen = i
				break
			}
		}

		devices = append(devices, &DeviceInfo{
			DevID:      args.DevID,
			UUID:       formatUUID(args.UUID),
			BytesUsed:  args.BytesUsed,
			TotalBytes: args.TotalBytes,
			Path:       string(args.Path[:pathLen]),
		})

		if uint64(len(devices)) >= fsArgs.NumDevices {
			break
		}
	}

	return fsInfo, devices, nil
}

// GetSpaceInfo reads allocation group usage via BTRFS_IOC_SPACE_INFO.
func GetSpaceInfo(path string) ([]*SpaceInfo, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open path: %w", err)
	}
	defer f.Close()

	// First call with zero slots reports how many spaces exist.
	var args btrfsIoctlSpaceArgs
	if err := ioctl.Do(f, ioctlSpaceInfo, &args); err != nil {
		return nil, fmt.Errorf("SPACE_INFO ioctl (count): %w", err)
	}

	if args.TotalSpaces == 0 {
		return nil, nil
	}

	// The ioctl returns btrfsIoctlSpaceArgs followed by TotalSpaces
	// 24-byte space entries.
	bufSize := 16 + args.TotalSpaces*24
	buf := make([]byte, bufSize)
	binary.LittleEndian.PutUint64(buf[0:8], args.TotalSpaces)

	if err := ioctl.Ioctl(f, ioctlSpaceInfo, uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return nil, fmt.Errorf("SPACE_INFO ioctl (data): %w", err)
	}

	totalSpaces := binary.LittleEndian.Uint64(buf[8:16])
	var spaces []*SpaceInfo

	for i := uint64(0); i < totalSpaces; i++ {
		offset := 16 + i*24
		flags := binary.LittleEndian.Uint64(buf[offset : offset+8])
		total := binary.LittleEndian.Uint64(buf[offset+8 : offset+16])
		used := binary.LittleEndian.Uint64(buf[offset+16 : offset+24])

		spaces = append(spaces, &SpaceInfo{
			Type:       blockGroupType(flags),
			Profile:    blockGroupProfile(flags),
			TotalBytes: total,
			UsedBytes:  used,
		})
	}

	return spaces, nil
}

func blockGroupType(flags uint64) string {
	if flags&spaceInfoGlobalRsv != 0 {
		return "GlobalReserve"
	}
	if flags&blockGroupData != 0 {
		return "Data"
	}
	if flags&blockGroupMetadata != 0 {
		return "Metadata"
	}
	if flags&blockGroupSystem != 0 {
		return "System"
	}
	return "unknown"
}

func blockGroupProfile(flags uint64) string {
	switch {
	case flags&blockGroupRaid1C4 != 0:
		return "RAID1C4"
	case flags&blockGroupRaid1C3 != 0:
		return "RAID1C3"
	case flags&blockGroupRaid6 != 0:
		return "RAID6"
	case flags&blockGroupRaid5 != 0:
		return "RAID5"
	case flags&blockGroupRaid10 != 0:
		return "RAID10"
	case flags&blockGroupRaid1 != 0:
		return "RAID1"
	case flags&blockGroupRaid0 != 0:
		return "RAID0"
	case flags&blockGroupDup != 0:
		return "DUP"
	default:
		return "single"
	}
}
