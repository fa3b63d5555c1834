package btrfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/dennwc/ioctl"
)

// btrfs ioctl magic number
const btrfsIoctlMagic = 0x94

// Well-known tree and object IDs
const (
	rootTreeObjectID  = 1
	fsTreeObjectID    = 5
	firstFreeObjectID = 256
)

// Item key types in the root tree
const (
	rootItemKey    = 132
	rootBackrefKey = 144
)

// Root flags
const rootSubvolReadonly = 1 << 0

const searchKeySize = 104
const searchBufSize = 4096 - searchKeySize

// btrfsIoctlSearchKey is the search parameters
type btrfsIoctlSearchKey struct {
	TreeID      uint64
	MinObjectID uint64
	MaxObjectID uint64
	MinOffset   uint64
	MaxOffset   uint64
	MinTransID  uint64
	MaxTransID  uint64
	MinType     uint32
	MaxType     uint32
	NrItems     uint32
	_unused     uint32
	_unused1    uint64
	_unused2    uint64
	_unused3    uint64
	_unused4    uint64
}

// btrfsIoctlSearchArgs is the full search ioctl args
type btrfsIoctlSearchArgs struct {
	Key btrfsIoctlSearchKey
	Buf [searchBufSize]byte
}

// btrfsSearchHeader is the header for each search result item
type btrfsSearchHeader struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Len      uint32
}

// searchResult holds a single search result
type searchResult struct {
	Header btrfsSearchHeader
	Data   []byte
}

const inoLookupPathMax = 4080

// btrfsIoctlInoLookupArgs matches struct btrfs_ioctl_ino_lookup_args
type btrfsIoctlInoLookupArgs struct {
	TreeID   uint64
	ObjectID uint64
	Name     [inoLookupPathMax]byte
}

var (
	ioctlTreeSearch = ioctl.IOWR(btrfsIoctlMagic, 17, unsafe.Sizeof(btrfsIoctlSearchArgs{}))
	ioctlInoLookup  = ioctl.IOWR(btrfsIoctlMagic, 18, unsafe.Sizeof(btrfsIoctlInoLookupArgs{}))
)

// rootItem is one subvolume's ROOT_ITEM, parsed from the root tree.
type rootItem struct {
	ID           uint64
	ParentID     uint64 // from the key offset field
	Generation   uint64
	Flags        uint64
	UUID         [16]byte
	ParentUUID   [16]byte
	ReceivedUUID [16]byte
	CTime        time.Time
	OTime        time.Time // creation time
	Path         string    // resolved relative to the filesystem root
}

// IsReadonly returns true if the subvolume is read-only
func (r *rootItem) IsReadonly() bool {
	return r.Flags&rootSubvolReadonly != 0
}

// UUIDString returns the UUID as a string
func (r *rootItem) UUIDString() string {
	return formatUUID(r.UUID)
}

// ParentUUIDString returns the parent UUID as a string, or empty if not set
func (r *rootItem) ParentUUIDString() string {
	if isZeroUUID(r.ParentUUID) {
		return ""
	}
	return formatUUID(r.ParentUUID)
}

func isZeroUUID(uuid [16]byte) bool {
	for _, b := range uuid {
		if b != 0 {
			return false
		}
	}
	return true
}

func formatUUID(uuid [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.BigEndian.Uint32(uuid[0:4]),
		binary.BigEndian.Uint16(uuid[4:6]),
		binary.BigEndian.Uint16(uuid[6:8]),
		binary.BigEndian.Uint16(uuid[8:10]),
		uuid[10:16])
}

// subvolumeIDForPath returns the ID of the subvolume containing path.
// A zero tree ID in INO_LOOKUP makes the kernel fill in the tree of the
// opened inode.
func subvolumeIDForPath(path string) (uint64, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	args := btrfsIoctlInoLookupArgs{
		TreeID:   0,
		ObjectID: firstFreeObjectID,
	}
	if err := ioctl.Do(f, ioctlInoLookup, &args); err != nil {
		return 0, fmt.Errorf("ino_lookup ioctl: %w", err)
	}
	return args.TreeID, nil
}

// listSubvolumes lists all subvolumes of the filesystem containing
// fsPath using the tree search ioctl.
func listSubvolumes(fsPath string) ([]rootItem, error) {
	f, err := os.OpenFile(fsPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open filesystem: %w", err)
	}
	defer f.Close()

	subvolumes, err := listSubvolumesFromFile(f)
	if err != nil {
		return nil, err
	}

	// Resolve names via ROOT_BACKREF entries. Paths are optional;
	// continue without them if the search fails.
	pathMap, err := subvolumePaths(f)
	if err != nil {
		return subvolumes, nil
	}

	for i := range subvolumes {
		if path, ok := pathMap[subvolumes[i].ID]; ok {
			subvolumes[i].Path = path
		}
	}

	return subvolumes, nil
}

func listSubvolumesFromFile(f *os.File) ([]rootItem, error) {
	// ROOT_ITEM entries: 5 is the FS tree root, 256+ are subvolumes.
	results, err := treeSearch(f, rootTreeObjectID, fsTreeObjectID, ^uint64(0), rootItemKey, rootItemKey, 0, ^uint64(0))
	if err != nil {
		return nil, fmt.Errorf("tree search: %w", err)
	}

	var subvolumes []rootItem
	for _, r := range results {
		if r.Header.Type != rootItemKey {
			continue
		}

		item, err := parseRootItem(r.Header.ObjectID, r.Header.Offset, r.Data)
		if err != nil {
			continue // skip malformed entries
		}

		subvolumes = append(subvolumes, *item)
	}

	return subvolumes, nil
}

// subvolumePaths builds a map of subvolume ID to path from ROOT_BACKREF
// entries, walking parents up to the top-level tree.
func subvolumePaths(f *os.File) (map[uint64]string, error) {
	results, err := treeSearch(f, rootTreeObjectID, firstFreeObjectID, ^uint64(0), rootBackrefKey, rootBackrefKey, 0, ^uint64(0))
	if err != nil {
		return nil, fmt.Errorf("tree search for backrefs: %w", err)
	}

	// ROOT_BACKREF data: dirid u64, sequence u64, name_len u16, name.
	type backref struct {
		parentID uint64
		name     string
	}
	backrefs := make(map[uint64]backref)

	for _, r := range results {
		if r.Header.Type != rootBackrefKey || len(r.Data) < 18 {
			continue
		}

		nameLen := binary.LittleEndian.Uint16(r.Data[16:18])
		if len(r.Data) < 18+int(nameLen) {
			continue
		}
		name := string(r.Data[18 : 18+nameLen])

		backrefs[r.Header.ObjectID] = backref{
			parentID: r.Header.Offset,
			name:     name,
		}
	}

	pathMap := make(map[uint64]string)
	pathMap[fsTreeObjectID] = "/"

	var resolvePath func(id uint64, visited map[uint64]bool) string
	resolvePath = func(id uint64, visited map[uint64]bool) string {
		if id == fsTreeObjectID {
			return ""
		}
		if path, ok := pathMap[id]; ok {
			return path
		}
		if visited[id] {
			return "" // cycle
		}
		visited[id] = true

		br, ok := backrefs[id]
		if !ok {
			return ""
		}

		parentPath := resolvePath(br.parentID, visited)
		if parentPath == "" {
			return br.name
		}
		return parentPath + "/" + br.name
	}

	for id := range backrefs {
		visited := make(map[uint64]bool)
		pathMap[id] = resolvePath(id, visited)
	}

	return pathMap, nil
}

// parseRootItem parses a ROOT_ITEM from raw tree data.
// On-disk layout (offsets within the item):
//
//	0    inode_item (160 bytes)
//	160  generation u64
//	208  flags u64
//	247  uuid, parent_uuid, received_uuid (16 bytes each)
//	295  ctransid, otransid, stransid, rtransid (u64 each)
//	327  ctime, otime, stime, rtime (12-byte timespec each)
//
// Items shorter than 375 bytes are the pre-UUID disk format; their
// identity fields stay zero.
func parseRootItem(objectID, offset uint64, data []byte) (*rootItem, error) {
	if len(data) < 239 {
		return nil, fmt.Errorf("root item too small: %d bytes", len(data))
	}

	item := &rootItem{
		ID:         objectID,
		ParentID:   offset,
		Generation: binary.LittleEndian.Uint64(data[160:168]),
		Flags:      binary.LittleEndian.Uint64(data[208:216]),
	}

	if len(data) >= 375 {
		copy(item.UUID[:], data[247:263])
		copy(item.ParentUUID[:], data[263:279])
		copy(item.ReceivedUUID[:], data[279:295])

		item.CTime = parseTimespec(data[327:339])
		item.OTime = parseTimespec(data[339:351])
	}

	return item, nil
}

// parseTimespec parses a btrfs_timespec (8 byte seconds + 4 byte nsec)
func parseTimespec(data []byte) time.Time {
	if len(data) < 12 {
		return time.Time{}
	}
	sec := int64(binary.LittleEndian.Uint64(data[0:8]))
	nsec := int64(binary.LittleEndian.Uint32(data[8:12]))

	if sec <= 0 {
		return time.Time{}
	}

	return time.Unix(sec, nsec)
}

// treeSearch performs a TREE_SEARCH ioctl, paging through the results
// until the key range is exhausted.
func treeSearch(f *os.File, treeID uint64, minObjID, maxObjID uint64, minType, maxType uint32, minOffset, maxOffset uint64) ([]searchResult, error) {
	var results []searchResult

	args := btrfsIoctlSearchArgs{
		Key: btrfsIoctlSearchKey{
			TreeID:      treeID,
			MinObjectID: minObjID,
			MaxObjectID: maxObjID,
			MinOffset:   minOffset,
			MaxOffset:   maxOffset,
			MinTransID:  0,
			MaxTransID:  ^uint64(0),
			MinType:     minType,
			MaxType:     maxType,
			NrItems:     4096,
		},
	}

	for {
		if err := ioctl.Do(f, ioctlTreeSearch, &args); err != nil {
			return nil, fmt.Errorf("tree search ioctl: %w", err)
		}

		if args.Key.NrItems == 0 {
			break
		}

		offset := 0
		var lastHdr btrfsSearchHeader
		gotItems := false
		for i := uint32(0); i < args.Key.NrItems; i++ {
			if offset+int(unsafe.Sizeof(btrfsSearchHeader{})) > len(args.Buf) {
				break
			}

			hdr := btrfsSearchHeader{
				TransID:  binary.LittleEndian.Uint64(args.Buf[offset:]),
				ObjectID: binary.LittleEndian.Uint64(args.Buf[offset+8:]),
				Offset:   binary.LittleEndian.Uint64(args.Buf[offset+16:]),
				Type:     binary.LittleEndian.Uint32(args.Buf[offset+24:]),
				Len:      binary.LittleEndian.Uint32(args.Buf[offset+28:]),
			}
			offset += 32 // sizeof header

			if offset+int(hdr.Len) > len(args.Buf) {
				break
			}

			if hdr.Type >= minType && hdr.Type <= maxType {
				data := make([]byte, hdr.Len)
				copy(data, args.Buf[offset:offset+int(hdr.Len)])
				results = append(results, searchResult{
					Header: hdr,
					Data:   data,
				})
			}
			offset += int(hdr.Len)

			lastHdr = hdr
			gotItems = true
		}

		if !gotItems {
			break
		}

		// Advance the search key past the last item seen.
		if lastHdr.Offset == ^uint64(0) {
			if lastHdr.Type == maxType {
				if lastHdr.ObjectID == maxObjID {
					break
				}
				args.Key.MinObjectID = lastHdr.ObjectID + 1
				args.Key.MinType = minType
			} else {
				args.Key.MinType = lastHdr.Type + 1
			}
			args.Key.MinOffset = 0
		} else {
			args.Key.MinObjectID = lastHdr.ObjectID
			args.Key.MinType = lastHdr.Type
			args.Key.MinOffset = lastHdr.Offset + 1
		}
		args.Key.NrItems = 4096
	}

	return results, nil
}
