package metadata

import (
	"os"
	"time"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
)

// Kind is the type of a filesystem entry.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// PathInfo is a snapshot of a path's metadata, fetched from the name node on
// every call.
type PathInfo struct {
	// Name is the full path of the entry
	Name string

	// Kind is file, directory or symlink
	Kind Kind

	// Size is the file length in bytes (0 for directories)
	Size int64

	// BlockSize is the block size of the file (0 for directories)
	BlockSize int64

	// Replication is the replication factor of the file (0 for directories)
	Replication int

	// Owner is the owning user
	Owner string

	// Group is the owning group
	Group string

	// Permission holds the permission bits and os.ModeSticky
	Permission os.FileMode

	// ModTime is the last modification time
	ModTime time.Time

	// AccessTime is the last access time (files only)
	AccessTime time.Time

	// FileID is the name node inode id
	FileID uint64

	// Children is the number of entries of a directory, -1 when unknown
	Children int
}

// IsDir reports whether the entry is a directory.
func (p *PathInfo) IsDir() bool {
	return p.Kind == KindDirectory
}

// Mode returns the permission bits plus os.ModeDir for directories.
func (p *PathInfo) Mode() os.FileMode {
	if p.IsDir() {
		return p.Permission | os.ModeDir
	}
	return p.Permission
}

// BlockLocation describes one block of a file and where its replicas live.
type BlockLocation struct {
	// Offset is the position of the block within the file
	Offset int64

	// Length is the number of bytes in the block
	Length int64

	// Hosts are the host names of the data nodes holding a replica
	Hosts []string

	// Names are the ip:port transfer addresses of the same data nodes
	Names []string

	// Corrupt is set when the name node knows every replica is corrupt
	Corrupt bool

	// Block is the protocol-level description used to stream the block
	Block *hadoop.LocatedBlock
}

// ContentSummary aggregates the size of a subtree.
type ContentSummary struct {
	Length         int64
	FileCount      int64
	DirectoryCount int64

	// Quota is the namespace quota, -1 when unset
	Quota int64

	// SpaceConsumed counts every replica
	SpaceConsumed int64

	// SpaceQuota is the disk space quota, -1 when unset
	SpaceQuota int64
}

// FsStatus reports the capacity of the cluster.
type FsStatus struct {
	Capacity        int64
	Used            int64
	Remaining       int64
	UnderReplicated int64
	CorruptBlocks   int64
	MissingBlocks   int64
}

// ServerDefaults are the cluster-wide defaults for new files.
type ServerDefaults struct {
	BlockSize        int64
	BytesPerChecksum int
	WritePacketSize  int
	Replication      int
	FileBufferSize   int
	ChecksumType     hadoop.ChecksumType

	// TrashInterval is how long deleted files stay in the trash, 0 when
	// trash is disabled
	TrashInterval time.Duration
}

// CreateOptions controls Create.
type CreateOptions struct {
	// Permission of the new file. Default: 0644
	Permission os.FileMode

	// Overwrite replaces an existing file instead of failing with ExistsError
	Overwrite bool

	// CreateParent creates missing parent directories
	CreateParent bool

	// Replication of the new file. 0 selects the cluster default
	Replication int

	// BlockSize of the new file. 0 selects the cluster default
	BlockSize int64
}

const stickyBit = 0o1000

func permissionFromWire(perm uint32) os.FileMode {
	mode := os.FileMode(perm & 0o777)
	if perm&stickyBit != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func permissionToWire(mode os.FileMode) hadoop.FsPermission {
	perm := uint32(mode.Perm())
	if mode&os.ModeSticky != 0 {
		perm |= stickyBit
	}
	return hadoop.FsPermission{Perm: perm}
}

func millis(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}

// pathInfo converts a file status. name is the full path of the entry.
func pathInfo(name string, st *hadoop.HdfsFileStatus) *PathInfo {
	info := &PathInfo{
		Name:        name,
		Size:        int64(st.Length),
		BlockSize:   int64(st.BlockSize),
		Replication: int(st.BlockReplication),
		Owner:       st.Owner,
		Group:       st.Group,
		Permission:  permissionFromWire(st.Permission.Perm),
		ModTime:     millis(st.ModificationTime),
		AccessTime:  millis(st.AccessTime),
		FileID:      st.FileID,
		Children:    int(st.ChildrenNum),
	}
	switch st.FileType {
	case hadoop.FileTypeDir:
		info.Kind = KindDirectory
	case hadoop.FileTypeSymlink:
		info.Kind = KindSymlink
	default:
		info.Kind = KindFile
	}
	return info
}

func blockLocation(b *hadoop.LocatedBlock) BlockLocation {
	loc := BlockLocation{
		Offset:  int64(b.Offset),
		Length:  int64(b.B.NumBytes),
		Corrupt: b.Corrupt,
		Block:   b,
	}
	for _, dn := range b.Locs {
		loc.Hosts = append(loc.Hosts, dn.ID.HostName)
		loc.Names = append(loc.Names, dn.ID.XferAddr())
	}
	return loc
}
