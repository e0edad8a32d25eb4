package hadoop

import (
	"net"
	"strconv"
)

// FileType is HdfsFileStatusProto.FileType.
type FileType int32

const (
	FileTypeDir     FileType = 1
	FileTypeFile    FileType = 2
	FileTypeSymlink FileType = 3
)

// FsPermission holds the permission bits (FsPermissionProto).
type FsPermission struct {
	Perm uint32
}

func (m *FsPermission) Marshal() []byte {
	var e encoder
	e.uint32(1, m.Perm)
	return e.buf
}

func (m *FsPermission) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Perm = f.uint32()
		}
		return nil
	})
}

// Token is a security token: block access tokens and delegation tokens
// (hadoop.common.TokenProto).
type Token struct {
	Identifier []byte
	Password   []byte
	Kind       string
	Service    string
}

func (m *Token) Marshal() []byte {
	var e encoder
	e.bytes(1, m.Identifier)
	e.bytes(2, m.Password)
	e.string(3, m.Kind)
	e.string(4, m.Service)
	return e.buf
}

func (m *Token) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Identifier = f.copyBytes()
		case 2:
			m.Password = f.copyBytes()
		case 3:
			m.Kind = f.string()
		case 4:
			m.Service = f.string()
		}
		return nil
	})
}

// ExtendedBlock identifies a block within a block pool (ExtendedBlockProto).
type ExtendedBlock struct {
	PoolID          string
	BlockID         uint64
	GenerationStamp uint64
	NumBytes        uint64
}

func (m *ExtendedBlock) Marshal() []byte {
	var e encoder
	e.string(1, m.PoolID)
	e.uint64(2, m.BlockID)
	e.uint64(3, m.GenerationStamp)
	e.uint64(4, m.NumBytes)
	return e.buf
}

func (m *ExtendedBlock) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.PoolID = f.string()
		case 2:
			m.BlockID = f.uint64()
		case 3:
			m.GenerationStamp = f.uint64()
		case 4:
			m.NumBytes = f.uint64()
		}
		return nil
	})
}

// DatanodeID addresses a data node (DatanodeIDProto).
type DatanodeID struct {
	IPAddr         string
	HostName       string
	DatanodeUUID   string
	XferPort       uint32
	InfoPort       uint32
	IPCPort        uint32
	InfoSecurePort uint32
}

// XferAddr returns the ip:port address of the data transfer service.
func (m *DatanodeID) XferAddr() string {
	return net.JoinHostPort(m.IPAddr, strconv.Itoa(int(m.XferPort)))
}

func (m *DatanodeID) Marshal() []byte {
	var e encoder
	e.string(1, m.IPAddr)
	e.string(2, m.HostName)
	e.string(3, m.DatanodeUUID)
	e.uint32(4, m.XferPort)
	e.uint32(5, m.InfoPort)
	e.uint32(6, m.IPCPort)
	e.optUint32(7, m.InfoSecurePort)
	return e.buf
}

func (m *DatanodeID) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.IPAddr = f.string()
		case 2:
			m.HostName = f.string()
		case 3:
			m.DatanodeUUID = f.string()
		case 4:
			m.XferPort = f.uint32()
		case 5:
			m.InfoPort = f.uint32()
		case 6:
			m.IPCPort = f.uint32()
		case 7:
			m.InfoSecurePort = f.uint32()
		}
		return nil
	})
}

// DatanodeInfo describes a data node holding a replica (DatanodeInfoProto).
type DatanodeInfo struct {
	ID            DatanodeID
	Capacity      uint64
	DfsUsed       uint64
	Remaining     uint64
	BlockPoolUsed uint64
	LastUpdate    uint64
	XceiverCount  uint32
	Location      string
	AdminState    int32
}

func (m *DatanodeInfo) Marshal() []byte {
	var e encoder
	e.message(1, &m.ID)
	e.optUint64(2, m.Capacity)
	e.optUint64(3, m.DfsUsed)
	e.optUint64(4, m.Remaining)
	e.optUint64(5, m.BlockPoolUsed)
	e.optUint64(6, m.LastUpdate)
	e.optUint32(7, m.XceiverCount)
	e.optString(8, m.Location)
	if m.AdminState != 0 {
		e.int32(10, m.AdminState)
	}
	return e.buf
}

func (m *DatanodeInfo) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.ID.Unmarshal(f.bytes)
		case 2:
			m.Capacity = f.uint64()
		case 3:
			m.DfsUsed = f.uint64()
		case 4:
			m.Remaining = f.uint64()
		case 5:
			m.BlockPoolUsed = f.uint64()
		case 6:
			m.LastUpdate = f.uint64()
		case 7:
			m.XceiverCount = f.uint32()
		case 8:
			m.Location = f.string()
		case 10:
			m.AdminState = f.int32()
		}
		return nil
	})
}

// LocatedBlock is a block together with the data nodes holding it
// (LocatedBlockProto).
type LocatedBlock struct {
	B            ExtendedBlock
	Offset       uint64
	Locs         []*DatanodeInfo
	Corrupt      bool
	BlockToken   Token
	IsCached     []bool
	StorageTypes []int32
	StorageIDs   []string
}

func (m *LocatedBlock) Marshal() []byte {
	var e encoder
	e.message(1, &m.B)
	e.uint64(2, m.Offset)
	for _, l := range m.Locs {
		e.message(3, l)
	}
	e.bool(4, m.Corrupt)
	e.message(5, &m.BlockToken)
	if len(m.IsCached) > 0 {
		var packed []byte
		for _, c := range m.IsCached {
			packed = append(packed, boolByte(c))
		}
		e.bytes(6, packed)
	}
	for _, st := range m.StorageTypes {
		e.int32(7, st)
	}
	for _, id := range m.StorageIDs {
		e.string(8, id)
	}
	return e.buf
}

func (m *LocatedBlock) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.B.Unmarshal(f.bytes)
		case 2:
			m.Offset = f.uint64()
		case 3:
			d := &DatanodeInfo{}
			if err := d.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.Locs = append(m.Locs, d)
		case 4:
			m.Corrupt = f.bool()
		case 5:
			return m.BlockToken.Unmarshal(f.bytes)
		case 6:
			vs, err := f.varints()
			if err != nil {
				return err
			}
			for _, v := range vs {
				m.IsCached = append(m.IsCached, v != 0)
			}
		case 7:
			vs, err := f.varints()
			if err != nil {
				return err
			}
			for _, v := range vs {
				m.StorageTypes = append(m.StorageTypes, int32(v))
			}
		case 8:
			m.StorageIDs = append(m.StorageIDs, f.string())
		}
		return nil
	})
}

// End returns the offset just past the last byte of the block.
func (m *LocatedBlock) End() int64 {
	return int64(m.Offset + m.B.NumBytes)
}

// LocatedBlocks lists the blocks of a file range (LocatedBlocksProto).
type LocatedBlocks struct {
	FileLength          uint64
	Blocks              []*LocatedBlock
	UnderConstruction   bool
	LastBlock           *LocatedBlock
	IsLastBlockComplete bool
}

func (m *LocatedBlocks) Marshal() []byte {
	var e encoder
	e.uint64(1, m.FileLength)
	for _, b := range m.Blocks {
		e.message(2, b)
	}
	e.bool(3, m.UnderConstruction)
	if m.LastBlock != nil {
		e.message(4, m.LastBlock)
	}
	e.bool(5, m.IsLastBlockComplete)
	return e.buf
}

func (m *LocatedBlocks) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.FileLength = f.uint64()
		case 2:
			lb := &LocatedBlock{}
			if err := lb.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.Blocks = append(m.Blocks, lb)
		case 3:
			m.UnderConstruction = f.bool()
		case 4:
			m.LastBlock = &LocatedBlock{}
			return m.LastBlock.Unmarshal(f.bytes)
		case 5:
			m.IsLastBlockComplete = f.bool()
		}
		return nil
	})
}

// HdfsFileStatus is the status of a single path (HdfsFileStatusProto).
//
// Path holds only the local name for listing entries and is empty for
// getFileInfo replies.
type HdfsFileStatus struct {
	FileType         FileType
	Path             []byte
	Length           uint64
	Permission       FsPermission
	Owner            string
	Group            string
	ModificationTime uint64
	AccessTime       uint64
	Symlink          []byte
	BlockReplication uint32
	BlockSize        uint64
	Locations        *LocatedBlocks
	FileID           uint64
	ChildrenNum      int32
}

func (m *HdfsFileStatus) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.FileType))
	e.bytes(2, m.Path)
	e.uint64(3, m.Length)
	e.message(4, &m.Permission)
	e.string(5, m.Owner)
	e.string(6, m.Group)
	e.uint64(7, m.ModificationTime)
	e.uint64(8, m.AccessTime)
	if m.Symlink != nil {
		e.bytes(9, m.Symlink)
	}
	e.uint32(10, m.BlockReplication)
	e.uint64(11, m.BlockSize)
	if m.Locations != nil {
		e.message(12, m.Locations)
	}
	e.optUint64(13, m.FileID)
	e.int32(14, m.ChildrenNum)
	return e.buf
}

func (m *HdfsFileStatus) Unmarshal(b []byte) error {
	m.ChildrenNum = -1
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.FileType = FileType(f.int32())
		case 2:
			m.Path = f.copyBytes()
		case 3:
			m.Length = f.uint64()
		case 4:
			return m.Permission.Unmarshal(f.bytes)
		case 5:
			m.Owner = f.string()
		case 6:
			m.Group = f.string()
		case 7:
			m.ModificationTime = f.uint64()
		case 8:
			m.AccessTime = f.uint64()
		case 9:
			m.Symlink = f.copyBytes()
		case 10:
			m.BlockReplication = f.uint32()
		case 11:
			m.BlockSize = f.uint64()
		case 12:
			m.Locations = &LocatedBlocks{}
			return m.Locations.Unmarshal(f.bytes)
		case 13:
			m.FileID = f.uint64()
		case 14:
			m.ChildrenNum = f.int32()
		}
		return nil
	})
}

// ContentSummary aggregates a directory tree (ContentSummaryProto).
type ContentSummary struct {
	Length         uint64
	FileCount      uint64
	DirectoryCount uint64
	Quota          int64
	SpaceConsumed  uint64
	SpaceQuota     int64
}

func (m *ContentSummary) Marshal() []byte {
	var e encoder
	e.uint64(1, m.Length)
	e.uint64(2, m.FileCount)
	e.uint64(3, m.DirectoryCount)
	e.uint64(4, uint64(m.Quota))
	e.uint64(5, m.SpaceConsumed)
	e.uint64(6, uint64(m.SpaceQuota))
	return e.buf
}

func (m *ContentSummary) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Length = f.uint64()
		case 2:
			m.FileCount = f.uint64()
		case 3:
			m.DirectoryCount = f.uint64()
		case 4:
			m.Quota = f.int64()
		case 5:
			m.SpaceConsumed = f.uint64()
		case 6:
			m.SpaceQuota = f.int64()
		}
		return nil
	})
}

// FsServerDefaults are the cluster-wide write defaults (FsServerDefaultsProto).
type FsServerDefaults struct {
	BlockSize           uint64
	BytesPerChecksum    uint32
	WritePacketSize     uint32
	Replication         uint32
	FileBufferSize      uint32
	EncryptDataTransfer bool
	TrashInterval       uint64
	ChecksumType        ChecksumType
}

func (m *FsServerDefaults) Marshal() []byte {
	var e encoder
	e.uint64(1, m.BlockSize)
	e.uint32(2, m.BytesPerChecksum)
	e.uint32(3, m.WritePacketSize)
	e.uint32(4, m.Replication)
	e.uint32(5, m.FileBufferSize)
	e.bool(6, m.EncryptDataTransfer)
	e.uint64(7, m.TrashInterval)
	e.int32(8, int32(m.ChecksumType))
	return e.buf
}

func (m *FsServerDefaults) Unmarshal(b []byte) error {
	m.ChecksumType = ChecksumCRC32
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.BlockSize = f.uint64()
		case 2:
			m.BytesPerChecksum = f.uint32()
		case 3:
			m.WritePacketSize = f.uint32()
		case 4:
			m.Replication = f.uint32()
		case 5:
			m.FileBufferSize = f.uint32()
		case 6:
			m.EncryptDataTransfer = f.bool()
		case 7:
			m.TrashInterval = f.uint64()
		case 8:
			m.ChecksumType = ChecksumType(f.int32())
		}
		return nil
	})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
