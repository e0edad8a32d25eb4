package hadoop

// ClientProtocol identifies the name-node protocol in request headers and the
// connection context.
const (
	ClientProtocol        = "org.apache.hadoop.hdfs.protocol.ClientProtocol"
	ClientProtocolVersion = 1
)

// Create flags (CreateFlagProto), combined as a bit mask.
const (
	CreateFlagCreate    uint32 = 0x01
	CreateFlagOverwrite uint32 = 0x02
	CreateFlagAppend    uint32 = 0x04
)

// ============================================================================
// getFileInfo
// ============================================================================

type GetFileInfoRequest struct {
	Src string
}

func (m *GetFileInfoRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	return e.buf
}

func (m *GetFileInfoRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Src = f.string()
		}
		return nil
	})
}

// GetFileInfoResponse carries a nil Fs when the path does not exist.
type GetFileInfoResponse struct {
	Fs *HdfsFileStatus
}

func (m *GetFileInfoResponse) Marshal() []byte {
	var e encoder
	if m.Fs != nil {
		e.message(1, m.Fs)
	}
	return e.buf
}

func (m *GetFileInfoResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Fs = &HdfsFileStatus{}
			return m.Fs.Unmarshal(f.bytes)
		}
		return nil
	})
}

// ============================================================================
// getListing
// ============================================================================

type GetListingRequest struct {
	Src          string
	StartAfter   []byte
	NeedLocation bool
}

func (m *GetListingRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.bytes(2, m.StartAfter)
	e.bool(3, m.NeedLocation)
	return e.buf
}

func (m *GetListingRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.StartAfter = f.copyBytes()
		case 3:
			m.NeedLocation = f.bool()
		}
		return nil
	})
}

// DirectoryListing is one page of a listing (DirectoryListingProto).
type DirectoryListing struct {
	PartialListing   []*HdfsFileStatus
	RemainingEntries uint32
}

func (m *DirectoryListing) Marshal() []byte {
	var e encoder
	for _, s := range m.PartialListing {
		e.message(1, s)
	}
	e.uint32(2, m.RemainingEntries)
	return e.buf
}

func (m *DirectoryListing) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			s := &HdfsFileStatus{}
			if err := s.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.PartialListing = append(m.PartialListing, s)
		case 2:
			m.RemainingEntries = f.uint32()
		}
		return nil
	})
}

// GetListingResponse carries a nil DirList when the path does not exist.
type GetListingResponse struct {
	DirList *DirectoryListing
}

func (m *GetListingResponse) Marshal() []byte {
	var e encoder
	if m.DirList != nil {
		e.message(1, m.DirList)
	}
	return e.buf
}

func (m *GetListingResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.DirList = &DirectoryListing{}
			return m.DirList.Unmarshal(f.bytes)
		}
		return nil
	})
}

// ============================================================================
// Namespace mutations
// ============================================================================

type MkdirsRequest struct {
	Src          string
	Masked       FsPermission
	CreateParent bool
}

func (m *MkdirsRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.message(2, &m.Masked)
	e.bool(3, m.CreateParent)
	return e.buf
}

func (m *MkdirsRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			return m.Masked.Unmarshal(f.bytes)
		case 3:
			m.CreateParent = f.bool()
		}
		return nil
	})
}

// BoolResponse is the shape shared by every response that only reports a
// result flag (mkdirs, rename, delete, setReplication, complete, truncate).
type BoolResponse struct {
	Result bool
}

func (m *BoolResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Result)
	return e.buf
}

func (m *BoolResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Result = f.bool()
		}
		return nil
	})
}

type RenameRequest struct {
	Src string
	Dst string
}

func (m *RenameRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.string(2, m.Dst)
	return e.buf
}

func (m *RenameRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.Dst = f.string()
		}
		return nil
	})
}

type DeleteRequest struct {
	Src       string
	Recursive bool
}

func (m *DeleteRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.bool(2, m.Recursive)
	return e.buf
}

func (m *DeleteRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.Recursive = f.bool()
		}
		return nil
	})
}

type SetPermissionRequest struct {
	Src        string
	Permission FsPermission
}

func (m *SetPermissionRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.message(2, &m.Permission)
	return e.buf
}

func (m *SetPermissionRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			return m.Permission.Unmarshal(f.bytes)
		}
		return nil
	})
}

// SetOwnerRequest leaves a field unchanged on the server when it is empty.
type SetOwnerRequest struct {
	Src       string
	Username  string
	Groupname string
}

func (m *SetOwnerRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.optString(2, m.Username)
	e.optString(3, m.Groupname)
	return e.buf
}

func (m *SetOwnerRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.Username = f.string()
		case 3:
			m.Groupname = f.string()
		}
		return nil
	})
}

type SetReplicationRequest struct {
	Src         string
	Replication uint32
}

func (m *SetReplicationRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.uint32(2, m.Replication)
	return e.buf
}

func (m *SetReplicationRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.Replication = f.uint32()
		}
		return nil
	})
}

type SetTimesRequest struct {
	Src   string
	Mtime uint64
	Atime uint64
}

func (m *SetTimesRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.uint64(2, m.Mtime)
	e.uint64(3, m.Atime)
	return e.buf
}

func (m *SetTimesRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.Mtime = f.uint64()
		case 3:
			m.Atime = f.uint64()
		}
		return nil
	})
}

type ConcatRequest struct {
	Trg  string
	Srcs []string
}

func (m *ConcatRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Trg)
	for _, s := range m.Srcs {
		e.string(2, s)
	}
	return e.buf
}

func (m *ConcatRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Trg = f.string()
		case 2:
			m.Srcs = append(m.Srcs, f.string())
		}
		return nil
	})
}

type TruncateRequest struct {
	Src        string
	NewLength  uint64
	ClientName string
}

func (m *TruncateRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.uint64(2, m.NewLength)
	e.string(3, m.ClientName)
	return e.buf
}

func (m *TruncateRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.NewLength = f.uint64()
		case 3:
			m.ClientName = f.string()
		}
		return nil
	})
}

// ============================================================================
// Block locations and aggregate queries
// ============================================================================

type GetBlockLocationsRequest struct {
	Src    string
	Offset uint64
	Length uint64
}

func (m *GetBlockLocationsRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.uint64(2, m.Offset)
	e.uint64(3, m.Length)
	return e.buf
}

func (m *GetBlockLocationsRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.Offset = f.uint64()
		case 3:
			m.Length = f.uint64()
		}
		return nil
	})
}

type GetBlockLocationsResponse struct {
	Locations *LocatedBlocks
}

func (m *GetBlockLocationsResponse) Marshal() []byte {
	var e encoder
	if m.Locations != nil {
		e.message(1, m.Locations)
	}
	return e.buf
}

func (m *GetBlockLocationsResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Locations = &LocatedBlocks{}
			return m.Locations.Unmarshal(f.bytes)
		}
		return nil
	})
}

type GetContentSummaryRequest struct {
	Path string
}

func (m *GetContentSummaryRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Path)
	return e.buf
}

func (m *GetContentSummaryRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Path = f.string()
		}
		return nil
	})
}

type GetContentSummaryResponse struct {
	Summary ContentSummary
}

func (m *GetContentSummaryResponse) Marshal() []byte {
	var e encoder
	e.message(1, &m.Summary)
	return e.buf
}

func (m *GetContentSummaryResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			return m.Summary.Unmarshal(f.bytes)
		}
		return nil
	})
}

// GetFsStatsResponse reports cluster capacity (GetFsStatsResponseProto).
type GetFsStatsResponse struct {
	Capacity        uint64
	Used            uint64
	Remaining       uint64
	UnderReplicated uint64
	CorruptBlocks   uint64
	MissingBlocks   uint64
}

func (m *GetFsStatsResponse) Marshal() []byte {
	var e encoder
	e.uint64(1, m.Capacity)
	e.uint64(2, m.Used)
	e.uint64(3, m.Remaining)
	e.uint64(4, m.UnderReplicated)
	e.uint64(5, m.CorruptBlocks)
	e.uint64(6, m.MissingBlocks)
	return e.buf
}

func (m *GetFsStatsResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Capacity = f.uint64()
		case 2:
			m.Used = f.uint64()
		case 3:
			m.Remaining = f.uint64()
		case 4:
			m.UnderReplicated = f.uint64()
		case 5:
			m.CorruptBlocks = f.uint64()
		case 6:
			m.MissingBlocks = f.uint64()
		}
		return nil
	})
}

type GetServerDefaultsResponse struct {
	ServerDefaults FsServerDefaults
}

func (m *GetServerDefaultsResponse) Marshal() []byte {
	var e encoder
	e.message(1, &m.ServerDefaults)
	return e.buf
}

func (m *GetServerDefaultsResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			return m.ServerDefaults.Unmarshal(f.bytes)
		}
		return nil
	})
}

// ============================================================================
// Write path
// ============================================================================

type CreateRequest struct {
	Src          string
	Masked       FsPermission
	ClientName   string
	CreateFlag   uint32
	CreateParent bool
	Replication  uint32
	BlockSize    uint64
}

func (m *CreateRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.message(2, &m.Masked)
	e.string(3, m.ClientName)
	e.uint32(4, m.CreateFlag)
	e.bool(5, m.CreateParent)
	e.uint32(6, m.Replication)
	e.uint64(7, m.BlockSize)
	return e.buf
}

func (m *CreateRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			return m.Masked.Unmarshal(f.bytes)
		case 3:
			m.ClientName = f.string()
		case 4:
			m.CreateFlag = f.uint32()
		case 5:
			m.CreateParent = f.bool()
		case 6:
			m.Replication = f.uint32()
		case 7:
			m.BlockSize = f.uint64()
		}
		return nil
	})
}

type CreateResponse struct {
	Fs *HdfsFileStatus
}

func (m *CreateResponse) Marshal() []byte {
	var e encoder
	if m.Fs != nil {
		e.message(1, m.Fs)
	}
	return e.buf
}

func (m *CreateResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Fs = &HdfsFileStatus{}
			return m.Fs.Unmarshal(f.bytes)
		}
		return nil
	})
}

type AppendRequest struct {
	Src        string
	ClientName string
	Flag       uint32
}

func (m *AppendRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.string(2, m.ClientName)
	e.optUint32(3, m.Flag)
	return e.buf
}

func (m *AppendRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.ClientName = f.string()
		case 3:
			m.Flag = f.uint32()
		}
		return nil
	})
}

// AppendResponse carries the partial last block, if any, that the client must
// continue writing into.
type AppendResponse struct {
	Block *LocatedBlock
	Stat  *HdfsFileStatus
}

func (m *AppendResponse) Marshal() []byte {
	var e encoder
	if m.Block != nil {
		e.message(1, m.Block)
	}
	if m.Stat != nil {
		e.message(2, m.Stat)
	}
	return e.buf
}

func (m *AppendResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Block = &LocatedBlock{}
			return m.Block.Unmarshal(f.bytes)
		case 2:
			m.Stat = &HdfsFileStatus{}
			return m.Stat.Unmarshal(f.bytes)
		}
		return nil
	})
}

type AddBlockRequest struct {
	Src          string
	ClientName   string
	Previous     *ExtendedBlock
	ExcludeNodes []*DatanodeInfo
	FileID       uint64
}

func (m *AddBlockRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.string(2, m.ClientName)
	if m.Previous != nil {
		e.message(3, m.Previous)
	}
	for _, n := range m.ExcludeNodes {
		e.message(4, n)
	}
	e.optUint64(5, m.FileID)
	return e.buf
}

func (m *AddBlockRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.ClientName = f.string()
		case 3:
			m.Previous = &ExtendedBlock{}
			return m.Previous.Unmarshal(f.bytes)
		case 4:
			n := &DatanodeInfo{}
			if err := n.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.ExcludeNodes = append(m.ExcludeNodes, n)
		case 5:
			m.FileID = f.uint64()
		}
		return nil
	})
}

type AddBlockResponse struct {
	Block LocatedBlock
}

func (m *AddBlockResponse) Marshal() []byte {
	var e encoder
	e.message(1, &m.Block)
	return e.buf
}

func (m *AddBlockResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			return m.Block.Unmarshal(f.bytes)
		}
		return nil
	})
}

type CompleteRequest struct {
	Src        string
	ClientName string
	Last       *ExtendedBlock
	FileID     uint64
}

func (m *CompleteRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Src)
	e.string(2, m.ClientName)
	if m.Last != nil {
		e.message(3, m.Last)
	}
	e.optUint64(4, m.FileID)
	return e.buf
}

func (m *CompleteRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Src = f.string()
		case 2:
			m.ClientName = f.string()
		case 3:
			m.Last = &ExtendedBlock{}
			return m.Last.Unmarshal(f.bytes)
		case 4:
			m.FileID = f.uint64()
		}
		return nil
	})
}

type AbandonBlockRequest struct {
	B      ExtendedBlock
	Src    string
	Holder string
	FileID uint64
}

func (m *AbandonBlockRequest) Marshal() []byte {
	var e encoder
	e.message(1, &m.B)
	e.string(2, m.Src)
	e.string(3, m.Holder)
	e.optUint64(4, m.FileID)
	return e.buf
}

func (m *AbandonBlockRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.B.Unmarshal(f.bytes)
		case 2:
			m.Src = f.string()
		case 3:
			m.Holder = f.string()
		case 4:
			m.FileID = f.uint64()
		}
		return nil
	})
}

type RenewLeaseRequest struct {
	ClientName string
}

func (m *RenewLeaseRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.ClientName)
	return e.buf
}

func (m *RenewLeaseRequest) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.ClientName = f.string()
		}
		return nil
	})
}
