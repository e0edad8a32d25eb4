package hadoop

import "fmt"

// DataTransferVersion is the data transfer protocol version sent in every op header.
const DataTransferVersion uint16 = 28

// Op is a data transfer opcode.
type Op byte

const (
	OpCodeWriteBlock Op = 80
	OpCodeReadBlock  Op = 81
)

func (o Op) String() string {
	switch o {
	case OpCodeWriteBlock:
		return "WRITE_BLOCK"
	case OpCodeReadBlock:
		return "READ_BLOCK"
	default:
		return fmt.Sprintf("OP(%d)", byte(o))
	}
}

// Status is the data transfer status code (datatransfer.proto Status).
type Status int32

const (
	StatusSuccess          Status = 0
	StatusError            Status = 1
	StatusErrorChecksum    Status = 2
	StatusErrorInvalid     Status = 3
	StatusErrorExists      Status = 4
	StatusErrorAccessToken Status = 5
	StatusChecksumOK       Status = 6
	StatusErrorUnsupported Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	case StatusErrorChecksum:
		return "ERROR_CHECKSUM"
	case StatusErrorInvalid:
		return "ERROR_INVALID"
	case StatusErrorExists:
		return "ERROR_EXISTS"
	case StatusErrorAccessToken:
		return "ERROR_ACCESS_TOKEN"
	case StatusChecksumOK:
		return "CHECKSUM_OK"
	case StatusErrorUnsupported:
		return "ERROR_UNSUPPORTED"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}

// BlockConstructionStage is OpWriteBlockProto.BlockConstructionStage.
type BlockConstructionStage int32

const (
	StagePipelineSetupAppend         BlockConstructionStage = 0
	StagePipelineSetupAppendRecovery BlockConstructionStage = 1
	StageDataStreaming               BlockConstructionStage = 2
	StagePipelineSetupStreamingRecov BlockConstructionStage = 3
	StagePipelineClose               BlockConstructionStage = 4
	StagePipelineCloseRecovery       BlockConstructionStage = 5
	StagePipelineSetupCreate         BlockConstructionStage = 6
)

// ============================================================================
// Operation headers
// ============================================================================

// BaseHeader names the block and carries its access token (BaseHeaderProto).
type BaseHeader struct {
	Block ExtendedBlock
	Token *Token
}

func (m *BaseHeader) Marshal() []byte {
	var e encoder
	e.message(1, &m.Block)
	if m.Token != nil {
		e.message(2, m.Token)
	}
	return e.buf
}

func (m *BaseHeader) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Block.Unmarshal(f.bytes)
		case 2:
			m.Token = &Token{}
			return m.Token.Unmarshal(f.bytes)
		}
		return nil
	})
}

type ClientOperationHeader struct {
	BaseHeader BaseHeader
	ClientName string
}

func (m *ClientOperationHeader) Marshal() []byte {
	var e encoder
	e.message(1, &m.BaseHeader)
	e.string(2, m.ClientName)
	return e.buf
}

func (m *ClientOperationHeader) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.BaseHeader.Unmarshal(f.bytes)
		case 2:
			m.ClientName = f.string()
		}
		return nil
	})
}

// OpReadBlock requests Len bytes of a block starting at Offset.
type OpReadBlock struct {
	Header        ClientOperationHeader
	Offset        uint64
	Len           uint64
	SendChecksums bool
}

func (m *OpReadBlock) Marshal() []byte {
	var e encoder
	e.message(1, &m.Header)
	e.uint64(2, m.Offset)
	e.uint64(3, m.Len)
	e.bool(4, m.SendChecksums)
	return e.buf
}

func (m *OpReadBlock) Unmarshal(b []byte) error {
	m.SendChecksums = true
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Header.Unmarshal(f.bytes)
		case 2:
			m.Offset = f.uint64()
		case 3:
			m.Len = f.uint64()
		case 4:
			m.SendChecksums = f.bool()
		}
		return nil
	})
}

// OpWriteBlock sets up a write pipeline. Targets are the downstream data nodes,
// not including the one the request is sent to.
type OpWriteBlock struct {
	Header                ClientOperationHeader
	Targets               []*DatanodeInfo
	Source                *DatanodeInfo
	Stage                 BlockConstructionStage
	PipelineSize          uint32
	MinBytesRcvd          uint64
	MaxBytesRcvd          uint64
	LatestGenerationStamp uint64
	RequestedChecksum     Checksum
}

func (m *OpWriteBlock) Marshal() []byte {
	var e encoder
	e.message(1, &m.Header)
	for _, t := range m.Targets {
		e.message(2, t)
	}
	if m.Source != nil {
		e.message(3, m.Source)
	}
	e.int32(4, int32(m.Stage))
	e.uint32(5, m.PipelineSize)
	e.uint64(6, m.MinBytesRcvd)
	e.uint64(7, m.MaxBytesRcvd)
	e.uint64(8, m.LatestGenerationStamp)
	e.message(9, &m.RequestedChecksum)
	return e.buf
}

func (m *OpWriteBlock) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Header.Unmarshal(f.bytes)
		case 2:
			t := &DatanodeInfo{}
			if err := t.Unmarshal(f.bytes); err != nil {
				return err
			}
			m.Targets = append(m.Targets, t)
		case 3:
			m.Source = &DatanodeInfo{}
			return m.Source.Unmarshal(f.bytes)
		case 4:
			m.Stage = BlockConstructionStage(f.int32())
		case 5:
			m.PipelineSize = f.uint32()
		case 6:
			m.MinBytesRcvd = f.uint64()
		case 7:
			m.MaxBytesRcvd = f.uint64()
		case 8:
			m.LatestGenerationStamp = f.uint64()
		case 9:
			return m.RequestedChecksum.Unmarshal(f.bytes)
		}
		return nil
	})
}

// ============================================================================
// Responses
// ============================================================================

// Checksum describes the checksum scheme of a block stream (ChecksumProto).
type Checksum struct {
	Type             ChecksumType
	BytesPerChecksum uint32
}

func (m *Checksum) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Type))
	e.uint32(2, m.BytesPerChecksum)
	return e.buf
}

func (m *Checksum) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Type = ChecksumType(f.int32())
		case 2:
			m.BytesPerChecksum = f.uint32()
		}
		return nil
	})
}

// ReadOpChecksumInfo tells the reader how the stream is checksummed and where
// the first chunk starts, which may be before the requested offset.
type ReadOpChecksumInfo struct {
	Checksum    Checksum
	ChunkOffset uint64
}

func (m *ReadOpChecksumInfo) Marshal() []byte {
	var e encoder
	e.message(1, &m.Checksum)
	e.uint64(2, m.ChunkOffset)
	return e.buf
}

func (m *ReadOpChecksumInfo) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Checksum.Unmarshal(f.bytes)
		case 2:
			m.ChunkOffset = f.uint64()
		}
		return nil
	})
}

// BlockOpResponse answers an op header (BlockOpResponseProto).
type BlockOpResponse struct {
	Status             Status
	FirstBadLink       string
	ReadOpChecksumInfo *ReadOpChecksumInfo
	Message            string
}

func (m *BlockOpResponse) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Status))
	e.optString(2, m.FirstBadLink)
	if m.ReadOpChecksumInfo != nil {
		e.message(4, m.ReadOpChecksumInfo)
	}
	e.optString(5, m.Message)
	return e.buf
}

func (m *BlockOpResponse) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Status = Status(f.int32())
		case 2:
			m.FirstBadLink = f.string()
		case 4:
			m.ReadOpChecksumInfo = &ReadOpChecksumInfo{}
			return m.ReadOpChecksumInfo.Unmarshal(f.bytes)
		case 5:
			m.Message = f.string()
		}
		return nil
	})
}

// ClientReadStatus is sent by the reader after consuming a whole block.
type ClientReadStatus struct {
	Status Status
}

func (m *ClientReadStatus) Marshal() []byte {
	var e encoder
	e.int32(1, int32(m.Status))
	return e.buf
}

func (m *ClientReadStatus) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		if f.num == 1 {
			m.Status = Status(f.int32())
		}
		return nil
	})
}

// ============================================================================
// Packets
// ============================================================================

// PacketHeader precedes the checksums and data of each packet (PacketHeaderProto).
type PacketHeader struct {
	OffsetInBlock     int64
	Seqno             int64
	LastPacketInBlock bool
	DataLen           int32
	SyncBlock         bool
}

func (m *PacketHeader) Marshal() []byte {
	var e encoder
	e.sfixed64(1, m.OffsetInBlock)
	e.sfixed64(2, m.Seqno)
	e.bool(3, m.LastPacketInBlock)
	e.sfixed32(4, m.DataLen)
	e.optBool(5, m.SyncBlock)
	return e.buf
}

func (m *PacketHeader) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.OffsetInBlock = f.int64()
		case 2:
			m.Seqno = f.int64()
		case 3:
			m.LastPacketInBlock = f.bool()
		case 4:
			m.DataLen = f.int32()
		case 5:
			m.SyncBlock = f.bool()
		}
		return nil
	})
}

// PipelineAck acknowledges a packet on behalf of every node in the pipeline.
// Reply holds one status per node, the first being the node the client talks to.
type PipelineAck struct {
	Seqno                  int64
	Reply                  []Status
	DownstreamAckTimeNanos uint64
}

func (m *PipelineAck) Marshal() []byte {
	var e encoder
	e.sint64(1, m.Seqno)
	for _, r := range m.Reply {
		e.int32(2, int32(r))
	}
	e.optUint64(3, m.DownstreamAckTimeNanos)
	return e.buf
}

func (m *PipelineAck) Unmarshal(b []byte) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Seqno = f.sint64()
		case 2:
			vs, err := f.varints()
			if err != nil {
				return err
			}
			for _, v := range vs {
				m.Reply = append(m.Reply, Status(int32(v)))
			}
		case 3:
			m.DownstreamAckTimeNanos = f.uint64()
		}
		return nil
	})
}

// Success reports whether every node acknowledged the packet.
func (m *PipelineAck) Success() bool {
	for _, r := range m.Reply {
		if r != StatusSuccess {
			return false
		}
	}
	return true
}

// FirstFailure returns the index and status of the first node that did not
// report success, or -1 when every node succeeded.
func (m *PipelineAck) FirstFailure() (int, Status) {
	for i, r := range m.Reply {
		if r != StatusSuccess {
			return i, r
		}
	}
	return -1, StatusSuccess
}
