package minicluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/internal/server"
)

const (
	readPacketSize = 64 << 10
	mirrorTimeout  = 5 * time.Second
)

// DataNode serves block replicas over the data transfer protocol. Replicas
// live in the cluster's shared replica store under the node index.
type DataNode struct {
	index  int
	uuid   string
	port   int
	cfg    *Config
	store  *replicaStore
	server *server.Server

	up          atomic.Bool
	failWrites  atomic.Bool
	checksumOKs atomic.Int64
}

func newDataNode(index int, cfg *Config, store *replicaStore) *DataNode {
	dn := &DataNode{
		index: index,
		uuid:  uuid.NewString(),
		cfg:   cfg,
		store: store,
	}
	dn.server = server.New(dn.name(), dn)
	return dn
}

func (dn *DataNode) name() string {
	return fmt.Sprintf("datanode-%d", dn.index)
}

func (dn *DataNode) start(ctx context.Context) error {
	if err := dn.server.Listen("127.0.0.1:0"); err != nil {
		return err
	}
	dn.port = dn.server.Addr().Port
	dn.up.Store(true)
	go func() {
		if err := dn.server.Serve(ctx); err != nil {
			logger.Warn("%s: %v", dn.name(), err)
		}
	}()
	return nil
}

// Stop shuts the node down. Its replicas stay in the store and the name node
// keeps listing it as a location, so clients must fail over.
func (dn *DataNode) Stop() error {
	dn.up.Store(false)
	return dn.server.Stop()
}

func (dn *DataNode) running() bool {
	return dn.up.Load()
}

// Addr returns the data transfer address.
func (dn *DataNode) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(dn.port))
}

// UUID returns the data node id reported in block locations.
func (dn *DataNode) UUID() string {
	return dn.uuid
}

// SetFailWrites makes the node reject every WRITE_BLOCK request.
func (dn *DataNode) SetFailWrites(fail bool) {
	dn.failWrites.Store(fail)
}

// ChecksumOKs returns how many readers reported CHECKSUM_OK after a full read.
func (dn *DataNode) ChecksumOKs() int64 {
	return dn.checksumOKs.Load()
}

func (dn *DataNode) info() *hadoop.DatanodeInfo {
	return &hadoop.DatanodeInfo{
		ID: hadoop.DatanodeID{
			IPAddr:       "127.0.0.1",
			HostName:     "localhost",
			DatanodeUUID: dn.uuid,
			XferPort:     uint32(dn.port),
		},
		Capacity:   uint64(dn.cfg.Capacity),
		Remaining:  uint64(dn.cfg.Capacity),
		LastUpdate: now(),
		Location:   "/default-rack",
	}
}

// ServeConn handles one data transfer operation per connection.
func (dn *DataNode) ServeConn(ctx context.Context, conn net.Conn) {
	r := bufio.NewReader(conn)
	op, err := hadoop.ReadOpHeader(r)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("%s: read op header: %v", dn.name(), err)
		}
		return
	}

	switch op {
	case hadoop.OpCodeReadBlock:
		err = dn.readBlock(r, conn)
	case hadoop.OpCodeWriteBlock:
		err = dn.writeBlock(r, conn)
	default:
		err = respond(conn, hadoop.StatusErrorUnsupported, "", fmt.Sprintf("unsupported operation %s", op))
	}
	if err != nil {
		logger.Debug("%s: %s: %v", dn.name(), op, err)
	}
}

func respond(w io.Writer, status hadoop.Status, firstBadLink, msg string) error {
	return hadoop.WriteDelimited(w, &hadoop.BlockOpResponse{Status: status, FirstBadLink: firstBadLink, Message: msg})
}

func blockName(b hadoop.ExtendedBlock) string {
	return fmt.Sprintf("%s:blk_%d_%d", b.PoolID, b.BlockID, b.GenerationStamp)
}

// ============================================================================
// READ_BLOCK
// ============================================================================

func (dn *DataNode) readBlock(r *bufio.Reader, conn net.Conn) error {
	var req hadoop.OpReadBlock
	if err := hadoop.ReadDelimited(r, &req); err != nil {
		return err
	}
	blk := req.Header.BaseHeader.Block

	data, sums, found, err := dn.store.get(dn.index, blk.BlockID)
	if err != nil {
		return respond(conn, hadoop.StatusError, "", err.Error())
	}
	if !found {
		return respond(conn, hadoop.StatusError, "", "Replica not found for "+blockName(blk))
	}

	length := uint64(len(data))
	if req.Offset > length || req.Len > length-req.Offset {
		return respond(conn, hadoop.StatusError, "", fmt.Sprintf("Offset %d and length %d don't match block %s ( blockLen %d )", req.Offset, req.Len, blockName(blk), length))
	}

	// Stream whole chunks: start at the chunk holding Offset and end at the
	// chunk boundary after the last requested byte.
	const bpc = hadoop.DefaultBytesPerChecksum
	start := req.Offset / bpc * bpc
	end := min((req.Offset+req.Len+bpc-1)/bpc*bpc, length)

	checksum := storeChecksum
	if !req.SendChecksums {
		checksum = hadoop.Checksum{Type: hadoop.ChecksumNull, BytesPerChecksum: bpc}
	}
	resp := &hadoop.BlockOpResponse{
		Status:             hadoop.StatusSuccess,
		ReadOpChecksumInfo: &hadoop.ReadOpChecksumInfo{Checksum: checksum, ChunkOffset: start},
	}
	if err := hadoop.WriteDelimited(conn, resp); err != nil {
		return err
	}

	var seqno int64
	for pos := start; pos < end; seqno++ {
		n := min(uint64(readPacketSize), end-pos)
		pkt := &hadoop.Packet{
			Header: hadoop.PacketHeader{OffsetInBlock: int64(pos), Seqno: seqno},
			Data:   data[pos : pos+n],
		}
		if req.SendChecksums {
			first := pos / bpc * 4
			pkt.Checksums = sums[first : first+uint64(hadoop.ChunkCount(int(n), bpc))*4]
		}
		if err := hadoop.WritePacket(conn, pkt); err != nil {
			return err
		}
		pos += n
	}
	last := &hadoop.Packet{Header: hadoop.PacketHeader{OffsetInBlock: int64(end), Seqno: seqno, LastPacketInBlock: true}}
	if err := hadoop.WritePacket(conn, last); err != nil {
		return err
	}

	// The reader sends a status after consuming the whole range; a reader
	// that stops early just closes the connection.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var status hadoop.ClientReadStatus
	if err := hadoop.ReadDelimited(r, &status); err == nil && status.Status == hadoop.StatusChecksumOK {
		dn.checksumOKs.Add(1)
	}
	return nil
}

// ============================================================================
// WRITE_BLOCK
// ============================================================================

type mirror struct {
	conn net.Conn
	r    *bufio.Reader
	ok   bool
}

func (dn *DataNode) writeBlock(r *bufio.Reader, conn net.Conn) error {
	var req hadoop.OpWriteBlock
	if err := hadoop.ReadDelimited(r, &req); err != nil {
		return err
	}
	blk := req.Header.BaseHeader.Block

	if dn.failWrites.Load() {
		return respond(conn, hadoop.StatusError, "", dn.name()+" is refusing writes")
	}

	var data []byte
	switch req.Stage {
	case hadoop.StagePipelineSetupCreate:
		if err := dn.store.put(dn.index, blk.BlockID, nil, 0); err != nil {
			return respond(conn, hadoop.StatusError, "", err.Error())
		}
	case hadoop.StagePipelineSetupAppend:
		existing, _, found, err := dn.store.get(dn.index, blk.BlockID)
		if err != nil {
			return respond(conn, hadoop.StatusError, "", err.Error())
		}
		if !found {
			return respond(conn, hadoop.StatusError, "", "Replica not found for "+blockName(blk))
		}
		data = existing
	default:
		return respond(conn, hadoop.StatusErrorUnsupported, "", fmt.Sprintf("unsupported block construction stage %d", req.Stage))
	}

	var m *mirror
	if len(req.Targets) > 0 {
		var badLink string
		var err error
		m, badLink, err = connectMirror(&req)
		if err != nil {
			return respond(conn, hadoop.StatusError, badLink, err.Error())
		}
		defer m.conn.Close()
	}
	if err := respond(conn, hadoop.StatusSuccess, "", ""); err != nil {
		return err
	}

	for {
		pkt, err := hadoop.ReadPacket(r)
		if err != nil {
			return err
		}
		if m != nil && m.ok {
			if err := hadoop.WritePacket(m.conn, pkt); err != nil {
				m.ok = false
			}
		}

		status := hadoop.StatusSuccess
		if err := req.RequestedChecksum.VerifyChecksums(pkt.Data, pkt.Checksums); err != nil {
			logger.Debug("%s: packet %d of %s: %v", dn.name(), pkt.Header.Seqno, blockName(blk), err)
			status = hadoop.StatusErrorChecksum
		} else if len(pkt.Data) > 0 {
			off := int(pkt.Header.OffsetInBlock)
			if off < 0 || off > len(data) {
				status = hadoop.StatusErrorInvalid
			} else {
				data = append(data[:off], pkt.Data...)
				if err := dn.store.put(dn.index, blk.BlockID, data, off); err != nil {
					status = hadoop.StatusError
				}
			}
		}

		reply := []hadoop.Status{status}
		if m != nil {
			reply = append(reply, m.ack(pkt.Header.Seqno, len(req.Targets))...)
		}
		ack := &hadoop.PipelineAck{Seqno: pkt.Header.Seqno, Reply: reply}
		if err := hadoop.WriteDelimited(conn, ack); err != nil {
			return err
		}
		if !ack.Success() {
			return fmt.Errorf("packet %d of %s failed: %v", pkt.Header.Seqno, blockName(blk), reply)
		}
		if pkt.Header.LastPacketInBlock {
			logger.Debug("%s: received %s, %d bytes", dn.name(), blockName(blk), len(data))
			return nil
		}
	}
}

// connectMirror forwards the write request to the next node of the pipeline.
// On failure it returns the address of the first node that failed.
func connectMirror(req *hadoop.OpWriteBlock) (*mirror, string, error) {
	target := req.Targets[0]
	addr := target.ID.XferAddr()

	conn, err := net.DialTimeout("tcp", addr, mirrorTimeout)
	if err != nil {
		return nil, addr, err
	}

	fwd := *req
	fwd.Targets = req.Targets[1:]
	if err := hadoop.WriteOp(conn, hadoop.OpCodeWriteBlock, &fwd); err != nil {
		conn.Close()
		return nil, addr, err
	}

	r := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(mirrorTimeout))
	var resp hadoop.BlockOpResponse
	if err := hadoop.ReadDelimited(r, &resp); err != nil {
		conn.Close()
		return nil, addr, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	if resp.Status != hadoop.StatusSuccess {
		conn.Close()
		badLink := resp.FirstBadLink
		if badLink == "" {
			badLink = addr
		}
		return nil, badLink, fmt.Errorf("mirror %s: %s %s", addr, resp.Status, resp.Message)
	}
	return &mirror{conn: conn, r: r, ok: true}, "", nil
}

// ack reads the downstream acknowledgement of seqno. A failed mirror reports
// an error for itself and every node after it.
func (m *mirror) ack(seqno int64, downstream int) []hadoop.Status {
	if m.ok {
		var ack hadoop.PipelineAck
		if err := hadoop.ReadDelimited(m.r, &ack); err == nil && ack.Seqno == seqno {
			return ack.Reply
		}
		m.ok = false
	}
	reply := make([]hadoop.Status, downstream)
	for i := range reply {
		reply[i] = hadoop.StatusError
	}
	return reply
}
