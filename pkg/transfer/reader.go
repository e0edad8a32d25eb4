package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// ReaderState is the lifecycle state of a BlockReader.
type ReaderState int

const (
	StateUnopened ReaderState = iota
	StateStreaming
	StateEOF
	StateError
	StateClosed
)

func (s ReaderState) String() string {
	switch s {
	case StateUnopened:
		return "UNOPENED"
	case StateStreaming:
		return "STREAMING"
	case StateEOF:
		return "EOF"
	case StateError:
		return "ERROR"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ReaderState(%d)", int(s))
	}
}

// BlockReader reads a block from its offset to the end of the block.
//
// Replicas are tried in the order the name node listed them. A socket error
// or a checksum mismatch moves on to the next replica, resuming at the
// current offset. After a whole block has been read the reader reports
// CHECKSUM_OK to the data node.
//
// BlockReader is not safe for concurrent use, except that Close may be
// called from another goroutine to abort a blocked Read.
type BlockReader struct {
	opts  *Options
	ctx   context.Context
	block *hadoop.LocatedBlock
	name  string

	offset  int64
	end     int64
	replica int
	state   ReaderState
	err     error

	// stream of the current replica
	mu       sync.Mutex
	conn     net.Conn
	r        *bufio.Reader
	checksum hadoop.Checksum
	buf      []byte
	last     bool
}

// NewBlockReader returns a reader for block starting offset bytes into the
// block. No connection is made until the first Read.
func NewBlockReader(ctx context.Context, opts *Options, block *hadoop.LocatedBlock, offset int64) *BlockReader {
	return &BlockReader{
		opts:   opts,
		ctx:    ctx,
		block:  block,
		name:   fmt.Sprintf("blk_%d_%d", block.B.BlockID, block.B.GenerationStamp),
		offset: offset,
		end:    int64(block.B.NumBytes),
	}
}

// State returns the current state.
func (br *BlockReader) State() ReaderState {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.state
}

// Offset returns the position of the next byte within the block.
func (br *BlockReader) Offset() int64 {
	return br.offset
}

// Read reads block data into p. It returns io.EOF at the end of the block.
func (br *BlockReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		switch br.State() {
		case StateClosed:
			return 0, fserror.New(fserror.KindIO, "read", "", "block reader closed")
		case StateEOF:
			return 0, io.EOF
		case StateError:
			return 0, br.err
		}

		if len(br.buf) > 0 {
			n := copy(p, br.buf)
			br.buf = br.buf[n:]
			br.offset += int64(n)
			br.opts.metrics().RecordBytes("read", int64(n))
			return n, nil
		}

		if br.offset >= br.end {
			br.finish()
			return 0, io.EOF
		}

		if err := br.next(); err != nil {
			if br.State() == StateClosed {
				return 0, fserror.New(fserror.KindIO, "read", "", "block reader closed")
			}
			if !br.failover(err) {
				return 0, br.err
			}
		}
	}
}

// next fills buf with the next packet of the current replica, opening the
// replica first when needed.
func (br *BlockReader) next() error {
	conn := br.current()
	if conn == nil {
		if err := br.open(); err != nil {
			return err
		}
		if conn = br.current(); conn == nil {
			return net.ErrClosed
		}
	}

	_ = conn.SetReadDeadline(deadline(br.opts.ReadTimeout))
	pkt, err := hadoop.ReadPacket(br.r)
	if err != nil {
		return err
	}
	if pkt.Header.LastPacketInBlock || len(pkt.Data) == 0 {
		br.last = pkt.Header.LastPacketInBlock
		return fmt.Errorf("stream ended at %d of %d bytes", br.offset, br.end)
	}
	if err := br.checksum.VerifyChecksums(pkt.Data, pkt.Checksums); err != nil {
		return err
	}

	data := pkt.Data
	start := pkt.Header.OffsetInBlock
	if skip := br.offset - start; skip > 0 {
		if skip >= int64(len(data)) {
			return nil
		}
		data = data[skip:]
	} else if skip < 0 {
		return fmt.Errorf("packet at offset %d skips past %d", start, br.offset)
	}
	if over := br.offset + int64(len(data)) - br.end; over > 0 {
		data = data[:int64(len(data))-over]
	}
	br.buf = data
	logger.Debug("Read packet %d of %s: %d bytes at %d", pkt.Header.Seqno, br.name, len(data), start)
	return nil
}

// open sends READ_BLOCK for the rest of the block to the current replica.
func (br *BlockReader) open() error {
	if br.replica >= len(br.block.Locs) {
		return fserror.New(fserror.KindIO, "readBlock", "", "block %s has no replicas", br.name)
	}
	dn := br.block.Locs[br.replica]

	conn, err := dial(br.ctx, br.opts, dn)
	if err != nil {
		return err
	}
	br.mu.Lock()
	if br.state == StateClosed {
		br.mu.Unlock()
		conn.Close()
		return net.ErrClosed
	}
	br.conn = conn
	br.r = bufio.NewReaderSize(conn, PacketSize+ChunkSize)
	br.last = false
	br.mu.Unlock()

	req := &hadoop.OpReadBlock{
		Header:        opHeader(br.opts, br.block),
		Offset:        uint64(br.offset),
		Len:           uint64(br.end - br.offset),
		SendChecksums: true,
	}
	_ = conn.SetDeadline(deadline(br.opts.WriteTimeout))
	if err := hadoop.WriteOp(conn, hadoop.OpCodeReadBlock, req); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(deadline(br.opts.ReadTimeout))
	var resp hadoop.BlockOpResponse
	if err := hadoop.ReadDelimited(br.r, &resp); err != nil {
		return err
	}
	if resp.Status != hadoop.StatusSuccess {
		return &StatusError{Node: dn.ID.XferAddr(), Status: resp.Status, Message: resp.Message}
	}

	br.checksum = hadoop.Checksum{Type: hadoop.ChecksumNull, BytesPerChecksum: ChunkSize}
	if info := resp.ReadOpChecksumInfo; info != nil {
		br.checksum = info.Checksum
		if int64(info.ChunkOffset) > br.offset {
			return fmt.Errorf("data node starts at %d, after requested offset %d", info.ChunkOffset, br.offset)
		}
	}

	br.mu.Lock()
	if br.state != StateClosed {
		br.state = StateStreaming
	}
	br.mu.Unlock()
	logger.Debug("Reading %s from %s at offset %d (%s)", br.name, dn.ID.XferAddr(), br.offset, br.checksum.Type)
	return nil
}

// failover drops the current replica after err. It reports whether another
// replica is left to try; otherwise the reader is in the error state.
func (br *BlockReader) failover(err error) bool {
	reason := "io"
	var ce *hadoop.ChecksumError
	if errors.As(err, &ce) {
		reason = "checksum"
	}

	addr := "?"
	if br.replica < len(br.block.Locs) {
		addr = br.block.Locs[br.replica].ID.XferAddr()
	}
	br.dropConn()
	br.buf = nil
	br.replica++

	if br.replica < len(br.block.Locs) {
		logger.Warn("Reading %s from %s failed at offset %d (%v); trying %s", br.name, addr, br.offset, err, br.block.Locs[br.replica].ID.XferAddr())
		br.opts.metrics().RecordFailover(reason)
		return true
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	if br.state != StateClosed {
		br.state = StateError
	}
	br.err = &fserror.Error{
		Kind:    fserror.KindIO,
		Op:      "readBlock",
		Message: fmt.Sprintf("could not read %s at offset %d from any of %d replicas", br.name, br.offset, len(br.block.Locs)),
		Err:     err,
	}
	logger.Warn("%v", br.err)
	return false
}

// finish consumes the trailing empty packet, acknowledges the block and
// releases the connection.
func (br *BlockReader) finish() {
	if conn := br.current(); conn != nil {
		if !br.last {
			_ = conn.SetReadDeadline(deadline(br.opts.ReadTimeout))
			if pkt, err := hadoop.ReadPacket(br.r); err == nil && pkt.Header.LastPacketInBlock {
				br.last = true
			}
		}
		if br.last && br.checksum.Type != hadoop.ChecksumNull {
			_ = conn.SetWriteDeadline(deadline(br.opts.WriteTimeout))
			_ = hadoop.WriteDelimited(conn, &hadoop.ClientReadStatus{Status: hadoop.StatusChecksumOK})
		}
		br.dropConn()
	}

	br.mu.Lock()
	if br.state != StateClosed {
		br.state = StateEOF
	}
	br.mu.Unlock()
}

func (br *BlockReader) current() net.Conn {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.conn
}

func (br *BlockReader) dropConn() {
	br.mu.Lock()
	conn := br.conn
	br.conn = nil
	br.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close releases the connection. A Read blocked in another goroutine fails.
// Close is idempotent.
func (br *BlockReader) Close() error {
	br.mu.Lock()
	br.state = StateClosed
	conn := br.conn
	br.conn = nil
	br.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
