package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// maxInflight bounds the packets sent but not yet acknowledged.
const maxInflight = 16

// errWriterClosed is returned by writes after Close or Abort.
var errWriterClosed = errors.New("block writer closed")

// BlockWriter streams data into one block through its write pipeline.
//
// Packets are sent by one goroutine and acknowledgements consumed by another,
// so several packets can be in flight. The first failed packet poisons the
// writer: every later call returns the same error, naming the data node that
// failed when the pipeline reported one.
//
// BlockWriter is not safe for concurrent use.
type BlockWriter struct {
	opts  *Options
	block *hadoop.LocatedBlock
	name  string
	conn  net.Conn

	base     int64 // block length when the writer was opened
	size     int64 // bytes written so far, including base
	synced   int64 // size at the last Flush
	buf      []byte
	bufStart int64 // block offset of buf[0]
	seqno    int64
	closed   bool

	g        errgroup.Group
	packets  chan *hadoop.Packet
	inflight chan int64

	ackMu   sync.Mutex
	ackCond *sync.Cond
	acked   int64 // highest acknowledged seqno
	failure error
}

// NewBlockWriter sets up the write pipeline for block. stage is
// StagePipelineSetupCreate for a new block or StagePipelineSetupAppend to
// continue a partial block of base bytes.
//
// When the pipeline cannot be set up the error wraps a StatusError naming the
// first data node that failed, so the caller can exclude it and ask for a
// different pipeline.
func NewBlockWriter(ctx context.Context, opts *Options, block *hadoop.LocatedBlock, stage hadoop.BlockConstructionStage, base int64) (*BlockWriter, error) {
	if len(block.Locs) == 0 {
		return nil, fserror.New(fserror.KindIO, "writeBlock", "", "block %d has no pipeline", block.B.BlockID)
	}
	head := block.Locs[0]
	name := fmt.Sprintf("blk_%d_%d", block.B.BlockID, block.B.GenerationStamp)

	conn, err := dial(ctx, opts, head)
	if err != nil {
		return nil, pipelineError(name, &StatusError{Node: head.ID.XferAddr(), Status: hadoop.StatusError, Message: err.Error()})
	}

	req := &hadoop.OpWriteBlock{
		Header:                opHeader(opts, block),
		Targets:               block.Locs[1:],
		Stage:                 stage,
		PipelineSize:          uint32(len(block.Locs)),
		MinBytesRcvd:          uint64(base),
		MaxBytesRcvd:          uint64(base),
		LatestGenerationStamp: block.B.GenerationStamp,
		RequestedChecksum:     WriteChecksum,
	}
	r := bufio.NewReader(conn)
	_ = conn.SetDeadline(deadline(opts.WriteTimeout))
	if err := hadoop.WriteOp(conn, hadoop.OpCodeWriteBlock, req); err != nil {
		conn.Close()
		return nil, pipelineError(name, &StatusError{Node: head.ID.XferAddr(), Status: hadoop.StatusError, Message: err.Error()})
	}
	var resp hadoop.BlockOpResponse
	if err := hadoop.ReadDelimited(r, &resp); err != nil {
		conn.Close()
		return nil, pipelineError(name, &StatusError{Node: head.ID.XferAddr(), Status: hadoop.StatusError, Message: err.Error()})
	}
	if resp.Status != hadoop.StatusSuccess {
		conn.Close()
		node := resp.FirstBadLink
		if node == "" {
			node = head.ID.XferAddr()
		}
		return nil, pipelineError(name, &StatusError{Node: node, Status: resp.Status, Message: resp.Message})
	}
	_ = conn.SetDeadline(deadline(0))

	bw := &BlockWriter{
		opts:     opts,
		block:    block,
		name:     name,
		conn:     conn,
		base:     base,
		size:     base,
		synced:   base,
		bufStart: base,
		packets:  make(chan *hadoop.Packet, maxInflight),
		inflight: make(chan int64, maxInflight),
		acked:    -1,
	}
	bw.ackCond = sync.NewCond(&bw.ackMu)
	bw.g.Go(bw.send)
	bw.g.Go(func() error { return bw.receiveAcks(r) })

	logger.Debug("Opened pipeline for %s at offset %d: %d nodes", name, base, len(block.Locs))
	return bw, nil
}

func pipelineError(block string, se *StatusError) error {
	return &fserror.Error{
		Kind:    fserror.KindIO,
		Op:      "writeBlock",
		Message: "could not set up pipeline for " + block,
		Err:     se,
	}
}

// Size returns the number of bytes in the block, including those still
// buffered.
func (bw *BlockWriter) Size() int64 {
	return bw.size
}

// Block returns the block with its length set to the bytes written.
func (bw *BlockWriter) Block() hadoop.ExtendedBlock {
	b := bw.block.B
	b.NumBytes = uint64(bw.size)
	return b
}

// Write buffers p and sends every full packet.
func (bw *BlockWriter) Write(p []byte) (int, error) {
	if bw.closed {
		return 0, fserror.New(fserror.KindIO, "write", "", "%v", errWriterClosed)
	}
	if err := bw.err(); err != nil {
		return 0, err
	}

	bw.buf = append(bw.buf, p...)
	bw.size += int64(len(p))
	for {
		n := capacity(bw.bufStart)
		if len(bw.buf) < n {
			break
		}
		if err := bw.sendPacket(bw.buf[:n], false); err != nil {
			return 0, err
		}
		bw.buf = bw.buf[n:]
		bw.bufStart += int64(n)
	}
	bw.opts.metrics().RecordBytes("write", int64(len(p)))
	return len(p), nil
}

// capacity is the size of the packet that starts at block offset pos. A
// packet starting inside a chunk only completes that chunk, so later packets
// are chunk aligned.
func capacity(pos int64) int {
	if r := pos % ChunkSize; r != 0 {
		return int(ChunkSize - r)
	}
	return PacketSize
}

// Flush sends the buffered data and waits until the whole pipeline has
// acknowledged it.
func (bw *BlockWriter) Flush() error {
	if bw.closed {
		return fserror.New(fserror.KindIO, "flush", "", "%v", errWriterClosed)
	}
	if err := bw.err(); err != nil {
		return err
	}
	if bw.synced == bw.size || len(bw.buf) == 0 {
		return bw.wait(bw.seqno - 1)
	}

	if err := bw.sendPacket(bw.buf, true); err != nil {
		return err
	}
	if err := bw.wait(bw.seqno - 1); err != nil {
		return err
	}

	// Keep the partial last chunk. It is sent again, completed, by the next
	// packet so its checksum covers the whole chunk.
	retainFrom := max(bw.size/ChunkSize*ChunkSize, bw.base, bw.bufStart)
	bw.buf = bw.buf[retainFrom-bw.bufStart:]
	bw.bufStart = retainFrom
	bw.synced = bw.size
	if len(bw.buf) == 0 {
		bw.buf = nil
	}
	return nil
}

// Close sends the remaining data and the end of block packet and waits for
// the pipeline to acknowledge everything.
func (bw *BlockWriter) Close() error {
	if bw.closed {
		return bw.err()
	}

	err := bw.err()
	if err == nil && len(bw.buf) > 0 {
		err = bw.sendPacket(bw.buf, false)
	}
	if err == nil {
		bw.buf = nil
		bw.bufStart = bw.size
		err = bw.sendPacket(nil, false)
	}
	if err == nil {
		err = bw.wait(bw.seqno - 1)
	}

	bw.closed = true
	close(bw.packets)
	if werr := bw.g.Wait(); err == nil && werr != nil {
		err = bw.err()
	}
	bw.conn.Close()

	if err != nil {
		return err
	}
	logger.Debug("Closed pipeline for %s: %d bytes", bw.name, bw.size)
	return nil
}

// Abort tears the pipeline down without finishing the block.
func (bw *BlockWriter) Abort() {
	if bw.closed {
		return
	}
	bw.setFailure(fserror.New(fserror.KindIO, "writeBlock", "", "%s aborted", bw.name))
	bw.closed = true
	close(bw.packets)
	_ = bw.g.Wait()
}

// Interrupt fails the writer from another goroutine. Calls blocked on the
// pipeline return; the owner still has to Close or Abort the writer.
func (bw *BlockWriter) Interrupt() {
	bw.setFailure(fserror.New(fserror.KindIO, "writeBlock", "", "%s interrupted", bw.name))
}

// sendPacket queues data as the next packet. An empty, non-sync packet ends
// the block.
func (bw *BlockWriter) sendPacket(data []byte, syncBlock bool) error {
	pkt := &hadoop.Packet{
		Header: hadoop.PacketHeader{
			OffsetInBlock:     bw.bufStart,
			Seqno:             bw.seqno,
			LastPacketInBlock: len(data) == 0 && !syncBlock,
			SyncBlock:         syncBlock,
		},
		Checksums: WriteChecksum.ComputeChecksums(nil, data),
		Data:      append([]byte(nil), data...),
	}
	bw.seqno++
	bw.packets <- pkt
	return bw.err()
}

func (bw *BlockWriter) send() error {
	defer close(bw.inflight)
	for pkt := range bw.packets {
		if bw.err() != nil {
			continue
		}
		bw.inflight <- pkt.Header.Seqno
		_ = bw.conn.SetWriteDeadline(deadline(bw.opts.WriteTimeout))
		if err := hadoop.WritePacket(bw.conn, pkt); err != nil {
			bw.setFailure(&fserror.Error{
				Kind:    fserror.KindIO,
				Op:      "writeBlock",
				Message: fmt.Sprintf("sending packet %d of %s", pkt.Header.Seqno, bw.name),
				Err:     &StatusError{Node: bw.block.Locs[0].ID.XferAddr(), Status: hadoop.StatusError, Message: err.Error()},
			})
		}
	}
	return bw.err()
}

func (bw *BlockWriter) receiveAcks(r *bufio.Reader) error {
	for seqno := range bw.inflight {
		if bw.err() != nil {
			continue
		}
		_ = bw.conn.SetReadDeadline(deadline(bw.opts.ReadTimeout))
		var ack hadoop.PipelineAck
		if err := hadoop.ReadDelimited(r, &ack); err != nil {
			bw.setFailure(&fserror.Error{
				Kind:    fserror.KindIO,
				Op:      "writeBlock",
				Message: fmt.Sprintf("waiting for ack of packet %d of %s", seqno, bw.name),
				Err:     &StatusError{Node: bw.block.Locs[0].ID.XferAddr(), Status: hadoop.StatusError, Message: err.Error()},
			})
			continue
		}
		if ack.Seqno != seqno {
			bw.setFailure(fserror.New(fserror.KindProtocol, "writeBlock", "", "ack for packet %d of %s, expected %d", ack.Seqno, bw.name, seqno))
			continue
		}
		if i, status := ack.FirstFailure(); i >= 0 {
			node := "?"
			if i < len(bw.block.Locs) {
				node = bw.block.Locs[i].ID.XferAddr()
			}
			bw.setFailure(&fserror.Error{
				Kind:    fserror.KindIO,
				Op:      "writeBlock",
				Message: fmt.Sprintf("pipeline failed packet %d of %s", seqno, bw.name),
				Err:     &StatusError{Node: node, Status: status},
			})
			continue
		}

		bw.ackMu.Lock()
		bw.acked = seqno
		bw.ackCond.Broadcast()
		bw.ackMu.Unlock()
	}
	return bw.err()
}

// wait blocks until seqno is acknowledged or the writer fails.
func (bw *BlockWriter) wait(seqno int64) error {
	bw.ackMu.Lock()
	defer bw.ackMu.Unlock()
	for bw.acked < seqno && bw.failure == nil {
		bw.ackCond.Wait()
	}
	return bw.failure
}

func (bw *BlockWriter) err() error {
	bw.ackMu.Lock()
	defer bw.ackMu.Unlock()
	return bw.failure
}

// setFailure records the first failure and unblocks everything waiting on
// the connection.
func (bw *BlockWriter) setFailure(err error) {
	bw.ackMu.Lock()
	first := bw.failure == nil
	if first {
		bw.failure = err
	}
	bw.ackCond.Broadcast()
	bw.ackMu.Unlock()

	if first {
		logger.Warn("Write pipeline for %s failed: %v", bw.name, err)
		bw.conn.Close()
	}
}
