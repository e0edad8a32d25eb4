// Package transfer streams block data to and from data nodes over the data
// transfer protocol.
//
// BlockReader reads one replica of a block and fails over to the next replica
// on socket errors and checksum mismatches. BlockWriter sets up a write
// pipeline through every replica of a new block and streams checksummed
// packets down it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/metrics"
)

const (
	// PacketSize is the largest amount of block data sent in one packet.
	PacketSize = 64 << 10

	// ChunkSize is the number of bytes covered by one checksum.
	ChunkSize = hadoop.DefaultBytesPerChecksum
)

// WriteChecksum is the checksum scheme used for written blocks.
var WriteChecksum = hadoop.Checksum{Type: hadoop.ChecksumCRC32C, BytesPerChecksum: ChunkSize}

// Options configures data node connections.
type Options struct {
	// ClientName is sent in every op header
	ClientName string

	// DialTimeout bounds connecting to a data node
	DialTimeout time.Duration

	// ReadTimeout bounds each read from a data node (0 = none)
	ReadTimeout time.Duration

	// WriteTimeout bounds each write to a data node (0 = none)
	WriteTimeout time.Duration

	// Metrics receives byte counts and fail-overs (nil for none)
	Metrics metrics.ClientMetrics
}

func (o *Options) metrics() metrics.ClientMetrics {
	return metrics.OrNoop(o.Metrics)
}

func dial(ctx context.Context, opts *Options, dn *hadoop.DatanodeInfo) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	return d.DialContext(ctx, "tcp", dn.ID.XferAddr())
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func opHeader(opts *Options, b *hadoop.LocatedBlock) hadoop.ClientOperationHeader {
	token := b.BlockToken
	return hadoop.ClientOperationHeader{
		BaseHeader: hadoop.BaseHeader{Block: b.B, Token: &token},
		ClientName: opts.ClientName,
	}
}

// StatusError is a non-success status reported by a data node.
type StatusError struct {
	// Node is the transfer address of the data node that failed
	Node string

	// Status is the reported status
	Status hadoop.Status

	// Message is the data node's explanation, if any
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("data node %s: %s", e.Node, e.Status)
	}
	return fmt.Sprintf("data node %s: %s: %s", e.Node, e.Status, e.Message)
}

// BadNode returns the address of the data node named by a StatusError in
// err's chain, or "" when there is none.
func BadNode(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Node
	}
	return ""
}
