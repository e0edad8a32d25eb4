package metadata

import (
	"context"
	"os"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// DefaultFilePermission is used by Create when no permission is given.
const DefaultFilePermission os.FileMode = 0o644

// ============================================================================
// Write path
// ============================================================================
//
// A file is written by Create (or Append), then one AddBlock per block, each
// streamed to its pipeline, and finally Complete. The client holds the lease
// on the file in between and must keep it alive with RenewLease.

// Create creates file p and takes the lease on it.
func (c *Client) Create(ctx context.Context, p string, opts CreateOptions) (*PathInfo, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	if opts.Replication < 0 {
		return nil, fserror.Argument("create", "replication must be non-negative, got %d", opts.Replication)
	}
	if opts.BlockSize < 0 {
		return nil, fserror.Argument("create", "block size must be non-negative, got %d", opts.BlockSize)
	}
	perm := opts.Permission
	if perm == 0 {
		perm = DefaultFilePermission
	}

	flags := hadoop.CreateFlagCreate
	if opts.Overwrite {
		flags |= hadoop.CreateFlagOverwrite
	}
	req := &hadoop.CreateRequest{
		Src:          p,
		Masked:       permissionToWire(perm),
		ClientName:   c.clientName,
		CreateFlag:   flags,
		CreateParent: opts.CreateParent,
		Replication:  uint32(opts.Replication),
		BlockSize:    uint64(opts.BlockSize),
	}
	var resp hadoop.CreateResponse
	if err := c.call(ctx, "create", p, req, &resp); err != nil {
		return nil, err
	}
	if resp.Fs == nil {
		// Old name nodes reply without a status.
		return c.Stat(ctx, p)
	}
	return pathInfo(p, resp.Fs), nil
}

// Append reopens existing file p for writing at its end. The returned block
// is the partial last block to continue, or nil when the file ends on a block
// boundary.
func (c *Client) Append(ctx context.Context, p string) (*hadoop.LocatedBlock, *PathInfo, error) {
	info, err := c.exists(ctx, "append", p)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fserror.New(fserror.KindArgument, "append", info.Name, "is a directory")
	}

	var resp hadoop.AppendResponse
	req := &hadoop.AppendRequest{Src: info.Name, ClientName: c.clientName, Flag: hadoop.CreateFlagAppend}
	if err := c.call(ctx, "append", info.Name, req, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Stat != nil {
		info = pathInfo(info.Name, resp.Stat)
	}
	return resp.Block, info, nil
}

// AddBlock allocates the next block of file p. previous is the last block
// written, with its final length, or nil for the first block. Data nodes in
// exclude are not chosen for the pipeline.
func (c *Client) AddBlock(ctx context.Context, p string, fileID uint64, previous *hadoop.ExtendedBlock, exclude []*hadoop.DatanodeInfo) (*hadoop.LocatedBlock, error) {
	var resp hadoop.AddBlockResponse
	req := &hadoop.AddBlockRequest{
		Src:          p,
		ClientName:   c.clientName,
		Previous:     previous,
		ExcludeNodes: exclude,
		FileID:       fileID,
	}
	if err := c.call(ctx, "addBlock", p, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Block.Locs) == 0 {
		return nil, fserror.New(fserror.KindIO, "addBlock", p, "no data nodes available for block %d", resp.Block.B.BlockID)
	}
	return &resp.Block, nil
}

// Complete closes file p with last as its final block. It reports false
// while the name node waits for replicas to be reported; the caller retries.
func (c *Client) Complete(ctx context.Context, p string, fileID uint64, last *hadoop.ExtendedBlock) (bool, error) {
	var resp hadoop.BoolResponse
	req := &hadoop.CompleteRequest{Src: p, ClientName: c.clientName, Last: last, FileID: fileID}
	if err := c.call(ctx, "complete", p, req, &resp); err != nil {
		return false, err
	}
	return resp.Result, nil
}

// AbandonBlock gives back a block whose pipeline could not be set up.
func (c *Client) AbandonBlock(ctx context.Context, p string, fileID uint64, b hadoop.ExtendedBlock) error {
	req := &hadoop.AbandonBlockRequest{B: b, Src: p, Holder: c.clientName, FileID: fileID}
	return c.call(ctx, "abandonBlock", p, req, &hadoop.Empty{})
}

// RenewLease extends the leases of every file this client has open for
// writing.
func (c *Client) RenewLease(ctx context.Context) error {
	return c.call(ctx, "renewLease", "", &hadoop.RenewLeaseRequest{ClientName: c.clientName}, &hadoop.Empty{})
}
