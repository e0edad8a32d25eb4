package metadata

import (
	"context"
	"time"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// GetBlockLocations returns the blocks covering [offset, offset+length) of
// file p. A zero length means up to the end of the file.
func (c *Client) GetBlockLocations(ctx context.Context, p string, offset, length int64) ([]BlockLocation, error) {
	if offset < 0 || length < 0 {
		return nil, fserror.Argument("getBlockLocations", "invalid range offset=%d length=%d", offset, length)
	}
	info, err := c.exists(ctx, "getBlockLocations", p)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		length = info.Size
	}

	located, err := c.Locate(ctx, info.Name, offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]BlockLocation, 0, len(located.Blocks))
	for _, b := range located.Blocks {
		out = append(out, blockLocation(b))
	}
	return out, nil
}

// Locate returns the raw block list of file p for the given range, without
// the existence check. The block stream client reads from the result.
func (c *Client) Locate(ctx context.Context, p string, offset, length int64) (*hadoop.LocatedBlocks, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	var resp hadoop.GetBlockLocationsResponse
	req := &hadoop.GetBlockLocationsRequest{Src: p, Offset: uint64(offset), Length: uint64(length)}
	if err := c.call(ctx, "getBlockLocations", p, req, &resp); err != nil {
		return nil, err
	}
	if resp.Locations == nil {
		return nil, fserror.NotFound("getBlockLocations", p)
	}
	return resp.Locations, nil
}

// ContentSummary returns the aggregated size of the subtree at p.
func (c *Client) ContentSummary(ctx context.Context, p string) (*ContentSummary, error) {
	info, err := c.exists(ctx, "getContentSummary", p)
	if err != nil {
		return nil, err
	}
	var resp hadoop.GetContentSummaryResponse
	if err := c.call(ctx, "getContentSummary", info.Name, &hadoop.GetContentSummaryRequest{Path: info.Name}, &resp); err != nil {
		return nil, err
	}
	s := resp.Summary
	return &ContentSummary{
		Length:         int64(s.Length),
		FileCount:      int64(s.FileCount),
		DirectoryCount: int64(s.DirectoryCount),
		Quota:          s.Quota,
		SpaceConsumed:  int64(s.SpaceConsumed),
		SpaceQuota:     s.SpaceQuota,
	}, nil
}

// FsStatus returns the capacity and usage of the cluster.
func (c *Client) FsStatus(ctx context.Context) (*FsStatus, error) {
	var resp hadoop.GetFsStatsResponse
	if err := c.call(ctx, "getFsStats", "", &hadoop.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &FsStatus{
		Capacity:        int64(resp.Capacity),
		Used:            int64(resp.Used),
		Remaining:       int64(resp.Remaining),
		UnderReplicated: int64(resp.UnderReplicated),
		CorruptBlocks:   int64(resp.CorruptBlocks),
		MissingBlocks:   int64(resp.MissingBlocks),
	}, nil
}

// ServerDefaults returns the defaults the name node applies to new files.
func (c *Client) ServerDefaults(ctx context.Context) (*ServerDefaults, error) {
	var resp hadoop.GetServerDefaultsResponse
	if err := c.call(ctx, "getServerDefaults", "", &hadoop.Empty{}, &resp); err != nil {
		return nil, err
	}
	d := resp.ServerDefaults
	return &ServerDefaults{
		BlockSize:        int64(d.BlockSize),
		BytesPerChecksum: int(d.BytesPerChecksum),
		WritePacketSize:  int(d.WritePacketSize),
		Replication:      int(d.Replication),
		FileBufferSize:   int(d.FileBufferSize),
		ChecksumType:     d.ChecksumType,
		TrashInterval:    time.Duration(d.TrashInterval) * time.Minute,
	}, nil
}
