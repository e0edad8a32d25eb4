package metadata

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// DefaultDirPermission is used by Mkdir when perm is 0.
const DefaultDirPermission os.FileMode = 0o755

// unchangedTime tells setTimes to keep a timestamp.
const unchangedTime = math.MaxUint64

// Mkdir creates directory p and any missing parents. Creating an existing
// directory succeeds.
func (c *Client) Mkdir(ctx context.Context, p string, perm os.FileMode) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if perm == 0 {
		perm = DefaultDirPermission
	}

	var resp hadoop.BoolResponse
	req := &hadoop.MkdirsRequest{Src: p, Masked: permissionToWire(perm), CreateParent: true}
	if err := c.call(ctx, "mkdirs", p, req, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fserror.New(fserror.KindIO, "mkdir", p, "name node refused to create directory")
	}
	return nil
}

// Rename moves oldPath to newPath. When newPath is an existing directory the
// source is moved into it.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	info, err := c.exists(ctx, "rename", oldPath)
	if err != nil {
		return err
	}
	dst, err := CleanPath(newPath)
	if err != nil {
		return err
	}

	var resp hadoop.BoolResponse
	if err := c.call(ctx, "rename", info.Name, &hadoop.RenameRequest{Src: info.Name, Dst: dst}, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fserror.New(fserror.KindIO, "rename", info.Name, "cannot rename to %s", dst)
	}
	return nil
}

// Delete removes p. A non-empty directory needs recursive.
func (c *Client) Delete(ctx context.Context, p string, recursive bool) error {
	info, err := c.exists(ctx, "delete", p)
	if err != nil {
		return err
	}

	var resp hadoop.BoolResponse
	if err := c.call(ctx, "delete", info.Name, &hadoop.DeleteRequest{Src: info.Name, Recursive: recursive}, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fserror.New(fserror.KindIO, "delete", info.Name, "name node refused to delete")
	}
	return nil
}

// SetPermissions sets the permission bits of p. os.ModeSticky maps to the
// sticky bit; other mode type bits are ignored.
func (c *Client) SetPermissions(ctx context.Context, p string, mode os.FileMode) error {
	info, err := c.exists(ctx, "chmod", p)
	if err != nil {
		return err
	}
	req := &hadoop.SetPermissionRequest{Src: info.Name, Permission: permissionToWire(mode)}
	return c.call(ctx, "setPermission", info.Name, req, &hadoop.Empty{})
}

// SetOwner changes the owner and/or group of p. An empty value keeps the
// current one.
func (c *Client) SetOwner(ctx context.Context, p, owner, group string) error {
	if owner == "" && group == "" {
		return fserror.Argument("chown", "owner and group cannot both be empty")
	}
	info, err := c.exists(ctx, "chown", p)
	if err != nil {
		return err
	}
	req := &hadoop.SetOwnerRequest{Src: info.Name, Username: owner, Groupname: group}
	return c.call(ctx, "setOwner", info.Name, req, &hadoop.Empty{})
}

// SetReplication sets the replication factor of file p. Zero selects the
// cluster default. Factors above the number of data nodes are accepted; the
// name node replicates as far as it can.
func (c *Client) SetReplication(ctx context.Context, p string, n int) error {
	if n < 0 {
		return fserror.Argument("setReplication", "replication must be non-negative, got %d", n)
	}
	if n > math.MaxInt16 {
		return fserror.Argument("setReplication", "replication %d is too large", n)
	}

	info, err := c.exists(ctx, "setReplication", p)
	if err != nil {
		return err
	}
	if n == 0 {
		defaults, err := c.ServerDefaults(ctx)
		if err != nil {
			return err
		}
		n = defaults.Replication
		logger.Debug("Using cluster default replication %d for %s", n, info.Name)
	}

	var resp hadoop.BoolResponse
	req := &hadoop.SetReplicationRequest{Src: info.Name, Replication: uint32(n)}
	if err := c.call(ctx, "setReplication", info.Name, req, &resp); err != nil {
		return err
	}
	if !resp.Result {
		return fserror.New(fserror.KindIO, "setReplication", info.Name, "not a file")
	}
	return nil
}

// SetTimes sets the modification and access times of p. A zero time keeps
// the current value.
func (c *Client) SetTimes(ctx context.Context, p string, mtime, atime time.Time) error {
	info, err := c.exists(ctx, "setTimes", p)
	if err != nil {
		return err
	}
	req := &hadoop.SetTimesRequest{Src: info.Name, Mtime: wireTime(mtime), Atime: wireTime(atime)}
	return c.call(ctx, "setTimes", info.Name, req, &hadoop.Empty{})
}

func wireTime(t time.Time) uint64 {
	if t.IsZero() {
		return unchangedTime
	}
	return uint64(t.UnixMilli())
}

// Truncate shortens file p to size bytes. It reports whether the file is
// ready for use; false means the name node is still recovering the last
// block. Name nodes without truncate support yield a NotSupported error.
func (c *Client) Truncate(ctx context.Context, p string, size int64) (bool, error) {
	if size < 0 {
		return false, fserror.Argument("truncate", "negative size %d", size)
	}
	info, err := c.exists(ctx, "truncate", p)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fserror.New(fserror.KindArgument, "truncate", info.Name, "is a directory")
	}
	if size > info.Size {
		return false, fserror.New(fserror.KindArgument, "truncate", info.Name, "cannot grow file from %d to %d bytes", info.Size, size)
	}

	var resp hadoop.BoolResponse
	req := &hadoop.TruncateRequest{Src: info.Name, NewLength: uint64(size), ClientName: c.clientName}
	if err := c.call(ctx, "truncate", info.Name, req, &resp); err != nil {
		return false, err
	}
	return resp.Result, nil
}

// Concat moves the blocks of srcs, in order, to the end of target and
// removes srcs. All files must be in the same directory.
func (c *Client) Concat(ctx context.Context, target string, srcs []string) error {
	if len(srcs) == 0 {
		return fserror.Argument("concat", "no source files")
	}
	info, err := c.exists(ctx, "concat", target)
	if err != nil {
		return err
	}
	cleaned := make([]string, 0, len(srcs))
	for _, s := range srcs {
		src, err := c.exists(ctx, "concat", s)
		if err != nil {
			return err
		}
		cleaned = append(cleaned, src.Name)
	}
	return c.call(ctx, "concat", info.Name, &hadoop.ConcatRequest{Trg: info.Name, Srcs: cleaned}, &hadoop.Empty{})
}
