package metadata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/minicluster"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/rpc"
)

func newClient(t *testing.T, cfg minicluster.Config) (*Client, *minicluster.Cluster) {
	t.Helper()
	c := minicluster.MustStart(t, cfg)
	conn, err := rpc.Dial(context.Background(), c.Options(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return New(conn, "DFSClient_metadata_test"), c
}

// allocate creates p with blocks of the given sizes. Only the name node
// records the blocks; no data is written to the data nodes.
func allocate(t *testing.T, mc *Client, p string, sizes ...int64) *PathInfo {
	t.Helper()
	ctx := context.Background()
	info, err := mc.Create(ctx, p, CreateOptions{Overwrite: true, CreateParent: true})
	require.NoError(t, err)

	var prev *hadoop.ExtendedBlock
	for _, size := range sizes {
		lb, err := mc.AddBlock(ctx, info.Name, info.FileID, prev, nil)
		require.NoError(t, err)
		b := lb.B
		b.NumBytes = uint64(size)
		prev = &b
	}
	done, err := mc.Complete(ctx, info.Name, info.FileID, prev)
	require.NoError(t, err)
	require.True(t, done)
	return info
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "/a/b", want: "/a/b"},
		{in: "a/b/", want: "/a/b"},
		{in: "/a/../b//c", want: "/b/c"},
		{in: "hdfs://namenode:8020/user/x", want: "/user/x"},
		{in: "", wantErr: true},
		{in: "/a\x00b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatAndExists(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()

	root, err := mc.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, "/", root.Name)
	assert.Equal(t, "tester", root.Owner)
	assert.Equal(t, os.FileMode(0o755)|os.ModeDir, root.Mode())

	_, err = mc.Stat(ctx, "/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fserror.ErrNotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	ok, err := mc.Exists(ctx, "/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	allocate(t, mc, "/data/file", 100)
	ok, err = mc.Exists(ctx, "/data/file")
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := mc.Stat(ctx, "data/file")
	require.NoError(t, err)
	assert.Equal(t, "/data/file", info.Name)
	assert.Equal(t, KindFile, info.Kind)
	assert.Equal(t, int64(100), info.Size)
	assert.Equal(t, 1, info.Replication)
	assert.Equal(t, DefaultFilePermission, info.Permission)
	assert.False(t, info.ModTime.IsZero())
}

func TestList(t *testing.T) {
	mc, cluster := newClient(t, minicluster.Config{DataNodes: 1, ListingLimit: 2})
	ctx := context.Background()

	for _, name := range []string{"e", "c", "a", "d", "b"} {
		require.NoError(t, mc.Mkdir(ctx, "/dir/"+name, 0))
	}
	allocate(t, mc, "/dir/f")

	entries, err := mc.List(ctx, "/dir")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"/dir/a", "/dir/b", "/dir/c", "/dir/d", "/dir/e", "/dir/f"}, names)
	assert.Equal(t, KindFile, entries[5].Kind)
	assert.Equal(t, 3, cluster.NameNode.Calls("getListing"), "six entries in pages of two")

	self, err := mc.List(ctx, "/dir/f")
	require.NoError(t, err)
	require.Len(t, self, 1)
	assert.Equal(t, "/dir/f", self[0].Name)

	_, err = mc.List(ctx, "/nope")
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))
}

func TestMkdirRenameDelete(t *testing.T) {
	mc, cluster := newClient(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()

	require.NoError(t, mc.Mkdir(ctx, "/a/b/c", 0o700))
	require.NoError(t, mc.Mkdir(ctx, "/a/b/c", 0o700), "existing directory")
	info, err := mc.Stat(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Permission)

	err = mc.Rename(ctx, "/missing", "/x")
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))
	assert.Equal(t, 0, cluster.NameNode.Calls("rename"), "existence is checked first")

	require.NoError(t, mc.Rename(ctx, "/a/b", "/moved"))
	ok, err := mc.Exists(ctx, "/moved/c")
	require.NoError(t, err)
	assert.True(t, ok)

	err = mc.Rename(ctx, "/moved", "/moved/c/inside")
	assert.Equal(t, fserror.KindIO, fserror.KindOf(err))

	err = mc.Delete(ctx, "/moved", false)
	assert.Equal(t, fserror.KindIO, fserror.KindOf(err), "directory is not empty")

	require.NoError(t, mc.Delete(ctx, "/moved", true))
	ok, err = mc.Exists(ctx, "/moved")
	require.NoError(t, err)
	assert.False(t, ok)

	err = mc.Delete(ctx, "/moved", true)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestSetPermissionsAndOwner(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()
	allocate(t, mc, "/f")

	require.NoError(t, mc.SetPermissions(ctx, "/f", 0o600))
	info, err := mc.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Permission)

	require.NoError(t, mc.Mkdir(ctx, "/shared", 0))
	require.NoError(t, mc.SetPermissions(ctx, "/shared", 0o777|os.ModeSticky))
	info, err = mc.Stat(ctx, "/shared")
	require.NoError(t, err)
	assert.Equal(t, 0o777|os.ModeSticky, info.Permission)

	require.NoError(t, mc.SetOwner(ctx, "/f", "", "analysts"))
	info, err = mc.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, "tester", info.Owner)
	assert.Equal(t, "analysts", info.Group)

	assert.Equal(t, fserror.KindArgument, fserror.KindOf(mc.SetOwner(ctx, "/f", "", "")))
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(mc.SetPermissions(ctx, "/missing", 0o644)))
}

func TestSetReplication(t *testing.T) {
	mc, cluster := newClient(t, minicluster.Config{DataNodes: 3})
	ctx := context.Background()
	allocate(t, mc, "/f", 10)

	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("factor %d", n), func(t *testing.T) {
			require.NoError(t, mc.SetReplication(ctx, "/f", n))
			info, err := mc.Stat(ctx, "/f")
			require.NoError(t, err)
			assert.Equal(t, n, info.Replication)
		})
	}

	t.Run("negative", func(t *testing.T) {
		before := cluster.NameNode.Calls("getFileInfo") + cluster.NameNode.Calls("setReplication")
		err := mc.SetReplication(ctx, "/f", -1)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
		after := cluster.NameNode.Calls("getFileInfo") + cluster.NameNode.Calls("setReplication")
		assert.Equal(t, before, after, "no call reaches the name node")
	})

	t.Run("cluster default", func(t *testing.T) {
		require.NoError(t, mc.SetReplication(ctx, "/f", 1))
		require.NoError(t, mc.SetReplication(ctx, "/f", 0))
		info, err := mc.Stat(ctx, "/f")
		require.NoError(t, err)
		assert.Equal(t, 3, info.Replication)
	})

	t.Run("above node count", func(t *testing.T) {
		assert.NoError(t, mc.SetReplication(ctx, "/f", 10))
	})

	t.Run("directory", func(t *testing.T) {
		require.NoError(t, mc.Mkdir(ctx, "/d", 0))
		assert.Equal(t, fserror.KindIO, fserror.KindOf(mc.SetReplication(ctx, "/d", 2)))
	})
}

func TestGetBlockLocations(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 3, BlockSize: 1024})
	ctx := context.Background()
	allocate(t, mc, "/f", 1024, 10)

	locs, err := mc.GetBlockLocations(ctx, "/f", 0, 0)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, int64(0), locs[0].Offset)
	assert.Equal(t, int64(1024), locs[0].Length)
	assert.Equal(t, int64(1024), locs[1].Offset)
	assert.Equal(t, int64(10), locs[1].Length)
	assert.Equal(t, []string{"localhost", "localhost", "localhost"}, locs[0].Hosts)
	assert.Len(t, locs[0].Names, 3)
	require.NotNil(t, locs[1].Block)
	assert.NotZero(t, locs[1].Block.B.BlockID)

	tail, err := mc.GetBlockLocations(ctx, "/f", 1030, 0)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(1024), tail[0].Offset)

	_, err = mc.GetBlockLocations(ctx, "/missing", 0, 0)
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))

	_, err = mc.GetBlockLocations(ctx, "/f", -1, 0)
	assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
}

func TestSummaryStatusDefaults(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 2, BlockSize: 2048, Capacity: 1 << 20})
	ctx := context.Background()
	allocate(t, mc, "/s/a", 100)
	allocate(t, mc, "/s/sub/b", 50)

	summary, err := mc.ContentSummary(ctx, "/s")
	require.NoError(t, err)
	assert.Equal(t, int64(150), summary.Length)
	assert.Equal(t, int64(2), summary.FileCount)
	assert.Equal(t, int64(2), summary.DirectoryCount)
	assert.Equal(t, int64(-1), summary.Quota)

	status, err := mc.FsStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), status.Capacity)
	assert.Equal(t, status.Capacity-status.Used, status.Remaining)

	defaults, err := mc.ServerDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), defaults.BlockSize)
	assert.Equal(t, 2, defaults.Replication)
	assert.Equal(t, 512, defaults.BytesPerChecksum)
}

func TestSetTimes(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()
	allocate(t, mc, "/f")
	before, err := mc.Stat(ctx, "/f")
	require.NoError(t, err)

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, mc.SetTimes(ctx, "/f", mtime, time.Time{}))

	info, err := mc.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime), info.ModTime)
	assert.True(t, before.AccessTime.Equal(info.AccessTime), "zero time keeps the access time")
}

func TestTruncate(t *testing.T) {
	t.Run("supported", func(t *testing.T) {
		mc, _ := newClient(t, minicluster.Config{DataNodes: 1, BlockSize: 1024})
		ctx := context.Background()
		allocate(t, mc, "/f", 1024, 10)

		_, err := mc.Truncate(ctx, "/f", 5000)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))

		done, err := mc.Truncate(ctx, "/f", 1024)
		require.NoError(t, err)
		assert.True(t, done)

		info, err := mc.Stat(ctx, "/f")
		require.NoError(t, err)
		assert.Equal(t, int64(1024), info.Size)
	})

	t.Run("not supported", func(t *testing.T) {
		mc, _ := newClient(t, minicluster.Config{DataNodes: 1, DisableTruncate: true})
		allocate(t, mc, "/f")

		_, err := mc.Truncate(context.Background(), "/f", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, fserror.ErrNotSupported))
		assert.True(t, fserror.IsRemote(err, "org.apache.hadoop.ipc.RpcNoSuchMethodException"))
	})
}

func TestConcat(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 1, BlockSize: 1024})
	ctx := context.Background()
	allocate(t, mc, "/c/target", 100)
	allocate(t, mc, "/c/part1", 200)
	allocate(t, mc, "/c/part2", 300)
	allocate(t, mc, "/other/part", 10)

	assert.Equal(t, fserror.KindArgument, fserror.KindOf(mc.Concat(ctx, "/c/target", nil)))
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(mc.Concat(ctx, "/c/target", []string{"/c/nope"})))
	assert.Equal(t, fserror.KindArgument, fserror.KindOf(mc.Concat(ctx, "/c/target", []string{"/other/part"})))

	require.NoError(t, mc.Concat(ctx, "/c/target", []string{"/c/part1", "/c/part2"}))
	info, err := mc.Stat(ctx, "/c/target")
	require.NoError(t, err)
	assert.Equal(t, int64(600), info.Size)

	entries, err := mc.List(ctx, "/c")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteLeaseCalls(t *testing.T) {
	mc, cluster := newClient(t, minicluster.Config{DataNodes: 2, BlockSize: 1024, CompleteDelay: 1})
	ctx := context.Background()

	_, err := mc.Create(ctx, "/missing/f", CreateOptions{})
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err), "parents are not created by default")

	info, err := mc.Create(ctx, "/f", CreateOptions{Replication: 2, Permission: 0o640})
	require.NoError(t, err)
	assert.Equal(t, 2, info.Replication)
	assert.Equal(t, int64(1024), info.BlockSize)
	assert.Equal(t, os.FileMode(0o640), info.Permission)

	_, err = mc.Create(ctx, "/f", CreateOptions{})
	assert.Error(t, err, "file is open and overwrite is off")

	lb, err := mc.AddBlock(ctx, "/f", info.FileID, nil, nil)
	require.NoError(t, err)
	assert.Len(t, lb.Locs, 2)

	require.NoError(t, mc.AbandonBlock(ctx, "/f", info.FileID, lb.B))
	lb, err = mc.AddBlock(ctx, "/f", info.FileID, nil, lb.Locs[:1])
	require.NoError(t, err)
	assert.Len(t, lb.Locs, 1, "excluded node is not chosen")

	require.NoError(t, mc.RenewLease(ctx))
	assert.Equal(t, 1, cluster.NameNode.LeaseRenewals())

	last := lb.B
	last.NumBytes = 700
	done, err := mc.Complete(ctx, "/f", info.FileID, &last)
	require.NoError(t, err)
	assert.False(t, done)
	done, err = mc.Complete(ctx, "/f", info.FileID, &last)
	require.NoError(t, err)
	assert.True(t, done)

	block, appended, err := mc.Append(ctx, "/f")
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, int64(700), appended.Size)
	assert.Equal(t, uint64(700), block.B.NumBytes)

	_, _, err = mc.Append(ctx, "/missing")
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))
}

func TestWalkAndDiskUsage(t *testing.T) {
	mc, _ := newClient(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()
	allocate(t, mc, "/w/a", 1)
	allocate(t, mc, "/w/sub/b", 2)
	allocate(t, mc, "/w/sub/deeper/c", 4)
	allocate(t, mc, "/w/skip/d", 8)

	var visited []string
	err := mc.Walk(ctx, "/w", func(info *PathInfo, err error) error {
		require.NoError(t, err)
		visited = append(visited, info.Name)
		if info.Name == "/w/skip" {
			return fs.SkipDir
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/w", "/w/a", "/w/skip", "/w/sub", "/w/sub/b", "/w/sub/deeper", "/w/sub/deeper/c"}, visited)

	err = mc.Walk(ctx, "/nope", func(info *PathInfo, err error) error { return err })
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	shallow, err := mc.DiskUsage(ctx, "/w", false, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/w/a": 1, "/w/sub": 0, "/w/skip": 0}, shallow)

	deep, err := mc.DiskUsage(ctx, "/w", false, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deep["/w/sub/deeper/c"])
	assert.Len(t, deep, 7)

	total, err := mc.DiskUsage(ctx, "/w", true, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/w": 15}, total)
}
