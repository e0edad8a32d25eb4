package hdfs

import (
	"context"
	"errors"
	iofs "io/fs"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/minicluster"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/metadata"
)

// newFS starts a cluster and returns a connected FileSystem on it.
func newFS(t *testing.T, cfg minicluster.Config) (*FileSystem, *minicluster.Cluster) {
	t.Helper()
	c := minicluster.MustStart(t, cfg)
	fs, err := New(c.Options(), nil)
	require.NoError(t, err)
	require.NoError(t, fs.Connect(context.Background()))
	t.Cleanup(func() { _ = fs.Disconnect() })
	require.NoError(t, fs.MkdirAll(context.Background(), "/tmp/test", 0o755))
	return fs, c
}

func payload(n int) []byte {
	r := rand.New(rand.NewPCG(uint64(n), 7))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func writeFile(t *testing.T, fs *FileSystem, p string, data []byte) {
	t.Helper()
	require.NoError(t, fs.WriteFile(context.Background(), p, data, OpenOptions{}))
}

func TestNewValidatesOptions(t *testing.T) {
	t.Run("TicketCacheWithToken", func(t *testing.T) {
		opts := config.Default()
		opts.TicketCache = "/tmp/krb5cc_1000"
		opts.Token = "dG9rZW4"
		_, err := New(opts, nil)
		require.Error(t, err)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
	})

	t.Run("NilOptions", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
	})

	t.Run("CopiesOptions", func(t *testing.T) {
		opts := config.Default()
		fs, err := New(opts, nil)
		require.NoError(t, err)
		opts.Host = "elsewhere"
		assert.NotEqual(t, "elsewhere", fs.Options().Host)
		assert.Contains(t, fs.ClientName(), "DFSClient_")
	})
}

func TestConnectLifecycle(t *testing.T) {
	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 1})
	fs, err := New(c.Options(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, fs.Connected())
	_, err = fs.Stat(ctx, "/")
	assert.Equal(t, fserror.KindIO, fserror.KindOf(err))

	require.NoError(t, fs.Connect(ctx))
	assert.True(t, fs.Connected())

	err = fs.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, fserror.KindConnection, fserror.KindOf(err))

	info, err := fs.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, fs.Disconnect())
	require.NoError(t, fs.Disconnect())
	assert.False(t, fs.Connected())

	// A disconnected FileSystem can connect again.
	require.NoError(t, fs.Connect(ctx))
	t.Cleanup(func() { _ = fs.Disconnect() })
	_, err = fs.Stat(ctx, "/")
	require.NoError(t, err)
}

func TestConnectRejectedAuthentication(t *testing.T) {
	token := &hadoop.Token{
		Identifier: []byte("tester-identifier"),
		Password:   []byte("s3cr3t"),
		Kind:       "HDFS_DELEGATION_TOKEN",
		Service:    "127.0.0.1:0",
	}
	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 1, Token: token})
	opts := c.Options()
	opts.Token = ""
	fs, err := New(opts, nil)
	require.NoError(t, err)

	err = fs.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, fserror.KindConnection, fserror.KindOf(err))
	assert.True(t, errors.Is(err, fserror.ErrPermission), err.Error())
	assert.False(t, fs.Connected())
	assert.Equal(t, 0, c.NameNode.Calls("getServerDefaults"))
}

func TestConnectUnreachable(t *testing.T) {
	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 1})
	opts := c.Options()
	require.NoError(t, c.Close())

	fs, err := New(opts, nil)
	require.NoError(t, err)
	err = fs.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, fserror.KindConnection, fserror.KindOf(err))
	assert.False(t, fs.Connected())
}

func TestPathOperations(t *testing.T) {
	fs, _ := newFS(t, minicluster.Config{})
	ctx := context.Background()

	require.NoError(t, fs.Mkdir(ctx, "/tmp/test/dir/sub"))
	writeFile(t, fs, "/tmp/test/dir/f", []byte("hello"))

	ok, err := fs.Exists(ctx, "/tmp/test/dir/f")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = fs.Exists(ctx, "/tmp/test/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := fs.List(ctx, "/tmp/test/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/tmp/test/dir/f", entries[0].Name)
	assert.Equal(t, int64(5), entries[0].Size)
	assert.Equal(t, "/tmp/test/dir/sub", entries[1].Name)
	assert.True(t, entries[1].IsDir())

	require.NoError(t, fs.Rename(ctx, "/tmp/test/dir/f", "/tmp/test/dir/g"))
	_, err = fs.Stat(ctx, "/tmp/test/dir/f")
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))

	require.NoError(t, fs.Chmod(ctx, "/tmp/test/dir/g", 0o600))
	require.NoError(t, fs.Chown(ctx, "/tmp/test/dir/g", "", "analysts"))
	info, err := fs.Stat(ctx, "/tmp/test/dir/g")
	require.NoError(t, err)
	assert.Equal(t, 0o600, int(info.Permission.Perm()))
	assert.Equal(t, "analysts", info.Group)

	mtime := time.UnixMilli(1_600_000_000_000)
	require.NoError(t, fs.SetTimes(ctx, "/tmp/test/dir/g", mtime, time.Time{}))
	info, err = fs.Stat(ctx, "/tmp/test/dir/g")
	require.NoError(t, err)
	assert.True(t, info.ModTime.Equal(mtime))

	err = fs.Delete(ctx, "/tmp/test/dir", false)
	require.Error(t, err)
	require.NoError(t, fs.Delete(ctx, "/tmp/test/dir", true))
	ok, err = fs.Exists(ctx, "/tmp/test/dir")
	require.NoError(t, err)
	assert.False(t, ok)

	err = fs.Delete(ctx, "/tmp/test/dir", true)
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))
}

func TestMkdirAllIgnoresExisting(t *testing.T) {
	fs, _ := newFS(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()

	require.NoError(t, fs.MkdirAll(ctx, "/tmp/test/x/y", 0o700))
	require.NoError(t, fs.MkdirAll(ctx, "/tmp/test/x/y", 0o700))
	info, err := fs.Stat(ctx, "/tmp/test/x/y")
	require.NoError(t, err)
	assert.Equal(t, 0o700, int(info.Permission.Perm()))
}

func TestSetReplication(t *testing.T) {
	fs, c := newFS(t, minicluster.Config{})
	ctx := context.Background()
	writeFile(t, fs, "/tmp/test/file", payload(1000))

	for _, n := range []int{1, 2, 3} {
		require.NoError(t, fs.SetReplication(ctx, "/tmp/test/file", n))
		info, err := fs.Stat(ctx, "/tmp/test/file")
		require.NoError(t, err)
		assert.Equal(t, n, info.Replication)
	}

	calls := c.NameNode.Calls("setReplication")
	err := fs.SetReplication(ctx, "/tmp/test/file", -1)
	require.Error(t, err)
	assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
	assert.Equal(t, calls, c.NameNode.Calls("setReplication"))

	err = fs.SetReplication(ctx, "/tmp/test/missing", 2)
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(err))
}

func TestBlockLocationsAndSummaries(t *testing.T) {
	fs, _ := newFS(t, minicluster.Config{BlockSize: 64 << 10})
	ctx := context.Background()
	writeFile(t, fs, "/tmp/test/big", payload(150<<10))
	writeFile(t, fs, "/tmp/test/small", payload(10))

	locs, err := fs.GetBlockLocations(ctx, "/tmp/test/big", 0, 0)
	require.NoError(t, err)
	require.Len(t, locs, 3)
	assert.Equal(t, int64(0), locs[0].Offset)
	assert.Equal(t, int64(64<<10), locs[1].Offset)
	assert.Equal(t, int64(22<<10), locs[2].Length)
	for _, l := range locs {
		assert.Len(t, l.Hosts, 3)
	}

	cs, err := fs.ContentSummary(ctx, "/tmp/test")
	require.NoError(t, err)
	assert.Equal(t, int64(150<<10+10), cs.Length)
	assert.Equal(t, int64(2), cs.FileCount)

	du, err := fs.DiskUsage(ctx, "/tmp/test", false, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/tmp/test/big": 150 << 10, "/tmp/test/small": 10}, du)

	du, err = fs.DiskUsage(ctx, "/tmp/test", true, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/tmp/test": 150<<10 + 10}, du)

	st, err := fs.FsStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3<<30), st.Capacity)

	defaults, err := fs.ServerDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(64<<10), defaults.BlockSize)
}

func TestWalk(t *testing.T) {
	fs, _ := newFS(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()
	require.NoError(t, fs.Mkdir(ctx, "/tmp/test/w/a"))
	require.NoError(t, fs.Mkdir(ctx, "/tmp/test/w/b"))
	writeFile(t, fs, "/tmp/test/w/a/1", []byte("x"))
	writeFile(t, fs, "/tmp/test/w/b/2", []byte("y"))

	var seen []string
	err := fs.Walk(ctx, "/tmp/test/w", func(info *metadata.PathInfo, err error) error {
		require.NoError(t, err)
		seen = append(seen, info.Name)
		if info.Name == "/tmp/test/w/b" {
			return iofs.SkipDir
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/test/w", "/tmp/test/w/a", "/tmp/test/w/a/1", "/tmp/test/w/b"}, seen)
}

func TestTruncate(t *testing.T) {
	t.Run("Supported", func(t *testing.T) {
		fs, _ := newFS(t, minicluster.Config{DataNodes: 1})
		ctx := context.Background()
		data := payload(3000)
		writeFile(t, fs, "/tmp/test/t", data)

		ready, err := fs.Truncate(ctx, "/tmp/test/t", 1000)
		require.NoError(t, err)
		assert.True(t, ready)

		got, err := fs.ReadFile(ctx, "/tmp/test/t")
		require.NoError(t, err)
		assert.Equal(t, data[:1000], got)
	})

	t.Run("NotSupported", func(t *testing.T) {
		fs, _ := newFS(t, minicluster.Config{DataNodes: 1, DisableTruncate: true})
		writeFile(t, fs, "/tmp/test/t", payload(10))
		_, err := fs.Truncate(context.Background(), "/tmp/test/t", 5)
		require.Error(t, err)
		assert.Equal(t, fserror.KindNotSupported, fserror.KindOf(err))
	})
}
