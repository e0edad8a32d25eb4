package minicluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
)

// newTestNamespace returns a namespace backed by data nodes that are never
// started but count as running for block placement.
func newTestNamespace(t *testing.T, cfg Config) *namespace {
	t.Helper()
	cfg.applyDefaults()
	store := newTestStore(t)
	var nodes []*DataNode
	for i := 0; i < cfg.DataNodes; i++ {
		dn := newDataNode(i, &cfg, store)
		dn.up.Store(true)
		nodes = append(nodes, dn)
	}
	return newNamespace(&cfg, store, nodes)
}

func requireClass(t *testing.T, err error, class string) {
	t.Helper()
	var re *remoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, class, re.class, re.msg)
}

var owner = &caller{user: "tester"}

func TestNamespaceMkdirs(t *testing.T) {
	ns := newTestNamespace(t, Config{})

	t.Run("without parents", func(t *testing.T) {
		_, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: "/a/b"})
		requireClass(t, err, classFileNotFound)
	})

	t.Run("with parents", func(t *testing.T) {
		resp, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: "/a/b/c", CreateParent: true})
		require.NoError(t, err)
		assert.True(t, resp.Result)

		info, err := ns.getFileInfo(owner, &hadoop.GetFileInfoRequest{Src: "/a/b"})
		require.NoError(t, err)
		require.NotNil(t, info.Fs)
		assert.Equal(t, hadoop.FileTypeDir, info.Fs.FileType)
		assert.Equal(t, uint32(0o755), info.Fs.Permission.Perm)
		assert.Equal(t, "tester", info.Fs.Owner)
	})

	t.Run("existing directory", func(t *testing.T) {
		resp, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: "/a", CreateParent: true})
		require.NoError(t, err)
		assert.True(t, resp.Result)
	})

	t.Run("relative path", func(t *testing.T) {
		_, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: "a"})
		requireClass(t, err, classInvalidPath)
	})

	t.Run("permission denied", func(t *testing.T) {
		_, err := ns.mkdirs(&caller{user: "mallory"}, &hadoop.MkdirsRequest{Src: "/a/evil"})
		requireClass(t, err, classAccessControl)

		_, err = ns.mkdirs(&caller{user: Superuser}, &hadoop.MkdirsRequest{Src: "/a/admin"})
		assert.NoError(t, err)
	})
}

func TestNamespaceListingPagination(t *testing.T) {
	ns := newTestNamespace(t, Config{ListingLimit: 2})
	for _, name := range []string{"e", "a", "d", "b", "c"} {
		_, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: "/dir/" + name, CreateParent: true})
		require.NoError(t, err)
	}

	var names []string
	var after []byte
	for {
		resp, err := ns.getListing(owner, &hadoop.GetListingRequest{Src: "/dir", StartAfter: after})
		require.NoError(t, err)
		require.NotNil(t, resp.DirList)
		for _, st := range resp.DirList.PartialListing {
			names = append(names, string(st.Path))
		}
		if resp.DirList.RemainingEntries == 0 {
			break
		}
		after = resp.DirList.PartialListing[len(resp.DirList.PartialListing)-1].Path
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)

	resp, err := ns.getListing(owner, &hadoop.GetListingRequest{Src: "/missing"})
	require.NoError(t, err)
	assert.Nil(t, resp.DirList)
}

func TestNamespaceRename(t *testing.T) {
	ns := newTestNamespace(t, Config{})
	for _, p := range []string{"/src/sub", "/dst"} {
		_, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: p, CreateParent: true})
		require.NoError(t, err)
	}

	tests := []struct {
		name     string
		src, dst string
		want     bool
	}{
		{"missing source", "/nope", "/x", false},
		{"into own subtree", "/src", "/src/sub/x", false},
		{"missing destination parent", "/src", "/no/such/dir", false},
		{"into existing directory", "/src/sub", "/dst", true},
		{"plain rename", "/dst/sub", "/moved", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ns.rename(owner, &hadoop.RenameRequest{Src: tt.src, Dst: tt.dst})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Result)
		})
	}

	info, err := ns.getFileInfo(owner, &hadoop.GetFileInfoRequest{Src: "/moved"})
	require.NoError(t, err)
	assert.NotNil(t, info.Fs)
}

func TestNamespaceDelete(t *testing.T) {
	ns := newTestNamespace(t, Config{})
	_, err := ns.mkdirs(owner, &hadoop.MkdirsRequest{Src: "/full/child", CreateParent: true})
	require.NoError(t, err)

	_, err = ns.deletePath(owner, &hadoop.DeleteRequest{Src: "/full"})
	requireClass(t, err, classNotEmpty)

	resp, err := ns.deletePath(owner, &hadoop.DeleteRequest{Src: "/full", Recursive: true})
	require.NoError(t, err)
	assert.True(t, resp.Result)

	resp, err = ns.deletePath(owner, &hadoop.DeleteRequest{Src: "/full"})
	require.NoError(t, err)
	assert.False(t, resp.Result)
}

func TestNamespaceWritePath(t *testing.T) {
	ns := newTestNamespace(t, Config{DataNodes: 3, BlockSize: 1024, CompleteDelay: 1})
	const client = "DFSClient_test"

	_, err := ns.create(owner, &hadoop.CreateRequest{Src: "/missing/f", ClientName: client, CreateFlag: hadoop.CreateFlagCreate})
	requireClass(t, err, classFileNotFound)

	created, err := ns.create(owner, &hadoop.CreateRequest{Src: "/f", ClientName: client, CreateFlag: hadoop.CreateFlagCreate, Replication: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), created.Fs.BlockSize)
	assert.Equal(t, uint32(2), created.Fs.BlockReplication)

	_, err = ns.create(owner, &hadoop.CreateRequest{Src: "/f", ClientName: "other", CreateFlag: hadoop.CreateFlagCreate | hadoop.CreateFlagOverwrite})
	requireClass(t, err, classBeingCreated)

	_, err = ns.addBlock(owner, &hadoop.AddBlockRequest{Src: "/f", ClientName: "other"})
	requireClass(t, err, classLeaseExpired)

	first, err := ns.addBlock(owner, &hadoop.AddBlockRequest{Src: "/f", ClientName: client})
	require.NoError(t, err)
	assert.Len(t, first.Block.Locs, 2)
	assert.Equal(t, uint64(0), first.Block.Offset)

	prev := first.Block.B
	prev.NumBytes = 1024
	second, err := ns.addBlock(owner, &hadoop.AddBlockRequest{Src: "/f", ClientName: client, Previous: &prev})
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), second.Block.Offset)
	assert.NotEqual(t, first.Block.B.BlockID, second.Block.B.BlockID)

	last := second.Block.B
	last.NumBytes = 10
	done, err := ns.complete(owner, &hadoop.CompleteRequest{Src: "/f", ClientName: client, Last: &last})
	require.NoError(t, err)
	assert.False(t, done.Result, "first complete is delayed")

	done, err = ns.complete(owner, &hadoop.CompleteRequest{Src: "/f", ClientName: client, Last: &last})
	require.NoError(t, err)
	assert.True(t, done.Result)

	locs, err := ns.getBlockLocations(owner, &hadoop.GetBlockLocationsRequest{Src: "/f", Offset: 1000, Length: 100})
	require.NoError(t, err)
	assert.Equal(t, uint64(1034), locs.Locations.FileLength)
	assert.Len(t, locs.Locations.Blocks, 2)
	assert.True(t, locs.Locations.IsLastBlockComplete)

	appended, err := ns.appendFile(owner, &hadoop.AppendRequest{Src: "/f", ClientName: client})
	require.NoError(t, err)
	require.NotNil(t, appended.Block, "partial last block is reopened")
	assert.Equal(t, uint64(1024), appended.Block.Offset)
	assert.Greater(t, appended.Block.B.GenerationStamp, last.GenerationStamp)
}

func TestNamespaceConcatAndTruncate(t *testing.T) {
	ns := newTestNamespace(t, Config{BlockSize: 512})
	const client = "DFSClient_test"

	for i := 0; i < 3; i++ {
		p := fmt.Sprintf("/d/part-%d", i)
		_, err := ns.create(owner, &hadoop.CreateRequest{Src: p, ClientName: client, CreateParent: true})
		require.NoError(t, err)
		blk, err := ns.addBlock(owner, &hadoop.AddBlockRequest{Src: p, ClientName: client})
		require.NoError(t, err)
		b := blk.Block.B
		b.NumBytes = 100
		_, err = ns.complete(owner, &hadoop.CompleteRequest{Src: p, ClientName: client, Last: &b})
		require.NoError(t, err)
	}

	_, err := ns.concat(owner, &hadoop.ConcatRequest{Trg: "/d/part-0", Srcs: []string{"/d/part-0"}})
	requireClass(t, err, classIllegalArgument)

	_, err = ns.concat(owner, &hadoop.ConcatRequest{Trg: "/d/part-0", Srcs: []string{"/d/part-1", "/d/part-2"}})
	require.NoError(t, err)

	summary, err := ns.getContentSummary(owner, &hadoop.GetContentSummaryRequest{Path: "/d"})
	require.NoError(t, err)
	assert.Equal(t, uint64(300), summary.Summary.Length)
	assert.Equal(t, uint64(1), summary.Summary.FileCount)
	assert.Equal(t, int64(-1), summary.Summary.Quota)

	_, err = ns.truncate(owner, &hadoop.TruncateRequest{Src: "/d/part-0", NewLength: 400})
	requireClass(t, err, classIllegalArgument)

	resp, err := ns.truncate(owner, &hadoop.TruncateRequest{Src: "/d/part-0", NewLength: 150})
	require.NoError(t, err)
	assert.True(t, resp.Result)

	info, err := ns.getFileInfo(owner, &hadoop.GetFileInfoRequest{Src: "/d/part-0"})
	require.NoError(t, err)
	assert.Equal(t, uint64(150), info.Fs.Length)
}
