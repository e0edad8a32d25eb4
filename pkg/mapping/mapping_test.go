package mapping

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/minicluster"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/hdfs"
)

func newMap(t *testing.T) (*Map, *hdfs.FileSystem) {
	t.Helper()
	c := minicluster.MustStart(t, minicluster.Config{DataNodes: 1})
	fsys, err := hdfs.New(c.Options(), nil)
	require.NoError(t, err)
	require.NoError(t, fsys.Connect(context.Background()))
	t.Cleanup(func() { _ = fsys.Disconnect() })

	m, err := New(context.Background(), fsys, "/tmp/mapping/")
	require.NoError(t, err)
	return m, fsys
}

func TestNewCreatesRoot(t *testing.T) {
	m, fsys := newMap(t)
	assert.Equal(t, "/tmp/mapping", m.Root())

	info, err := fsys.Stat(context.Background(), "/tmp/mapping")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// An existing root is reused.
	_, err = New(context.Background(), fsys, "/tmp/mapping")
	require.NoError(t, err)
}

func TestPutGetDelete(t *testing.T) {
	m, _ := newMap(t)
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "loc1", []byte("Hello World")))
	require.NoError(t, m.Put(ctx, "empty", nil))

	got, err := m.Get(ctx, "loc1")
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello World"), got)
	got, err = m.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, m.Put(ctx, "loc1", []byte("replaced")))
	got, err = m.Get(ctx, "loc1")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), got)

	ok, err := m.Has(ctx, "loc1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Delete(ctx, "loc1"))
	ok, err = m.Has(ctx, "loc1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Get(ctx, "loc1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, fserror.KindNotFound, fserror.KindOf(m.Delete(ctx, "loc1")))
}

func TestInvalidKeys(t *testing.T) {
	m, _ := newMap(t)
	ctx := context.Background()

	for _, key := range []string{"a/b", "", "..", "/x"} {
		err := m.Put(ctx, key, []byte("v"))
		require.Error(t, err, key)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err), key)

		_, err = m.Get(ctx, key)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err), key)
		_, err = m.Has(ctx, key)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err), key)
	}
}

func TestKeysLenClear(t *testing.T) {
	m, fsys := newMap(t)
	ctx := context.Background()

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, k := range []string{"b", "a", "c"} {
		require.NoError(t, m.Put(ctx, k, []byte(k)))
	}
	require.NoError(t, fsys.Mkdir(ctx, "/tmp/mapping/sub"))
	require.NoError(t, fsys.Touch(ctx, "/tmp/mapping/sub/d"))

	keys, err := m.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "sub/d"}, keys)
	n, err = m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, m.Clear(ctx))
	n, err = m.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := fsys.Exists(ctx, "/tmp/mapping")
	require.NoError(t, err)
	assert.True(t, ok)
}
