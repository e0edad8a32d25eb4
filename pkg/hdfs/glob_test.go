package hdfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohdfs/internal/minicluster"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

func TestGlob(t *testing.T) {
	fs, _ := newFS(t, minicluster.Config{DataNodes: 1})
	ctx := context.Background()
	for _, name := range []string{"a", "a1", "a2", "a3", "b1"} {
		require.NoError(t, fs.Touch(ctx, "/tmp/test/"+name))
	}
	require.NoError(t, fs.Mkdir(ctx, "/tmp/test/dir1/x"))
	require.NoError(t, fs.Mkdir(ctx, "/tmp/test/dir2/x"))
	require.NoError(t, fs.Touch(ctx, "/tmp/test/dir1/x/data"))

	tests := []struct {
		pattern string
		want    []string
	}{
		{"/tmp/test/a*", []string{"/tmp/test/a", "/tmp/test/a1", "/tmp/test/a2", "/tmp/test/a3"}},
		{"/tmp/test/?1", []string{"/tmp/test/a1", "/tmp/test/b1"}},
		{"/tmp/test/a[23]", []string{"/tmp/test/a2", "/tmp/test/a3"}},
		{"/tmp/test/dir*/x", []string{"/tmp/test/dir1/x", "/tmp/test/dir2/x"}},
		{"/tmp/test/dir*/x/*", []string{"/tmp/test/dir1/x/data"}},
		{"/tmp/*/a", []string{"/tmp/test/a"}},
		{"/tmp/test/a1", []string{"/tmp/test/a1"}},
		{"/tmp/test/zz", nil},
		{"/tmp/test/z*", nil},
		{"/nowhere/*", nil},
	}
	for _, tt := range tests {
		got, err := fs.Glob(ctx, tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.want, got, tt.pattern)
	}

	for _, bad := range []string{"/tmp/**", "/tmp/test/[a"} {
		_, err := fs.Glob(ctx, bad)
		require.Error(t, err, bad)
		assert.Equal(t, fserror.KindArgument, fserror.KindOf(err))
	}
}
