package fserror

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	t.Run("MatchesKindSentinel", func(t *testing.T) {
		err := NotFound("stat", "/tmp/x")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrPermission))
	})

	t.Run("MatchesThroughWrapping", func(t *testing.T) {
		err := fmt.Errorf("open failed: %w", NotFound("open", "/tmp/x"))
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(err, fs.ErrNotExist))
	})

	t.Run("MatchesIOFSSentinels", func(t *testing.T) {
		assert.True(t, errors.Is(New(KindPermission, "chmod", "/", "denied"), fs.ErrPermission))
		assert.True(t, errors.Is(New(KindExists, "mkdir", "/a", "exists"), fs.ErrExist))
		assert.True(t, errors.Is(Argument("seek", "bad whence"), fs.ErrInvalid))
	})

	t.Run("DetailedErrorIsNotASentinel", func(t *testing.T) {
		a := NotFound("stat", "/a")
		b := NotFound("stat", "/b")
		assert.False(t, errors.Is(a, b))
	})
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindIO, Op: "readBlock", Path: "/f", Message: "checksum mismatch", Err: errors.New("replica 10.0.0.1:9866")}
	assert.Equal(t, "readBlock: /f: checksum mismatch: replica 10.0.0.1:9866", err.Error())

	assert.Equal(t, "connect: connection error", (&Error{Kind: KindConnection, Op: "connect"}).Error())
}

func TestFromRemote(t *testing.T) {
	tests := []struct {
		class string
		want  Kind
	}{
		{"java.io.FileNotFoundException", KindNotFound},
		{"org.apache.hadoop.security.AccessControlException", KindPermission},
		{"org.apache.hadoop.fs.FileAlreadyExistsException", KindExists},
		{"org.apache.hadoop.ipc.RpcNoSuchMethodException", KindNotSupported},
		{"java.lang.IllegalArgumentException", KindArgument},
		{"org.apache.hadoop.ipc.StandbyException", KindConnection},
		{"org.example.SomethingElse", KindIO},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			err := FromRemote("getFileInfo", "/p", tt.class, "first line\n\tat org.apache.Foo(Foo.java:1)")
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, "first line", err.Message)
			assert.True(t, IsRemote(err, tt.class))
		})
	}
}

func TestWithPath(t *testing.T) {
	err := WithPath(&Error{Kind: KindNotFound, Op: "stat"}, "/x")
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "/x", e.Path)

	plain := errors.New("plain")
	assert.Equal(t, plain, WithPath(plain, "/x"))
	assert.Equal(t, KindIO, KindOf(plain))
}
