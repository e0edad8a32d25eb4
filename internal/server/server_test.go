package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(ctx context.Context, conn net.Conn) {
	_, _ = io.Copy(conn, conn)
}

func startEcho(t *testing.T) *Server {
	t.Helper()
	s := New("echo", HandlerFunc(echo))
	require.NoError(t, s.Listen("127.0.0.1:0"))
	go func() { _ = s.Serve(context.Background()) }()
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerEcho(t *testing.T) {
	s := startEcho(t)
	conn := dial(t, s)

	_, err := conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestServerCloseConnections(t *testing.T) {
	s := startEcho(t)
	conn := dial(t, s)

	// Round trip once so the connection is tracked before closing.
	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, make([]byte, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, s.CloseConnections())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	// The listener keeps accepting.
	again := dial(t, s)
	_, err = again.Write([]byte("y"))
	require.NoError(t, err)
	_, err = io.ReadFull(again, make([]byte, 1))
	assert.NoError(t, err)
}

func TestServerStop(t *testing.T) {
	s := New("echo", HandlerFunc(echo))
	require.NoError(t, s.Listen("127.0.0.1:0"))
	served := make(chan error, 1)
	go func() { served <- s.Serve(context.Background()) }()

	conn := dial(t, s)
	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, make([]byte, 1))
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	_, err = net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServeBeforeListen(t *testing.T) {
	s := New("idle", HandlerFunc(echo))
	assert.Error(t, s.Serve(context.Background()))
	assert.Nil(t, s.Addr())
}
