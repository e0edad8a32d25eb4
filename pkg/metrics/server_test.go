package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesRegistry(t *testing.T) {
	InitRegistry()
	NewClientMetrics().RecordConnect(nil)

	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dittohdfs_connect_attempts_total")

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, srv.Stop(context.Background()))
}

func TestServerListenError(t *testing.T) {
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer func() { _ = srv.Stop(context.Background()) }()

	_, err = NewServer(ServerConfig{Addr: srv.Addr()})
	require.Error(t, err)
}
