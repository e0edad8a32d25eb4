// Package rpc manages the session with the name node: connection handshake,
// authentication, request/response correlation and re-dialing a broken
// connection.
package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/internal/ratelimiter"
	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/metrics"
)

// Conn is a session with the name node.
//
// Calls are serialized: one RPC is outstanding at any time. A call is never
// retried once the handshake has succeeded; when the socket breaks the call
// fails and the next call dials again.
//
// Conn is safe for concurrent use.
type Conn struct {
	opts     *config.Options
	metrics  metrics.ClientMetrics
	clientID []byte
	pid      int
	pacer    *ratelimiter.RateLimiter
	auth     mechanism

	// callMu serializes calls and dials
	callMu sync.Mutex
	callID int32
	reader *bufio.Reader

	// sockMu guards sock, so Close can interrupt a call holding callMu
	sockMu sync.Mutex
	sock   net.Conn

	closed atomic.Bool
}

// Dial connects to the name node described by opts and performs the
// handshake. Failed attempts are retried up to opts.ConnectRetries times,
// paced by opts.ConnectRetryRate.
//
// Parameters:
//   - ctx: Bounds the whole dial including retries
//   - opts: Connection options; Host, Port and credentials are used
//   - m: Metrics collector (nil for none)
//
// Returns:
//   - *Conn: Established session
//   - error: ConnectionError when the name node cannot be reached or rejects
//     authentication, ArgumentError for unusable credentials
func Dial(ctx context.Context, opts *config.Options, m metrics.ClientMetrics) (*Conn, error) {
	auth, err := newMechanism(opts)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	c := &Conn{
		opts:     opts,
		metrics:  metrics.OrNoop(m),
		clientID: id[:],
		pid:      os.Getpid(),
		pacer:    ratelimiter.New(opts.ConnectRetryRate, 1),
		auth:     auth,
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ClientID returns the 16-byte client id sent with every request.
func (c *Conn) ClientID() []byte {
	return c.clientID
}

// Address returns the name node address.
func (c *Conn) Address() string {
	return c.opts.Address()
}

// User returns the effective user of the session.
func (c *Conn) User() string {
	return c.opts.User
}

// Call invokes method on the name node, encoding req and decoding the reply
// into resp.
//
// Errors reported by the name node are mapped from their exception class
// (see fserror.FromRemote). Socket failures are ConnectionErrors and leave the
// connection to be re-dialed by the next call.
func (c *Conn) Call(ctx context.Context, method string, req, resp hadoop.Message) error {
	if pid := os.Getpid(); pid != c.pid {
		logger.Warn("Name node connection to %s was opened by process %d and used from process %d; sessions cannot cross a fork", c.Address(), c.pid, pid)
		return fserror.New(fserror.KindConnection, method, "", "connection opened by another process")
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.closed.Load() {
		return fserror.New(fserror.KindConnection, method, "", "connection closed")
	}

	start := time.Now()
	err := c.call(ctx, method, req, resp)
	c.metrics.RecordCall(method, time.Since(start), err)
	if err != nil {
		logger.Debug("RPC %s failed after %v: %v", method, time.Since(start), err)
	} else {
		logger.Debug("RPC %s completed in %v", method, time.Since(start))
	}
	return err
}

func (c *Conn) call(ctx context.Context, method string, req, resp hadoop.Message) error {
	sock, err := c.session(ctx)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = sock.SetDeadline(time.Unix(1, 0))
	})
	defer stop()
	_ = sock.SetDeadline(deadline(ctx, c.opts.ReadTimeout))

	c.callID++
	if c.callID < 0 {
		c.callID = 0
	}
	id := c.callID

	rpcHeader := &hadoop.RpcRequestHeader{
		RpcKind:  hadoop.RpcKindProtocolBuffer,
		RpcOp:    hadoop.RpcFinalPacket,
		CallID:   id,
		ClientID: c.clientID,
	}
	reqHeader := &hadoop.RequestHeader{
		MethodName:                 method,
		DeclaringClassProtocolName: hadoop.ClientProtocol,
		ClientProtocolVersion:      hadoop.ClientProtocolVersion,
	}
	if err := hadoop.WriteFrame(sock, rpcHeader, reqHeader, req); err != nil {
		return c.broken(ctx, sock, method, err)
	}

	body, err := hadoop.ReadFrame(c.reader)
	if err != nil {
		return c.broken(ctx, sock, method, err)
	}

	var respHeader hadoop.RpcResponseHeader
	rest, err := hadoop.DecodeDelimited(body, &respHeader)
	if err != nil {
		c.drop(sock)
		return err
	}
	// A fatal reply may carry the connection context call id when the server
	// rejected the handshake.
	if respHeader.Status == hadoop.RpcStatusFatal {
		c.drop(sock)
		return fserror.Wrap(fserror.KindConnection, method, "", fserror.FromRemote(method, "", respHeader.ExceptionClassName, respHeader.ErrorMsg))
	}
	if respHeader.CallID != id {
		c.drop(sock)
		return fserror.New(fserror.KindProtocol, method, "", "response call id %d does not match request %d", respHeader.CallID, id)
	}
	if respHeader.Status != hadoop.RpcStatusSuccess {
		return fserror.FromRemote(method, "", respHeader.ExceptionClassName, respHeader.ErrorMsg)
	}

	if _, err := hadoop.DecodeDelimited(rest, resp); err != nil {
		return err
	}
	return nil
}

// session returns the current socket, dialing a new one when the previous
// connection broke.
func (c *Conn) session(ctx context.Context) (net.Conn, error) {
	c.sockMu.Lock()
	sock := c.sock
	c.sockMu.Unlock()
	if sock != nil {
		return sock, nil
	}

	logger.Info("Reconnecting to name node %s", c.Address())
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	if c.sock == nil {
		return nil, fserror.New(fserror.KindConnection, "connect", "", "connection closed")
	}
	return c.sock, nil
}

// broken drops the socket after an I/O failure and converts err.
func (c *Conn) broken(ctx context.Context, sock net.Conn, method string, err error) error {
	c.drop(sock)
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if c.closed.Load() {
		err = net.ErrClosed
	}
	return fserror.Wrap(fserror.KindConnection, method, "", err)
}

func (c *Conn) drop(sock net.Conn) {
	c.sockMu.Lock()
	if c.sock == sock {
		c.sock = nil
	}
	c.sockMu.Unlock()
	_ = sock.Close()
}

// connect dials with bounded retries. Must hold callMu.
func (c *Conn) connect(ctx context.Context) error {
	addr := c.Address()
	var lastErr error

	for attempt := 0; attempt <= c.opts.ConnectRetries; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		sock, reader, err := c.handshake(ctx)
		c.metrics.RecordConnect(err)
		if err == nil {
			c.sockMu.Lock()
			if c.closed.Load() {
				c.sockMu.Unlock()
				_ = sock.Close()
				return fserror.New(fserror.KindConnection, "connect", "", "connection closed")
			}
			c.sock = sock
			c.reader = reader
			c.sockMu.Unlock()

			logger.Info("Connected to name node %s as %s (auth: %s)", addr, c.opts.User, c.authName())
			return nil
		}

		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) {
			lastErr = perm.err
			break
		}
		logger.Debug("Connect attempt %d/%d to %s failed: %v", attempt+1, c.opts.ConnectRetries+1, addr, err)
	}

	return &fserror.Error{
		Kind:    fserror.KindConnection,
		Op:      "connect",
		Message: fmt.Sprintf("cannot connect to %s", addr),
		Err:     lastErr,
	}
}

// handshake dials and runs the preamble, the optional SASL exchange and the
// connection context.
func (c *Conn) handshake(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}
	sock, err := dialer.DialContext(ctx, "tcp", c.Address())
	if err != nil {
		return nil, nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = sock.Close()
		}
	}()

	_ = sock.SetDeadline(deadline(ctx, c.opts.ConnectTimeout))

	authProtocol := hadoop.AuthProtocolNone
	if c.auth != nil {
		authProtocol = hadoop.AuthProtocolSasl
	}
	if err := hadoop.WriteConnectionHeader(sock, authProtocol); err != nil {
		return nil, nil, err
	}

	reader := bufio.NewReader(sock)
	if c.auth != nil {
		if err := authenticate(sock, reader, c.auth); err != nil {
			return nil, nil, err
		}
	}

	header := &hadoop.RpcRequestHeader{
		RpcKind:    hadoop.RpcKindProtocolBuffer,
		RpcOp:      hadoop.RpcFinalPacket,
		CallID:     hadoop.ConnectionContextCallID,
		ClientID:   c.clientID,
		RetryCount: -1,
	}
	connContext := &hadoop.IpcConnectionContext{
		EffectiveUser: c.opts.User,
		Protocol:      hadoop.ClientProtocol,
	}
	if err := hadoop.WriteFrame(sock, header, connContext); err != nil {
		return nil, nil, err
	}
	if c.auth == nil {
		if err := c.confirm(sock, reader); err != nil {
			return nil, nil, err
		}
	}

	_ = sock.SetDeadline(time.Time{})
	ok = true
	return sock, reader, nil
}

// confirm runs one getServerDefaults call on a fresh SIMPLE session. The name
// node answers the connection context only when it rejects it, so this is the
// first point where a rejected handshake is visible.
func (c *Conn) confirm(sock net.Conn, reader *bufio.Reader) error {
	c.callID++
	if c.callID < 0 {
		c.callID = 0
	}
	id := c.callID

	rpcHeader := &hadoop.RpcRequestHeader{
		RpcKind:  hadoop.RpcKindProtocolBuffer,
		RpcOp:    hadoop.RpcFinalPacket,
		CallID:   id,
		ClientID: c.clientID,
	}
	reqHeader := &hadoop.RequestHeader{
		MethodName:                 "getServerDefaults",
		DeclaringClassProtocolName: hadoop.ClientProtocol,
		ClientProtocolVersion:      hadoop.ClientProtocolVersion,
	}
	// the rejection may already be buffered when the write fails
	werr := hadoop.WriteFrame(sock, rpcHeader, reqHeader, &hadoop.Empty{})

	body, err := hadoop.ReadFrame(reader)
	if err != nil {
		if werr != nil {
			return werr
		}
		return err
	}

	var respHeader hadoop.RpcResponseHeader
	rest, err := hadoop.DecodeDelimited(body, &respHeader)
	if err != nil {
		return &permanentError{err}
	}
	if respHeader.Status != hadoop.RpcStatusSuccess {
		return &permanentError{fserror.FromRemote("connect", "", respHeader.ExceptionClassName, respHeader.ErrorMsg)}
	}
	if respHeader.CallID != id {
		return &permanentError{fserror.New(fserror.KindProtocol, "connect", "", "response call id %d does not match request %d", respHeader.CallID, id)}
	}
	var defaults hadoop.GetServerDefaultsResponse
	if _, err := hadoop.DecodeDelimited(rest, &defaults); err != nil {
		return &permanentError{err}
	}
	return nil
}

func (c *Conn) authName() string {
	if c.auth == nil {
		return "SIMPLE"
	}
	return c.auth.method()
}

// Close closes the connection. In-flight calls fail with a ConnectionError.
// Close is idempotent.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.sockMu.Lock()
	sock := c.sock
	c.sock = nil
	c.sockMu.Unlock()

	if sock != nil {
		logger.Info("Disconnected from name node %s", c.Address())
		return sock.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// permanentError marks a handshake failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
