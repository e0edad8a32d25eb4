package minicluster

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/internal/server"
)

const (
	saslServerID = "default"
	saslRealm    = "default"
)

// procedure decodes a request body, runs the handler and returns the reply.
type procedure func(c *caller, body []byte) (hadoop.Message, error)

// method adapts a typed handler to a procedure.
func method[Req any, PReq interface {
	*Req
	hadoop.Message
}, Resp hadoop.Message](handle func(*caller, PReq) (Resp, error)) procedure {
	return func(c *caller, body []byte) (hadoop.Message, error) {
		req := PReq(new(Req))
		if _, err := hadoop.DecodeDelimited(body, req); err != nil {
			return nil, remote("org.apache.hadoop.ipc.RpcServerException", "decode request: %v", err)
		}
		resp, err := handle(c, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// NameNode answers ClientProtocol calls from the in-memory namespace.
type NameNode struct {
	cfg     *Config
	ns      *namespace
	server  *server.Server
	methods map[string]procedure

	mu    sync.Mutex
	calls map[string]int
}

func newNameNode(cfg *Config, ns *namespace) *NameNode {
	nn := &NameNode{
		cfg:   cfg,
		ns:    ns,
		calls: make(map[string]int),
	}
	nn.methods = map[string]procedure{
		"getFileInfo":       method(ns.getFileInfo),
		"getListing":        method(ns.getListing),
		"mkdirs":            method(ns.mkdirs),
		"rename":            method(ns.rename),
		"delete":            method(ns.deletePath),
		"setPermission":     method(ns.setPermission),
		"setOwner":          method(ns.setOwner),
		"setReplication":    method(ns.setReplication),
		"setTimes":          method(ns.setTimes),
		"getBlockLocations": method(ns.getBlockLocations),
		"getContentSummary": method(ns.getContentSummary),
		"getFsStats":        method(ns.getFsStats),
		"getServerDefaults": method(ns.getServerDefaults),
		"concat":            method(ns.concat),
		"create":            method(ns.create),
		"append":            method(ns.appendFile),
		"addBlock":          method(ns.addBlock),
		"complete":          method(ns.complete),
		"abandonBlock":      method(ns.abandonBlock),
		"renewLease":        method(ns.renewLease),
	}
	if !cfg.DisableTruncate {
		nn.methods["truncate"] = method(ns.truncate)
	}
	nn.server = server.New("namenode", nn)
	return nn
}

func (nn *NameNode) start(ctx context.Context) error {
	if err := nn.server.Listen("127.0.0.1:0"); err != nil {
		return err
	}
	go func() {
		if err := nn.server.Serve(ctx); err != nil {
			logger.Warn("namenode: %v", err)
		}
	}()
	return nil
}

// Port returns the RPC port.
func (nn *NameNode) Port() int {
	return nn.server.Addr().Port
}

// CloseConnections drops every client connection, as a restart would.
func (nn *NameNode) CloseConnections() int {
	return nn.server.CloseConnections()
}

// Calls returns how many times method was invoked.
func (nn *NameNode) Calls(method string) int {
	nn.mu.Lock()
	defer nn.mu.Unlock()
	return nn.calls[method]
}

// LeaseRenewals returns the number of renewLease calls from all clients.
func (nn *NameNode) LeaseRenewals() int {
	return nn.ns.leaseRenewals()
}

// ServeConn runs one client connection: preamble, optional SASL exchange,
// connection context, then calls until the client hangs up.
func (nn *NameNode) ServeConn(ctx context.Context, conn net.Conn) {
	r := bufio.NewReader(conn)
	c, err := nn.handshake(r, conn)
	if err != nil {
		logger.Debug("namenode: handshake with %s: %v", conn.RemoteAddr(), err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := nn.handleRequest(c, r, conn); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("namenode: connection from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (nn *NameNode) handshake(r *bufio.Reader, w io.Writer) (*caller, error) {
	auth, err := hadoop.ReadConnectionHeader(r)
	if err != nil {
		return nil, err
	}

	switch {
	case auth == hadoop.AuthProtocolSasl:
		if err := nn.negotiate(r, w); err != nil {
			return nil, err
		}
	case nn.cfg.Token != nil:
		reject := &remoteError{class: classAccessControl, msg: "SIMPLE authentication is not enabled.  Available:[TOKEN]"}
		_ = writeError(w, hadoop.ConnectionContextCallID, nil, hadoop.RpcStatusFatal, reject)
		return nil, reject
	}

	body, err := hadoop.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var header hadoop.RpcRequestHeader
	rest, err := hadoop.DecodeDelimited(body, &header)
	if err != nil {
		return nil, err
	}
	if header.CallID != hadoop.ConnectionContextCallID {
		return nil, fmt.Errorf("expected connection context, got call %d", header.CallID)
	}
	var connContext hadoop.IpcConnectionContext
	if _, err := hadoop.DecodeDelimited(rest, &connContext); err != nil {
		return nil, err
	}
	if connContext.Protocol != hadoop.ClientProtocol {
		return nil, fmt.Errorf("unknown protocol %q", connContext.Protocol)
	}

	logger.Debug("namenode: client %s connected as %q", hadoop.ClientProtocol, connContext.EffectiveUser)
	return &caller{user: connContext.EffectiveUser}, nil
}

func (nn *NameNode) handleRequest(c *caller, r *bufio.Reader, w io.Writer) error {
	body, err := hadoop.ReadFrame(r)
	if err != nil {
		return err
	}

	var rpcHeader hadoop.RpcRequestHeader
	rest, err := hadoop.DecodeDelimited(body, &rpcHeader)
	if err != nil {
		return err
	}
	if rpcHeader.CallID < 0 {
		// ping
		return nil
	}
	var reqHeader hadoop.RequestHeader
	rest, err = hadoop.DecodeDelimited(rest, &reqHeader)
	if err != nil {
		return err
	}

	nn.mu.Lock()
	nn.calls[reqHeader.MethodName]++
	nn.mu.Unlock()

	proc, ok := nn.methods[reqHeader.MethodName]
	if !ok {
		e := remote(classNoSuchMethod, "Unknown method %s called on %s protocol.", reqHeader.MethodName, hadoop.ClientProtocol)
		return writeError(w, rpcHeader.CallID, rpcHeader.ClientID, hadoop.RpcStatusError, e)
	}

	resp, err := proc(c, rest)
	if err != nil {
		var re *remoteError
		if !errors.As(err, &re) {
			re = &remoteError{class: classIOException, msg: err.Error()}
		}
		logger.Debug("namenode: %s failed: %v", reqHeader.MethodName, re)
		return writeError(w, rpcHeader.CallID, rpcHeader.ClientID, hadoop.RpcStatusError, re)
	}

	header := &hadoop.RpcResponseHeader{
		CallID:              rpcHeader.CallID,
		Status:              hadoop.RpcStatusSuccess,
		ServerIpcVersionNum: uint32(hadoop.IpcVersion),
		ClientID:            rpcHeader.ClientID,
		RetryCount:          -1,
	}
	return hadoop.WriteFrame(w, header, resp)
}

func writeError(w io.Writer, callID int32, clientID []byte, status hadoop.RpcStatus, e *remoteError) error {
	header := &hadoop.RpcResponseHeader{
		CallID:              callID,
		Status:              status,
		ServerIpcVersionNum: uint32(hadoop.IpcVersion),
		ExceptionClassName:  e.class,
		ErrorMsg:            e.msg,
		ErrorDetail:         1,
		ClientID:            clientID,
		RetryCount:          -1,
	}
	return hadoop.WriteFrame(w, header)
}

// ============================================================================
// SASL (TOKEN / DIGEST-MD5)
// ============================================================================

func readSasl(r io.Reader) (*hadoop.RpcSasl, error) {
	body, err := hadoop.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var header hadoop.RpcRequestHeader
	rest, err := hadoop.DecodeDelimited(body, &header)
	if err != nil {
		return nil, err
	}
	if header.CallID != hadoop.SaslCallID {
		return nil, fmt.Errorf("expected sasl message, got call %d", header.CallID)
	}
	m := &hadoop.RpcSasl{}
	if _, err := hadoop.DecodeDelimited(rest, m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeSasl(w io.Writer, m *hadoop.RpcSasl) error {
	header := &hadoop.RpcResponseHeader{CallID: hadoop.SaslCallID, Status: hadoop.RpcStatusSuccess, RetryCount: -1}
	return hadoop.WriteFrame(w, header, m)
}

// negotiate runs the server side of the SASL exchange. Only TOKEN is offered,
// and only when the cluster was configured with a token.
func (nn *NameNode) negotiate(r io.Reader, w io.Writer) error {
	m, err := readSasl(r)
	if err != nil {
		return err
	}
	if m.State != hadoop.SaslNegotiate {
		return fmt.Errorf("sasl: expected NEGOTIATE, got %s", m.State)
	}

	if nn.cfg.Token == nil {
		return writeSasl(w, &hadoop.RpcSasl{State: hadoop.SaslNegotiate, Auths: []*hadoop.SaslAuth{{Method: "SIMPLE", Mechanism: ""}}})
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	nonceStr := base64.StdEncoding.EncodeToString(nonce)
	challenge := fmt.Sprintf(`realm="%s",nonce="%s",qop="auth",charset=utf-8,algorithm=md5-sess`, saslRealm, nonceStr)
	offer := &hadoop.RpcSasl{
		State: hadoop.SaslNegotiate,
		Auths: []*hadoop.SaslAuth{{
			Method:    "TOKEN",
			Mechanism: "DIGEST-MD5",
			Protocol:  "",
			ServerID:  saslServerID,
			Challenge: []byte(challenge),
		}},
	}
	if err := writeSasl(w, offer); err != nil {
		return err
	}

	m, err = readSasl(r)
	if err != nil {
		return err
	}
	if m.State != hadoop.SaslInitiate {
		return fmt.Errorf("sasl: expected INITIATE, got %s", m.State)
	}

	rspauth, err := nn.verifyDigest(m.Token, nonceStr)
	if err != nil {
		e := &remoteError{class: classAccessControl, msg: err.Error()}
		_ = writeError(w, hadoop.SaslCallID, nil, hadoop.RpcStatusFatal, e)
		return e
	}
	return writeSasl(w, &hadoop.RpcSasl{State: hadoop.SaslSuccess, Token: []byte("rspauth=" + rspauth)})
}

// verifyDigest checks a DIGEST-MD5 client response against the cluster token
// and returns the rspauth value.
func (nn *NameNode) verifyDigest(response []byte, nonce string) (string, error) {
	directives, err := hadoop.ParseDigestDirectives(response)
	if err != nil {
		return "", fmt.Errorf("DIGEST-MD5: %v", err)
	}
	token := nn.cfg.Token
	params := hadoop.DigestParams{
		Username:   base64.StdEncoding.EncodeToString(token.Identifier),
		Realm:      directives["realm"],
		Password:   base64.StdEncoding.EncodeToString(token.Password),
		Nonce:      directives["nonce"],
		Cnonce:     directives["cnonce"],
		NonceCount: directives["nc"],
		DigestURI:  directives["digest-uri"],
	}
	switch {
	case directives["username"] != params.Username:
		return "", errors.New("DIGEST-MD5: unknown token identifier")
	case params.Nonce != nonce:
		return "", errors.New("DIGEST-MD5: nonce mismatch")
	case params.DigestURI != "/"+saslServerID:
		return "", fmt.Errorf("DIGEST-MD5: unexpected digest-uri %q", params.DigestURI)
	case directives["response"] != params.Response():
		return "", errors.New("DIGEST-MD5: digest response mismatch")
	}
	return params.ResponseAuth(), nil
}
