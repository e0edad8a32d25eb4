package rpc

import (
	"bufio"
	"fmt"
	"io"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// mechanism is one SASL authentication method.
type mechanism interface {
	// method is the SaslAuth method name offered by the server
	method() string

	// start returns the token sent with INITIATE
	start(auth *hadoop.SaslAuth) ([]byte, error)

	// step answers a server CHALLENGE
	step(challenge []byte) ([]byte, error)

	// finish checks the token that came with SUCCESS
	finish(token []byte) error
}

// newMechanism selects the mechanism configured in opts, or nil for SIMPLE
// authentication.
func newMechanism(opts *config.Options) (mechanism, error) {
	switch {
	case opts.TicketCache != "" && opts.Token != "":
		return nil, fserror.Argument("connect", "ticket_cache and token are mutually exclusive")
	case opts.TicketCache != "":
		return newKerberos(opts)
	case opts.Token != "":
		return newDigest(opts.Token)
	default:
		return nil, nil
	}
}

// authenticate runs the SASL exchange right after the connection preamble.
func authenticate(w io.Writer, r *bufio.Reader, mech mechanism) error {
	if err := writeSasl(w, &hadoop.RpcSasl{State: hadoop.SaslNegotiate}); err != nil {
		return err
	}

	resp, err := readSasl(r)
	if err != nil {
		return err
	}
	if resp.State != hadoop.SaslNegotiate {
		return &permanentError{fmt.Errorf("sasl: expected NEGOTIATE, got %s", resp.State)}
	}

	var chosen *hadoop.SaslAuth
	offered := make([]string, 0, len(resp.Auths))
	for _, a := range resp.Auths {
		offered = append(offered, a.Method+"/"+a.Mechanism)
		if a.Method == mech.method() && chosen == nil {
			chosen = a
		}
	}
	if chosen == nil {
		return &permanentError{fmt.Errorf("sasl: server does not offer %s (offered %v)", mech.method(), offered)}
	}
	logger.Debug("SASL: using %s/%s (protocol %q, server id %q)", chosen.Method, chosen.Mechanism, chosen.Protocol, chosen.ServerID)

	token, err := mech.start(chosen)
	if err != nil {
		return &permanentError{err}
	}
	initiate := &hadoop.RpcSasl{
		State: hadoop.SaslInitiate,
		Token: token,
		Auths: []*hadoop.SaslAuth{{
			Method:    chosen.Method,
			Mechanism: chosen.Mechanism,
			Protocol:  chosen.Protocol,
			ServerID:  chosen.ServerID,
		}},
	}
	if err := writeSasl(w, initiate); err != nil {
		return err
	}

	for {
		resp, err := readSasl(r)
		if err != nil {
			return err
		}

		switch resp.State {
		case hadoop.SaslSuccess:
			if err := mech.finish(resp.Token); err != nil {
				return &permanentError{err}
			}
			return nil
		case hadoop.SaslChallenge:
			token, err := mech.step(resp.Token)
			if err != nil {
				return &permanentError{err}
			}
			if err := writeSasl(w, &hadoop.RpcSasl{State: hadoop.SaslResponse, Token: token}); err != nil {
				return err
			}
		default:
			return &permanentError{fmt.Errorf("sasl: unexpected state %s", resp.State)}
		}
	}
}

func writeSasl(w io.Writer, m *hadoop.RpcSasl) error {
	header := &hadoop.RpcRequestHeader{
		RpcKind:    hadoop.RpcKindProtocolBuffer,
		RpcOp:      hadoop.RpcFinalPacket,
		CallID:     hadoop.SaslCallID,
		RetryCount: -1,
	}
	return hadoop.WriteFrame(w, header, m)
}

func readSasl(r io.Reader) (*hadoop.RpcSasl, error) {
	body, err := hadoop.ReadFrame(r)
	if err != nil {
		return nil, err
	}

	var header hadoop.RpcResponseHeader
	rest, err := hadoop.DecodeDelimited(body, &header)
	if err != nil {
		return nil, &permanentError{err}
	}
	if header.Status != hadoop.RpcStatusSuccess {
		return nil, &permanentError{fserror.FromRemote("authenticate", "", header.ExceptionClassName, header.ErrorMsg)}
	}
	if header.CallID != hadoop.SaslCallID {
		return nil, &permanentError{fmt.Errorf("sasl: unexpected call id %d", header.CallID)}
	}

	m := &hadoop.RpcSasl{}
	if _, err := hadoop.DecodeDelimited(rest, m); err != nil {
		return nil, &permanentError{err}
	}
	return m, nil
}
