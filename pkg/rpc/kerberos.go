package rpc

import (
	"fmt"
	"strings"

	"github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// kerberos authenticates with a ticket from an existing credential cache
// (SASL method KERBEROS, mechanism GSSAPI). Tickets are never acquired here;
// the cache must have been filled by kinit or an equivalent.
type kerberos struct {
	cl         *client.Client
	spn        string
	host       string
	sessionKey types.EncryptionKey
}

func newKerberos(opts *config.Options) (*kerberos, error) {
	cfg, err := krbconfig.Load(opts.Krb5Conf)
	if err != nil {
		return nil, fserror.Wrap(fserror.KindConnection, "connect", "", fmt.Errorf("load krb5 config %s: %w", opts.Krb5Conf, err))
	}
	ccache, err := credentials.LoadCCache(opts.TicketCache)
	if err != nil {
		return nil, fserror.Wrap(fserror.KindConnection, "connect", "", fmt.Errorf("load ticket cache %s: %w", opts.TicketCache, err))
	}
	cl, err := client.NewFromCCache(ccache, cfg, client.DisablePAFXFAST(true))
	if err != nil {
		return nil, fserror.Wrap(fserror.KindConnection, "connect", "", fmt.Errorf("kerberos client: %w", err))
	}
	return &kerberos{cl: cl, spn: opts.ServicePrincipal, host: opts.Host}, nil
}

func (k *kerberos) method() string { return "KERBEROS" }

func (k *kerberos) start(auth *hadoop.SaslAuth) ([]byte, error) {
	spn := k.spn
	if spn == "" {
		spn = auth.Protocol + "/" + auth.ServerID
	}
	spn = strings.ReplaceAll(spn, "_HOST", k.host)

	ticket, key, err := k.cl.GetServiceTicket(spn)
	if err != nil {
		return nil, fmt.Errorf("service ticket for %s: %w", spn, err)
	}
	k.sessionKey = key

	token, err := spnego.NewNegTokenInitKRB5(k.cl, ticket, key)
	if err != nil {
		return nil, fmt.Errorf("spnego token: %w", err)
	}
	return token.MechTokenBytes, nil
}

// step verifies the wrapped security layer offer of the name node and echoes
// it back signed with the session key, selecting no security layer.
func (k *kerberos) step(challenge []byte) ([]byte, error) {
	var wrapped gssapi.WrapToken
	if err := wrapped.Unmarshal(challenge, true); err != nil {
		return nil, fmt.Errorf("gssapi challenge: %w", err)
	}
	ok, err := wrapped.Verify(k.sessionKey, keyusage.GSSAPI_ACCEPTOR_SEAL)
	if err != nil {
		return nil, fmt.Errorf("gssapi challenge verification: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("gssapi challenge verification failed")
	}

	reply, err := gssapi.NewInitiatorWrapToken(wrapped.Payload, k.sessionKey)
	if err != nil {
		return nil, err
	}
	return reply.Marshal()
}

func (k *kerberos) finish([]byte) error { return nil }
