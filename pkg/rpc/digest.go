package rpc

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
	"github.com/marmos91/dittohdfs/pkg/fserror"
)

// digestMD5 authenticates with a delegation token (SASL method TOKEN).
type digestMD5 struct {
	username  string
	password  string
	digestURI string
	params    *hadoop.DigestParams
}

func newDigest(tokenString string) (*digestMD5, error) {
	token, err := hadoop.DecodeTokenString(tokenString)
	if err != nil {
		return nil, fserror.Wrap(fserror.KindArgument, "connect", "", fmt.Errorf("invalid delegation token: %w", err))
	}
	return &digestMD5{
		username: base64.StdEncoding.EncodeToString(token.Identifier),
		password: base64.StdEncoding.EncodeToString(token.Password),
	}, nil
}

func (d *digestMD5) method() string { return "TOKEN" }

func (d *digestMD5) start(auth *hadoop.SaslAuth) ([]byte, error) {
	d.digestURI = auth.Protocol + "/" + auth.ServerID
	if len(auth.Challenge) == 0 {
		return nil, nil
	}
	return d.step(auth.Challenge)
}

func (d *digestMD5) step(challenge []byte) ([]byte, error) {
	directives, err := hadoop.ParseDigestDirectives(challenge)
	if err != nil {
		return nil, err
	}

	nonce := directives["nonce"]
	if nonce == "" {
		return nil, fmt.Errorf("digest-md5: challenge without nonce")
	}
	if qop, ok := directives["qop"]; ok && !containsToken(qop, hadoop.DigestQopAuth) {
		return nil, fmt.Errorf("digest-md5: server requires qop %q, only %q is supported", qop, hadoop.DigestQopAuth)
	}

	cnonce := make([]byte, 16)
	if _, err := rand.Read(cnonce); err != nil {
		return nil, err
	}

	d.params = &hadoop.DigestParams{
		Username:   d.username,
		Realm:      directives["realm"],
		Password:   d.password,
		Nonce:      nonce,
		Cnonce:     base64.StdEncoding.EncodeToString(cnonce),
		NonceCount: "00000001",
		DigestURI:  d.digestURI,
	}
	return d.params.ResponseDirectives(), nil
}

func (d *digestMD5) finish(token []byte) error {
	if len(token) == 0 || d.params == nil {
		return nil
	}
	directives, err := hadoop.ParseDigestDirectives(token)
	if err != nil {
		return err
	}
	if directives["rspauth"] != d.params.ResponseAuth() {
		return fmt.Errorf("digest-md5: server response does not match")
	}
	return nil
}

func containsToken(list, token string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == token {
			return true
		}
	}
	return false
}
