package hadoop

import (
	"bytes"
	"errors"
	"testing"

	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Variable-length integers
// ============================================================================

func TestVLongEncoding(t *testing.T) {
	tests := []struct {
		value int64
		want  []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{-112, []byte{0x90}},
		{128, []byte{0x8f, 0x80}},
		{256, []byte{0x8e, 0x01, 0x00}},
		{-113, []byte{0x87, 0x70}},
	}

	for _, tt := range tests {
		got := AppendVLong(nil, tt.value)
		assert.Equal(t, tt.want, got, "encode %d", tt.value)

		v, err := ReadVLong(bytes.NewReader(got))
		require.NoError(t, err)
		assert.Equal(t, tt.value, v, "decode %d", tt.value)
	}
}

func TestVLongTruncated(t *testing.T) {
	_, err := ReadVLong(bytes.NewReader([]byte{0x8e, 0x01}))
	assert.Error(t, err)
}

// ============================================================================
// Delegation tokens
// ============================================================================

func TestTokenStringRoundTrip(t *testing.T) {
	in := &Token{
		Identifier: bytes.Repeat([]byte{0xAB}, 200),
		Password:   []byte("secret-password"),
		Kind:       "HDFS_DELEGATION_TOKEN",
		Service:    "10.0.0.1:8020",
	}

	s := in.EncodeString()
	assert.NotContains(t, s, "+")
	assert.NotContains(t, s, "/")

	out, err := DecodeTokenString(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// padded input is accepted too
	out, err = DecodeTokenString(s + "==")
	require.NoError(t, err)
	assert.Equal(t, in.Service, out.Service)
}

func TestDecodeTokenStringInvalid(t *testing.T) {
	for _, s := range []string{"!!!", "AQ", ""} {
		_, err := DecodeTokenString(s)
		require.Error(t, err, "input %q", s)
		assert.True(t, errors.Is(err, fserror.ErrProtocol), "input %q: %v", s, err)
	}
}

// ============================================================================
// DIGEST-MD5
// ============================================================================

// Values from the example exchange in RFC 2831 section 4.
func rfcDigestParams() DigestParams {
	return DigestParams{
		Username:   "chris",
		Realm:      "elwood.innosoft.com",
		Password:   "secret",
		Nonce:      "OA6MG9tEQGm2hh",
		Cnonce:     "OA6MHXh6VqTrRk",
		NonceCount: "00000001",
		DigestURI:  "imap/elwood.innosoft.com",
	}
}

func TestDigestResponse(t *testing.T) {
	p := rfcDigestParams()
	assert.Equal(t, "d388dad90d4bbd760a152321f2143af7", p.Response())
	assert.Equal(t, "ea40f60335c427b5527b84dbabcdfffd", p.ResponseAuth())
}

func TestDigestDirectivesRoundTrip(t *testing.T) {
	p := rfcDigestParams()

	d, err := ParseDigestDirectives(p.ResponseDirectives())
	require.NoError(t, err)
	assert.Equal(t, "chris", d["username"])
	assert.Equal(t, "elwood.innosoft.com", d["realm"])
	assert.Equal(t, "00000001", d["nc"])
	assert.Equal(t, "auth", d["qop"])
	assert.Equal(t, "imap/elwood.innosoft.com", d["digest-uri"])
	assert.Equal(t, p.Response(), d["response"])
}

func TestParseDigestChallenge(t *testing.T) {
	challenge := []byte(`realm="default",nonce="a,b\"c",qop="auth",charset=utf-8,algorithm=md5-sess`)

	d, err := ParseDigestDirectives(challenge)
	require.NoError(t, err)
	assert.Equal(t, "default", d["realm"])
	assert.Equal(t, `a,b"c`, d["nonce"])
	assert.Equal(t, "utf-8", d["charset"])
	assert.Equal(t, "md5-sess", d["algorithm"])

	_, err = ParseDigestDirectives([]byte(`nonce="unterminated`))
	assert.Error(t, err)

	_, err = ParseDigestDirectives([]byte(`novalue`))
	assert.Error(t, err)
}
