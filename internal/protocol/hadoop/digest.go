package hadoop

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// DIGEST-MD5 (RFC 2831) is the SASL mechanism behind TOKEN authentication.
// Only the "auth" quality of protection is supported: after the exchange the
// connection carries plain frames.

// DigestQopAuth is the only supported quality of protection.
const DigestQopAuth = "auth"

// ParseDigestDirectives parses a comma separated list of key=value directives
// as found in DIGEST-MD5 challenges and responses. Quoted values may contain
// commas and backslash escapes.
func ParseDigestDirectives(b []byte) (map[string]string, error) {
	out := make(map[string]string)
	s := string(b)
	for len(s) > 0 {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			break
		}
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, malformed("digest directive", fmt.Errorf("missing '=' in %q", s))
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var val strings.Builder
		if strings.HasPrefix(s, `"`) {
			s = s[1:]
			closed := false
			for i := 0; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					val.WriteByte(s[i])
					continue
				}
				if c == '"' {
					s = s[i+1:]
					closed = true
					break
				}
				val.WriteByte(c)
			}
			if !closed {
				return nil, malformed("digest directive", fmt.Errorf("unterminated quote for %s", key))
			}
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			val.WriteString(strings.TrimSpace(s[:end]))
			s = s[end:]
		}
		out[key] = val.String()
	}
	return out, nil
}

// DigestParams are the inputs of a DIGEST-MD5 response computation.
type DigestParams struct {
	Username   string
	Realm      string
	Password   string
	Nonce      string
	Cnonce     string
	NonceCount string
	DigestURI  string
	Authzid    string
}

// Response returns the "response" directive sent by the client.
func (p DigestParams) Response() string {
	return p.digest("AUTHENTICATE:" + p.DigestURI)
}

// ResponseAuth returns the "rspauth" value the server sends back on success.
func (p DigestParams) ResponseAuth() string {
	return p.digest(":" + p.DigestURI)
}

func (p DigestParams) digest(a2 string) string {
	secret := md5.Sum([]byte(p.Username + ":" + p.Realm + ":" + p.Password))
	a1 := string(secret[:]) + ":" + p.Nonce + ":" + p.Cnonce
	if p.Authzid != "" {
		a1 += ":" + p.Authzid
	}
	ha1 := md5Hex(a1)
	ha2 := md5Hex(a2)
	return md5Hex(ha1 + ":" + p.Nonce + ":" + p.NonceCount + ":" + p.Cnonce + ":" + DigestQopAuth + ":" + ha2)
}

// ResponseDirectives renders the client response message.
func (p DigestParams) ResponseDirectives() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `username="%s",`, quoteDigest(p.Username))
	if p.Realm != "" {
		fmt.Fprintf(&b, `realm="%s",`, quoteDigest(p.Realm))
	}
	fmt.Fprintf(&b, `nonce="%s",cnonce="%s",nc=%s,qop=%s,digest-uri="%s",response=%s,charset=utf-8`,
		quoteDigest(p.Nonce), quoteDigest(p.Cnonce), p.NonceCount, DigestQopAuth, quoteDigest(p.DigestURI), p.Response())
	return []byte(b.String())
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func quoteDigest(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
