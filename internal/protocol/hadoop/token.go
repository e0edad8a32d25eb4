package hadoop

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// DecodeTokenString decodes a delegation token from the URL-safe base64 form
// printed by "hdfs fetchdt" and accepted by the Hadoop command line tools. The
// payload is the Writable serialization: identifier, password, kind, service,
// each prefixed with a Hadoop variable-length integer.
func DecodeTokenString(s string) (*Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(s), "="))
	if err != nil {
		return nil, malformed("token", err)
	}

	r := bytes.NewReader(raw)
	t := &Token{}
	if t.Identifier, err = readWritableBytes(r); err != nil {
		return nil, malformed("token identifier", err)
	}
	if t.Password, err = readWritableBytes(r); err != nil {
		return nil, malformed("token password", err)
	}
	kind, err := readWritableBytes(r)
	if err != nil {
		return nil, malformed("token kind", err)
	}
	service, err := readWritableBytes(r)
	if err != nil {
		return nil, malformed("token service", err)
	}
	t.Kind = string(kind)
	t.Service = string(service)
	return t, nil
}

// EncodeString returns the URL-safe base64 form of t, the inverse of
// DecodeTokenString.
func (m *Token) EncodeString() string {
	var buf []byte
	buf = appendWritableBytes(buf, m.Identifier)
	buf = appendWritableBytes(buf, m.Password)
	buf = appendWritableBytes(buf, []byte(m.Kind))
	buf = appendWritableBytes(buf, []byte(m.Service))
	return base64.RawURLEncoding.EncodeToString(buf)
}

func readWritableBytes(r *bytes.Reader) ([]byte, error) {
	n, err := ReadVLong(r)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > int64(r.Len()) {
		return nil, fmt.Errorf("length %d out of range", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func appendWritableBytes(dst, b []byte) []byte {
	dst = AppendVLong(dst, int64(len(b)))
	return append(dst, b...)
}

// AppendVLong appends v in the Hadoop WritableUtils variable-length encoding.
// Values in [-112, 127] take a single byte; larger magnitudes are written as a
// length marker followed by big-endian bytes.
func AppendVLong(dst []byte, v int64) []byte {
	if v >= -112 && v <= 127 {
		return append(dst, byte(int8(v)))
	}

	marker := -112
	if v < 0 {
		v ^= -1
		marker = -120
	}
	n := 0
	for tmp := v; tmp != 0; tmp >>= 8 {
		n++
	}
	dst = append(dst, byte(int8(marker-n)))
	for i := n; i > 0; i-- {
		dst = append(dst, byte(v>>((i-1)*8)))
	}
	return dst
}

// ReadVLong reads a value written by AppendVLong.
func ReadVLong(r io.ByteReader) (int64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	marker := int8(first)
	if marker >= -112 {
		return int64(marker), nil
	}

	negative := marker < -120
	n := int(-112 - marker)
	if negative {
		n = int(-120 - marker)
	}

	var v int64
	for range n {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<8 | int64(b)
	}
	if negative {
		v ^= -1
	}
	return v, nil
}
