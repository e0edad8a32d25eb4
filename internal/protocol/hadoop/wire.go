// Package hadoop implements the wire codec for the HDFS client: the Hadoop IPC
// framing spoken to the name node, the protobuf messages of ClientNamenodeProtocol,
// and the data transfer protocol spoken to data nodes.
//
// Messages are plain Go structs. Each has Marshal and Unmarshal methods that encode
// the protobuf wire format directly with protowire, so no generated code or
// reflection is involved. Field numbers follow the upstream .proto definitions
// (hadoop-common RpcHeader.proto, IpcConnectionContext.proto, RpcSasl...; and
// hadoop-hdfs ClientNamenodeProtocol.proto, hdfs.proto, datatransfer.proto).
//
// Both directions are implemented for every message: the client encodes requests
// and decodes responses, and the in-process test cluster does the opposite.
package hadoop

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every wire message.
type Message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

// Empty is the message used for requests and responses without fields.
type Empty struct{}

func (*Empty) Marshal() []byte { return nil }

func (*Empty) Unmarshal(b []byte) error {
	return walk(b, func(f field) error { return nil })
}

// ============================================================================
// Encoding
// ============================================================================

type encoder struct {
	buf []byte
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) uint64(num protowire.Number, v uint64) { e.varint(num, v) }

func (e *encoder) uint32(num protowire.Number, v uint32) { e.varint(num, uint64(v)) }

// int32 and enum values are sign-extended to 64 bits, as protobuf requires.
func (e *encoder) int32(num protowire.Number, v int32) { e.varint(num, uint64(int64(v))) }

func (e *encoder) sint32(num protowire.Number, v int32) {
	e.varint(num, protowire.EncodeZigZag(int64(v)))
}

func (e *encoder) sint64(num protowire.Number, v int64) {
	e.varint(num, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	e.varint(num, protowire.EncodeBool(v))
}

func (e *encoder) sfixed64(num protowire.Number, v int64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, uint64(v))
}

func (e *encoder) sfixed32(num protowire.Number, v int32) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed32Type)
	e.buf = protowire.AppendFixed32(e.buf, uint32(v))
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

// optString emits v only when non-empty (proto2 optional string).
func (e *encoder) optString(num protowire.Number, v string) {
	if v != "" {
		e.string(num, v)
	}
}

func (e *encoder) optUint64(num protowire.Number, v uint64) {
	if v != 0 {
		e.uint64(num, v)
	}
}

func (e *encoder) optUint32(num protowire.Number, v uint32) {
	if v != 0 {
		e.uint32(num, v)
	}
}

func (e *encoder) optBool(num protowire.Number, v bool) {
	if v {
		e.bool(num, v)
	}
}

func (e *encoder) message(num protowire.Number, m Message) {
	e.bytes(num, m.Marshal())
}

// ============================================================================
// Decoding
// ============================================================================

// field is a single decoded key/value pair. Scalars are kept as the raw varint (or
// fixed) value and converted by the accessor matching the declared proto type.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64
	bytes []byte
}

func (f field) uint64() uint64 { return f.value }
func (f field) uint32() uint32 { return uint32(f.value) }
func (f field) int32() int32   { return int32(f.value) }
func (f field) int64() int64   { return int64(f.value) }
func (f field) sint32() int32  { return int32(protowire.DecodeZigZag(f.value)) }
func (f field) sint64() int64  { return protowire.DecodeZigZag(f.value) }
func (f field) bool() bool     { return protowire.DecodeBool(f.value) }
func (f field) string() string { return string(f.bytes) }

// copyBytes returns a copy of a bytes field, detached from the input buffer.
func (f field) copyBytes() []byte {
	if f.bytes == nil {
		return nil
	}
	out := make([]byte, len(f.bytes))
	copy(out, f.bytes)
	return out
}

// varints returns the values of a repeated scalar field, accepting both the packed
// and the unpacked encoding.
func (f field) varints() ([]uint64, error) {
	if f.typ != protowire.BytesType {
		return []uint64{f.value}, nil
	}
	var out []uint64
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// walk calls fn for every field in b, in wire order. Unknown fields are passed to
// fn as well; callers ignore numbers they do not know.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			// sign-extend so sfixed32 reads back through int64()/int32()
			f.value = uint64(int64(int32(v)))
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
