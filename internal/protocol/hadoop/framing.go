package hadoop

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittohdfs/pkg/fserror"
	"google.golang.org/protobuf/encoding/protowire"
)

// Connection preamble
const (
	IpcVersion          byte = 9
	ServiceClassDefault byte = 0

	// AuthProtocolNone selects SIMPLE authentication
	AuthProtocolNone byte = 0

	// AuthProtocolSasl selects a SASL exchange before the connection context (-33)
	AuthProtocolSasl byte = 0xDF
)

var rpcMagic = [4]byte{'h', 'r', 'p', 'c'}

// Size limits used to reject corrupt length prefixes before allocating.
const (
	MaxFrameSize  = 128 << 20
	MaxPacketSize = 16 << 20
)

// ErrBadMagic is wrapped when a connection does not start with "hrpc".
var ErrBadMagic = errors.New("bad connection preamble")

func malformed(what string, err error) error {
	return &fserror.Error{Kind: fserror.KindProtocol, Op: "decode", Message: what, Err: err}
}

// ============================================================================
// IPC connection and frames
// ============================================================================

// WriteConnectionHeader writes the 7-byte preamble that opens every IPC connection.
func WriteConnectionHeader(w io.Writer, authProtocol byte) error {
	hdr := []byte{rpcMagic[0], rpcMagic[1], rpcMagic[2], rpcMagic[3], IpcVersion, ServiceClassDefault, authProtocol}
	_, err := w.Write(hdr)
	return err
}

// ReadConnectionHeader reads and validates the preamble, returning the
// requested auth protocol.
func ReadConnectionHeader(r io.Reader) (byte, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, err
	}
	if !bytes.Equal(hdr[:4], rpcMagic[:]) {
		return 0, malformed("connection header", ErrBadMagic)
	}
	if hdr[4] != IpcVersion {
		return 0, malformed("connection header", fmt.Errorf("unsupported IPC version %d", hdr[4]))
	}
	return hdr[6], nil
}

// WriteFrame writes msgs as one IPC frame: a 4-byte big-endian length followed
// by each message with a varint length prefix.
func WriteFrame(w io.Writer, msgs ...Message) error {
	var body []byte
	for _, m := range msgs {
		body = protowire.AppendBytes(body, m.Marshal())
	}
	frame := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	frame = append(frame, body...)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed IPC frame and returns its body.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, malformed("frame", fmt.Errorf("frame length %d exceeds limit", n))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

// DecodeDelimited decodes one varint-delimited message from the front of b and
// returns the remaining bytes.
func DecodeDelimited(b []byte, m Message) ([]byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, malformed(fmt.Sprintf("%T", m), protowire.ParseError(n))
	}
	if err := m.Unmarshal(v); err != nil {
		return nil, malformed(fmt.Sprintf("%T", m), err)
	}
	return b[n:], nil
}

// ============================================================================
// Data transfer streams
// ============================================================================

// ByteReader is what delimited stream decoding needs; *bufio.Reader satisfies it.
type ByteReader interface {
	io.Reader
	io.ByteReader
}

// WriteDelimited writes m with a varint length prefix.
func WriteDelimited(w io.Writer, m Message) error {
	_, err := w.Write(protowire.AppendBytes(nil, m.Marshal()))
	return err
}

// ReadDelimited reads one varint-delimited message from r.
func ReadDelimited(r ByteReader, m Message) error {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	if n > MaxFrameSize {
		return malformed(fmt.Sprintf("%T", m), fmt.Errorf("message length %d exceeds limit", n))
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("read %T: %w", m, err)
	}
	if err := m.Unmarshal(b); err != nil {
		return malformed(fmt.Sprintf("%T", m), err)
	}
	return nil
}

// WriteOp writes a data transfer request: protocol version, opcode and the
// delimited op message.
func WriteOp(w io.Writer, op Op, m Message) error {
	buf := binary.BigEndian.AppendUint16(nil, DataTransferVersion)
	buf = append(buf, byte(op))
	buf = protowire.AppendBytes(buf, m.Marshal())
	_, err := w.Write(buf)
	return err
}

// ReadOpHeader reads the version and opcode of a data transfer request.
func ReadOpHeader(r io.Reader) (Op, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, err
	}
	if v := binary.BigEndian.Uint16(hdr[:2]); v != DataTransferVersion {
		return 0, malformed("op header", fmt.Errorf("unsupported data transfer version %d", v))
	}
	return Op(hdr[2]), nil
}

// Packet is one unit of block data on the wire.
type Packet struct {
	Header    PacketHeader
	Checksums []byte
	Data      []byte
}

// WritePacket writes a packet. The payload length counts itself, the checksums
// and the data.
func WritePacket(w io.Writer, p *Packet) error {
	p.Header.DataLen = int32(len(p.Data))
	hdr := p.Header.Marshal()

	buf := make([]byte, 0, 6+len(hdr)+len(p.Checksums)+len(p.Data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(4+len(p.Checksums)+len(p.Data)))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(hdr)))
	buf = append(buf, hdr...)
	buf = append(buf, p.Checksums...)
	buf = append(buf, p.Data...)
	_, err := w.Write(buf)
	return err
}

// ReadPacket reads one packet.
func ReadPacket(r io.Reader) (*Packet, error) {
	var lens [6]byte
	if _, err := io.ReadFull(r, lens[:]); err != nil {
		return nil, err
	}
	payloadLen := int(binary.BigEndian.Uint32(lens[:4]))
	headerLen := int(binary.BigEndian.Uint16(lens[4:]))
	if payloadLen < 4 || payloadLen > MaxPacketSize {
		return nil, malformed("packet", fmt.Errorf("payload length %d out of range", payloadLen))
	}

	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read packet header: %w", err)
	}
	p := &Packet{}
	if err := p.Header.Unmarshal(hdr); err != nil {
		return nil, malformed("packet header", err)
	}

	dataLen := int(p.Header.DataLen)
	sumLen := payloadLen - 4 - dataLen
	if dataLen < 0 || sumLen < 0 {
		return nil, malformed("packet", fmt.Errorf("data length %d does not fit payload %d", dataLen, payloadLen))
	}

	body := make([]byte, sumLen+dataLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read packet body: %w", err)
	}
	p.Checksums = body[:sumLen]
	p.Data = body[sumLen:]
	return p, nil
}
