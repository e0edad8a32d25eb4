package hadoop

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ChecksumType is ChecksumTypeProto.
type ChecksumType int32

const (
	ChecksumNull   ChecksumType = 0
	ChecksumCRC32  ChecksumType = 1
	ChecksumCRC32C ChecksumType = 2
)

// DefaultBytesPerChecksum is the chunk size used for writes.
const DefaultBytesPerChecksum = 512

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func (t ChecksumType) String() string {
	switch t {
	case ChecksumNull:
		return "NULL"
	case ChecksumCRC32:
		return "CRC32"
	case ChecksumCRC32C:
		return "CRC32C"
	default:
		return fmt.Sprintf("CHECKSUM(%d)", int32(t))
	}
}

// Size returns the number of checksum bytes per chunk.
func (t ChecksumType) Size() int {
	if t == ChecksumNull {
		return 0
	}
	return 4
}

func (t ChecksumType) sum(chunk []byte) uint32 {
	switch t {
	case ChecksumCRC32C:
		return crc32.Checksum(chunk, castagnoli)
	default:
		return crc32.ChecksumIEEE(chunk)
	}
}

// ChunkCount returns how many chunks of size bpc cover n bytes.
func ChunkCount(n, bpc int) int {
	if n == 0 || bpc <= 0 {
		return 0
	}
	return (n + bpc - 1) / bpc
}

// ComputeChecksums appends the checksums of data, split in chunks of bpc bytes,
// to dst.
func (c Checksum) ComputeChecksums(dst, data []byte) []byte {
	if c.Type == ChecksumNull {
		return dst
	}
	bpc := int(c.BytesPerChecksum)
	for len(data) > 0 {
		n := min(bpc, len(data))
		dst = binary.BigEndian.AppendUint32(dst, c.Type.sum(data[:n]))
		data = data[n:]
	}
	return dst
}

// VerifyChecksums checks data against the packed checksums sums. It returns the
// index of the first mismatching chunk, or an error describing a length mismatch.
func (c Checksum) VerifyChecksums(data, sums []byte) error {
	if c.Type == ChecksumNull {
		return nil
	}
	if c.Type != ChecksumCRC32 && c.Type != ChecksumCRC32C {
		return fmt.Errorf("unsupported checksum type %s", c.Type)
	}
	bpc := int(c.BytesPerChecksum)
	if bpc <= 0 {
		return fmt.Errorf("invalid bytes per checksum %d", bpc)
	}
	if want := ChunkCount(len(data), bpc) * 4; len(sums) != want {
		return fmt.Errorf("checksum length %d, want %d", len(sums), want)
	}
	for i := 0; len(data) > 0; i++ {
		n := min(bpc, len(data))
		if got := c.Type.sum(data[:n]); got != binary.BigEndian.Uint32(sums[i*4:]) {
			return &ChecksumError{Chunk: i}
		}
		data = data[n:]
	}
	return nil
}

// ChecksumError reports the chunk whose checksum did not match.
type ChecksumError struct {
	Chunk int
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch in chunk %d", e.Chunk)
}
