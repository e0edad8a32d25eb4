package minicluster

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/dittohdfs/internal/protocol/hadoop"
)

// pieceSize splits replicas into values badger keeps in its LSM tree. It is a
// multiple of the checksum chunk size so no chunk straddles two pieces.
const pieceSize = 64 << 10

var storeChecksum = hadoop.Checksum{Type: hadoop.ChecksumCRC32C, BytesPerChecksum: hadoop.DefaultBytesPerChecksum}

// replicaStore keeps the block replicas of every data node in one in-memory
// badger database.
//
// Key layout:
//
//	dn/<node>/blk_<id>/len          8-byte big-endian replica length
//	dn/<node>/blk_<id>/p/<n>        data of piece n
//	dn/<node>/blk_<id>/s/<n>        CRC32C checksums of piece n, one per 512 bytes
//
// Checksums are computed when data is stored, so corrupting the data of a
// piece afterwards is detected by readers.
type replicaStore struct {
	db *badger.DB
}

func openReplicaStore() (*replicaStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open replica store: %w", err)
	}
	return &replicaStore{db: db}, nil
}

func (s *replicaStore) Close() error {
	return s.db.Close()
}

func replicaPrefix(node int, blockID uint64) string {
	return fmt.Sprintf("dn/%d/blk_%d/", node, blockID)
}

func lenKey(node int, blockID uint64) []byte {
	return []byte(replicaPrefix(node, blockID) + "len")
}

func pieceKey(node int, blockID uint64, kind string, n int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", replicaPrefix(node, blockID), kind, n))
}

func pieceCount(length int) int {
	return (length + pieceSize - 1) / pieceSize
}

// put stores data as the replica of blockID on node. Pieces before the one
// containing offset from are assumed unchanged and are not rewritten.
func (s *replicaStore) put(node int, blockID uint64, data []byte, from int) error {
	oldLen, _, err := s.length(node, blockID)
	if err != nil {
		return err
	}

	return s.batch(func(wb *badger.WriteBatch) error {
		for n := from / pieceSize; n < pieceCount(len(data)); n++ {
			end := min((n+1)*pieceSize, len(data))
			piece := data[n*pieceSize : end]
			if err := wb.Set(pieceKey(node, blockID, "p", n), append([]byte(nil), piece...)); err != nil {
				return err
			}
			if err := wb.Set(pieceKey(node, blockID, "s", n), storeChecksum.ComputeChecksums(nil, piece)); err != nil {
				return err
			}
		}
		for n := pieceCount(len(data)); n < pieceCount(oldLen); n++ {
			if err := wb.Delete(pieceKey(node, blockID, "p", n)); err != nil {
				return err
			}
			if err := wb.Delete(pieceKey(node, blockID, "s", n)); err != nil {
				return err
			}
		}
		return wb.Set(lenKey(node, blockID), binary.BigEndian.AppendUint64(nil, uint64(len(data))))
	})
}

func (s *replicaStore) batch(fn func(wb *badger.WriteBatch) error) error {
	wb := s.db.NewWriteBatch()
	if err := fn(wb); err != nil {
		wb.Cancel()
		return err
	}
	return wb.Flush()
}

// length returns the replica length and whether the replica exists.
func (s *replicaStore) length(node int, blockID uint64) (int, bool, error) {
	var n int
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lenKey(node, blockID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			n = int(binary.BigEndian.Uint64(v))
			found = true
			return nil
		})
	})
	return n, found, err
}

// get returns the replica data and its stored checksums.
func (s *replicaStore) get(node int, blockID uint64) (data, sums []byte, found bool, err error) {
	length, found, err := s.length(node, blockID)
	if err != nil || !found {
		return nil, nil, found, err
	}

	data = make([]byte, 0, length)
	err = s.db.View(func(txn *badger.Txn) error {
		for n := 0; n < pieceCount(length); n++ {
			for _, kind := range []string{"p", "s"} {
				item, err := txn.Get(pieceKey(node, blockID, kind, n))
				if err != nil {
					return fmt.Errorf("replica %d on node %d: %w", blockID, node, err)
				}
				err = item.Value(func(v []byte) error {
					if kind == "p" {
						data = append(data, v...)
					} else {
						sums = append(sums, v...)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return data, sums, true, nil
}

// delete removes the replica of blockID from node, if present.
func (s *replicaStore) delete(node int, blockID uint64) error {
	prefix := []byte(replicaPrefix(node, blockID))
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	return s.batch(func(wb *badger.WriteBatch) error {
		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// truncate shortens the replica of blockID on node to n bytes.
func (s *replicaStore) truncate(node int, blockID uint64, n int) error {
	data, _, found, err := s.get(node, blockID)
	if err != nil || !found {
		return err
	}
	if n > len(data) {
		return fmt.Errorf("truncate replica %d to %d beyond length %d", blockID, n, len(data))
	}
	return s.put(node, blockID, data[:n], (n/pieceSize)*pieceSize)
}

// corrupt flips one byte of the stored data without updating its checksum.
func (s *replicaStore) corrupt(node int, blockID uint64, offset int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := pieceKey(node, blockID, "p", offset/pieceSize)
		item, err := txn.Get(key)
		if err != nil {
			return fmt.Errorf("replica %d on node %d: %w", blockID, node, err)
		}
		piece, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if offset%pieceSize >= len(piece) {
			return fmt.Errorf("offset %d beyond replica length", offset)
		}
		piece[offset%pieceSize] ^= 0xFF
		return txn.Set(key, piece)
	})
}

// usage returns the number of replica bytes stored on node.
func (s *replicaStore) usage(node int) (int64, error) {
	prefix := []byte(fmt.Sprintf("dn/%d/", node))
	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) < 3 || string(key[len(key)-3:]) != "len" {
				continue
			}
			err := it.Item().Value(func(v []byte) error {
				total += int64(binary.BigEndian.Uint64(v))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return total, err
}
