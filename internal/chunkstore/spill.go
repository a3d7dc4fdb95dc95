package chunkstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/boltdb/bolt"
	"github.com/zeebo/blake3"

	"github.com/beamdrop/engine/internal/model"
)

var (
	bucketChunks  = []byte("chunks")
	bucketDigests = []byte("digests")
)

// spillPending is one not-yet-flushed chunk waiting in the write
// queue.
type spillPending struct {
	index   uint32
	payload []byte
}

// spillStore persists chunks to a per-file bolt database instead of
// holding them in memory, for files above RAMThreshold. Grounded on
// sambhavthakkar-QuantaraX's BoltCAS (daemon/manager/cas_bolt.go):
// same bucket-per-concern layout and big-endian numeric keys so bolt's
// natural byte-order key iteration is also numeric chunk-index order.
type spillStore struct {
	mu       sync.Mutex
	db       *bolt.DB
	path     string
	size     uint64
	pending  []spillPending
	finished bool
	closed   bool
}

func newSpillStore(fileSize uint64, spillDir string) (*spillStore, error) {
	path, err := uniqueSpillName(spillDir, 0)
	if err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open spill store: %v", model.ErrStorageError, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDigests)
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: init spill buckets: %v", model.ErrStorageError, err)
	}

	return &spillStore{
		db:      db,
		path:    path,
		size:    fileSize,
		pending: make([]spillPending, 0, model.SpillBatch),
	}, nil
}

func chunkKey(index uint32) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

func (s *spillStore) Add(chunkIndex uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.pending = append(s.pending, spillPending{index: chunkIndex, payload: buf})

	if len(s.pending) >= model.SpillBatch {
		return s.flushLocked()
	}
	return nil
}

// flushLocked writes the pending queue to the persistent store in one
// atomic transaction. Caller must hold s.mu.
func (s *spillStore) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = make([]spillPending, 0, model.SpillBatch)

	err := s.db.Update(func(tx *bolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)
		digests := tx.Bucket(bucketDigests)
		for _, p := range batch {
			key := chunkKey(p.index)
			if err := chunks.Put(key, p.payload); err != nil {
				return err
			}
			sum := blake3.Sum256(p.payload)
			if err := digests.Put(key, sum[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: flush spill batch: %v", model.ErrStorageError, err)
	}
	return nil
}

// Finish drains the pending queue, then performs a full ordered scan
// of the backing store, concatenating payloads in numeric chunk-index
// order, verifying each one's recorded digest as it goes. The backing
// database is deleted after the scan regardless of outcome, per §4.2.
func (s *spillStore) Finish() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil, model.ErrFinishCalledTwice
	}
	s.finished = true

	if err := s.flushLocked(); err != nil {
		s.closeAndRemoveLocked()
		return nil, err
	}

	out := make([]byte, 0, s.size)
	err := s.db.View(func(tx *bolt.Tx) error {
		chunks := tx.Bucket(bucketChunks)
		digests := tx.Bucket(bucketDigests)
		c := chunks.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			want := digests.Get(k)
			got := blake3.Sum256(v)
			if want != nil && string(want) != string(got[:]) {
				return fmt.Errorf("%w: chunk digest mismatch at key %x", model.ErrStorageError, k)
			}
			out = append(out, v...)
		}
		return nil
	})

	s.closeAndRemoveLocked()

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *spillStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeAndRemoveLocked()
}

// closeAndRemoveLocked is idempotent; caller must hold s.mu.
func (s *spillStore) closeAndRemoveLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.db != nil {
		s.db.Close()
	}
	if s.path != "" {
		os.Remove(s.path)
	}
}
