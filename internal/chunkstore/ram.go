package chunkstore

import (
	"sort"
	"sync"

	"github.com/beamdrop/engine/internal/model"
)

// ramStore keeps every chunk in memory, keyed by chunk index, the way
// the teacher's TransferState held chunks for small files. Used for
// files at or below RAMThreshold.
type ramStore struct {
	mu       sync.Mutex
	chunks   map[uint32][]byte
	size     uint64
	finished bool
}

func newRAMStore(fileSize uint64) *ramStore {
	return &ramStore{
		chunks: make(map[uint32][]byte),
		size:   fileSize,
	}
}

func (s *ramStore) Add(chunkIndex uint32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Copy: the caller's buffer may be reused by the transport layer
	// immediately after this call returns.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.chunks[chunkIndex] = buf
	return nil
}

func (s *ramStore) Finish() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil, model.ErrFinishCalledTwice
	}
	s.finished = true

	indices := make([]uint32, 0, len(s.chunks))
	for idx := range s.chunks {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]byte, 0, s.size)
	for _, idx := range indices {
		out = append(out, s.chunks[idx]...)
	}
	return out, nil
}

func (s *ramStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
}
