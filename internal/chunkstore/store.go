// Package chunkstore implements the out-of-order, tiered Chunk Store
// of §4.2: an ordered mapping from chunkIndex to payload that
// materializes a single contiguous blob on finish. Tier choice is
// fixed at construction by comparing the announced file size against
// RAMThreshold, the same split the teacher's TransferState chunk
// slices implicitly assume never needs to spill, generalized here to
// actually spill.
package chunkstore

import (
	"fmt"
	"os"
	"time"

	"github.com/beamdrop/engine/internal/model"
)

// Store is the Chunk Store contract every tier implements. finish()
// may be called at most once; a second call is a programmer error
// (§4.2).
type Store interface {
	// Add inserts chunkIndex's payload. No chunk is acknowledged lost
	// if Add returns without error.
	Add(chunkIndex uint32, payload []byte) error

	// Finish drains any pending writes and returns the ordered
	// concatenation of every added chunk.
	Finish() ([]byte, error)

	// Cleanup releases all resources. Safe to call at any time and
	// any number of times.
	Cleanup()
}

// New selects RAM or spill tier for a file of the given size, per
// §4.2. spillDir is the directory in which a spill-tier store creates
// its backing bolt database; it is ignored for files at or below
// RAMThreshold.
func New(fileSize uint64, mime string, spillDir string) (Store, error) {
	if fileSize <= model.RAMThreshold {
		return newRAMStore(fileSize), nil
	}
	return newSpillStore(fileSize, spillDir)
}

// uniqueSpillName builds a spill-store filename from a timestamp and
// random suffix, matching §6's "Persisted state" requirement that
// spill stores be creatable with unique names.
func uniqueSpillName(dir string, fileIndex uint32) (string, error) {
	f, err := os.CreateTemp(dir, fmt.Sprintf("beamdrop-spill-%d-%d-*.bolt", fileIndex, time.Now().UnixNano()))
	if err != nil {
		return "", fmt.Errorf("%w: create spill file: %v", model.ErrStorageError, err)
	}
	name := f.Name()
	f.Close()
	// bolt.Open wants to create the file itself; remove the empty
	// placeholder so the real open isn't confused by an existing,
	// zero-length, non-bolt file.
	os.Remove(name)
	return name, nil
}
