package chunkstore

import (
	"crypto/sha256"
	"math/rand"
	"testing"

	"github.com/beamdrop/engine/internal/model"
	"github.com/stretchr/testify/require"
)

func buildChunks(t *testing.T, totalSize int, chunkSize int) [][]byte {
	t.Helper()
	src := make([]byte, totalSize)
	for i := range src {
		src[i] = byte(i % 251)
	}
	var chunks [][]byte
	for off := 0; off < totalSize; off += chunkSize {
		end := off + chunkSize
		if end > totalSize {
			end = totalSize
		}
		chunks = append(chunks, src[off:end])
	}
	return chunks
}

func concatAll(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestRAMStoreOrdersByChunkIndexRegardlessOfArrivalOrder(t *testing.T) {
	chunks := buildChunks(t, 300_000, 4096)
	want := sha256.Sum256(concatAll(chunks))

	perm := rand.Perm(len(chunks))

	store, err := New(uint64(len(concatAll(chunks))), "application/octet-stream", t.TempDir())
	require.NoError(t, err)
	defer store.Cleanup()

	for _, idx := range perm {
		require.NoError(t, store.Add(uint32(idx), chunks[idx]))
	}

	blob, err := store.Finish()
	require.NoError(t, err)
	got := sha256.Sum256(blob)
	require.Equal(t, want, got)
}

func TestSpillStoreSelectedAboveThreshold(t *testing.T) {
	size := uint64(model.RAMThreshold + 1)
	store, err := New(size, "application/octet-stream", t.TempDir())
	require.NoError(t, err)
	defer store.Cleanup()

	_, ok := store.(*spillStore)
	require.True(t, ok, "expected spill tier above RAMThreshold")
}

func TestRAMStoreSelectedAtOrBelowThreshold(t *testing.T) {
	store, err := New(model.RAMThreshold, "application/octet-stream", t.TempDir())
	require.NoError(t, err)
	defer store.Cleanup()

	_, ok := store.(*ramStore)
	require.True(t, ok, "expected RAM tier at threshold")
}

func TestSpillStoreRoundTripAndCleansUpArtifacts(t *testing.T) {
	dir := t.TempDir()
	chunkSize := 1024
	totalChunks := model.SpillBatch*2 + 3 // force multiple flushes plus a partial tail
	chunks := buildChunks(t, chunkSize*totalChunks, chunkSize)
	want := sha256.Sum256(concatAll(chunks))

	store, err := newSpillStore(uint64(chunkSize*totalChunks), dir)
	require.NoError(t, err)

	perm := rand.Perm(len(chunks))
	for _, idx := range perm {
		require.NoError(t, store.Add(uint32(idx), chunks[idx]))
	}

	path := store.path
	blob, err := store.Finish()
	require.NoError(t, err)
	got := sha256.Sum256(blob)
	require.Equal(t, want, got)

	require.NoFileExists(t, path)
}

func TestFinishCalledTwiceIsAnError(t *testing.T) {
	store, err := New(1024, "text/plain", t.TempDir())
	require.NoError(t, err)
	defer store.Cleanup()

	require.NoError(t, store.Add(0, []byte("hi")))
	_, err = store.Finish()
	require.NoError(t, err)

	_, err = store.Finish()
	require.ErrorIs(t, err, model.ErrFinishCalledTwice)
}

func TestCleanupIsIdempotent(t *testing.T) {
	store, err := New(1024, "text/plain", t.TempDir())
	require.NoError(t, err)

	store.Cleanup()
	store.Cleanup()
	store.Cleanup()
}
