// Package model holds the data types and tunable constants shared by
// every transfer-engine component: frame sizes, backpressure
// thresholds, and the small state machines that the sender, receiver,
// and session packages all close over.
package model

import "time"

// Tunables per the wire protocol: the reference defaults, as
// compile-time constants. internal/config does not override them; the
// sender pipeline accepts per-pipeline overrides of the chunk size and
// ack timeout through its options.
const (
	// ChunkSize is the maximum payload carried by one binary frame.
	ChunkSize = 64 * 1024

	// HeaderSize is the fixed size of a binary frame header: one
	// big-endian u32 file index.
	HeaderSize = 4

	// MaxBufferedAmount is the sender backpressure ceiling, in bytes
	// of data still queued for send on the data channel.
	MaxBufferedAmount = 16 * 1024 * 1024

	// LowWaterMark is the bufferedAmount threshold below which the
	// transport fires its low-water-mark event and the pump resumes.
	LowWaterMark = 1 * 1024 * 1024

	// MaxInflightReads bounds how many chunk reads may be in flight
	// (read from disk, not yet handed to the transport) at once.
	MaxInflightReads = 32

	// MaxConcurrentUploads is the reference number of files a sender
	// pipelines simultaneously within one batch. The sender pipeline
	// does not read it: it always sends one file at a time.
	MaxConcurrentUploads = 1

	// RAMThreshold is the file-size cutoff above which a ChunkStore
	// spills chunks to disk instead of holding them in memory.
	RAMThreshold = 150 * 1024 * 1024

	// SpillBatch is the number of queued chunks a spill-tier store
	// accumulates before flushing them to the persistent store in one
	// transaction.
	SpillBatch = 64

	// SyncInterval bounds how often the receiver emits progress-sync
	// messages back to the sender.
	SyncInterval = 200 * time.Millisecond

	// AckTimeout is the best-effort ceiling on how long the sender
	// waits for a control rendezvous (ready-for-file, ack-file) before
	// giving up and proceeding to cleanup.
	AckTimeout = 60 * time.Second

	// JoinAnnounceInterval is the reference interval for re-announcing
	// on the signaling room while unconnected. The session coordinator
	// does not announce periodically and does not read it: it pairs by
	// room token through connect/accept.
	JoinAnnounceInterval = 1500 * time.Millisecond
)
