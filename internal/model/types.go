package model

import (
	"sync"
	"time"
)

// FileMeta describes one file within a batch. It is immutable once
// announced to the peer; FileIndex is unique within the batch.
type FileMeta struct {
	Name        string `json:"name"`
	Size        uint64 `json:"size"`
	Mime        string `json:"mime"`
	TotalChunks uint32 `json:"totalChunks"`
	FileIndex   uint32 `json:"fileIndex"`
}

// BatchMeta describes the files passed to one sendFiles call.
type BatchMeta struct {
	TotalFiles uint32 `json:"totalFiles"`
	TotalSize  uint64 `json:"totalSize"`
}

// Chunk is one slice of a file. On the wire (Layout A) only FileIndex
// travels in the frame header; ChunkIndex is implied by per-file
// arrival order. The payload is raw bytes.
type Chunk struct {
	FileIndex  uint32
	ChunkIndex uint32
	Payload    []byte
}

// BatchState is the per-session, per-direction mutable progress record.
// Only the owning pipeline (Sender or Receiver) writes to it; progress
// reporting reads it through Snapshot.
type BatchState struct {
	mu               sync.RWMutex
	TotalFiles       uint32
	TotalSize        uint64
	TransferredBytes uint64
	CompletedFiles   uint32
	CurrentFileName  string
	StartTime        time.Time
}

// Snapshot returns a copy safe for a reader to inspect without holding
// the lock.
func (b *BatchState) Snapshot() BatchState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BatchState{
		TotalFiles:       b.TotalFiles,
		TotalSize:        b.TotalSize,
		TransferredBytes: b.TransferredBytes,
		CompletedFiles:   b.CompletedFiles,
		CurrentFileName:  b.CurrentFileName,
		StartTime:        b.StartTime,
	}
}

// Reset reinitializes the batch state for a new batch.
func (b *BatchState) Reset(totalFiles uint32, totalSize uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TotalFiles = totalFiles
	b.TotalSize = totalSize
	b.TransferredBytes = 0
	b.CompletedFiles = 0
	b.CurrentFileName = ""
	b.StartTime = time.Now()
}

// AddTransferred advances TransferredBytes, clamped to TotalSize.
func (b *BatchState) AddTransferred(delta uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TransferredBytes += delta
	if b.TransferredBytes > b.TotalSize {
		b.TransferredBytes = b.TotalSize
	}
}

// SetTransferred sets TransferredBytes to an authoritative value
// reported by the peer (receiver-authoritative progress, see §9).
func (b *BatchState) SetTransferred(value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TransferredBytes = value
}

// SetCurrentFile records which file is in flight.
func (b *BatchState) SetCurrentFile(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CurrentFileName = name
}

// IncCompletedFiles bumps the completed-file counter and returns the
// new value together with the total, so a caller can detect
// completion without a second lock round-trip.
func (b *BatchState) IncCompletedFiles() (completed, total uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CompletedFiles++
	return b.CompletedFiles, b.TotalFiles
}

// ConnectionState is the session-wide FSM of §3: exactly one value is
// current at any time.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateSignaling
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSignaling:
		return "signaling"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Progress is the snapshot delivered through onProgress, combining the
// batch counters with the Transfer Monitor's rate/ETA estimate.
type Progress struct {
	TransferredBytes uint64
	TotalBytes       uint64
	CompletedFiles   uint32
	TotalFiles       uint32
	CurrentFileName  string
	SpeedLabel       string
	ETALabel         string
	IsComplete       bool
}
