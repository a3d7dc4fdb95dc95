// Package receiver implements the Receiver Pipeline of spec.md §4.5:
// demultiplexing binary frames into per-file Chunk Stores, dispatching
// control envelopes through the mirror image of the sender's
// handshake, and reassembling each file to disk once its file-end
// arrives.
//
// The on-disk write path and its unique-filename fallback are
// grounded on the teacher's cli/transfer.go handleFileInfo/
// handleFileComplete: write everything in order once the transfer is
// complete, rather than streaming writes chunk-by-chunk, and never
// clobber an existing file of the same name.
package receiver

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/beamdrop/engine/internal/chunkstore"
	"github.com/beamdrop/engine/internal/codec"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/monitor"
	"github.com/beamdrop/engine/internal/tracing"
	"github.com/beamdrop/engine/internal/transport"
)

var tracer = tracing.Tracer("beamdrop/receiver")

// CompletedFile describes one fully reassembled file, handed to
// OnFileComplete.
type CompletedFile struct {
	Meta   model.FileMeta
	Path   string
	SHA256 string
}

type fileReceive struct {
	meta     model.FileMeta
	store    chunkstore.Store
	nextIdx  uint32
	received uint64
}

// Pipeline accepts one batch at a time from a sender peer.
type Pipeline struct {
	control  transport.DataChannel
	data     transport.DataChannel
	logger   logging.Logger
	monitor  *monitor.Monitor
	batch    *model.BatchState
	registry *prometheus.Registry

	destDir  string
	spillDir string

	onProgress     func(model.Progress)
	onFileComplete func(CompletedFile)

	syncLimiter *rate.Limiter

	// mu guards inFlight: control messages (file-start, file-end) and
	// data frames arrive through two independent channels and can be
	// dispatched from different goroutines.
	mu       sync.Mutex
	inFlight map[uint32]*fileReceive
}

// Option customizes a Pipeline at construction.
type Option func(*Pipeline)

// WithProgress installs the onProgress callback.
func WithProgress(f func(model.Progress)) Option {
	return func(p *Pipeline) { p.onProgress = f }
}

// WithFileComplete installs the callback invoked once a file is fully
// reassembled and written to destDir.
func WithFileComplete(f func(CompletedFile)) Option {
	return func(p *Pipeline) { p.onFileComplete = f }
}

// WithSpillDir overrides the directory spill-tier Chunk Stores use for
// their backing bolt database.
func WithSpillDir(dir string) Option {
	return func(p *Pipeline) { p.spillDir = dir }
}

// WithRegistry registers the pipeline's Transfer Monitor gauges
// against reg. Nil (the default) means no Prometheus registration.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(p *Pipeline) { p.registry = reg }
}

// New builds a receiver Pipeline writing completed files under
// destDir.
func New(control, data transport.DataChannel, destDir string, logger logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Pipeline{
		control:     control,
		data:        data,
		logger:      logger,
		batch:       &model.BatchState{},
		destDir:     destDir,
		spillDir:    os.TempDir(),
		syncLimiter: rate.NewLimiter(rate.Every(model.SyncInterval), 1),
		inFlight:    make(map[uint32]*fileReceive),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.monitor = monitor.New(0, p.registry, "receiver")
	return p
}

// HandleControlMessage dispatches an inbound control envelope. Wire
// this as the control channel's OnMessage handler.
func (p *Pipeline) HandleControlMessage(raw []byte) {
	env, err := codec.Decode(raw)
	if err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: malformed control message: %v", err))
		return
	}
	switch env.Type {
	case codec.TypeOfferBatch:
		p.handleOfferBatch(env)
	case codec.TypeFileStart:
		p.handleFileStart(env)
	case codec.TypeFileEnd:
		p.handleFileEnd(env)
	case codec.TypeCapabilities:
		p.handleCapabilities(env)
	default:
		if !codec.KnownType(env.Type) {
			p.logger.LogDebug(fmt.Sprintf("receiver: ignoring unknown control type %q", env.Type))
		}
	}
}

// HandleFrame demultiplexes one binary frame. Wire this as the data
// channel's OnMessage handler.
func (p *Pipeline) HandleFrame(raw []byte) {
	fileIndex, payload, err := codec.DecodeFrame(raw)
	if err != nil {
		p.logger.LogDebug(fmt.Sprintf("receiver: dropping malformed frame: %v", err))
		return
	}
	p.mu.Lock()
	fr, ok := p.inFlight[fileIndex]
	p.mu.Unlock()
	if !ok {
		p.logger.ShowError(fmt.Sprintf("receiver: frame for unknown fileIndex %d", fileIndex))
		return
	}
	if err := fr.store.Add(fr.nextIdx, payload); err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: %s: %v", fr.meta.Name, err))
		return
	}
	fr.nextIdx++
	fr.received += uint64(len(payload))

	p.monitor.Update(uint64(len(payload)))
	p.batch.AddTransferred(uint64(len(payload)))
	p.maybeSyncProgress(false)
}

func (p *Pipeline) handleOfferBatch(env codec.Envelope) {
	if env.Batch == nil {
		return
	}
	p.batch.Reset(env.Batch.TotalFiles, env.Batch.TotalSize)
	p.monitor.Reset(env.Batch.TotalSize)
	p.mu.Lock()
	p.inFlight = make(map[uint32]*fileReceive)
	p.mu.Unlock()
	p.sendControl(codec.Envelope{Type: codec.TypeAcceptBatch})
}

func (p *Pipeline) handleFileStart(env codec.Envelope) {
	if env.File == nil {
		return
	}
	meta := *env.File
	store, err := chunkstore.New(meta.Size, meta.Mime, p.spillDir)
	if err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: %s: %v", meta.Name, err))
		return
	}
	p.mu.Lock()
	p.inFlight[meta.FileIndex] = &fileReceive{meta: meta, store: store}
	p.mu.Unlock()
	p.batch.SetCurrentFile(meta.Name)

	idx := meta.FileIndex
	p.sendControl(codec.Envelope{Type: codec.TypeReadyForFile, FileIndex: &idx})
}

func (p *Pipeline) handleFileEnd(env codec.Envelope) {
	if env.FileIndex == nil {
		return
	}
	_, span := tracer.Start(context.Background(), "receiver.handleFileEnd")
	defer span.End()

	fileIndex := *env.FileIndex
	p.mu.Lock()
	fr, ok := p.inFlight[fileIndex]
	if ok {
		delete(p.inFlight, fileIndex)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	blob, err := fr.store.Finish()
	fr.store.Cleanup()
	if err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: %s: finish: %v", fr.meta.Name, err))
		p.sendControl(codec.Envelope{Type: codec.TypeAckFile, FileIndex: &fileIndex})
		return
	}

	path, err := p.writeFile(fr.meta.Name, blob)
	if err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: %s: write: %v", fr.meta.Name, err))
		p.sendControl(codec.Envelope{Type: codec.TypeAckFile, FileIndex: &fileIndex})
		return
	}

	sum := sha256.Sum256(blob)
	completed, total := p.batch.IncCompletedFiles()
	if p.onFileComplete != nil {
		p.onFileComplete(CompletedFile{Meta: fr.meta, Path: path, SHA256: fmt.Sprintf("%x", sum)})
	}
	p.maybeSyncProgress(completed == total)

	p.sendControl(codec.Envelope{Type: codec.TypeAckFile, FileIndex: &fileIndex})
}

func (p *Pipeline) handleCapabilities(env codec.Envelope) {
	negotiated := env.MaxChunkSize
	if negotiated <= 0 || negotiated > model.ChunkSize {
		negotiated = model.ChunkSize
	}
	p.sendControl(codec.Envelope{Type: codec.TypeCapabilitiesAck, NegotiatedChunkSize: negotiated})
}

// writeFile persists blob under destDir, disambiguating name against
// any existing file the way the teacher's handleFileInfo does: append
// "-1", "-2", ... before the extension until a free name is found.
func (p *Pipeline) writeFile(name string, blob []byte) (string, error) {
	if err := os.MkdirAll(p.destDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir dest dir: %v", model.ErrStorageError, err)
	}
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	path := filepath.Join(p.destDir, base)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(p.destDir, fmt.Sprintf("%s-%d%s", stem, counter, ext))
	}

	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrStorageError, err)
	}
	return path, nil
}

// maybeSyncProgress throttles outbound progress-sync envelopes to at
// most one per SyncInterval (§4.5), always firing on completion.
func (p *Pipeline) maybeSyncProgress(isComplete bool) {
	if !isComplete && !p.syncLimiter.Allow() {
		return
	}
	snap := p.batch.Snapshot()
	m := p.monitor.Metrics()

	p.sendControl(codec.Envelope{
		Type: codec.TypeProgressSync,
		Progress: &codec.ProgressSyncPayload{
			TransferredBytes: snap.TransferredBytes,
			Speed:            m.SpeedLabel,
			ETA:              m.ETALabel,
			CompletedFiles:   snap.CompletedFiles,
			TotalFiles:       snap.TotalFiles,
		},
	})

	if p.onProgress != nil {
		p.onProgress(model.Progress{
			TransferredBytes: snap.TransferredBytes,
			TotalBytes:       snap.TotalSize,
			CompletedFiles:   snap.CompletedFiles,
			TotalFiles:       snap.TotalFiles,
			CurrentFileName:  snap.CurrentFileName,
			SpeedLabel:       m.SpeedLabel,
			ETALabel:         m.ETALabel,
			IsComplete:       isComplete,
		})
	}
}

func (p *Pipeline) sendControl(env codec.Envelope) {
	raw, err := codec.Encode(env)
	if err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: encode %s: %v", env.Type, err))
		return
	}
	if err := p.control.SendText(string(raw)); err != nil {
		p.logger.ShowError(fmt.Sprintf("receiver: send %s: %v", env.Type, err))
	}
}
