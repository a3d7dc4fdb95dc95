// Package sender implements the Sender Pipeline of spec.md §4.4: it
// turns a list of local files into an offer-batch/accept-batch
// handshake followed by, for each file, a file-start/ready-for-file
// rendezvous and a chunked, backpressure-aware pump over the data
// channel, closed out by file-end/ack-file.
//
// The pipeline mirrors the teacher's cli/transfer.go SendFile/
// trySendNextChunks split: a dedicated goroutine reads ahead while the
// caller's goroutine drains the transport, the two handed off through
// a bounded channel instead of the teacher's congestion-window slice.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/beamdrop/engine/internal/codec"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/monitor"
	"github.com/beamdrop/engine/internal/tracing"
	"github.com/beamdrop/engine/internal/transport"
)

var tracer = tracing.Tracer("beamdrop/sender")

// FileRequest names one file to send. Open is normally os.Open but
// tests substitute an in-memory reader.
type FileRequest struct {
	Path string
	Name string
	Open func() (io.ReadCloser, int64, error)
}

func defaultOpen(path string) func() (io.ReadCloser, int64, error) {
	return func() (io.ReadCloser, int64, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil
	}
}

// NewFileRequest builds a FileRequest for a file on disk.
func NewFileRequest(path, name string) FileRequest {
	return FileRequest{Path: path, Name: name, Open: defaultOpen(path)}
}

// Pipeline drives one batch send over a pair of logical channels. A
// Pipeline is single-batch-at-a-time; SendBatch returns
// ErrUploadInProgress if called while a prior batch is still running.
type Pipeline struct {
	control    transport.DataChannel
	data       transport.DataChannel
	logger     logging.Logger
	monitor    *monitor.Monitor
	batch      *model.BatchState
	registry   *prometheus.Registry
	onProgress func(model.Progress)

	chunkSize        int
	maxInflightReads int64
	ackTimeout       time.Duration
	pollInterval     time.Duration

	rendezvous *rendezvousTable
	lowWater   chan struct{}
	aborted    chan struct{}

	busy bool
}

// Option customizes a Pipeline at construction.
type Option func(*Pipeline)

// WithChunkSize overrides model.ChunkSize, e.g. after capabilities
// negotiation shrinks it for a constrained peer.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) { p.chunkSize = n }
}

// WithProgress installs the onProgress callback (spec.md §1's external
// interface).
func WithProgress(f func(model.Progress)) Option {
	return func(p *Pipeline) { p.onProgress = f }
}

// WithAckTimeout overrides model.AckTimeout, mainly for tests.
func WithAckTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.ackTimeout = d }
}

// WithRegistry registers the pipeline's Transfer Monitor gauges
// against reg, so a host process can expose them on /metrics. Nil (the
// default) means no Prometheus registration.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(p *Pipeline) { p.registry = reg }
}

// New builds a Pipeline over control and data channels.
func New(control, data transport.DataChannel, logger logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &Pipeline{
		control:          control,
		data:             data,
		logger:           logger,
		batch:            &model.BatchState{},
		chunkSize:        model.ChunkSize,
		maxInflightReads: model.MaxInflightReads,
		ackTimeout:       model.AckTimeout,
		pollInterval:     50 * time.Millisecond,
		rendezvous:       newRendezvousTable(),
		lowWater:         make(chan struct{}, 1),
		aborted:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.monitor = monitor.New(0, p.registry, "sender")
	data.OnBufferedAmountLow(func() {
		select {
		case p.lowWater <- struct{}{}:
		default:
		}
	})
	return p
}

// HandleControlMessage dispatches an inbound control envelope to its
// rendezvous or drops it. Wire this as the control channel's
// OnMessage handler (the session coordinator does so once both
// channels are established).
func (p *Pipeline) HandleControlMessage(raw []byte) {
	env, err := codec.Decode(raw)
	if err != nil {
		p.logger.ShowError(fmt.Sprintf("sender: malformed control message: %v", err))
		return
	}
	switch env.Type {
	case codec.TypeAcceptBatch:
		p.rendezvous.fulfill(batchKey(codec.TypeAcceptBatch), env)
	case codec.TypeReadyForFile:
		if env.FileIndex != nil {
			p.rendezvous.fulfill(fileKey(codec.TypeReadyForFile, *env.FileIndex), env)
		}
	case codec.TypeAckFile:
		if env.FileIndex != nil {
			p.rendezvous.fulfill(fileKey(codec.TypeAckFile, *env.FileIndex), env)
		}
	case codec.TypeCapabilitiesAck:
		if env.NegotiatedChunkSize > 0 {
			p.chunkSize = env.NegotiatedChunkSize
		}
	case codec.TypeProgressSync:
		// Receiver-authoritative progress (§9): once the receiver has
		// reported transferred bytes, adopt its count over this
		// pipeline's own locally tracked one.
		if env.Progress != nil {
			p.batch.SetTransferred(env.Progress.TransferredBytes)
			p.monitor.SetLoaded(env.Progress.TransferredBytes)
		}
	default:
		if !codec.KnownType(env.Type) {
			p.logger.LogDebug(fmt.Sprintf("sender: ignoring unknown control type %q", env.Type))
		}
	}
}

// abort marks every outstanding rendezvous as failed. Call once, when
// the transport reports closed.
func (p *Pipeline) abort() {
	select {
	case <-p.aborted:
	default:
		close(p.aborted)
	}
}

// SendBatch sends every file in files in order, emitting onProgress
// updates as it goes. It blocks until the batch completes, a
// transport failure aborts it, or ctx is cancelled.
func (p *Pipeline) SendBatch(ctx context.Context, files []FileRequest) error {
	if p.busy {
		return model.ErrUploadInProgress
	}
	if !p.control.Ready() || !p.data.Ready() {
		return model.ErrChannelsNotReady
	}
	p.busy = true
	defer func() { p.busy = false }()

	ctx, span := tracer.Start(ctx, "sender.SendBatch")
	defer span.End()

	var totalSize uint64
	sizes := make([]int64, len(files))
	for i, f := range files {
		rc, size, err := f.Open()
		if err != nil {
			return fmt.Errorf("sender: stat %s: %w", f.Path, err)
		}
		rc.Close()
		sizes[i] = size
		totalSize += uint64(size)
	}

	p.batch.Reset(uint32(len(files)), totalSize)
	p.monitor.Reset(totalSize)

	acceptWait := p.rendezvous.register(batchKey(codec.TypeAcceptBatch))
	offer := codec.Envelope{
		Type:  codec.TypeOfferBatch,
		Batch: &model.BatchMeta{TotalFiles: uint32(len(files)), TotalSize: totalSize},
	}
	if err := p.sendControl(offer); err != nil {
		return err
	}
	if _, err := p.rendezvous.wait(batchKey(codec.TypeAcceptBatch), acceptWait, p.ackTimeout, p.aborted); err != nil && err != model.ErrProtocolTimeout {
		return err
	}

	for i, f := range files {
		name := f.Name
		if name == "" {
			name = f.Path
		}
		p.batch.SetCurrentFile(name)
		if err := p.sendOneFile(ctx, uint32(i), f, uint64(sizes[i])); err != nil {
			p.logger.ShowError(fmt.Sprintf("sender: %s: %v", name, err))
			if errors.Is(err, model.ErrTransportClosed) {
				return err
			}
			// A read/storage failure on one file is logged and
			// skipped; the batch continues (§4.4 edge cases).
			continue
		}
		completed, total := p.batch.IncCompletedFiles()
		p.reportProgress(completed == total)
	}

	return nil
}

func (p *Pipeline) sendOneFile(ctx context.Context, fileIndex uint32, f FileRequest, size uint64) error {
	ctx, span := tracer.Start(ctx, "sender.sendOneFile")
	defer span.End()

	r, _, err := f.Open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer r.Close()

	totalChunks := uint32((size + uint64(p.chunkSize) - 1) / uint64(p.chunkSize))
	if size == 0 {
		totalChunks = 0
	}
	name := f.Name
	if name == "" {
		name = f.Path
	}
	fileMime := mime.TypeByExtension(filepath.Ext(name))
	if fileMime == "" {
		fileMime = "application/octet-stream"
	}

	readyWait := p.rendezvous.register(fileKey(codec.TypeReadyForFile, fileIndex))
	start := codec.Envelope{
		Type: codec.TypeFileStart,
		File: &model.FileMeta{
			Name:        name,
			Size:        size,
			Mime:        fileMime,
			TotalChunks: totalChunks,
			FileIndex:   fileIndex,
		},
	}
	if err := p.sendControl(start); err != nil {
		return err
	}
	if _, err := p.rendezvous.wait(fileKey(codec.TypeReadyForFile, fileIndex), readyWait, p.ackTimeout, p.aborted); err != nil && err != model.ErrProtocolTimeout {
		return err
	}

	type pending struct {
		chunkIndex uint32
		data       []byte
	}

	sem := semaphore.NewWeighted(p.maxInflightReads)
	pipe := make(chan pending, p.maxInflightReads)
	readErrCh := make(chan error, 1)

	go func() {
		defer close(pipe)
		buf := make([]byte, p.chunkSize)
		var idx uint32
		for {
			if err := sem.Acquire(ctx, 1); err != nil {
				readErrCh <- err
				return
			}
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				pipe <- pending{chunkIndex: idx, data: chunk}
				idx++
			} else {
				// Only release here when no chunk was produced: a
				// produced chunk's semaphore slot is released by the
				// consumer loop below, after it's sent on the wire.
				sem.Release(1)
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				readErrCh <- fmt.Errorf("%w: %v", model.ErrStorageError, err)
				return
			}
		}
	}()

	for chunk := range pipe {
		if err := p.waitForWindow(ctx); err != nil {
			return err
		}
		frame := codec.EncodeFrame(fileIndex, chunk.data)
		if err := p.data.Send(frame); err != nil {
			sem.Release(1)
			return fmt.Errorf("%w: %v", model.ErrTransportClosed, err)
		}
		sem.Release(1)
		p.monitor.Update(uint64(len(chunk.data)))
		p.batch.AddTransferred(uint64(len(chunk.data)))
		p.reportProgress(false)
	}

	select {
	case err := <-readErrCh:
		if err != nil && err != context.Canceled {
			return err
		}
	default:
	}

	if err := p.drain(ctx); err != nil {
		return err
	}

	ackWait := p.rendezvous.register(fileKey(codec.TypeAckFile, fileIndex))
	end := codec.Envelope{Type: codec.TypeFileEnd, FileIndex: &fileIndex}
	if err := p.sendControl(end); err != nil {
		return err
	}
	if _, err := p.rendezvous.wait(fileKey(codec.TypeAckFile, fileIndex), ackWait, p.ackTimeout, p.aborted); err != nil && err != model.ErrProtocolTimeout {
		return err
	}
	return nil
}

// waitForWindow blocks while bufferedAmount sits at or above
// MaxBufferedAmount, resuming on the transport's low-water-mark event
// or a poll fallback (the teacher never needed the fallback because
// its congestion window is self-clocked; here it guards against a
// transport that fires the callback before this loop starts waiting).
func (p *Pipeline) waitForWindow(ctx context.Context) error {
	for p.data.BufferedAmount() >= model.MaxBufferedAmount {
		select {
		case <-p.lowWater:
		case <-time.After(p.pollInterval):
		case <-p.aborted:
			return model.ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// drain waits until bufferedAmount reaches zero so file-end isn't
// observed by the peer ahead of the bytes it closes out.
func (p *Pipeline) drain(ctx context.Context) error {
	for p.data.BufferedAmount() > 0 {
		select {
		case <-p.lowWater:
		case <-time.After(p.pollInterval):
		case <-p.aborted:
			return model.ErrTransportClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) sendControl(env codec.Envelope) error {
	raw, err := codec.Encode(env)
	if err != nil {
		return err
	}
	if err := p.control.SendText(string(raw)); err != nil {
		p.abort()
		return fmt.Errorf("%w: %v", model.ErrTransportClosed, err)
	}
	return nil
}

func (p *Pipeline) reportProgress(isComplete bool) {
	if p.onProgress == nil {
		return
	}
	snap := p.batch.Snapshot()
	m := p.monitor.Metrics()
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
