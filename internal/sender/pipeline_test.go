package sender

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beamdrop/engine/internal/codec"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/transport"
)

// fakeReceiver is a minimal control-message responder standing in for
// the real receiver pipeline, just enough to drive the sender through
// its full rendezvous sequence and collect the bytes it receives.
type fakeReceiver struct {
	control, data *transport.Fake

	mu       sync.Mutex
	chunks   map[uint32]map[uint32][]byte
	nextIdx  map[uint32]uint32
}

func newFakeReceiver(control, data *transport.Fake) *fakeReceiver {
	r := &fakeReceiver{
		control: control,
		data:    data,
		chunks:  make(map[uint32]map[uint32][]byte),
		nextIdx: make(map[uint32]uint32),
	}
	control.OnMessage(r.onControl)
	data.OnMessage(r.onData)
	return r
}

func (r *fakeReceiver) onControl(msg transport.Message) {
	env, err := codec.Decode(msg.Data)
	if err != nil {
		return
	}
	switch env.Type {
	case codec.TypeOfferBatch:
		r.send(codec.Envelope{Type: codec.TypeAcceptBatch})
	case codec.TypeFileStart:
		idx := env.File.FileIndex
		r.mu.Lock()
		r.chunks[idx] = make(map[uint32][]byte)
		r.mu.Unlock()
		r.send(codec.Envelope{Type: codec.TypeReadyForFile, FileIndex: &idx})
	case codec.TypeFileEnd:
		r.send(codec.Envelope{Type: codec.TypeAckFile, FileIndex: env.FileIndex})
	}
}

func (r *fakeReceiver) onData(msg transport.Message) {
	fileIndex, payload, err := codec.DecodeFrame(msg.Data)
	if err != nil {
		return
	}
	r.mu.Lock()
	idx := r.nextIdx[fileIndex]
	r.nextIdx[fileIndex] = idx + 1
	r.chunks[fileIndex][idx] = append([]byte(nil), payload...)
	r.mu.Unlock()
}

func (r *fakeReceiver) send(env codec.Envelope) {
	raw, _ := codec.Encode(env)
	r.control.SendText(string(raw))
}

func (r *fakeReceiver) blob(fileIndex uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.chunks[fileIndex]
	var out []byte
	for i := uint32(0); i < uint32(len(m)); i++ {
		out = append(out, m[i]...)
	}
	return out
}

type bytesFile struct {
	name string
	data []byte
}

func (b bytesFile) request() FileRequest {
	return FileRequest{
		Path: b.name,
		Name: b.name,
		Open: func() (io.ReadCloser, int64, error) {
			return io.NopCloser(bytes.NewReader(b.data)), int64(len(b.data)), nil
		},
	}
}

func TestSendBatchSingleSmallFile(t *testing.T) {
	controlA, controlB := transport.NewFakePair()
	dataA, dataB := transport.NewFakePair()

	recv := newFakeReceiver(controlB, dataB)

	var lastProgress model.Progress
	p := New(controlA, dataA, logging.Nop(), WithAckTimeout(2*time.Second), WithProgress(func(pr model.Progress) {
		lastProgress = pr
	}))
	controlA.OnMessage(p.HandleControlMessage)

	content := bytes.Repeat([]byte("beamdrop"), 10000)
	f := bytesFile{name: "greeting.txt", data: content}

	err := p.SendBatch(context.Background(), []FileRequest{f.request()})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, content, recv.blob(0))
	require.True(t, lastProgress.IsComplete)
	require.Equal(t, uint32(1), lastProgress.CompletedFiles)
}

func TestSendBatchRejectsConcurrentCalls(t *testing.T) {
	controlA, controlB := transport.NewFakePair()
	dataA, dataB := transport.NewFakePair()
	newFakeReceiver(controlB, dataB)

	p := New(controlA, dataA, logging.Nop())
	controlA.OnMessage(p.HandleControlMessage)
	p.busy = true

	err := p.SendBatch(context.Background(), []FileRequest{bytesFile{name: "a", data: []byte("x")}.request()})
	require.ErrorIs(t, err, model.ErrUploadInProgress)
}

func TestSendBatchFailsWhenChannelsNotReady(t *testing.T) {
	controlA, _ := transport.NewFakePair()
	dataA, _ := transport.NewFakePair()
	dataA.SetSendErr(context.Canceled)

	p := New(controlA, dataA, logging.Nop())
	err := p.SendBatch(context.Background(), []FileRequest{bytesFile{name: "a", data: []byte("x")}.request()})
	require.ErrorIs(t, err, model.ErrChannelsNotReady)
}
