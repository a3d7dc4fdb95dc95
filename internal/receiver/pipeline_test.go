package receiver

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beamdrop/engine/internal/codec"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/model"
	"github.com/beamdrop/engine/internal/transport"
)

// fakeSender drives the receiver through one file's worth of the
// handshake, deliberately shuffling chunk send order is NOT done here
// since Layout A relies on the transport's ordering guarantee — this
// fake instead exercises the real transport.Fake, which is
// order-preserving per direction.
type fakeSender struct {
	control, data *transport.Fake

	mu      sync.Mutex
	acked   map[uint32]bool
	readyAt map[uint32]bool
}

func newFakeSender(control, data *transport.Fake) *fakeSender {
	s := &fakeSender{control: control, data: data, acked: map[uint32]bool{}, readyAt: map[uint32]bool{}}
	control.OnMessage(s.onControl)
	return s
}

func (s *fakeSender) onControl(msg transport.Message) {
	env, err := codec.Decode(msg.Data)
	if err != nil {
		return
	}
	switch env.Type {
	case codec.TypeReadyForFile:
		s.mu.Lock()
		s.readyAt[*env.FileIndex] = true
		s.mu.Unlock()
	case codec.TypeAckFile:
		s.mu.Lock()
		s.acked[*env.FileIndex] = true
		s.mu.Unlock()
	}
}

func (s *fakeSender) send(env codec.Envelope) {
	raw, _ := codec.Encode(env)
	s.control.SendText(string(raw))
}

func (s *fakeSender) sendFrame(fileIndex uint32, payload []byte) {
	s.data.Send(codec.EncodeFrame(fileIndex, payload))
}

func (s *fakeSender) waitReady(fileIndex uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		ok := s.readyAt[fileIndex]
		s.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func (s *fakeSender) waitAcked(fileIndex uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		ok := s.acked[fileIndex]
		s.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestReceiverReassemblesSingleFile(t *testing.T) {
	controlA, controlB := transport.NewFakePair()
	dataA, dataB := transport.NewFakePair()

	dest := t.TempDir()
	var completed CompletedFile
	done := make(chan struct{}, 1)

	p := New(controlB, dataB, dest, logging.Nop(), WithFileComplete(func(cf CompletedFile) {
		completed = cf
		done <- struct{}{}
	}))
	controlB.OnMessage(p.HandleControlMessage)
	dataB.OnMessage(p.HandleFrame)

	sender := newFakeSender(controlA, dataA)

	content := bytes.Repeat([]byte("beamdrop-receiver-test-"), 500)
	want := sha256.Sum256(content)

	sender.send(codec.Envelope{Type: codec.TypeOfferBatch, Batch: &model.BatchMeta{TotalFiles: 1, TotalSize: uint64(len(content))}})

	fileIndex := uint32(0)
	sender.send(codec.Envelope{
		Type: codec.TypeFileStart,
		File: &model.FileMeta{Name: "note.txt", Size: uint64(len(content)), FileIndex: fileIndex, TotalChunks: 1},
	})
	require.True(t, sender.waitReady(fileIndex, time.Second))

	sender.sendFrame(fileIndex, content)

	sender.send(codec.Envelope{Type: codec.TypeFileEnd, FileIndex: &fileIndex})
	require.True(t, sender.waitAcked(fileIndex, time.Second))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("file never completed")
	}

	require.Equal(t, fmt.Sprintf("%x", want), completed.SHA256)
	got, err := os.ReadFile(completed.Path)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestReceiverDisambiguatesExistingFilename(t *testing.T) {
	controlA, controlB := transport.NewFakePair()
	dataA, dataB := transport.NewFakePair()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "note.txt"), []byte("existing"), 0o644))

	completions := make(chan CompletedFile, 1)
	p := New(controlB, dataB, dest, logging.Nop(), WithFileComplete(func(cf CompletedFile) {
		completions <- cf
	}))
	controlB.OnMessage(p.HandleControlMessage)
	dataB.OnMessage(p.HandleFrame)

	sender := newFakeSender(controlA, dataA)
	content := []byte("fresh content")

	sender.send(codec.Envelope{Type: codec.TypeOfferBatch, Batch: &model.BatchMeta{TotalFiles: 1, TotalSize: uint64(len(content))}})
	fileIndex := uint32(0)
	sender.send(codec.Envelope{Type: codec.TypeFileStart, File: &model.FileMeta{Name: "note.txt", Size: uint64(len(content)), FileIndex: fileIndex}})
	require.True(t, sender.waitReady(fileIndex, time.Second))
	sender.sendFrame(fileIndex, content)
	sender.send(codec.Envelope{Type: codec.TypeFileEnd, FileIndex: &fileIndex})

	select {
	case cf := <-completions:
		require.Equal(t, filepath.Join(dest, "note-1.txt"), cf.Path)
	case <-time.After(time.Second):
		t.Fatal("file never completed")
	}
}

func TestCapabilitiesNegotiationClampsToChunkSize(t *testing.T) {
	controlA, controlB := transport.NewFakePair()
	dataA, dataB := transport.NewFakePair()

	p := New(controlB, dataB, t.TempDir(), logging.Nop())
	controlB.OnMessage(p.HandleControlMessage)

	acked := make(chan codec.Envelope, 1)
	controlA.OnMessage(func(msg transport.Message) {
		env, err := codec.Decode(msg.Data)
		if err == nil && env.Type == codec.TypeCapabilitiesAck {
			acked <- env
		}
	})

	raw, _ := codec.Encode(codec.Envelope{Type: codec.TypeCapabilities, MaxChunkSize: 10 * model.ChunkSize})
	controlA.SendText(string(raw))

	select {
	case env := <-acked:
		require.Equal(t, model.ChunkSize, env.NegotiatedChunkSize)
	case <-time.After(time.Second):
		t.Fatal("no capabilities-ack received")
	}
}
