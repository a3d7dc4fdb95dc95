package sender

import (
	"fmt"
	"sync"
	"time"

	"github.com/beamdrop/engine/internal/codec"
	"github.com/beamdrop/engine/internal/model"
)

// rendezvousTable tracks one-shot suspension points awaiting a
// specific control message, keyed by type and (for file-scoped
// messages) fileIndex. §5 names these as the sender's suspension
// points: accept-batch, each ready-for-file, each ack-file.
type rendezvousTable struct {
	mu      sync.Mutex
	waiters map[string]chan codec.Envelope
}

func newRendezvousTable() *rendezvousTable {
	return &rendezvousTable{waiters: make(map[string]chan codec.Envelope)}
}

func batchKey(msgType string) string {
	return msgType
}

func fileKey(msgType string, fileIndex uint32) string {
	return fmt.Sprintf("%s:%d", msgType, fileIndex)
}

// register opens a waiter for key. Must be called before the awaited
// message can arrive.
func (r *rendezvousTable) register(key string) chan codec.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan codec.Envelope, 1)
	r.waiters[key] = ch
	return ch
}

// fulfill delivers env to the waiter registered under key, if any. A
// message with no matching waiter (arrived early, late, or for a
// rendezvous nobody is awaiting) is simply dropped.
func (r *rendezvousTable) fulfill(key string, env codec.Envelope) {
	r.mu.Lock()
	ch, ok := r.waiters[key]
	if ok {
		delete(r.waiters, key)
	}
	r.mu.Unlock()
	if ok {
		ch <- env
	}
}

// wait blocks on ch until it fires, the timeout elapses, or abort
// closes. On timeout it returns ErrProtocolTimeout but does NOT treat
// that as fatal — per §5, "on timeout the rendezvous resolves (not
// rejects)" so callers proceed to cleanup rather than propagate an
// error up as a batch failure. abort fires on ErrTransportClosed.
func (r *rendezvousTable) wait(key string, ch chan codec.Envelope, timeout time.Duration, abort <-chan struct{}) (codec.Envelope, error) {
	select {
	case env := <-ch:
		return env, nil
	case <-time.After(timeout):
		r.mu.Lock()
		delete(r.waiters, key)
		r.mu.Unlock()
		return codec.Envelope{}, model.ErrProtocolTimeout
	case <-abort:
		r.mu.Lock()
		delete(r.waiters, key)
		r.mu.Unlock()
		return codec.Envelope{}, model.ErrTransportClosed
	}
}
