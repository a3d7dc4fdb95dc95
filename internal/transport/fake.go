package transport

import "sync"

// Fake is an in-memory DataChannel used by the sender and receiver
// packages' tests to drive the pipelines without a real
// WebRTC stack — the same role the teacher's tests never needed
// because cli/transfer_test.go talks to real pion channels over a
// loopback ICE pair; here the transport boundary makes a loopback
// unnecessary. Delivery is strictly FIFO per direction, matching the
// ordered-reliable guarantee the wire protocol assumes (spec.md §1's
// "two logical channels, both ordered and reliable").
type Fake struct {
	mu sync.Mutex

	ready          bool
	bufferedAmount uint64
	lowThreshold   uint64
	onBufferedLow  func()
	onMessage      func(Message)

	peer  *Fake
	queue chan Message

	// sendErr, when set, is returned by Send/SendText instead of
	// delivering.
	sendErr error
}

// NewFakePair builds two Fakes wired to each other: sends on a land as
// deliveries on b, and vice versa.
func NewFakePair() (a, b *Fake) {
	a = &Fake{ready: true, queue: make(chan Message, 4096)}
	b = &Fake{ready: true, queue: make(chan Message, 4096)}
	a.peer = b
	b.peer = a
	go a.deliverLoop()
	go b.deliverLoop()
	return a, b
}

// SetLowThreshold configures the bufferedAmount level at which
// OnBufferedAmountLow fires after a drain.
func (f *Fake) SetLowThreshold(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lowThreshold = n
}

// SetSendErr makes every subsequent Send/SendText fail with err,
// simulating a closed transport.
func (f *Fake) SetSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
	f.ready = err == nil
}

func (f *Fake) SendText(s string) error {
	return f.send(Message{IsString: true, Data: []byte(s)})
}

func (f *Fake) Send(b []byte) error {
	return f.send(Message{IsString: false, Data: append([]byte(nil), b...)})
}

// send enqueues msg onto the peer's inbound queue and tracks it as
// buffered until that peer's deliverLoop drains it, so BufferedAmount
// behaves like a real transport's queued-outbound-bytes counter
// instead of settling instantly.
func (f *Fake) send(msg Message) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	peer := f.peer
	f.bufferedAmount += uint64(len(msg.Data))
	f.mu.Unlock()

	peer.queue <- msg
	go f.drain(uint64(len(msg.Data)))
	return nil
}

// deliverLoop is the single consumer of this Fake's inbound queue,
// invoking the registered handler in strict enqueue order.
func (f *Fake) deliverLoop() {
	for msg := range f.queue {
		f.mu.Lock()
		handler := f.onMessage
		f.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

// drain simulates the transport having flushed n bytes to the wire,
// firing the low-water callback whenever bufferedAmount is then at or
// below lowThreshold.
func (f *Fake) drain(n uint64) {
	f.mu.Lock()
	if n > f.bufferedAmount {
		f.bufferedAmount = 0
	} else {
		f.bufferedAmount -= n
	}
	fire := f.bufferedAmount <= f.lowThreshold && f.onBufferedLow != nil
	cb := f.onBufferedLow
	f.mu.Unlock()
	if fire {
		cb()
	}
}

func (f *Fake) BufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferedAmount
}

func (f *Fake) OnBufferedAmountLow(cb func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBufferedLow = cb
}

func (f *Fake) OnMessage(cb func(Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = cb
}

func (f *Fake) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}
