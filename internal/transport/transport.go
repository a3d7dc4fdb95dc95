// Package transport declares the small contracts the core consumes
// from the secure datagram transport, per spec.md §1: "The core
// consumes send(bytes|text), bufferedAmount, a low-water-mark event,
// and onMessage." Concrete implementations (internal/session's pion
// adapter, or a fake for tests) satisfy DataChannel; the sender and
// receiver pipelines only ever see this interface, so a fuzzing fake
// transport can drive the out-of-order scenario in spec.md §8 without
// a real WebRTC stack.
package transport

// Message is one datagram delivered to OnMessage: either a text
// control envelope or a binary frame.
type Message struct {
	IsString bool
	Data     []byte
}

// DataChannel is the transport-agnostic view of a single logical
// WebRTC data channel (control or data).
type DataChannel interface {
	// SendText sends a UTF-8 text payload (a control envelope).
	SendText(s string) error

	// Send sends a binary payload (a framed chunk).
	Send(b []byte) error

	// BufferedAmount reports queued-outbound-bytes. The engine treats
	// this as an authoritative read-only signal (§5) and never tracks
	// it independently.
	BufferedAmount() uint64

	// OnBufferedAmountLow registers a callback fired once buffered
	// bytes drop below the transport's configured low-water-mark.
	// Implementations may call f any number of times; it must be
	// re-armed by the caller if a one-shot semantic is needed.
	OnBufferedAmountLow(f func())

	// OnMessage registers the inbound-message callback. Only one
	// handler is supported (§9 "a single consumer per event kind is
	// sufficient"); calling OnMessage again replaces the previous
	// handler.
	OnMessage(f func(Message))

	// Ready reports whether the channel can currently send.
	Ready() bool
}
