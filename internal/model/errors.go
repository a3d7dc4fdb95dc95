package model

import "errors"

// Error kinds from §7. The engine never lets these escape past the
// sendFiles / message-dispatch boundary — they surface as a state
// transition or a logged event instead.
var (
	// ErrTransportClosed: the data or control stream closed
	// unexpectedly. All pending rendezvous fail; the batch aborts.
	ErrTransportClosed = errors.New("transport closed")

	// ErrMalformedFrame: header too short, unknown control type, or
	// JSON parse failure. Logged and dropped; never fatal.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrStorageError: spill read/write failure. Marks the current
	// file failed; the batch continues.
	ErrStorageError = errors.New("storage error")

	// ErrProtocolTimeout: a rendezvous timed out. Resolves the
	// awaiter; the batch proceeds to cleanup with a logged warning.
	ErrProtocolTimeout = errors.New("protocol timeout")

	// ErrSignalingFailure: failure before the connection reaches
	// StateConnected.
	ErrSignalingFailure = errors.New("signaling failure")

	// ErrUnknownType: a control envelope carried a type this version
	// doesn't recognize. Non-fatal — enables forward compatibility.
	ErrUnknownType = errors.New("unknown control message type")

	// ErrUploadInProgress: SendBatch called while a batch is already
	// running on this sender Pipeline.
	ErrUploadInProgress = errors.New("upload already in progress")

	// ErrChannelsNotReady: SendBatch, Coordinator.SendFiles or
	// Coordinator.SendChat called before both logical channels are
	// open.
	ErrChannelsNotReady = errors.New("data channels not ready")

	// ErrFinishCalledTwice: ChunkStore.finish invoked more than once.
	// Per §4.2 this is a programmer error, not a recoverable one.
	ErrFinishCalledTwice = errors.New("chunk store finish called twice")
)
