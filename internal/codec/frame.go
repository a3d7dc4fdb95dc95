// Package codec implements the data-channel wire format of §4.1: a
// binary frame family (Layout A: a big-endian u32 file index followed
// by the chunk payload) and a JSON control envelope family sharing the
// same data channel. The teacher's ad hoc [sequence][length] framing
// in cli/transfer/chunks.go inspired the header shape; Layout A drops
// the length field because a WebRTC data channel message is already
// one discrete datagram, so the payload length is implicit in the
// transport's message boundary.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/beamdrop/engine/internal/model"
)

// EncodeFrame builds a Layout A binary frame: HeaderSize bytes of
// big-endian file index, followed by the payload. The caller owns
// payload's backing array; EncodeFrame copies nothing it doesn't have
// to.
func EncodeFrame(fileIndex uint32, payload []byte) []byte {
	out := make([]byte, model.HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[:model.HeaderSize], fileIndex)
	copy(out[model.HeaderSize:], payload)
	return out
}

// DecodeFrame splits a received datagram into its file index and
// payload. A frame shorter than HeaderSize is malformed and must be
// dropped by the caller without aborting the session (§4.1).
func DecodeFrame(raw []byte) (fileIndex uint32, payload []byte, err error) {
	if len(raw) < model.HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes, want at least %d", model.ErrMalformedFrame, len(raw), model.HeaderSize)
	}
	fileIndex = binary.BigEndian.Uint32(raw[:model.HeaderSize])
	payload = raw[model.HeaderSize:]
	return fileIndex, payload, nil
}
