package codec

import (
	"encoding/json"
	"fmt"

	"github.com/beamdrop/engine/internal/model"
)

// Control envelope discriminants, per spec.md §4.1's table.
const (
	TypeOfferBatch    = "offer-batch"
	TypeAcceptBatch   = "accept-batch"
	TypeFileStart     = "file-start"
	TypeReadyForFile  = "ready-for-file"
	TypeFileEnd       = "file-end"
	TypeAckFile       = "ack-file"
	TypeProgressSync  = "progress-sync"
	// Supplemented, outside the core batch handshake (SPEC_FULL §
	// Supplemented Features): chat and capability negotiation ride the
	// same control channel and envelope shape.
	TypeChatMessage        = "message"
	TypeCapabilities       = "capabilities"
	TypeCapabilitiesAck    = "capabilities-ack"
)

// ProgressSyncPayload is the receiver-authoritative progress update
// sent back to the sender, per §4.1's table and §9's open question
// resolution (receiver-authoritative once the first one arrives).
type ProgressSyncPayload struct {
	TransferredBytes uint64 `json:"transferredBytes"`
	Speed            string `json:"speed"`
	ETA              string `json:"eta"`
	CompletedFiles   uint32 `json:"completedFiles"`
	TotalFiles       uint32 `json:"totalFiles"`
}

// Envelope is the single flat wire struct carrying every control
// message type, mirroring the teacher's Message/SignalingMessage shape
// in cli/types.go and cli/webrtc/signaling.go: one discriminant field
// plus omitempty payload fields, rather than one struct type per
// message.
type Envelope struct {
	Type string `json:"type"`

	Batch *model.BatchMeta `json:"batch,omitempty"`
	File  *model.FileMeta  `json:"file,omitempty"`

	FileIndex *uint32 `json:"fileIndex,omitempty"`

	Progress *ProgressSyncPayload `json:"progress,omitempty"`

	// Chat / capability negotiation payloads (supplemented features).
	Content             string `json:"content,omitempty"`
	MaxChunkSize        int    `json:"maxChunkSize,omitempty"`
	NegotiatedChunkSize int    `json:"negotiatedChunkSize,omitempty"`
}

// Encode marshals an envelope to the text payload sent on the control
// channel.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("codec: encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses a received control payload. Unknown types are not an
// error here — Decode always succeeds on well-formed JSON; it is the
// caller's dispatch switch that treats an unrecognized Type as
// non-fatal per §4.1 ("The Codec MUST tolerate unknown type values").
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", model.ErrMalformedFrame, err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type field", model.ErrMalformedFrame)
	}
	return e, nil
}

// KnownType reports whether t is one of the discriminants this codec
// version understands. Dispatchers use this to decide whether to log
// an unknown-type message as informational rather than as an error.
func KnownType(t string) bool {
	switch t {
	case TypeOfferBatch, TypeAcceptBatch, TypeFileStart, TypeReadyForFile,
		TypeFileEnd, TypeAckFile, TypeProgressSync,
		TypeChatMessage, TypeCapabilities, TypeCapabilitiesAck:
		return true
	default:
		return false
	}
}
