package codec

import (
	"testing"

	"github.com/beamdrop/engine/internal/model"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripOfferBatch(t *testing.T) {
	in := Envelope{
		Type:  TypeOfferBatch,
		Batch: &model.BatchMeta{TotalFiles: 3, TotalSize: 1024},
	}

	raw, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, *in.Batch, *out.Batch)
}

func TestEnvelopeRoundTripFileStart(t *testing.T) {
	in := Envelope{
		Type: TypeFileStart,
		File: &model.FileMeta{Name: "a.bin", Size: 512, Mime: "application/octet-stream", TotalChunks: 1, FileIndex: 0},
	}

	raw, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, *in.File, *out.File)
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	out, err := Decode([]byte(`{"type":"some-future-extension","content":"x"}`))
	require.NoError(t, err)
	require.False(t, KnownType(out.Type))
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"content":"x"}`))
	require.Error(t, err)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
}
