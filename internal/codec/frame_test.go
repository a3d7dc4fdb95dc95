package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello chunk")
	raw := EncodeFrame(7, payload)

	fileIndex, got, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(7), fileIndex)
	require.Equal(t, payload, got)
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	raw := EncodeFrame(0, nil)
	fileIndex, got, err := DecodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(0), fileIndex)
	require.Empty(t, got)
}

func TestDecodeFrameMalformed(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestFrameHeaderByteOrder(t *testing.T) {
	raw := EncodeFrame(0x01020304, []byte{0xAA})
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0xAA}, raw)
}
