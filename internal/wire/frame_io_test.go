// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFrameRoundTrip(t *testing.T) {
	c := NewCodec(CodecConfig{ChecksumEnabled: true})
	p := samplePacket()
	encoded, err := c.Encode(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, encoded))

	got, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, encoded, got)

	decoded, err := c.Decode(got)
	require.NoError(t, err)
	require.Equal(t, p.Header.ID, decoded.Header.ID)
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	c := NewCodec(CodecConfig{})
	p := samplePacket()
	encoded, err := c.Encode(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, encoded))

	_, err = ReadFrame(&buf, 4)
	require.Error(t, err)
}

func TestReadFrameReturnsErrOnTruncatedInput(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), 0)
	require.Error(t, err)
}
