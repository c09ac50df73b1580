// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket() *Packet {
	return &Packet{
		Header: Header{
			ID:        "pkt-1",
			Type:      MessageTypeEvent,
			Timestamp: time.Now().UnixMilli(),
			Version:   Version{Major: 1, Minor: 0},
		},
		Payload: Payload{
			Event: &EventPayload{
				Channel: "room-1",
				Name:    "message",
				Body:    json.RawMessage(`{"text":"hello"}`),
			},
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec(CodecConfig{ChecksumEnabled: true})
	p := samplePacket()

	frame, err := c.Encode(p)
	require.NoError(t, err)

	got, err := c.Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, p.Header.ID, got.Header.ID)
	assert.Equal(t, p.Header.Type, got.Header.Type)
	assert.Equal(t, p.Payload.Event.Channel, got.Payload.Event.Channel)
	assert.Equal(t, p.Payload.Event.Name, got.Payload.Event.Name)
	assert.True(t, got.Header.Flags.Has(FlagChecksum))
}

func TestCodecRoundTripWithGzip(t *testing.T) {
	c := NewCodec(CodecConfig{Compression: CompressionGzip, ChecksumEnabled: true})
	p := samplePacket()

	frame, err := c.Encode(p)
	require.NoError(t, err)

	got, err := c.Decode(frame)
	require.NoError(t, err)
	assert.True(t, got.Header.Flags.Has(FlagCompressed))
	assert.Equal(t, p.Payload.Event.Name, got.Payload.Event.Name)
}

func TestCodecRejectsTamperedPayload(t *testing.T) {
	c := NewCodec(CodecConfig{ChecksumEnabled: true})
	p := samplePacket()

	frame, err := c.Encode(p)
	require.NoError(t, err)

	// Flip a byte inside the payload region.
	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = c.Decode(tampered)
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, CodeChecksumMismatch, werr.Code)
}

func TestCodecRejectsUnsupportedVersion(t *testing.T) {
	c := NewCodec(CodecConfig{})
	p := samplePacket()
	p.Header.Version = Version{Major: 2, Minor: 0}

	_, err := c.Encode(p)
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, CodeInvalidVersion, werr.Code)
}

func TestCodecRejectsMalformedFrame(t *testing.T) {
	c := NewCodec(CodecConfig{})
	_, err := c.Decode([]byte{0, 0, 0, 99, 1, 2, 3})
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, CodeInvalidFormat, werr.Code)
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	c := NewCodec(CodecConfig{MaxFrameBytes: 16})
	p := samplePacket()
	_, err := c.Encode(p)
	require.Error(t, err)
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, CodeMessageTooLarge, werr.Code)
}

func TestCodecStatsAccumulate(t *testing.T) {
	c := NewCodec(CodecConfig{})
	p := samplePacket()
	for i := 0; i < 3; i++ {
		frame, err := c.Encode(p)
		require.NoError(t, err)
		_, err = c.Decode(frame)
		require.NoError(t, err)
	}
	stats := c.Stats()
	assert.EqualValues(t, 3, stats.MessagesEncoded)
	assert.EqualValues(t, 3, stats.MessagesDecoded)
	assert.Zero(t, stats.Errors)
}

func TestHeaderRoundTripsAllFields(t *testing.T) {
	h := Header{
		ID:            "id-1",
		Type:          MessageTypeJSON,
		Timestamp:     12345,
		Version:       Version{Major: 1, Minor: 0, Patch: 2},
		Priority:      5,
		TTL:           60,
		Source:        "node-a",
		Destination:   "node-b",
		CorrelationID: "corr-1",
		Flags:         FlagUrgent,
		Compression:   CompressionNone,
		Encryption:    EncryptionNone,
	}
	encoded := encodeHeader(h)
	decoded, err := decodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}
