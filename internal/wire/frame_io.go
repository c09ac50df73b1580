// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"encoding/binary"
	"io"
)

// ReadFrame reads one length-prefixed frame from r, following the same
// u32-HL/header/u32-PL/payload envelope Codec.Decode parses. It returns
// NewError(CodeMessageTooLarge, ...) without consuming the payload bytes if
// the declared lengths would exceed maxFrameBytes, so a misbehaving peer
// cannot force unbounded buffering.
func ReadFrame(r io.Reader, maxFrameBytes int) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	hl := binary.BigEndian.Uint32(lenBuf[:])
	if maxFrameBytes > 0 && int(hl) > maxFrameBytes {
		return nil, NewError(CodeMessageTooLarge, "header length exceeds configured maximum")
	}
	headerBytes := make([]byte, hl)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, err
	}

	var plBuf [4]byte
	if _, err := io.ReadFull(r, plBuf[:]); err != nil {
		return nil, err
	}
	pl := binary.BigEndian.Uint32(plBuf[:])
	total := 4 + int(hl) + 4 + int(pl)
	if maxFrameBytes > 0 && total > maxFrameBytes {
		return nil, NewError(CodeMessageTooLarge, "frame exceeds configured maximum")
	}
	payloadBytes := make([]byte, pl)
	if _, err := io.ReadFull(r, payloadBytes); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, total)
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, headerBytes...)
	frame = append(frame, plBuf[:]...)
	frame = append(frame, payloadBytes...)
	return frame, nil
}

// WriteFrame writes a single already-encoded frame to w in one call.
func WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}
