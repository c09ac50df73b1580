// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// CodecConfig selects the Codec's compression, encryption, and checksum
// behavior. Encryption only installs hooks (Encryptor/Decryptor); no
// algorithm is implemented in this package.
type CodecConfig struct {
	Compression     CompressionType
	Encryption      EncryptionType
	ChecksumEnabled bool
	Encryptor       Encryptor
	Decryptor       Decryptor
	MaxFrameBytes   int
}

// Encryptor is the hook a caller installs to turn on ENCRYPTED frames.
// The codec never implements an algorithm itself.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Decryptor is the inverse hook of Encryptor.
type Decryptor interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Stats are monotonic counters, read-only to callers.
type Stats struct {
	MessagesEncoded  int64
	MessagesDecoded  int64
	BytesEncoded     int64
	BytesDecoded     int64
	Errors           int64
	AvgEncodeNanos   int64
	AvgDecodeNanos   int64
}

type codecStats struct {
	messagesEncoded atomic.Int64
	messagesDecoded atomic.Int64
	bytesEncoded    atomic.Int64
	bytesDecoded    atomic.Int64
	errors          atomic.Int64

	mu             sync.Mutex
	avgEncodeNanos float64
	avgDecodeNanos float64
}

func (s *codecStats) recordEncode(d time.Duration, n int) {
	s.messagesEncoded.Add(1)
	s.bytesEncoded.Add(int64(n))
	s.mu.Lock()
	s.avgEncodeNanos = ewma(s.avgEncodeNanos, float64(d.Nanoseconds()))
	s.mu.Unlock()
}

func (s *codecStats) recordDecode(d time.Duration, n int) {
	s.messagesDecoded.Add(1)
	s.bytesDecoded.Add(int64(n))
	s.mu.Lock()
	s.avgDecodeNanos = ewma(s.avgDecodeNanos, float64(d.Nanoseconds()))
	s.mu.Unlock()
}

func (s *codecStats) recordError() { s.errors.Add(1) }

func (s *codecStats) snapshot() Stats {
	s.mu.Lock()
	avgEnc := s.avgEncodeNanos
	avgDec := s.avgDecodeNanos
	s.mu.Unlock()
	return Stats{
		MessagesEncoded: s.messagesEncoded.Load(),
		MessagesDecoded: s.messagesDecoded.Load(),
		BytesEncoded:    s.bytesEncoded.Load(),
		BytesDecoded:    s.bytesDecoded.Load(),
		Errors:          s.errors.Load(),
		AvgEncodeNanos:  int64(avgEnc),
		AvgDecodeNanos:  int64(avgDec),
	}
}

// ewma computes an exponentially weighted moving average with a fixed
// smoothing factor, enough to report a representative "avg" without
// retaining every sample.
func ewma(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	const alpha = 0.2
	return alpha*sample + (1-alpha)*prev
}

// Codec encodes and decodes Packets on the length-prefixed wire format
// described in the external interface contract: u32 HL, HL header bytes,
// u32 PL, PL payload bytes, all big-endian.
type Codec struct {
	cfg   CodecConfig
	stats codecStats
}

// NewCodec builds a Codec with the given configuration, filling in
// reasonable defaults for zero-valued fields.
func NewCodec(cfg CodecConfig) *Codec {
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if cfg.Encryption == "" {
		cfg.Encryption = EncryptionNone
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	return &Codec{cfg: cfg}
}

// Stats returns a snapshot of the codec's monotonic counters.
func (c *Codec) Stats() Stats { return c.stats.snapshot() }

// Encode validates p, applies compression/encryption per configuration,
// computes a checksum when enabled, and serializes to the wire frame.
func (c *Codec) Encode(p *Packet) ([]byte, error) {
	start := time.Now()
	out, err := c.encode(p)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	c.stats.recordEncode(time.Since(start), len(out))
	return out, nil
}

func (c *Codec) encode(p *Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Header.Version == (Version{}) {
		p.Header.Version = Version{Major: 1, Minor: 0}
	}
	if p.Header.Version.Major != 1 || p.Header.Version.Minor != 0 {
		return nil, NewError(CodeInvalidVersion, fmt.Sprintf("unsupported version %d.%d", p.Header.Version.Major, p.Header.Version.Minor))
	}

	payloadBytes, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, NewError(CodeInvalidMessage, "payload is not serializable: "+err.Error())
	}

	header := p.Header
	header.Compression = c.cfg.Compression
	header.Encryption = c.cfg.Encryption

	if c.cfg.Compression != CompressionNone {
		payloadBytes, err = compress(c.cfg.Compression, payloadBytes)
		if err != nil {
			return nil, NewError(CodeInternalError, "compression failed: "+err.Error())
		}
		header.Flags = header.Flags.Set(FlagCompressed)
	}

	if c.cfg.Encryption != EncryptionNone {
		if c.cfg.Encryptor == nil {
			return nil, NewError(CodeInternalError, "encryption configured but no Encryptor installed")
		}
		payloadBytes, err = c.cfg.Encryptor.Encrypt(payloadBytes)
		if err != nil {
			return nil, NewError(CodeInternalError, "encryption failed: "+err.Error())
		}
		header.Flags = header.Flags.Set(FlagEncrypted)
	}

	if c.cfg.ChecksumEnabled {
		header.Flags = header.Flags.Set(FlagChecksum)
		header.Checksum = checksum(headerBytesForChecksum(header), payloadBytes)
	}

	headerBytes := []byte(encodeHeader(header))

	total := 4 + len(headerBytes) + 4 + len(payloadBytes)
	if total > c.cfg.MaxFrameBytes {
		return nil, NewError(CodeMessageTooLarge, fmt.Sprintf("frame of %d bytes exceeds limit %d", total, c.cfg.MaxFrameBytes))
	}

	buf := make([]byte, 0, total)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(headerBytes)))
	buf = append(buf, headerBytes...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payloadBytes)))
	buf = append(buf, payloadBytes...)
	return buf, nil
}

// Decode parses a wire frame back into a Packet, verifying length framing,
// version, and (if present) checksum before reversing encryption and
// compression.
func (c *Codec) Decode(frame []byte) (*Packet, error) {
	start := time.Now()
	p, err := c.decode(frame)
	if err != nil {
		c.stats.recordError()
		return nil, err
	}
	c.stats.recordDecode(time.Since(start), len(frame))
	return p, nil
}

func (c *Codec) decode(frame []byte) (*Packet, error) {
	if len(frame) < 8 {
		return nil, NewError(CodeInvalidFormat, "frame shorter than the minimum 8-byte envelope")
	}
	hl := binary.BigEndian.Uint32(frame[0:4])
	if uint64(4+hl+4) > uint64(len(frame)) {
		return nil, NewError(CodeInvalidFormat, "header length exceeds frame")
	}
	headerBytes := frame[4 : 4+hl]
	rest := frame[4+hl:]
	if len(rest) < 4 {
		return nil, NewError(CodeInvalidFormat, "frame truncated before payload length")
	}
	pl := binary.BigEndian.Uint32(rest[0:4])
	payloadStart := rest[4:]
	if uint64(4+hl+4+pl) != uint64(len(frame)) {
		return nil, NewError(CodeInvalidFormat, "declared lengths do not match frame size")
	}
	payloadBytes := payloadStart[:pl]

	header, err := decodeHeader(string(headerBytes))
	if err != nil {
		return nil, NewError(CodeInvalidFormat, "malformed header: "+err.Error())
	}

	if header.Version.Major != 1 || header.Version.Minor != 0 {
		return nil, NewError(CodeInvalidVersion, fmt.Sprintf("unsupported version %d.%d", header.Version.Major, header.Version.Minor))
	}

	if header.Flags.Has(FlagChecksum) {
		want := header.Checksum
		checkHeader := header
		checkHeader.Checksum = ""
		got := checksum(headerBytesForChecksum(checkHeader), payloadBytes)
		if !strings.EqualFold(want, got) {
			return nil, NewError(CodeChecksumMismatch, "payload checksum does not match header")
		}
	}

	plainPayload := payloadBytes
	if header.Flags.Has(FlagEncrypted) {
		if c.cfg.Decryptor == nil {
			return nil, NewError(CodeInternalError, "frame is encrypted but no Decryptor installed")
		}
		plainPayload, err = c.cfg.Decryptor.Decrypt(plainPayload)
		if err != nil {
			return nil, NewError(CodeInternalError, "decryption failed: "+err.Error())
		}
	}
	if header.Flags.Has(FlagCompressed) {
		plainPayload, err = decompress(header.Compression, plainPayload)
		if err != nil {
			return nil, NewError(CodeInternalError, "decompression failed: "+err.Error())
		}
	}

	var payload Payload
	if err := json.Unmarshal(plainPayload, &payload); err != nil {
		return nil, NewError(CodeInvalidMessage, "payload is not valid: "+err.Error())
	}

	p := &Packet{Header: header, Payload: payload}
	return p, nil
}

// encodeHeader serializes a Header as a semicolon-separated key:value list.
func encodeHeader(h Header) string {
	parts := []string{
		"id:" + h.ID,
		"type:" + string(h.Type),
		"ts:" + strconv.FormatInt(h.Timestamp, 10),
		"ver:" + fmt.Sprintf("%d.%d.%d", h.Version.Major, h.Version.Minor, h.Version.Patch),
	}
	if h.Priority != 0 {
		parts = append(parts, "pri:"+strconv.Itoa(h.Priority))
	}
	if h.TTL != 0 {
		parts = append(parts, "ttl:"+strconv.Itoa(h.TTL))
	}
	if h.Source != "" {
		parts = append(parts, "src:"+h.Source)
	}
	if h.Destination != "" {
		parts = append(parts, "dst:"+h.Destination)
	}
	if h.CorrelationID != "" {
		parts = append(parts, "cid:"+h.CorrelationID)
	}
	parts = append(parts, "flags:"+strconv.Itoa(int(h.Flags)))
	if h.Checksum != "" {
		parts = append(parts, "cs:"+h.Checksum)
	}
	parts = append(parts, "comp:"+string(h.Compression))
	parts = append(parts, "enc:"+string(h.Encryption))
	return strings.Join(parts, ";")
}

// headerBytesForChecksum renders the header with an empty checksum field,
// so the checksum computation does not depend on its own output.
func headerBytesForChecksum(h Header) []byte {
	h.Checksum = ""
	return []byte(encodeHeader(h))
}

func decodeHeader(raw string) (Header, error) {
	var h Header
	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return Header{}, fmt.Errorf("malformed key:value pair %q", pair)
		}
		key, val := kv[0], kv[1]
		switch key {
		case "id":
			h.ID = val
		case "type":
			h.Type = MessageType(val)
		case "ts":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Header{}, fmt.Errorf("invalid ts: %w", err)
			}
			h.Timestamp = ts
		case "ver":
			v, err := parseVersion(val)
			if err != nil {
				return Header{}, err
			}
			h.Version = v
		case "pri":
			pri, err := strconv.Atoi(val)
			if err != nil {
				return Header{}, fmt.Errorf("invalid pri: %w", err)
			}
			h.Priority = pri
		case "ttl":
			ttl, err := strconv.Atoi(val)
			if err != nil {
				return Header{}, fmt.Errorf("invalid ttl: %w", err)
			}
			h.TTL = ttl
		case "src":
			h.Source = val
		case "dst":
			h.Destination = val
		case "cid":
			h.CorrelationID = val
		case "flags":
			f, err := strconv.Atoi(val)
			if err != nil {
				return Header{}, fmt.Errorf("invalid flags: %w", err)
			}
			h.Flags = Flags(f)
		case "cs":
			h.Checksum = val
		case "comp":
			h.Compression = CompressionType(val)
		case "enc":
			h.Encryption = EncryptionType(val)
		}
	}
	if h.ID == "" {
		return Header{}, fmt.Errorf("missing id field")
	}
	return h, nil
}

func parseVersion(s string) (Version, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("invalid version major %q", s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("invalid version minor %q", s)
	}
	patch := 0
	if len(parts) == 3 {
		patch, _ = strconv.Atoi(parts[2])
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// checksum computes SHA-256 over header||payload, truncated to 16 hex chars.
func checksum(header, payload []byte) string {
	h := sha256.New()
	h.Write(header)
	h.Write(payload)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

func compress(kind CompressionType, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case CompressionGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionDeflate:
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CompressionBrotli:
		return nil, fmt.Errorf("brotli compression is not implemented")
	default:
		return data, nil
	}
	return buf.Bytes(), nil
}

func decompress(kind CompressionType, data []byte) ([]byte, error) {
	switch kind {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	case CompressionBrotli:
		return nil, fmt.Errorf("brotli decompression is not implemented")
	default:
		return data, nil
	}
}
