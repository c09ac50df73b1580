// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package wire

import "encoding/json"

// MessageType is the outer kind of a Packet, carried in the header's "type" field.
type MessageType string

const (
	MessageTypePing  MessageType = "PING"
	MessageTypePong  MessageType = "PONG"
	MessageTypeEvent MessageType = "EVENT"
	MessageTypeJSON  MessageType = "JSON"
)

// Flags is the header bitfield. Bits not in this set are preserved through
// round-trips but have no defined meaning.
type Flags uint8

const (
	FlagCompressed Flags = 1 << 0
	FlagEncrypted  Flags = 1 << 1
	FlagChecksum   Flags = 1 << 2
	FlagUrgent     Flags = 1 << 3
	FlagNoAck      Flags = 1 << 4
	FlagBroadcast  Flags = 1 << 5
	FlagRetry      Flags = 1 << 6
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
func (f Flags) Set(bit Flags) Flags { return f | bit }
func (f Flags) Clear(bit Flags) Flags { return f &^ bit }

// CompressionType names the payload compression applied before encryption.
type CompressionType string

const (
	CompressionNone    CompressionType = "none"
	CompressionGzip    CompressionType = "gzip"
	CompressionDeflate CompressionType = "deflate"
	CompressionBrotli  CompressionType = "br"
)

// EncryptionType names the payload encryption applied after compression.
// Only hooks are provided here; see Encryptor/Decryptor in codec.go.
type EncryptionType string

const (
	EncryptionNone   EncryptionType = "none"
	EncryptionAES128 EncryptionType = "aes128"
	EncryptionAES256 EncryptionType = "aes256"
)

// Version is the packet's protocol version. Only {1,0,*} is accepted by v1
// of the decoder.
type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Patch int    `json:"patch"`
	Pre   string `json:"pre,omitempty"`
}

// Header carries Packet framing metadata. Field names match the wire's
// semicolon-separated key:value encoding via the tag below.
type Header struct {
	ID            string          `wire:"id"`
	Type          MessageType     `wire:"type"`
	Timestamp     int64           `wire:"ts"`
	Version       Version         `wire:"ver"`
	Priority      int             `wire:"pri"`
	TTL           int             `wire:"ttl"`
	Source        string          `wire:"src"`
	Destination   string          `wire:"dst"`
	CorrelationID string          `wire:"cid"`
	Flags         Flags           `wire:"flags"`
	Checksum      string          `wire:"cs"`
	Compression   CompressionType `wire:"comp"`
	Encryption    EncryptionType  `wire:"enc"`
}

// ControlAction enumerates the JSON control envelope's action field.
type ControlAction string

const (
	ActionSubscribe   ControlAction = "subscribe"
	ActionUnsubscribe ControlAction = "unsubscribe"
	ActionPublish     ControlAction = "publish"
	ActionPresence    ControlAction = "presence"
	ActionAuth        ControlAction = "auth"
)

// ControlPayload is the JSON message type's body: a control envelope.
type ControlPayload struct {
	Action      ControlAction   `json:"action"`
	Channel     string          `json:"channel,omitempty"`
	FromHistory int             `json:"fromHistory,omitempty"`
	Exclude     []string        `json:"exclude,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// EventPayload is an EVENT message's body: one fan-out item.
type EventPayload struct {
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Body    json.RawMessage `json:"body"`
	Seq     uint64          `json:"seq,omitempty"`
}

// HeartbeatPayload is a PING/PONG message's body.
type HeartbeatPayload struct {
	OriginalTimestamp int64 `json:"originalTimestamp,omitempty"`
}

// Payload is a tagged variant, never a free-form `any`. Exactly one of
// Control, Event, Heartbeat should be set, matching Header.Type.
type Payload struct {
	Control   *ControlPayload   `json:"control,omitempty"`
	Event     *EventPayload     `json:"event,omitempty"`
	Heartbeat *HeartbeatPayload `json:"heartbeat,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     *Error            `json:"error,omitempty"`
}

// wireErrorJSON mirrors Error for JSON (de)serialization, since Error
// itself is not a plain data struct (it implements error).
type wireErrorJSON struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int64 `json:"retryAfterMs,omitempty"`
}

// MarshalJSON implements json.Marshaler for Error.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := wireErrorJSON{Code: e.Code, Message: e.Message}
	if e.RetryAfter != nil {
		ms := e.RetryAfter.Milliseconds()
		j.RetryAfter = &ms
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler for Error.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j wireErrorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.Code = j.Code
	e.Message = j.Message
	if j.RetryAfter != nil {
		d := msToDuration(*j.RetryAfter)
		e.RetryAfter = &d
	}
	return nil
}

// Packet is the value type exchanged between Codec and callers.
type Packet struct {
	Header  Header
	Payload Payload
}

// Frame is an encoded Packet ready to write to, or just read from, a
// connection's outbound queue.
type Frame = []byte

// Validate reports the first structural problem found, or nil. It does not
// check the wire version; Codec.Decode does that separately so the error
// code can be CodeInvalidVersion rather than CodeInvalidMessage.
func (p *Packet) Validate() error {
	if p.Header.ID == "" {
		return NewError(CodeInvalidMessage, "header.id is required")
	}
	switch p.Header.Type {
	case MessageTypePing, MessageTypePong, MessageTypeEvent, MessageTypeJSON:
	default:
		return NewError(CodeInvalidMessage, "header.type is not a recognized message type")
	}
	if p.Header.Timestamp == 0 {
		return NewError(CodeInvalidMessage, "header.ts is required")
	}
	switch p.Header.Type {
	case MessageTypeJSON:
		if p.Payload.Control == nil {
			return NewError(CodeInvalidMessage, "JSON message requires a control payload")
		}
	case MessageTypeEvent:
		if p.Payload.Event == nil {
			return NewError(CodeInvalidMessage, "EVENT message requires an event payload")
		}
	}
	return nil
}
