package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	// ErrMalformed is returned when inbound bytes are not a chat message object.
	ErrMalformed = errors.New("chat: malformed message")
	// ErrTooLarge is returned when inbound bytes exceed the configured wire size.
	ErrTooLarge = errors.New("chat: message exceeds maximum wire size")
	// ErrSenderTooLong is returned when the sender name exceeds the configured length.
	ErrSenderTooLong = errors.New("chat: sender name too long")
)

// DefaultMaxSenderLength matches the nickname input limit of the client page.
const DefaultMaxSenderLength = 35

// Codec converts between Message values and their JSON wire form and enforces
// the size bounds on inbound data. The zero value applies no bounds.
type Codec struct {
	// MaxWireSize is the largest accepted inbound message in bytes; 0 disables the check.
	MaxWireSize int
	// MaxSenderLength is the largest accepted sender name in runes; 0 disables the check.
	MaxSenderLength int
}

// NewCodec returns a Codec enforcing the given limits.
func NewCodec(maxWireSize, maxSenderLength int) Codec {
	return Codec{MaxWireSize: maxWireSize, MaxSenderLength: maxSenderLength}
}

// Encode returns the compact JSON object for m. HTML characters are written
// as-is, the way browsers serialize them.
func (c Codec) Encode(m Message) ([]byte, error) {
	data, err := marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// CheckSize reports ErrTooLarge when the encoded form of m exceeds the wire size.
func (c Codec) CheckSize(m Message) error {
	if c.MaxWireSize <= 0 {
		return nil
	}
	data, err := c.Encode(m)
	if err != nil {
		return err
	}
	if len(data) > c.MaxWireSize {
		return fmt.Errorf("%w: encoded %d > %d bytes", ErrTooLarge, len(data), c.MaxWireSize)
	}
	return nil
}

// EncodeBatch returns a JSON array holding every message in order. A nil or
// empty slice encodes as an empty array.
func (c Codec) EncodeBatch(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// Decode parses a single inbound message. The payload must be a JSON object
// with exactly the string fields date, name and text. The size bound is
// checked first, so an oversize payload is ErrTooLarge even when it is not JSON.
func (c Codec) Decode(raw []byte) (Message, error) {
	if c.MaxWireSize > 0 && len(raw) > c.MaxWireSize {
		return Message{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(raw), c.MaxWireSize)
	}
	if !gjson.ValidBytes(raw) {
		return Message{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Message{}, fmt.Errorf("%w: expected object", ErrMalformed)
	}

	var (
		msg  Message
		seen = make(map[string]bool, 3)
		bad  error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if seen[name] {
			bad = fmt.Errorf("%w: duplicate field %q", ErrMalformed, name)
			return false
		}
		if value.Type != gjson.String {
			bad = fmt.Errorf("%w: field %q is not a string", ErrMalformed, name)
			return false
		}
		switch name {
		case "date":
			msg.Date = value.String()
		case "name":
			msg.Name = value.String()
		case "text":
			msg.Text = value.String()
		default:
			bad = fmt.Errorf("%w: unexpected field %q", ErrMalformed, name)
			return false
		}
		seen[name] = true
		return true
	})
	if bad != nil {
		return Message{}, bad
	}
	if len(seen) != 3 {
		return Message{}, fmt.Errorf("%w: missing fields", ErrMalformed)
	}

	if c.MaxSenderLength > 0 && utf8.RuneCountInString(msg.Name) > c.MaxSenderLength {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrSenderTooLong, utf8.RuneCountInString(msg.Name), c.MaxSenderLength)
	}
	return msg, nil
}

// DecodeBatch parses a JSON array of messages. Size limits are not applied;
// it is meant for reading back data this package produced.
func (c Codec) DecodeBatch(raw []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msgs, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
