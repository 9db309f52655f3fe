// Package proto defines the messages peers exchange, and their protobuf wire
// encoding.
package proto

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when bytes do not decode to the expected message.
var ErrMalformed = errors.New("malformed message")

// Message is implemented by every message in this package.
type Message interface {
	// MessageName is the name of the message, for logs and errors.
	MessageName() string
	appendTo(b []byte) []byte
	unmarshal(b []byte) error
}

// Request is a message addressed to one buffer of a shared project.
type Request interface {
	Message
	GetProjectID() uint64
	GetBufferID() uint64
}

// Marshal encodes m.
func Marshal(m Message) []byte {
	return m.appendTo(nil)
}

// Unmarshal decodes b into m. Unknown fields are skipped.
func Unmarshal(b []byte, m Message) error {
	if err := m.unmarshal(b); err != nil {
		return fmt.Errorf("%s: %w: %v", m.MessageName(), ErrMalformed, err)
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendOptString keeps the difference between an absent and an empty string.
func appendOptString(b []byte, num protowire.Number, s *string) []byte {
	if s == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *s)
}

func appendMessage(b []byte, num protowire.Number, m Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.appendTo(nil))
}

// fieldFunc consumes the value of one field from b and returns the number of
// bytes used. Returning 0 skips the field as unknown.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeFields(b []byte, f fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := f(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func wireTypeError(want, got protowire.Type) error {
	return fmt.Errorf("wire type %d, want %d", got, want)
}

func consumeUint64(typ protowire.Type, b []byte, v *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, wireTypeError(protowire.VarintType, typ)
	}
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = x
	return n, nil
}

func consumeUint32(typ protowire.Type, b []byte, v *uint32) (int, error) {
	var x uint64
	n, err := consumeUint64(typ, b, &x)
	if err != nil {
		return 0, err
	}
	if x > math.MaxUint32 {
		return 0, fmt.Errorf("value %d overflows uint32", x)
	}
	*v = uint32(x)
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, v *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, wireTypeError(protowire.BytesType, typ)
	}
	s, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = s
	return n, nil
}

func consumeOptString(typ protowire.Type, b []byte, v **string) (int, error) {
	var s string
	n, err := consumeString(typ, b, &s)
	if err != nil {
		return 0, err
	}
	*v = &s
	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte, m Message) (int, error) {
	if typ != protowire.BytesType {
		return 0, wireTypeError(protowire.BytesType, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if err := m.unmarshal(v); err != nil {
		return 0, fmt.Errorf("%s: %w", m.MessageName(), err)
	}
	return n, nil
}
