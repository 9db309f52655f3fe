package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrorCode classifies an Error.
type ErrorCode uint32

const (
	ErrorInternal ErrorCode = iota
	ErrorMissingData
	ErrorInvalidPosition
	ErrorInvalidPath
	ErrorNoSuchProject
	ErrorNoSuchBuffer
	ErrorUnsupported
)

var errorCodeNames = map[ErrorCode]string{
	ErrorInternal:        "Internal",
	ErrorMissingData:     "MissingData",
	ErrorInvalidPosition: "InvalidPosition",
	ErrorInvalidPath:     "InvalidPath",
	ErrorNoSuchProject:   "NoSuchProject",
	ErrorNoSuchBuffer:    "NoSuchBuffer",
	ErrorUnsupported:     "Unsupported",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", uint32(c))
}

// Error is the response to a request that failed.
type Error struct {
	Code    ErrorCode
	Message string
}

func (*Error) MessageName() string { return "Error" }

func (m *Error) Error() string {
	return fmt.Sprintf("%v: %s", m.Code, m.Message)
}

func (m *Error) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Code))
	return appendString(b, 2, m.Message)
}

func (m *Error) unmarshal(b []byte) error {
	*m = Error{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var v uint32
			n, err := consumeUint32(typ, b, &v)
			m.Code = ErrorCode(v)
			return n, err
		case 2:
			return consumeString(typ, b, &m.Message)
		}
		return 0, nil
	})
}

// Envelope frames every message sent between peers. A response carries the
// ID of its request in RespondingTo.
type Envelope struct {
	ID           uint32
	RespondingTo uint32
	Payload      Message
}

func (*Envelope) MessageName() string { return "Envelope" }

// payloadField returns the field number that carries m in an envelope.
func payloadField(m Message) (protowire.Number, bool) {
	switch m.(type) {
	case *Error:
		return 10, true
	case *JoinProject:
		return 11, true
	case *JoinProjectResponse:
		return 12, true
	case *UpdateBuffer:
		return 13, true
	case *Ack:
		return 14, true
	case *LspExtExpandMacro:
		return 20, true
	case *LspExtExpandMacroResponse:
		return 21, true
	case *LspExtOpenDocs:
		return 22, true
	case *LspExtOpenDocsResponse:
		return 23, true
	case *LspExtSwitchSourceHeader:
		return 24, true
	case *LspExtSwitchSourceHeaderResponse:
		return 25, true
	}
	return 0, false
}

func newPayload(num protowire.Number) Message {
	switch num {
	case 10:
		return &Error{}
	case 11:
		return &JoinProject{}
	case 12:
		return &JoinProjectResponse{}
	case 13:
		return &UpdateBuffer{}
	case 14:
		return &Ack{}
	case 20:
		return &LspExtExpandMacro{}
	case 21:
		return &LspExtExpandMacroResponse{}
	case 22:
		return &LspExtOpenDocs{}
	case 23:
		return &LspExtOpenDocsResponse{}
	case 24:
		return &LspExtSwitchSourceHeader{}
	case 25:
		return &LspExtSwitchSourceHeaderResponse{}
	}
	return nil
}

func (m *Envelope) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ID))
	b = appendVarint(b, 2, uint64(m.RespondingTo))
	if m.Payload != nil {
		if num, ok := payloadField(m.Payload); ok {
			b = appendMessage(b, num, m.Payload)
		}
	}
	return b
}

func (m *Envelope) unmarshal(b []byte) error {
	*m = Envelope{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.ID)
		case 2:
			return consumeUint32(typ, b, &m.RespondingTo)
		}
		p := newPayload(num)
		if p == nil {
			return 0, nil
		}
		m.Payload = p
		return consumeMessage(typ, b, p)
	})
}

// MarshalEnvelope encodes e. Fails if the payload can not travel in an
// envelope.
func MarshalEnvelope(e *Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("envelope %d: no payload", e.ID)
	}
	if _, ok := payloadField(e.Payload); !ok {
		return nil, fmt.Errorf("envelope %d: can not carry %s", e.ID, e.Payload.MessageName())
	}
	return Marshal(e), nil
}

// UnmarshalEnvelope decodes an envelope. An envelope without a known payload
// is malformed.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := Unmarshal(b, e); err != nil {
		return nil, err
	}
	if e.Payload == nil {
		return nil, fmt.Errorf("%s %d: %w: no known payload", e.MessageName(), e.ID, ErrMalformed)
	}
	return e, nil
}
