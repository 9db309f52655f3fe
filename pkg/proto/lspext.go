package proto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Bias is the wire form of an anchor bias.
type Bias int32

const (
	BiasLeft  Bias = 0
	BiasRight Bias = 1

	// biasMalformed marks an anchor whose bytes could not be decoded.
	biasMalformed Bias = -1
)

// Anchor is the wire form of a position that survives edits.
type Anchor struct {
	ReplicaID uint32
	Timestamp uint32
	Offset    uint64
	Bias      Bias
	BufferID  uint64
}

func (*Anchor) MessageName() string { return "Anchor" }

func (m *Anchor) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ReplicaID))
	b = appendVarint(b, 2, uint64(m.Timestamp))
	b = appendVarint(b, 3, m.Offset)
	b = appendVarint(b, 4, uint64(uint32(m.Bias)))
	b = appendVarint(b, 5, m.BufferID)
	return b
}

func (m *Anchor) unmarshal(b []byte) error {
	*m = Anchor{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.ReplicaID)
		case 2:
			return consumeUint32(typ, b, &m.Timestamp)
		case 3:
			return consumeUint64(typ, b, &m.Offset)
		case 4:
			var v uint32
			n, err := consumeUint32(typ, b, &v)
			m.Bias = Bias(int32(v))
			return n, err
		case 5:
			return consumeUint64(typ, b, &m.BufferID)
		}
		return 0, nil
	})
}

// positionRequest is the shape shared by requests about a position in a
// buffer.
type positionRequest struct {
	ProjectID uint64
	BufferID  uint64
	Position  *Anchor
}

func (m *positionRequest) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, m.ProjectID)
	b = appendVarint(b, 2, m.BufferID)
	if m.Position != nil {
		b = appendMessage(b, 3, m.Position)
	}
	return b
}

func (m *positionRequest) unmarshal(b []byte) error {
	*m = positionRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint64(typ, b, &m.ProjectID)
		case 2:
			return consumeUint64(typ, b, &m.BufferID)
		case 3:
			if typ != protowire.BytesType {
				return 0, wireTypeError(protowire.BytesType, typ)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Position = &Anchor{}
			if err := m.Position.unmarshal(v); err != nil {
				// The request is still readable, the position is not.
				m.Position = &Anchor{Bias: biasMalformed}
			}
			return n, nil
		}
		return 0, nil
	})
}

// LspExtExpandMacro asks the project host to expand the macro at Position.
type LspExtExpandMacro struct {
	ProjectID uint64
	BufferID  uint64
	Position  *Anchor
}

func (*LspExtExpandMacro) MessageName() string { return "LspExtExpandMacro" }
func (m *LspExtExpandMacro) GetProjectID() uint64 { return m.ProjectID }
func (m *LspExtExpandMacro) GetBufferID() uint64 { return m.BufferID }

func (m *LspExtExpandMacro) appendTo(b []byte) []byte {
	return (*positionRequest)(m).appendTo(b)
}

func (m *LspExtExpandMacro) unmarshal(b []byte) error {
	return (*positionRequest)(m).unmarshal(b)
}

// LspExtExpandMacroResponse carries a macro expansion. Both fields are empty
// if there was nothing to expand.
type LspExtExpandMacroResponse struct {
	Name      string
	Expansion string
}

func (*LspExtExpandMacroResponse) MessageName() string { return "LspExtExpandMacroResponse" }

func (m *LspExtExpandMacroResponse) appendTo(b []byte) []byte {
	b = appendString(b, 1, m.Name)
	b = appendString(b, 2, m.Expansion)
	return b
}

func (m *LspExtExpandMacroResponse) unmarshal(b []byte) error {
	*m = LspExtExpandMacroResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.Name)
		case 2:
			return consumeString(typ, b, &m.Expansion)
		}
		return 0, nil
	})
}

// LspExtOpenDocs asks the project host for documentation links of the symbol
// at Position.
type LspExtOpenDocs struct {
	ProjectID uint64
	BufferID  uint64
	Position  *Anchor
}

func (*LspExtOpenDocs) MessageName() string { return "LspExtOpenDocs" }
func (m *LspExtOpenDocs) GetProjectID() uint64 { return m.ProjectID }
func (m *LspExtOpenDocs) GetBufferID() uint64 { return m.BufferID }

func (m *LspExtOpenDocs) appendTo(b []byte) []byte {
	return (*positionRequest)(m).appendTo(b)
}

func (m *LspExtOpenDocs) unmarshal(b []byte) error {
	return (*positionRequest)(m).unmarshal(b)
}

// LspExtOpenDocsResponse carries documentation links. Absent links are nil.
type LspExtOpenDocsResponse struct {
	Web   *string
	Local *string
}

func (*LspExtOpenDocsResponse) MessageName() string { return "LspExtOpenDocsResponse" }

func (m *LspExtOpenDocsResponse) appendTo(b []byte) []byte {
	b = appendOptString(b, 1, m.Web)
	b = appendOptString(b, 2, m.Local)
	return b
}

func (m *LspExtOpenDocsResponse) unmarshal(b []byte) error {
	*m = LspExtOpenDocsResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeOptString(typ, b, &m.Web)
		case 2:
			return consumeOptString(typ, b, &m.Local)
		}
		return 0, nil
	})
}

// LspExtSwitchSourceHeader asks the project host for the file paired with a
// buffer, such as the header of a source file.
type LspExtSwitchSourceHeader struct {
	ProjectID uint64
	BufferID  uint64
}

func (*LspExtSwitchSourceHeader) MessageName() string { return "LspExtSwitchSourceHeader" }
func (m *LspExtSwitchSourceHeader) GetProjectID() uint64 { return m.ProjectID }
func (m *LspExtSwitchSourceHeader) GetBufferID() uint64 { return m.BufferID }

func (m *LspExtSwitchSourceHeader) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, m.ProjectID)
	b = appendVarint(b, 2, m.BufferID)
	return b
}

func (m *LspExtSwitchSourceHeader) unmarshal(b []byte) error {
	*m = LspExtSwitchSourceHeader{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint64(typ, b, &m.ProjectID)
		case 2:
			return consumeUint64(typ, b, &m.BufferID)
		}
		return 0, nil
	})
}

// LspExtSwitchSourceHeaderResponse names the paired file. Empty if there is
// none.
type LspExtSwitchSourceHeaderResponse struct {
	TargetFile string
}

func (*LspExtSwitchSourceHeaderResponse) MessageName() string {
	return "LspExtSwitchSourceHeaderResponse"
}

func (m *LspExtSwitchSourceHeaderResponse) appendTo(b []byte) []byte {
	return appendString(b, 1, m.TargetFile)
}

func (m *LspExtSwitchSourceHeaderResponse) unmarshal(b []byte) error {
	*m = LspExtSwitchSourceHeaderResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeString(typ, b, &m.TargetFile)
		}
		return 0, nil
	})
}
