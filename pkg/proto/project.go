package proto

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Operation is the wire form of one buffer edit. Exactly one field is set.
type Operation struct {
	Insert *InsertOperation
	Delete *DeleteOperation
}

func (*Operation) MessageName() string { return "Operation" }

func (m *Operation) appendTo(b []byte) []byte {
	if m.Insert != nil {
		b = appendMessage(b, 1, m.Insert)
	}
	if m.Delete != nil {
		b = appendMessage(b, 2, m.Delete)
	}
	return b
}

func (m *Operation) unmarshal(b []byte) error {
	*m = Operation{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			m.Insert = &InsertOperation{}
			return consumeMessage(typ, b, m.Insert)
		case 2:
			m.Delete = &DeleteOperation{}
			return consumeMessage(typ, b, m.Delete)
		}
		return 0, nil
	})
}

// InsertOperation inserts Text after byte AfterOffset-1 of the insertion
// made at (AfterReplicaID, AfterLamport).
type InsertOperation struct {
	ReplicaID      uint32
	Lamport        uint32
	AfterReplicaID uint32
	AfterLamport   uint32
	AfterOffset    uint64
	Text           string
}

func (*InsertOperation) MessageName() string { return "InsertOperation" }

func (m *InsertOperation) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ReplicaID))
	b = appendVarint(b, 2, uint64(m.Lamport))
	b = appendVarint(b, 3, uint64(m.AfterReplicaID))
	b = appendVarint(b, 4, uint64(m.AfterLamport))
	b = appendVarint(b, 5, m.AfterOffset)
	b = appendString(b, 6, m.Text)
	return b
}

func (m *InsertOperation) unmarshal(b []byte) error {
	*m = InsertOperation{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.ReplicaID)
		case 2:
			return consumeUint32(typ, b, &m.Lamport)
		case 3:
			return consumeUint32(typ, b, &m.AfterReplicaID)
		case 4:
			return consumeUint32(typ, b, &m.AfterLamport)
		case 5:
			return consumeUint64(typ, b, &m.AfterOffset)
		case 6:
			return consumeString(typ, b, &m.Text)
		}
		return 0, nil
	})
}

// DeleteOperation hides ranges of earlier insertions.
type DeleteOperation struct {
	ReplicaID uint32
	Lamport   uint32
	Ranges    []*DeleteRange
}

func (*DeleteOperation) MessageName() string { return "DeleteOperation" }

func (m *DeleteOperation) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ReplicaID))
	b = appendVarint(b, 2, uint64(m.Lamport))
	for _, r := range m.Ranges {
		b = appendMessage(b, 3, r)
	}
	return b
}

func (m *DeleteOperation) unmarshal(b []byte) error {
	*m = DeleteOperation{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.ReplicaID)
		case 2:
			return consumeUint32(typ, b, &m.Lamport)
		case 3:
			r := &DeleteRange{}
			n, err := consumeMessage(typ, b, r)
			if err == nil {
				m.Ranges = append(m.Ranges, r)
			}
			return n, err
		}
		return 0, nil
	})
}

// DeleteRange names bytes [Start, End) of the insertion made at
// (ReplicaID, Lamport).
type DeleteRange struct {
	ReplicaID uint32
	Lamport   uint32
	Start     uint64
	End       uint64
}

func (*DeleteRange) MessageName() string { return "DeleteRange" }

func (m *DeleteRange) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.ReplicaID))
	b = appendVarint(b, 2, uint64(m.Lamport))
	b = appendVarint(b, 3, m.Start)
	b = appendVarint(b, 4, m.End)
	return b
}

func (m *DeleteRange) unmarshal(b []byte) error {
	*m = DeleteRange{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint32(typ, b, &m.ReplicaID)
		case 2:
			return consumeUint32(typ, b, &m.Lamport)
		case 3:
			return consumeUint64(typ, b, &m.Start)
		case 4:
			return consumeUint64(typ, b, &m.End)
		}
		return 0, nil
	})
}

func appendOperations(b []byte, num protowire.Number, ops []*Operation) []byte {
	for _, op := range ops {
		b = appendMessage(b, num, op)
	}
	return b
}

func consumeOperation(typ protowire.Type, b []byte, ops *[]*Operation) (int, error) {
	op := &Operation{}
	n, err := consumeMessage(typ, b, op)
	if err == nil {
		*ops = append(*ops, op)
	}
	return n, err
}

// JoinProject asks the host to share a project with the sender.
type JoinProject struct {
	ProjectID uint64
}

func (*JoinProject) MessageName() string { return "JoinProject" }

func (m *JoinProject) appendTo(b []byte) []byte {
	return appendVarint(b, 1, m.ProjectID)
}

func (m *JoinProject) unmarshal(b []byte) error {
	*m = JoinProject{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return consumeUint64(typ, b, &m.ProjectID)
		}
		return 0, nil
	})
}

// JoinProjectResponse assigns the guest a replica id and carries the state
// of every open buffer.
type JoinProjectResponse struct {
	ProjectID uint64
	ReplicaID uint32
	Buffers   []*BufferState
}

func (*JoinProjectResponse) MessageName() string { return "JoinProjectResponse" }

func (m *JoinProjectResponse) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, m.ProjectID)
	b = appendVarint(b, 2, uint64(m.ReplicaID))
	for _, s := range m.Buffers {
		b = appendMessage(b, 3, s)
	}
	return b
}

func (m *JoinProjectResponse) unmarshal(b []byte) error {
	*m = JoinProjectResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint64(typ, b, &m.ProjectID)
		case 2:
			return consumeUint32(typ, b, &m.ReplicaID)
		case 3:
			s := &BufferState{}
			n, err := consumeMessage(typ, b, s)
			if err == nil {
				m.Buffers = append(m.Buffers, s)
			}
			return n, err
		}
		return 0, nil
	})
}

// BufferState is everything needed to rebuild a buffer elsewhere.
type BufferState struct {
	ID         uint64
	Path       string
	BaseText   string
	Operations []*Operation
}

func (*BufferState) MessageName() string { return "BufferState" }

func (m *BufferState) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, m.ID)
	b = appendString(b, 2, m.Path)
	b = appendString(b, 3, m.BaseText)
	return appendOperations(b, 4, m.Operations)
}

func (m *BufferState) unmarshal(b []byte) error {
	*m = BufferState{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint64(typ, b, &m.ID)
		case 2:
			return consumeString(typ, b, &m.Path)
		case 3:
			return consumeString(typ, b, &m.BaseText)
		case 4:
			return consumeOperation(typ, b, &m.Operations)
		}
		return 0, nil
	})
}

// UpdateBuffer carries edits made to a buffer by one participant.
type UpdateBuffer struct {
	ProjectID  uint64
	BufferID   uint64
	Operations []*Operation
}

func (*UpdateBuffer) MessageName() string { return "UpdateBuffer" }
func (m *UpdateBuffer) GetProjectID() uint64 { return m.ProjectID }
func (m *UpdateBuffer) GetBufferID() uint64 { return m.BufferID }

func (m *UpdateBuffer) appendTo(b []byte) []byte {
	b = appendVarint(b, 1, m.ProjectID)
	b = appendVarint(b, 2, m.BufferID)
	return appendOperations(b, 3, m.Operations)
}

func (m *UpdateBuffer) unmarshal(b []byte) error {
	*m = UpdateBuffer{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUint64(typ, b, &m.ProjectID)
		case 2:
			return consumeUint64(typ, b, &m.BufferID)
		case 3:
			return consumeOperation(typ, b, &m.Operations)
		}
		return 0, nil
	})
}

// Ack is the response to messages that return nothing.
type Ack struct{}

func (*Ack) MessageName() string { return "Ack" }
func (*Ack) appendTo(b []byte) []byte { return b }
func (*Ack) unmarshal(b []byte) error {
	return consumeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return 0, nil })
}
