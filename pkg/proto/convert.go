package proto

import (
	"fmt"
	"math"

	"github.com/filmil/lspbridge/pkg/text"
)

// SerializeAnchor converts an anchor to its wire form.
func SerializeAnchor(a text.Anchor) *Anchor {
	bias := BiasLeft
	if a.Bias == text.Right {
		bias = BiasRight
	}
	return &Anchor{
		ReplicaID: uint32(a.Insertion.Replica),
		Timestamp: a.Insertion.Value,
		Offset:    uint64(a.Offset),
		Bias:      bias,
		BufferID:  uint64(a.BufferID),
	}
}

// DeserializeAnchor converts an anchor from its wire form. It only checks
// that the fields are in range; whether the anchor means anything is decided
// when it is resolved against a buffer.
func DeserializeAnchor(m *Anchor) (text.Anchor, error) {
	if m == nil {
		return text.Anchor{}, fmt.Errorf("%w: missing", text.ErrInvalidAnchor)
	}
	var bias text.Bias
	switch m.Bias {
	case BiasLeft:
		bias = text.Left
	case BiasRight:
		bias = text.Right
	case biasMalformed:
		return text.Anchor{}, fmt.Errorf("%w: malformed", text.ErrInvalidAnchor)
	default:
		return text.Anchor{}, fmt.Errorf("%w: unknown bias %d", text.ErrInvalidAnchor, m.Bias)
	}
	if m.ReplicaID > uint32(text.MaxReplicaID) {
		return text.Anchor{}, fmt.Errorf("%w: replica id %d out of range", text.ErrInvalidAnchor, m.ReplicaID)
	}
	if m.Offset > math.MaxInt32 {
		return text.Anchor{}, fmt.Errorf("%w: offset %d out of range", text.ErrInvalidAnchor, m.Offset)
	}
	return text.Anchor{
		BufferID:  text.BufferID(m.BufferID),
		Insertion: text.Timestamp{Replica: text.ReplicaID(m.ReplicaID), Value: m.Timestamp},
		Offset:    int(m.Offset),
		Bias:      bias,
	}, nil
}

func timestamp(replica, value uint32) (text.Timestamp, error) {
	if replica > uint32(text.MaxReplicaID) {
		return text.Timestamp{}, fmt.Errorf("%w: replica id %d out of range", text.ErrInvalidOperation, replica)
	}
	return text.Timestamp{Replica: text.ReplicaID(replica), Value: value}, nil
}

func offset(v uint64) (int, error) {
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: offset %d out of range", text.ErrInvalidOperation, v)
	}
	return int(v), nil
}

// SerializeOperation converts a buffer operation to its wire form.
func SerializeOperation(op text.Operation) *Operation {
	switch {
	case op.Insert != nil:
		i := op.Insert
		return &Operation{Insert: &InsertOperation{
			ReplicaID:      uint32(i.Timestamp.Replica),
			Lamport:        i.Timestamp.Value,
			AfterReplicaID: uint32(i.After.Insertion.Replica),
			AfterLamport:   i.After.Insertion.Value,
			AfterOffset:    uint64(i.After.Offset),
			Text:           i.Text,
		}}
	case op.Delete != nil:
		d := &DeleteOperation{
			ReplicaID: uint32(op.Delete.Timestamp.Replica),
			Lamport:   op.Delete.Timestamp.Value,
		}
		for _, r := range op.Delete.Ranges {
			d.Ranges = append(d.Ranges, &DeleteRange{
				ReplicaID: uint32(r.Insertion.Replica),
				Lamport:   r.Insertion.Value,
				Start:     uint64(r.Start),
				End:       uint64(r.End),
			})
		}
		return &Operation{Delete: d}
	}
	return &Operation{}
}

// SerializeOperations converts a list of buffer operations.
func SerializeOperations(ops []text.Operation) []*Operation {
	ret := make([]*Operation, 0, len(ops))
	for _, op := range ops {
		ret = append(ret, SerializeOperation(op))
	}
	return ret
}

// DeserializeOperation converts an operation from its wire form.
func DeserializeOperation(m *Operation) (text.Operation, error) {
	switch {
	case m == nil:
	case m.Insert != nil:
		ts, err := timestamp(m.Insert.ReplicaID, m.Insert.Lamport)
		if err != nil {
			return text.Operation{}, err
		}
		after, err := timestamp(m.Insert.AfterReplicaID, m.Insert.AfterLamport)
		if err != nil {
			return text.Operation{}, err
		}
		off, err := offset(m.Insert.AfterOffset)
		if err != nil {
			return text.Operation{}, err
		}
		return text.Operation{Insert: &text.InsertOp{
			Timestamp: ts,
			After:     text.Locator{Insertion: after, Offset: off},
			Text:      m.Insert.Text,
		}}, nil
	case m.Delete != nil:
		ts, err := timestamp(m.Delete.ReplicaID, m.Delete.Lamport)
		if err != nil {
			return text.Operation{}, err
		}
		d := &text.DeleteOp{Timestamp: ts}
		for _, r := range m.Delete.Ranges {
			ins, err := timestamp(r.ReplicaID, r.Lamport)
			if err != nil {
				return text.Operation{}, err
			}
			start, err := offset(r.Start)
			if err != nil {
				return text.Operation{}, err
			}
			end, err := offset(r.End)
			if err != nil {
				return text.Operation{}, err
			}
			d.Ranges = append(d.Ranges, text.DeleteRange{Insertion: ins, Start: start, End: end})
		}
		return text.Operation{Delete: d}, nil
	}
	return text.Operation{}, fmt.Errorf("%w: empty operation", text.ErrInvalidOperation)
}

// DeserializeOperations converts a list of operations, stopping at the first
// one that is out of range.
func DeserializeOperations(ms []*Operation) ([]text.Operation, error) {
	ret := make([]text.Operation, 0, len(ms))
	for _, m := range ms {
		op, err := DeserializeOperation(m)
		if err != nil {
			return nil, err
		}
		ret = append(ret, op)
	}
	return ret, nil
}
