// Package text holds shared text buffers, their edit history, and the
// anchors that keep pointing at the same place while the history grows.
package text

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidBufferID is returned for the reserved zero buffer id.
	ErrInvalidBufferID = errors.New("invalid buffer id")
	// ErrInvalidAnchor is returned when an anchor can not be resolved
	// against a snapshot.
	ErrInvalidAnchor = errors.New("invalid anchor")
	// ErrInvalidOperation is returned for operations that can never be
	// applied to a buffer.
	ErrInvalidOperation = errors.New("invalid operation")
)

// BufferID identifies a buffer across all processes sharing a project.
// Zero is reserved.
type BufferID uint64

// NewBufferID validates a buffer id received from elsewhere.
func NewBufferID(v uint64) (BufferID, error) {
	if v == 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBufferID, v)
	}
	return BufferID(v), nil
}

// ReplicaID identifies one participant editing a buffer.
type ReplicaID uint16

// MaxReplicaID is the largest replica id.
const MaxReplicaID ReplicaID = math.MaxUint16

// Timestamp is a Lamport timestamp. Each operation in a buffer's history has
// a unique one.
type Timestamp struct {
	Replica ReplicaID
	Value   uint32
}

var (
	// The base text of every buffer is inserted at the zero timestamp.
	baseTimestamp = Timestamp{}
	maxTimestamp  = Timestamp{Replica: MaxReplicaID, Value: math.MaxUint32}
)

// Less orders timestamps by Lamport value, then by replica.
func (t Timestamp) Less(o Timestamp) bool {
	if t.Value != o.Value {
		return t.Value < o.Value
	}
	return t.Replica < o.Replica
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d@%d", t.Value, t.Replica)
}

// Global is a version vector: the largest Lamport value observed from each
// replica.
type Global map[ReplicaID]uint32

func (g Global) observe(t Timestamp) {
	if g[t.Replica] < t.Value {
		g[t.Replica] = t.Value
	}
}

func (g Global) clone() Global {
	ret := make(Global, len(g))
	for k, v := range g {
		ret[k] = v
	}
	return ret
}
