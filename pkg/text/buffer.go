package text

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Locator names a place in a buffer's history: the position just after byte
// Offset-1 of the text inserted at Insertion. The zero Locator is the start
// of the buffer.
type Locator struct {
	Insertion Timestamp
	Offset    int
}

// InsertOp inserts Text right after the place named by After.
type InsertOp struct {
	Timestamp Timestamp
	After     Locator
	Text      string
}

// DeleteRange names the bytes [Start, End) of the text inserted at
// Insertion.
type DeleteRange struct {
	Insertion Timestamp
	Start     int
	End       int
}

// DeleteOp hides the named ranges. Deleted text stays in the history, so that
// anchors into it still resolve.
type DeleteOp struct {
	Timestamp Timestamp
	Ranges    []DeleteRange
}

// Operation is one entry of a buffer's history. Exactly one of the fields is
// set.
type Operation struct {
	Insert *InsertOp
	Delete *DeleteOp
}

// Timestamp returns the timestamp of the operation.
func (o Operation) Timestamp() Timestamp {
	switch {
	case o.Insert != nil:
		return o.Insert.Timestamp
	case o.Delete != nil:
		return o.Delete.Timestamp
	}
	return Timestamp{}
}

func (o Operation) String() string {
	switch {
	case o.Insert != nil:
		return fmt.Sprintf("insert(%v after %v+%d: %q)",
			o.Insert.Timestamp, o.Insert.After.Insertion, o.Insert.After.Offset, o.Insert.Text)
	case o.Delete != nil:
		return fmt.Sprintf("delete(%v: %v)", o.Delete.Timestamp, o.Delete.Ranges)
	}
	return "noop"
}

// fragment is a piece of a single insertion. The document is the
// concatenation of all fragments that are not deleted.
type fragment struct {
	insertion  Timestamp
	start, end int
	text       string
	deleted    bool
}

func (f fragment) visibleLen() int {
	if f.deleted {
		return 0
	}
	return len(f.text)
}

// tree is the fragment list together with the length of every insertion it
// knows about.
type tree struct {
	fragments  []fragment
	insertions map[Timestamp]int
}

func newTree(base string) tree {
	t := tree{insertions: map[Timestamp]int{baseTimestamp: len(base)}}
	if base != "" {
		t.fragments = []fragment{{insertion: baseTimestamp, end: len(base), text: base}}
	}
	return t
}

func (t tree) clone() tree {
	ret := tree{
		fragments:  make([]fragment, len(t.fragments)),
		insertions: make(map[Timestamp]int, len(t.insertions)),
	}
	copy(ret.fragments, t.fragments)
	for k, v := range t.insertions {
		ret.insertions[k] = v
	}
	return ret
}

func (t *tree) text() string {
	var b strings.Builder
	for _, f := range t.fragments {
		if !f.deleted {
			b.WriteString(f.text)
		}
	}
	return b.String()
}

// splitAt makes sure that no fragment of insertion ts straddles off, and
// returns the index just past the fragment of ts ending at off. Returns -1 if
// off is not inside ts.
func (t *tree) splitAt(ts Timestamp, off int) int {
	for i, f := range t.fragments {
		if f.insertion != ts || off < f.start || off > f.end {
			continue
		}
		if off == f.end {
			return i + 1
		}
		if off == f.start {
			return i
		}
		k := off - f.start
		left, right := f, f
		left.end, left.text = off, f.text[:k]
		right.start, right.text = off, f.text[k:]
		t.fragments = append(t.fragments, fragment{})
		copy(t.fragments[i+2:], t.fragments[i+1:])
		t.fragments[i], t.fragments[i+1] = left, right
		return i + 1
	}
	return -1
}

// canApply reports whether everything op refers to is already known. An
// operation that can never become applicable is an error.
func (t *tree) canApply(op Operation) (bool, error) {
	switch {
	case op.Insert != nil:
		i := op.Insert
		if i.Timestamp == baseTimestamp {
			return false, fmt.Errorf("%w: insertion at the base timestamp", ErrInvalidOperation)
		}
		n, ok := t.insertions[i.After.Insertion]
		if !ok {
			return false, nil
		}
		lo := 1
		if i.After.Insertion == baseTimestamp {
			lo = 0
		}
		if i.After.Offset < lo || i.After.Offset > n {
			return false, fmt.Errorf("%w: %v: offset out of range [%d, %d]", ErrInvalidOperation, op, lo, n)
		}
		return true, nil
	case op.Delete != nil:
		for _, r := range op.Delete.Ranges {
			n, ok := t.insertions[r.Insertion]
			if !ok {
				return false, nil
			}
			if r.Start < 0 || r.Start >= r.End || r.End > n {
				return false, fmt.Errorf("%w: %v: range out of [0, %d]", ErrInvalidOperation, op, n)
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: empty operation", ErrInvalidOperation)
}

// integrateInsert places the new text after its locator. Concurrent
// insertions at the same place are ordered by descending timestamp, so every
// replica ends up with the same order regardless of arrival order.
func (t *tree) integrateInsert(op *InsertOp) {
	idx := 0
	if op.After != (Locator{}) {
		idx = t.splitAt(op.After.Insertion, op.After.Offset)
	}
	for idx < len(t.fragments) && op.Timestamp.Less(t.fragments[idx].insertion) {
		idx++
	}
	t.insertions[op.Timestamp] = len(op.Text)
	if op.Text == "" {
		return
	}
	f := fragment{insertion: op.Timestamp, end: len(op.Text), text: op.Text}
	t.fragments = append(t.fragments, fragment{})
	copy(t.fragments[idx+1:], t.fragments[idx:])
	t.fragments[idx] = f
}

func (t *tree) applyDelete(op *DeleteOp) {
	for _, r := range op.Ranges {
		t.splitAt(r.Insertion, r.Start)
		t.splitAt(r.Insertion, r.End)
		for i := range t.fragments {
			f := &t.fragments[i]
			if f.insertion == r.Insertion && f.start >= r.Start && f.end <= r.End {
				f.deleted = true
			}
		}
	}
}

// deleteVisible returns the history ranges that make up the visible bytes
// [start, end).
func (t *tree) deleteVisible(start, end int) []DeleteRange {
	var ret []DeleteRange
	pos := 0
	for _, f := range t.fragments {
		if f.deleted {
			continue
		}
		fs, fe := pos, pos+len(f.text)
		pos = fe
		lo, hi := max(start, fs), min(end, fe)
		if lo >= hi {
			continue
		}
		ret = append(ret, DeleteRange{
			Insertion: f.insertion,
			Start:     f.start + lo - fs,
			End:       f.start + hi - fs,
		})
	}
	return ret
}

// locatorBefore returns the locator of the visible byte just before off.
func (t *tree) locatorBefore(off int) Locator {
	var loc Locator
	pos := 0
	for _, f := range t.fragments {
		if f.deleted {
			continue
		}
		if off <= pos+len(f.text) {
			if off > pos {
				return Locator{Insertion: f.insertion, Offset: f.start + off - pos}
			}
			return loc
		}
		pos += len(f.text)
		loc = Locator{Insertion: f.insertion, Offset: f.end}
	}
	return loc
}

// Snapshot is an immutable view of a buffer at one version. Points are only
// meaningful against the snapshot they were computed from.
type Snapshot struct {
	id      BufferID
	version Global
	tree    tree
	text    string
}

// ID returns the id of the buffer this is a snapshot of.
func (s *Snapshot) ID() BufferID { return s.id }

// Version returns the operations this snapshot has observed.
func (s *Snapshot) Version() Global { return s.version.clone() }

// Text returns the visible text.
func (s *Snapshot) Text() string { return s.text }

// Len returns the length of the visible text in bytes.
func (s *Snapshot) Len() int { return len(s.text) }

// MaxPoint returns the point at the end of the text.
func (s *Snapshot) MaxPoint() PointUTF16 { return pointFromOffset(s.text, len(s.text)) }

// ClipPoint returns the closest valid point to p.
func (s *Snapshot) ClipPoint(p PointUTF16) PointUTF16 {
	return pointFromOffset(s.text, offsetFromPoint(s.text, p))
}

// OffsetFromPoint returns the byte offset of p, clipped to the text.
func (s *Snapshot) OffsetFromPoint(p PointUTF16) int { return offsetFromPoint(s.text, p) }

// PointFromOffset returns the point at byte offset off.
func (s *Snapshot) PointFromOffset(off int) PointUTF16 { return pointFromOffset(s.text, off) }

// Buffer is a text buffer shared among replicas. Local edits produce
// operations for the other replicas; remote operations are integrated in any
// order once everything they depend on has arrived.
type Buffer struct {
	id      BufferID
	replica ReplicaID

	mu       sync.RWMutex
	lamport  uint32
	version  Global
	tree     tree
	base     string
	history  []Operation
	applied  map[Timestamp]struct{}
	deferred []Operation
}

// NewBuffer creates a buffer with the given base text. The id must not be
// zero; see NewBufferID.
func NewBuffer(id BufferID, replica ReplicaID, base string) *Buffer {
	return &Buffer{
		id:      id,
		replica: replica,
		version: Global{},
		tree:    newTree(base),
		base:    base,
		applied: map[Timestamp]struct{}{},
	}
}

// ID returns the buffer id.
func (b *Buffer) ID() BufferID { return b.id }

// Replica returns the id of the local replica.
func (b *Buffer) Replica() ReplicaID { return b.replica }

// BaseText returns the text the buffer was created with.
func (b *Buffer) BaseText() string { return b.base }

// Snapshot returns a view of the current state.
func (b *Buffer) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t := b.tree.clone()
	return &Snapshot{
		id:      b.id,
		version: b.version.clone(),
		tree:    t,
		text:    t.text(),
	}
}

// Text returns the current visible text.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.text()
}

// Operations returns the history applied so far, in application order.
func (b *Buffer) Operations() []Operation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ret := make([]Operation, len(b.history))
	copy(ret, b.history)
	return ret
}

// DeferredCount returns the number of received operations still waiting for
// operations they depend on.
func (b *Buffer) DeferredCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.deferred)
}

func (b *Buffer) tick() Timestamp {
	b.lamport++
	return Timestamp{Replica: b.replica, Value: b.lamport}
}

// Edit replaces the text between start and end with newText and returns the
// operations that describe the change to other replicas.
func (b *Buffer) Edit(start, end PointUTF16, newText string) []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.tree.text()
	s, e := offsetFromPoint(text, start), offsetFromPoint(text, end)
	if e < s {
		s, e = e, s
	}
	var ops []Operation
	if s < e {
		op := &DeleteOp{Timestamp: b.tick(), Ranges: b.tree.deleteVisible(s, e)}
		b.tree.applyDelete(op)
		ops = append(ops, Operation{Delete: op})
	}
	if newText != "" {
		op := &InsertOp{Timestamp: b.tick(), After: b.tree.locatorBefore(s), Text: newText}
		b.tree.integrateInsert(op)
		ops = append(ops, Operation{Insert: op})
	}
	for _, op := range ops {
		b.record(op)
	}
	glog.V(3).Infof("buffer %d: local edit: %v", b.id, ops)
	return ops
}

func (b *Buffer) record(op Operation) {
	ts := op.Timestamp()
	if b.lamport < ts.Value {
		b.lamport = ts.Value
	}
	b.version.observe(ts)
	b.applied[ts] = struct{}{}
	b.history = append(b.history, op)
}

// ApplyOps integrates operations received from other replicas. Operations
// already applied are ignored. Operations that depend on unknown insertions
// are kept until those arrive. An operation that can never be applied stops
// the batch with an error.
func (b *Buffer) ApplyOps(ops ...Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range ops {
		if _, ok := b.applied[op.Timestamp()]; ok {
			continue
		}
		ready, err := b.tree.canApply(op)
		if err != nil {
			return fmt.Errorf("buffer %d: %w", b.id, err)
		}
		if !ready {
			glog.V(2).Infof("buffer %d: deferring %v", b.id, op)
			b.deferred = append(b.deferred, op)
			continue
		}
		b.apply(op)
	}
	return b.flushDeferred()
}

func (b *Buffer) apply(op Operation) {
	switch {
	case op.Insert != nil:
		b.tree.integrateInsert(op.Insert)
	case op.Delete != nil:
		b.tree.applyDelete(op.Delete)
	}
	b.record(op)
}

func (b *Buffer) flushDeferred() error {
	for progress := true; progress; {
		progress = false
		var rest []Operation
		for _, op := range b.deferred {
			if _, ok := b.applied[op.Timestamp()]; ok {
				progress = true
				continue
			}
			ready, err := b.tree.canApply(op)
			if err != nil {
				return fmt.Errorf("buffer %d: %w", b.id, err)
			}
			if !ready {
				rest = append(rest, op)
				continue
			}
			b.apply(op)
			progress = true
		}
		b.deferred = rest
	}
	return nil
}
