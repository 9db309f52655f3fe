// Package project holds the shared buffers of one project, and runs
// extension commands on them. On the host, commands go to the language
// server. On a guest, they go to the host.
package project

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/session"
	"github.com/filmil/lspbridge/pkg/text"
)

var (
	ErrNoSuchBuffer = errors.New("no such buffer")
	// ErrBufferClosed is returned for commands whose buffer was closed
	// while they ran.
	ErrBufferClosed = errors.New("buffer closed")
	ErrNotJoined    = errors.New("not joined to a host")
)

// Journal records buffer history. *store.Journal implements it.
type Journal interface {
	SaveBuffer(ctx context.Context, id text.BufferID, path, base string) error
	AppendOperations(ctx context.Context, id text.BufferID, ops []text.Operation) error
	DeleteBuffer(ctx context.Context, id text.BufferID) error
}

// LanguageServer is a language server that is told about open buffers.
// *lsproc.Client implements it.
type LanguageServer interface {
	lspext.LanguageServer
	DidOpen(ctx context.Context, path, languageID, content string) error
	DidChange(ctx context.Context, path string, before, after *text.Snapshot) error
	DidClose(ctx context.Context, path string) error
}

// Broadcaster pushes messages to guests. *session.Host implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, except session.PeerID, msg proto.Message) error
}

type Options struct {
	ProjectID uint64
	// Server is the local language server. Set on the host; nil on guests.
	Server LanguageServer
	// LanguageID is sent to the server when a buffer is opened.
	LanguageID string
	// Journal may be nil.
	Journal Journal
}

type openBuffer struct {
	buf  *text.Buffer
	path string
	// Cancelled when the buffer is closed.
	ctx    context.Context
	cancel context.CancelFunc
	// Held while an edit is applied and reported, so that the server sees
	// changes in order.
	editMu sync.Mutex
}

// maxPending bounds the updates kept while a guest is not joined.
const maxPending = 1024

type Project struct {
	id         uint64
	server     LanguageServer
	languageID string
	journal    Journal

	mu          sync.RWMutex
	replica     text.ReplicaID
	buffers     map[text.BufferID]*openBuffer
	byPath      map[string]text.BufferID
	lastBuffer  uint64
	lastReplica text.ReplicaID
	peers       Broadcaster
	upstream    lspext.Upstream
	joined      bool
	// Updates pushed by the host before Join completed.
	pending []*proto.UpdateBuffer
}

func New(opts Options) *Project {
	return &Project{
		id:         opts.ProjectID,
		server:     opts.Server,
		languageID: opts.LanguageID,
		journal:    opts.Journal,
		buffers:    map[text.BufferID]*openBuffer{},
		byPath:     map[string]text.BufferID{},
	}
}

func (p *Project) ID() uint64 { return p.id }

// IsLocal is true if commands run on a server in this process.
func (p *Project) IsLocal() bool { return p.server != nil }

// Replica is the replica id used for local edits.
func (p *Project) Replica() text.ReplicaID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.replica
}

// SetBroadcaster makes the project push edits to guests.
func (p *Project) SetBroadcaster(b Broadcaster) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = b
}

// OpenBuffer adds the file at path to the project. Opening a path twice
// returns the same buffer.
func (p *Project) OpenBuffer(ctx context.Context, path, content string) (text.BufferID, error) {
	if _, err := lspext.FileURI(path); err != nil {
		return 0, err
	}
	p.mu.Lock()
	if id, ok := p.byPath[path]; ok {
		p.mu.Unlock()
		return id, nil
	}
	if p.upstream != nil {
		p.mu.Unlock()
		return 0, fmt.Errorf("guests can not open buffers: %v", path)
	}
	p.lastBuffer++
	id := text.BufferID(p.lastBuffer)
	ob := p.addLocked(id, path, text.NewBuffer(id, p.replica, content))
	p.mu.Unlock()

	if p.journal != nil {
		if err := p.journal.SaveBuffer(ctx, id, path, content); err != nil {
			p.forget(id, ob)
			return 0, fmt.Errorf("OpenBuffer: %w", err)
		}
	}
	if err := p.didOpen(ctx, ob); err != nil {
		p.forget(id, ob)
		if p.journal != nil {
			if jerr := p.journal.DeleteBuffer(ctx, id); jerr != nil {
				glog.Warningf("project %v: OpenBuffer: could not drop buffer %v from journal: %v", p.id, id, jerr)
			}
		}
		return 0, err
	}
	glog.Infof("project %v: opened buffer %v: %v", p.id, id, path)
	return id, nil
}

// RestoreBuffer adds a buffer with known history, read from the journal or
// received from the host.
func (p *Project) RestoreBuffer(ctx context.Context, id text.BufferID, path, base string, ops []text.Operation) error {
	buf := text.NewBuffer(id, p.Replica(), base)
	if err := buf.ApplyOps(ops...); err != nil {
		return fmt.Errorf("RestoreBuffer: %v: %w", path, err)
	}
	p.mu.Lock()
	if _, ok := p.buffers[id]; ok {
		p.mu.Unlock()
		return fmt.Errorf("RestoreBuffer: buffer %v already exists", id)
	}
	ob := p.addLocked(id, path, buf)
	p.lastBuffer = max(p.lastBuffer, uint64(id))
	p.mu.Unlock()
	if err := p.didOpen(ctx, ob); err != nil {
		p.forget(id, ob)
		return err
	}
	glog.V(1).Infof("project %v: restored buffer %v: %v (%d ops)", p.id, id, path, len(ops))
	return nil
}

func (p *Project) addLocked(id text.BufferID, path string, buf *text.Buffer) *openBuffer {
	ctx, cancel := context.WithCancel(context.Background())
	ob := &openBuffer{buf: buf, path: path, ctx: ctx, cancel: cancel}
	p.buffers[id] = ob
	p.byPath[path] = id
	return ob
}

// forget drops a buffer that failed to open, if it is still registered.
func (p *Project) forget(id text.BufferID, ob *openBuffer) {
	p.mu.Lock()
	if p.buffers[id] == ob {
		delete(p.buffers, id)
		if p.byPath[ob.path] == id {
			delete(p.byPath, ob.path)
		}
	}
	p.mu.Unlock()
	ob.cancel()
}

func (p *Project) didOpen(ctx context.Context, ob *openBuffer) error {
	if p.server == nil {
		return nil
	}
	if err := p.server.DidOpen(ctx, ob.path, p.languageID, ob.buf.Text()); err != nil {
		return fmt.Errorf("didOpen: %v: %w", ob.path, err)
	}
	return nil
}

func (p *Project) open(id text.BufferID) (*openBuffer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ob, ok := p.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoSuchBuffer, id)
	}
	return ob, nil
}

// Buffer returns an open buffer.
func (p *Project) Buffer(id text.BufferID) (*text.Buffer, bool) {
	ob, err := p.open(id)
	if err != nil {
		return nil, false
	}
	return ob.buf, true
}

// BufferByPath returns the id of the buffer open at path.
func (p *Project) BufferByPath(path string) (text.BufferID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byPath[path]
	return id, ok
}

// Path returns the file path of a buffer.
func (p *Project) Path(id text.BufferID) (string, bool) {
	ob, err := p.open(id)
	if err != nil {
		return "", false
	}
	return ob.path, true
}

// Edit replaces the text between start and end in a buffer, and sends the
// change wherever it needs to go.
func (p *Project) Edit(ctx context.Context, id text.BufferID, start, end text.PointUTF16, newText string) error {
	ob, err := p.open(id)
	if err != nil {
		return err
	}
	ob.editMu.Lock()
	defer ob.editMu.Unlock()
	before := ob.buf.Snapshot()
	ops := ob.buf.Edit(start, end, newText)
	if len(ops) == 0 {
		return nil
	}
	return p.changed(ctx, ob, before, ops, uuid.Nil, true)
}

// ApplyRemote applies edits made elsewhere. from is the guest that sent
// them, or uuid.Nil for edits pushed by the host.
func (p *Project) ApplyRemote(ctx context.Context, from session.PeerID, m *proto.UpdateBuffer) error {
	if m.ProjectID != p.id {
		return &proto.Error{Code: proto.ErrorNoSuchProject, Message: fmt.Sprintf("project %v", m.ProjectID)}
	}
	ops, err := proto.DeserializeOperations(m.Operations)
	if err != nil {
		return &proto.Error{Code: proto.ErrorInternal, Message: err.Error()}
	}
	ob, err := p.open(text.BufferID(m.BufferID))
	if err != nil {
		return &proto.Error{Code: proto.ErrorNoSuchBuffer, Message: err.Error()}
	}
	ob.editMu.Lock()
	defer ob.editMu.Unlock()
	before := ob.buf.Snapshot()
	if err := ob.buf.ApplyOps(ops...); err != nil {
		return &proto.Error{Code: proto.ErrorInternal, Message: err.Error()}
	}
	return p.changed(ctx, ob, before, ops, from, false)
}

// changed records and reports edits already applied to ob.
func (p *Project) changed(ctx context.Context, ob *openBuffer, before *text.Snapshot, ops []text.Operation, from session.PeerID, local bool) error {
	id := ob.buf.ID()
	var errs []error
	if p.journal != nil {
		if err := p.journal.AppendOperations(ctx, id, ops); err != nil {
			errs = append(errs, err)
		}
	}
	if p.server != nil {
		if err := p.server.DidChange(ctx, ob.path, before, ob.buf.Snapshot()); err != nil {
			errs = append(errs, err)
		}
	}
	p.mu.RLock()
	peers, upstream := p.peers, p.upstream
	p.mu.RUnlock()
	update := &proto.UpdateBuffer{
		ProjectID:  p.id,
		BufferID:   uint64(id),
		Operations: proto.SerializeOperations(ops),
	}
	switch {
	case peers != nil:
		if err := peers.Broadcast(ctx, from, update); err != nil {
			glog.Warningf("project %v: %v", p.id, err)
		}
	case local && upstream != nil:
		if _, err := upstream.Request(ctx, update); err != nil {
			errs = append(errs, fmt.Errorf("update buffer %v: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// CloseBuffer removes a buffer from the project. Commands still running on
// it are cancelled.
func (p *Project) CloseBuffer(ctx context.Context, id text.BufferID) error {
	p.mu.Lock()
	ob, ok := p.buffers[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNoSuchBuffer, id)
	}
	delete(p.buffers, id)
	delete(p.byPath, ob.path)
	p.mu.Unlock()
	ob.cancel()
	glog.Infof("project %v: closed buffer %v: %v", p.id, id, ob.path)

	var errs []error
	if p.server != nil {
		errs = append(errs, p.server.DidClose(ctx, ob.path))
	}
	if p.journal != nil {
		errs = append(errs, p.journal.DeleteBuffer(ctx, id))
	}
	return errors.Join(errs...)
}

// Join fetches the project from the host. Later commands and edits go
// through up.
func (p *Project) Join(ctx context.Context, up lspext.Upstream) error {
	resp, err := up.Request(ctx, &proto.JoinProject{ProjectID: p.id})
	if err != nil {
		return fmt.Errorf("join project %v: %w", p.id, err)
	}
	jr, ok := resp.(*proto.JoinProjectResponse)
	if !ok {
		return fmt.Errorf("join project %v: unexpected response %v", p.id, resp.MessageName())
	}
	if jr.ReplicaID == 0 || jr.ReplicaID > uint32(text.MaxReplicaID) {
		return fmt.Errorf("join project %v: bad replica id %v", p.id, jr.ReplicaID)
	}
	p.mu.Lock()
	p.replica = text.ReplicaID(jr.ReplicaID)
	p.upstream = up
	p.mu.Unlock()
	var restored []text.BufferID
	for _, b := range jr.Buffers {
		if err := p.restoreJoined(ctx, b); err != nil {
			p.abortJoin(ctx, restored)
			return fmt.Errorf("join project %v: %w", p.id, err)
		}
		restored = append(restored, text.BufferID(b.ID))
	}
	p.mu.Lock()
	p.joined = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, m := range pending {
		if err := p.ApplyRemote(ctx, uuid.Nil, m); err != nil {
			glog.Warningf("project %v: early update: %v", p.id, err)
		}
	}
	glog.Infof("project %v: joined as replica %v with %d buffers", p.id, jr.ReplicaID, len(jr.Buffers))
	return nil
}

func (p *Project) restoreJoined(ctx context.Context, b *proto.BufferState) error {
	id, err := text.NewBufferID(b.ID)
	if err != nil {
		return err
	}
	ops, err := proto.DeserializeOperations(b.Operations)
	if err != nil {
		return fmt.Errorf("buffer %v: %w", id, err)
	}
	return p.RestoreBuffer(ctx, id, b.Path, b.BaseText, ops)
}

// abortJoin undoes a join that failed partway, so that Join can be retried.
func (p *Project) abortJoin(ctx context.Context, restored []text.BufferID) {
	p.mu.Lock()
	var obs []*openBuffer
	for _, id := range restored {
		if ob, ok := p.buffers[id]; ok {
			delete(p.buffers, id)
			delete(p.byPath, ob.path)
			obs = append(obs, ob)
		}
	}
	p.replica = 0
	p.upstream = nil
	p.lastBuffer = 0
	p.pending = nil
	p.mu.Unlock()
	for _, ob := range obs {
		ob.cancel()
		if p.server != nil {
			if err := p.server.DidClose(ctx, ob.path); err != nil {
				glog.Warningf("project %v: abort join: %v", p.id, err)
			}
		}
	}
}

// HandleMessage receives messages the host pushes to a guest.
func (p *Project) HandleMessage(ctx context.Context, msg proto.Message) {
	switch m := msg.(type) {
	case *proto.UpdateBuffer:
		p.mu.Lock()
		if !p.joined {
			if len(p.pending) >= maxPending {
				p.mu.Unlock()
				glog.Warningf("project %v: not joined, dropping update for buffer %v", p.id, m.BufferID)
				return
			}
			p.pending = append(p.pending, m)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		if err := p.ApplyRemote(ctx, uuid.Nil, m); err != nil {
			glog.Warningf("project %v: update from host: %v", p.id, err)
		}
	default:
		glog.Warningf("project %v: unexpected message from host: %v", p.id, msg.MessageName())
	}
}
