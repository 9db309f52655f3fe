package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/session"
	"github.com/filmil/lspbridge/pkg/text"
)

// Request runs cmd against a buffer of p: on the language server if p has
// one, and on the host otherwise. It is cancelled when ctx ends or the
// buffer is closed.
func Request[R lspext.Response](ctx context.Context, p *Project, id text.BufferID, cmd lspext.Command[R]) (R, error) {
	var zero R
	ob, err := p.open(id)
	if err != nil {
		return zero, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ob.ctx, cancel)
	defer stop()

	snap := ob.buf.Snapshot()
	var resp R
	if p.server != nil {
		resp, err = lspext.RequestServer(ctx, p.server, cmd, ob.path, snap)
	} else {
		p.mu.RLock()
		up := p.upstream
		p.mu.RUnlock()
		if up == nil {
			return zero, fmt.Errorf("%s: %w", cmd.DisplayName(), ErrNotJoined)
		}
		resp, err = lspext.RequestPeer(ctx, up, cmd, p.id, snap)
	}
	if err != nil && ob.ctx.Err() != nil {
		return zero, fmt.Errorf("%s: %w: %v", cmd.DisplayName(), ErrBufferClosed, id)
	}
	return resp, err
}

// HandleRequest serves a guest's request on the host. Errors are
// *proto.Error.
func (p *Project) HandleRequest(ctx context.Context, peer session.PeerID, msg proto.Message) (proto.Message, error) {
	glog.V(1).Infof("project %v: %v from %v", p.id, msg.MessageName(), peer)
	if r, ok := msg.(proto.Request); ok && r.GetProjectID() != p.id {
		return nil, &proto.Error{Code: proto.ErrorNoSuchProject, Message: fmt.Sprintf("project %v", r.GetProjectID())}
	}
	switch m := msg.(type) {
	case *proto.JoinProject:
		return p.join(m)
	case *proto.UpdateBuffer:
		if err := p.ApplyRemote(ctx, peer, m); err != nil {
			return nil, err
		}
		return &proto.Ack{}, nil
	case *proto.LspExtExpandMacro:
		return serveCommand[lspext.ExpandedMacro](ctx, p, m, lspext.ExpandMacroFromProto)
	case *proto.LspExtOpenDocs:
		return serveCommand[lspext.DocsURLs](ctx, p, m, lspext.OpenDocsFromProto)
	case *proto.LspExtSwitchSourceHeader:
		return serveCommand[lspext.SwitchSourceHeaderResult](ctx, p, m, lspext.SwitchSourceHeaderFromProto)
	}
	return nil, &proto.Error{Code: proto.ErrorUnsupported, Message: msg.MessageName()}
}

// serveCommand rebuilds a guest's command against the current state of the
// buffer, runs it, and encodes the response.
func serveCommand[R lspext.Response, C lspext.Command[R], M proto.Request](
	ctx context.Context, p *Project, msg M, fromProto func(M, *text.Snapshot) (C, error),
) (proto.Message, error) {
	id, err := lspext.BufferIDFromProto(msg)
	if err != nil {
		return nil, &proto.Error{Code: proto.ErrorNoSuchBuffer, Message: err.Error()}
	}
	ob, err := p.open(id)
	if err != nil {
		return nil, &proto.Error{Code: proto.ErrorNoSuchBuffer, Message: err.Error()}
	}
	cmd, err := fromProto(msg, ob.buf.Snapshot())
	if err != nil {
		return nil, lspext.ToProtoError(err)
	}
	resp, err := Request[R](ctx, p, id, cmd)
	if err != nil {
		if errors.Is(err, ErrBufferClosed) {
			return nil, &proto.Error{Code: proto.ErrorNoSuchBuffer, Message: err.Error()}
		}
		return nil, lspext.ToProtoError(err)
	}
	return cmd.ResponseToProto(resp), nil
}

// join assigns the guest a replica id and sends it every buffer.
func (p *Project) join(m *proto.JoinProject) (proto.Message, error) {
	if m.ProjectID != p.id {
		return nil, &proto.Error{Code: proto.ErrorNoSuchProject, Message: fmt.Sprintf("project %v", m.ProjectID)}
	}
	p.mu.Lock()
	if p.lastReplica == text.MaxReplicaID {
		p.mu.Unlock()
		return nil, &proto.Error{Code: proto.ErrorInternal, Message: "out of replica ids"}
	}
	p.lastReplica++
	resp := &proto.JoinProjectResponse{
		ProjectID: p.id,
		ReplicaID: uint32(p.lastReplica),
	}
	obs := make([]*openBuffer, 0, len(p.buffers))
	for _, ob := range p.buffers {
		obs = append(obs, ob)
	}
	p.mu.Unlock()
	for _, ob := range obs {
		resp.Buffers = append(resp.Buffers, &proto.BufferState{
			ID:         uint64(ob.buf.ID()),
			Path:       ob.path,
			BaseText:   ob.buf.BaseText(),
			Operations: proto.SerializeOperations(ob.buf.Operations()),
		})
	}
	return resp, nil
}
