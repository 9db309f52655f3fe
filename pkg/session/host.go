// Package session connects project guests to the project host. Messages are
// proto envelopes, framed as JSON-RPC calls and notifications.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"

	"github.com/filmil/lspbridge/pkg/proto"
)

// ErrClosed is returned when the session is gone.
var ErrClosed = errors.New("session closed")

// PeerID names a guest connection for as long as it lasts.
type PeerID = uuid.UUID

// Handler serves requests from guests. A failure should be a *proto.Error;
// anything else is sent as an internal error.
type Handler interface {
	HandleRequest(ctx context.Context, peer PeerID, msg proto.Message) (proto.Message, error)
}

type HandlerFunc func(ctx context.Context, peer PeerID, msg proto.Message) (proto.Message, error)

func (f HandlerFunc) HandleRequest(ctx context.Context, peer PeerID, msg proto.Message) (proto.Message, error) {
	return f(ctx, peer, msg)
}

type peer struct {
	id   PeerID
	conn jsonrpc2.Conn
	ctx  context.Context

	mu       sync.Mutex
	inflight map[uint32]context.CancelFunc
}

// Host serves any number of guests.
type Host struct {
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	seq     atomic.Uint32

	mu    sync.Mutex
	peers map[PeerID]*peer
	wg    sync.WaitGroup
}

func NewHost(ctx context.Context, h Handler) *Host {
	ctx, cancel := context.WithCancel(ctx)
	return &Host{
		handler: h,
		ctx:     ctx,
		cancel:  cancel,
		peers:   map[PeerID]*peer{},
	}
}

// Serve accepts guests on l until l fails or the host is closed.
func (h *Host) Serve(l net.Listener) error {
	glog.Infof("listening for guests at: %v", l.Addr())
	go func() {
		<-h.ctx.Done()
		l.Close()
	}()
	for {
		c, err := l.Accept()
		if err != nil {
			if h.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not accept a connection: %w", err)
		}
		h.ServeConn(c)
	}
}

// ServeConn serves one guest over rwc, and returns without waiting.
func (h *Host) ServeConn(rwc io.ReadWriteCloser) PeerID {
	ctx, cancel := context.WithCancel(h.ctx)
	p := &peer{
		id:       uuid.New(),
		conn:     jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		ctx:      ctx,
		inflight: map[uint32]context.CancelFunc{},
	}
	h.mu.Lock()
	h.peers[p.id] = p
	h.mu.Unlock()
	glog.Infof("guest connected: %v", p.id)

	p.conn.Go(ctx, h.getHandlerFunc(p))
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-p.conn.Done():
		case <-ctx.Done():
			p.conn.Close()
			<-p.conn.Done()
		}
		cancel()
		h.mu.Lock()
		delete(h.peers, p.id)
		h.mu.Unlock()
		glog.Infof("guest disconnected: %v: %v", p.id, p.conn.Err())
	}()
	return p.id
}

// Peers returns the connected guests.
func (h *Host) Peers() []PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	ret := make([]PeerID, 0, len(h.peers))
	for id := range h.peers {
		ret = append(ret, id)
	}
	return ret
}

// Broadcast sends msg to every guest except the one named by except. Pass
// uuid.Nil to send to everyone.
func (h *Host) Broadcast(ctx context.Context, except PeerID, msg proto.Message) error {
	b, err := proto.MarshalEnvelope(&proto.Envelope{ID: h.seq.Add(1), Payload: msg})
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		if p.id != except {
			peers = append(peers, p)
		}
	}
	h.mu.Unlock()
	var errs []error
	for _, p := range peers {
		if err := p.conn.Notify(ctx, MessageCmd, &Frame{Payload: b}); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %v: %w", p.id, err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects all guests and waits for them to go away.
func (h *Host) Close() error {
	h.cancel()
	h.wg.Wait()
	return nil
}

// getHandlerFunc returns the JSON-RPC handler for one guest. Requests are
// served on their own goroutines, so a slow one does not hold up the rest.
func (h *Host) getHandlerFunc(p *peer) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		glog.V(2).Infof("guest %v: JSON-RPC2 Request method: %v", p.id, req.Method())
		defer func() {
			glog.Flush()
		}()

		switch req.Method() {
		case CancelCmd:
			var c Cancel
			if err := json.Unmarshal(req.Params(), &c); err != nil {
				glog.Warningf("guest %v: bad cancel: %v", p.id, err)
				return nil
			}
			p.mu.Lock()
			cancel, ok := p.inflight[c.ID]
			p.mu.Unlock()
			glog.V(1).Infof("guest %v: cancel %v (in flight: %v)", p.id, c.ID, ok)
			if ok {
				cancel()
			}
			return nil
		case MessageCmd:
			var f Frame
			if err := json.Unmarshal(req.Params(), &f); err != nil {
				return reply(ctx, nil, fmt.Errorf("%w: %v", jsonrpc2.ErrInvalidParams, err))
			}
			env, err := proto.UnmarshalEnvelope(f.Payload)
			if err != nil {
				return reply(ctx, nil, fmt.Errorf("%w: %v", jsonrpc2.ErrParse, err))
			}
			glog.V(3).Infof("guest %v: envelope: %v", p.id, spew.Sdump(env)) // This is expensive.
			if _, ok := req.(*jsonrpc2.Call); !ok {
				glog.Warningf("guest %v: ignoring notification %v", p.id, env.Payload.MessageName())
				return nil
			}
			h.serve(p, reply, env)
			return nil
		default:
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}
	}
}

func (h *Host) serve(p *peer, reply jsonrpc2.Replier, env *proto.Envelope) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.inflight[env.ID] = cancel
	p.mu.Unlock()
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, env.ID)
			p.mu.Unlock()
			cancel()
		}()
		resp, err := h.handler.HandleRequest(ctx, p.id, env.Payload)
		if err != nil {
			var pe *proto.Error
			if !errors.As(err, &pe) {
				pe = &proto.Error{Code: proto.ErrorInternal, Message: err.Error()}
			}
			glog.V(1).Infof("guest %v: %v failed: %v", p.id, env.Payload.MessageName(), err)
			resp = pe
		}
		b, err := proto.MarshalEnvelope(&proto.Envelope{
			ID:           h.seq.Add(1),
			RespondingTo: env.ID,
			Payload:      resp,
		})
		if err != nil {
			glog.Errorf("guest %v: could not encode response: %v", p.id, err)
			if err := reply(p.ctx, nil, jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())); err != nil {
				glog.Warningf("guest %v: reply: %v", p.id, err)
			}
			return
		}
		if err := reply(p.ctx, &Frame{Payload: b}, nil); err != nil {
			glog.Warningf("guest %v: reply: %v", p.id, err)
		}
	}()
}
