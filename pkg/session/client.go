package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"go.lsp.dev/jsonrpc2"

	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/proto"
)

// cancelTimeout bounds the cancel notification sent for an abandoned
// request.
const cancelTimeout = time.Second

// Client is a guest's connection to the host.
type Client struct {
	conn      jsonrpc2.Conn
	seq       atomic.Uint32
	onMessage func(ctx context.Context, msg proto.Message)
}

// Dial connects to a host listening at addr, e.g. a unix socket path.
func Dial(ctx context.Context, network, addr string, onMessage func(context.Context, proto.Message)) (*Client, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("could not dial: %v: %w", addr, err)
	}
	return NewClient(c, onMessage), nil
}

// NewClient starts a session over rwc. onMessage receives the messages the
// host pushes, one at a time, and may be nil. It runs on the session's read
// loop, so it must not wait for a Request.
func NewClient(rwc io.ReadWriteCloser, onMessage func(context.Context, proto.Message)) *Client {
	c := &Client{
		conn:      jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		onMessage: onMessage,
	}
	c.conn.Go(context.Background(), c.GetHandlerFunc())
	return c
}

// Request implements lspext.Upstream.
func (c *Client) Request(ctx context.Context, msg proto.Message) (proto.Message, error) {
	id := c.seq.Add(1)
	b, err := proto.MarshalEnvelope(&proto.Envelope{ID: id, Payload: msg})
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.conn.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()
	glog.V(2).Infof("request %v: %v", id, msg.MessageName())
	var f Frame
	if _, err := c.conn.Call(callCtx, MessageCmd, &Frame{Payload: b}, &f); err != nil {
		select {
		case <-c.conn.Done():
			return nil, fmt.Errorf("%v: %w", msg.MessageName(), ErrClosed)
		default:
		}
		if ctx.Err() != nil {
			c.cancelRequest(id)
		}
		return nil, fmt.Errorf("%v: %w", msg.MessageName(), err)
	}
	env, err := proto.UnmarshalEnvelope(f.Payload)
	if err != nil {
		return nil, fmt.Errorf("%v: response: %w", msg.MessageName(), err)
	}
	if env.RespondingTo != id {
		return nil, fmt.Errorf("%v: response to %v, want %v", msg.MessageName(), env.RespondingTo, id)
	}
	if pe, ok := env.Payload.(*proto.Error); ok {
		return nil, pe
	}
	return env.Payload, nil
}

func (c *Client) cancelRequest(id uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := c.conn.Notify(ctx, CancelCmd, &Cancel{ID: id}); err != nil {
		glog.V(1).Infof("cancel %v: %v", id, err)
	}
}

// Done is closed when the session ends.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.conn.Done()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// GetHandlerFunc returns the handler for messages the host pushes.
func (c *Client) GetHandlerFunc() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() != MessageCmd {
			return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
		}
		var f Frame
		if err := json.Unmarshal(req.Params(), &f); err != nil {
			glog.Warningf("host message: %v", err)
			return nil
		}
		env, err := proto.UnmarshalEnvelope(f.Payload)
		if err != nil {
			glog.Warningf("host message: %v", err)
			return nil
		}
		glog.V(2).Infof("host message %v: %v", env.ID, env.Payload.MessageName())
		if c.onMessage != nil {
			c.onMessage(ctx, env.Payload)
		}
		if _, ok := req.(*jsonrpc2.Call); ok {
			return reply(ctx, nil, nil)
		}
		return nil
	}
}

var _ lspext.Upstream = (*Client)(nil)
