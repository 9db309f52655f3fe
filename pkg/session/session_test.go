package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/tc"
)

// testHandler answers JoinProject, fails UpdateBuffer with a proto error,
// and blocks on ExpandMacro until the request is cancelled.
type testHandler struct {
	cancelled chan struct{}
	started   chan struct{}
}

func newTestHandler() *testHandler {
	return &testHandler{
		cancelled: make(chan struct{}, 1),
		started:   make(chan struct{}, 1),
	}
}

func (h *testHandler) HandleRequest(ctx context.Context, peer PeerID, msg proto.Message) (proto.Message, error) {
	switch m := msg.(type) {
	case *proto.JoinProject:
		return &proto.JoinProjectResponse{ProjectID: m.ProjectID, ReplicaID: 1}, nil
	case *proto.UpdateBuffer:
		return nil, &proto.Error{Code: proto.ErrorNoSuchBuffer, Message: fmt.Sprintf("buffer %d", m.BufferID)}
	case *proto.LspExtExpandMacro:
		h.started <- struct{}{}
		<-ctx.Done()
		h.cancelled <- struct{}{}
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("unsupported: %v", msg.MessageName())
}

func newSession(t *testing.T, h Handler, onMessage func(context.Context, proto.Message)) (*Host, *Client) {
	t.Helper()
	host := NewHost(context.Background(), h)
	t.Cleanup(func() { host.Close() })
	a, b := net.Pipe()
	host.ServeConn(a)
	c := NewClient(b, onMessage)
	t.Cleanup(func() { c.Close() })
	return host, c
}

func TestRequest(t *testing.T) {
	t.Parallel()
	_, c := newSession(t, newTestHandler(), nil)
	ctx := context.Background()

	resp, err := c.Request(ctx, &proto.JoinProject{ProjectID: 3})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if diff := cmp.Diff(&proto.JoinProjectResponse{ProjectID: 3, ReplicaID: 1}, resp); diff != "" {
		t.Errorf("diff (-want +got):\n%v", diff)
	}

	tests := []struct {
		msg  proto.Message
		code proto.ErrorCode
	}{
		{&proto.UpdateBuffer{ProjectID: 3, BufferID: 9}, proto.ErrorNoSuchBuffer},
		{&proto.LspExtSwitchSourceHeader{ProjectID: 3, BufferID: 1}, proto.ErrorInternal},
	}
	for _, test := range tests {
		_, err := c.Request(ctx, test.msg)
		var pe *proto.Error
		if !errors.As(err, &pe) {
			t.Fatalf("%v: want *proto.Error, got: %v", test.msg.MessageName(), err)
		}
		if pe.Code != test.code {
			t.Errorf("%v: want: %v, got: %v", test.msg.MessageName(), test.code, pe.Code)
		}
	}
}

func TestRequestCancel(t *testing.T) {
	t.Parallel()
	h := newTestHandler()
	_, c := newSession(t, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, &proto.LspExtExpandMacro{ProjectID: 1, BufferID: 1, Position: &proto.Anchor{}})
		errs <- err
	}()
	<-h.started
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Errorf("want canceled, got: %v", err)
	}
	// The host stops working on it too.
	<-h.cancelled

	// The session is still usable.
	if _, err := c.Request(context.Background(), &proto.JoinProject{ProjectID: 1}); err != nil {
		t.Errorf("Request: %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	host := NewHost(context.Background(), newTestHandler())
	defer host.Close()

	received := make([]chan proto.Message, 2)
	var ids []PeerID
	for i := range received {
		ch := make(chan proto.Message, 10)
		received[i] = ch
		a, b := net.Pipe()
		ids = append(ids, host.ServeConn(a))
		c := NewClient(b, func(_ context.Context, m proto.Message) { ch <- m })
		defer c.Close()
	}
	if got := len(host.Peers()); got != 2 {
		t.Fatalf("want 2 peers, got: %v", got)
	}

	msg := &proto.UpdateBuffer{ProjectID: 1, BufferID: 2}
	tc.Must1(host.Broadcast(context.Background(), ids[0], msg))
	tc.Must1(host.Broadcast(context.Background(), uuid.Nil, &proto.Ack{}))

	if diff := cmp.Diff(msg, <-received[1]); diff != "" {
		t.Errorf("diff (-want +got):\n%v", diff)
	}
	if _, ok := (<-received[1]).(*proto.Ack); !ok {
		t.Errorf("want Ack")
	}
	if _, ok := (<-received[0]).(*proto.Ack); !ok {
		t.Errorf("the excluded peer should only get the Ack")
	}
}

func TestHostClose(t *testing.T) {
	t.Parallel()
	host, c := newSession(t, newTestHandler(), nil)
	tc.Must1(host.Close())
	<-c.Done()
	if _, err := c.Request(context.Background(), &proto.JoinProject{ProjectID: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("want ErrClosed, got: %v", err)
	}
	if got := host.Peers(); len(got) != 0 {
		t.Errorf("want no peers, got: %v", got)
	}
}

func TestServeAndDial(t *testing.T) {
	t.Parallel()
	sock := filepath.Join(t.TempDir(), "s.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	host := NewHost(context.Background(), newTestHandler())
	served := make(chan error, 1)
	go func() { served <- host.Serve(l) }()

	c, err := Dial(context.Background(), "unix", sock, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := c.Request(context.Background(), &proto.JoinProject{ProjectID: 1}); err != nil {
		t.Errorf("Request: %v", err)
	}
	tc.Must1(host.Close())
	if err := <-served; err != nil {
		t.Errorf("Serve: %v", err)
	}
	<-c.Done()
}
