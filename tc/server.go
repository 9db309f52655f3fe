package tc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/golang/glog"
	"go.lsp.dev/jsonrpc2"
)

// Message is a request or notification received by a Server.
type Message struct {
	Method string
	Params json.RawMessage
	// Notify is set for notifications.
	Notify bool
}

// Decode unmarshals the params into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Params, v)
}

type reply struct {
	result any
	err    error
	// If set, the reply waits until this is closed.
	release chan struct{}
}

// Server is a fake language server. It answers calls with the reply set for
// the method, and method not found otherwise. It records everything it
// receives.
type Server struct {
	mu       sync.Mutex
	replies  map[string]reply
	received []Message
	waiting  chan string
}

func NewServer() *Server {
	return &Server{
		replies: map[string]reply{},
		waiting: make(chan string, 100),
	}
}

// On sets the reply to calls of method. A nil result is sent as null.
func (s *Server) On(method string, result any, err error) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[method] = reply{result: result, err: err}
	return s
}

// Block makes calls of method wait until the returned function is called.
// The method name is sent on Waiting each time a call starts waiting.
func (s *Server) Block(method string, result any) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.replies[method] = reply{result: result, release: ch}
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Waiting receives the method of each call that starts blocking.
func (s *Server) Waiting() <-chan string { return s.waiting }

// Received returns a copy of everything received so far.
func (s *Server) Received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]Message, len(s.received))
	copy(ret, s.received)
	return ret
}

// Calls returns the received calls of method.
func (s *Server) Calls(method string) []Message {
	var ret []Message
	for _, m := range s.Received() {
		if m.Method == method && !m.Notify {
			ret = append(ret, m)
		}
	}
	return ret
}

// Notifications returns the received notifications of method.
func (s *Server) Notifications(method string) []Message {
	var ret []Message
	for _, m := range s.Received() {
		if m.Method == method && m.Notify {
			ret = append(ret, m)
		}
	}
	return ret
}

func (s *Server) handle(ctx context.Context, r jsonrpc2.Replier, req jsonrpc2.Request) error {
	_, notify := req.(*jsonrpc2.Notification)
	s.mu.Lock()
	s.received = append(s.received, Message{
		Method: req.Method(),
		Params: append(json.RawMessage(nil), req.Params()...),
		Notify: notify,
	})
	rep, ok := s.replies[req.Method()]
	s.mu.Unlock()
	if notify {
		return nil
	}
	if !ok {
		return jsonrpc2.MethodNotFoundHandler(ctx, r, req)
	}
	if rep.release == nil {
		return r(ctx, rep.result, rep.err)
	}
	go func() {
		s.waiting <- req.Method()
		select {
		case <-rep.release:
			if err := r(ctx, rep.result, rep.err); err != nil {
				glog.Warningf("fake server: reply to %v: %v", req.Method(), err)
			}
		case <-ctx.Done():
		}
	}()
	return nil
}

// Pipe starts the server on one end of an in-memory pipe, and returns the
// other end. The server is stopped when the test ends.
func (s *Server) Pipe(t testing.TB) io.ReadWriteCloser {
	t.Helper()
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	server := jsonrpc2.NewConn(jsonrpc2.NewStream(a))
	server.Go(ctx, s.handle)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return b
}

// Dial connects a client to the server over an in-memory pipe. Both ends are
// closed when the test ends.
func (s *Server) Dial(t testing.TB) jsonrpc2.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client := jsonrpc2.NewConn(jsonrpc2.NewStream(s.Pipe(t)))
	client.Go(ctx, jsonrpc2.MethodNotFoundHandler)
	t.Cleanup(func() {
		cancel()
		client.Close()
	})
	return client
}

// String lists what the server received, for test failure messages.
func (s *Server) String() string {
	var ret string
	for _, m := range s.Received() {
		ret += fmt.Sprintf("%s %s\n", m.Method, m.Params)
	}
	return ret
}
