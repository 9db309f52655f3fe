package lsproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"

	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/text"
	"github.com/filmil/lspbridge/tc"
)

func newServer() *tc.Server {
	return tc.NewServer().
		On(lsp.MethodInitialize, lsp.InitializeResult{
			ServerInfo: &lsp.ServerInfo{Name: "fake", Version: "1.0"},
		}, nil).
		On(lsp.MethodShutdown, nil, nil)
}

func attach(t *testing.T, srv *tc.Server, root string) *Client {
	t.Helper()
	c, err := Attach(context.Background(), srv.Pipe(t), root)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAttach(t *testing.T) {
	t.Parallel()
	srv := newServer()
	c := attach(t, srv, "/src")
	if c.ServerInfo() == nil || c.ServerInfo().Name != "fake" {
		t.Errorf("unexpected server info: %+v", c.ServerInfo())
	}
	if c.Root() != "/src" {
		t.Errorf("Root: %v", c.Root())
	}
	calls := srv.Calls(lsp.MethodInitialize)
	if len(calls) != 1 {
		t.Fatalf("want one initialize, got:\n%v", srv)
	}
	var p lsp.InitializeParams
	if err := calls[0].Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []lsp.WorkspaceFolder{{URI: "file:///src", Name: "/src"}}
	if diff := cmp.Diff(want, p.WorkspaceFolders); diff != "" {
		t.Errorf("diff (-want +got):\n%v", diff)
	}
	if p.ClientInfo == nil || p.ClientInfo.Name != ClientName {
		t.Errorf("unexpected client info: %+v", p.ClientInfo)
	}
	tc.Eventually(t, func() bool {
		return len(srv.Notifications(lsp.MethodInitialized)) == 1
	}, "no initialized:\n%v", srv)
}

func TestWorkspace(t *testing.T) {
	t.Parallel()
	c := attach(t, newServer(), "/src")
	tests := []struct {
		path   string
		ws, fn string
		ok     bool
	}{
		{"/src/main.rs", "file:///src", "/main.rs", true},
		{"/src/a/foo.cpp", "file:///src", "/a/foo.cpp", true},
		{"/srcfoo/main.rs", "", "", false},
		{"relative.rs", "", "", false},
	}
	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			ws, fn, ok := c.Workspace(test.path)
			if ws != test.ws || fn != test.fn || ok != test.ok {
				t.Errorf("want: (%v, %v, %v), got: (%v, %v, %v)", test.ws, test.fn, test.ok, ws, fn, ok)
			}
		})
	}
}

func TestAttachFails(t *testing.T) {
	t.Parallel()
	srv := tc.NewServer().On(lsp.MethodInitialize, nil, errors.New("no"))
	if _, err := Attach(context.Background(), srv.Pipe(t), ""); err == nil {
		t.Errorf("want error")
	}
	if _, err := Attach(context.Background(), newServer().Pipe(t), "relative"); !errors.Is(err, lspext.ErrInvalidPath) {
		t.Errorf("want invalid path, got: %v", err)
	}
}

func TestChangeEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base       string
		start, end text.PointUTF16
		newText    string
		expected   lsp.TextDocumentContentChangeEvent
	}{
		{
			"fn main() {}\n", text.PointUTF16{Row: 0, Column: 3}, text.PointUTF16{Row: 0, Column: 7}, "start",
			lsp.TextDocumentContentChangeEvent{
				Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 3}, End: lsp.Position{Line: 0, Character: 7}},
				Text:  "start",
			},
		},
		{
			"ab", text.PointUTF16{Row: 0, Column: 1}, text.PointUTF16{Row: 0, Column: 1}, "\n",
			lsp.TextDocumentContentChangeEvent{
				Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 1}, End: lsp.Position{Line: 0, Character: 1}},
				Text:  "\n",
			},
		},
		{
			"a\nbc\nd", text.PointUTF16{Row: 0, Column: 1}, text.PointUTF16{Row: 2, Column: 0}, "",
			lsp.TextDocumentContentChangeEvent{
				Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 1}, End: lsp.Position{Line: 2, Character: 0}},
			},
		},
		{
			// Multi-byte characters sharing leading bytes are replaced whole.
			"a😀b", text.PointUTF16{Row: 0, Column: 1}, text.PointUTF16{Row: 0, Column: 3}, "😁",
			lsp.TextDocumentContentChangeEvent{
				Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 1}, End: lsp.Position{Line: 0, Character: 3}},
				Text:  "😁",
			},
		},
		{
			"aaa", text.PointUTF16{Row: 0, Column: 0}, text.PointUTF16{Row: 0, Column: 0}, "a",
			lsp.TextDocumentContentChangeEvent{
				Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 3}, End: lsp.Position{Line: 0, Character: 3}},
				Text:  "a",
			},
		},
	}
	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			b := text.NewBuffer(1, 0, test.base)
			before := b.Snapshot()
			b.Edit(test.start, test.end, test.newText)
			actual := ChangeEvent(before, b.Snapshot())
			if diff := cmp.Diff(test.expected, actual); diff != "" {
				t.Errorf("diff (-want +got):\n%v", diff)
			}
		})
	}
}

func TestDocumentSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := newServer()
	c := attach(t, srv, "/src")

	b := text.NewBuffer(1, 0, "fn main() {}\n")
	before := b.Snapshot()
	if err := c.DidChange(ctx, "/src/main.rs", before, before); err != nil {
		t.Errorf("no-op DidChange: %v", err)
	}
	if err := c.DidChange(ctx, "/src/other.rs", before, before); err != nil {
		t.Errorf("no-op DidChange on a closed file: %v", err)
	}
	if err := c.DidOpen(ctx, "/src/main.rs", "rust", b.Text()); err != nil {
		t.Fatalf("DidOpen: %v", err)
	}
	b.Edit(text.PointUTF16{Row: 1, Column: 0}, text.PointUTF16{Row: 1, Column: 0}, "// end\n")
	if err := c.DidChange(ctx, "/src/main.rs", before, b.Snapshot()); err != nil {
		t.Fatalf("DidChange: %v", err)
	}
	if err := c.DidClose(ctx, "/src/main.rs"); err != nil {
		t.Fatalf("DidClose: %v", err)
	}
	if err := c.DidChange(ctx, "/src/main.rs", before, b.Snapshot()); err == nil {
		t.Errorf("want error for a change after close")
	}
	if err := c.DidOpen(ctx, "main.rs", "rust", ""); !errors.Is(err, lspext.ErrInvalidPath) {
		t.Errorf("want invalid path, got: %v", err)
	}

	tc.Eventually(t, func() bool {
		return len(srv.Notifications(lsp.MethodTextDocumentDidClose)) == 1
	}, "no didClose:\n%v", srv)

	var open lsp.DidOpenTextDocumentParams
	tc.Must1(srv.Notifications(lsp.MethodTextDocumentDidOpen)[0].Decode(&open))
	if open.TextDocument.Version != 1 || open.TextDocument.LanguageID != "rust" || open.TextDocument.Text != "fn main() {}\n" {
		t.Errorf("unexpected didOpen: %+v", open)
	}
	changes := srv.Notifications(lsp.MethodTextDocumentDidChange)
	if len(changes) != 1 {
		t.Fatalf("want one didChange, got:\n%v", srv)
	}
	var change lsp.DidChangeTextDocumentParams
	tc.Must1(changes[0].Decode(&change))
	expected := lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: "file:///src/main.rs"},
			Version:                2,
		},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{{
			Range: lsp.Range{Start: lsp.Position{Line: 1}, End: lsp.Position{Line: 1}},
			Text:  "// end\n",
		}},
	}
	if diff := cmp.Diff(expected, change); diff != "" {
		t.Errorf("diff (-want +got):\n%v", diff)
	}
}

func TestRequestServer(t *testing.T) {
	t.Parallel()
	srv := newServer().On(lspext.ExpandMacroMethod, lspext.ExpandedMacro{Name: "vec!", Expansion: "Vec::new()"}, nil)
	c := attach(t, srv, "/src")

	b := text.NewBuffer(1, 0, "let v = vec![];\n")
	snap := b.Snapshot()
	cmd := lspext.NewExpandMacro(snap, text.PointUTF16{Row: 0, Column: 9})
	actual, err := lspext.RequestServer[lspext.ExpandedMacro](context.Background(), c, cmd, "/src/main.rs", snap)
	if err != nil {
		t.Fatalf("RequestServer: %v", err)
	}
	if diff := cmp.Diff(lspext.ExpandedMacro{Name: "vec!", Expansion: "Vec::new()"}, actual); diff != "" {
		t.Errorf("diff (-want +got):\n%v", diff)
	}
}

func TestCallAfterClose(t *testing.T) {
	t.Parallel()
	srv := newServer()
	release := srv.Block("slow/method", nil)
	defer release()
	c := attach(t, srv, "")

	errs := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "slow/method", nil, nil)
		errs <- err
	}()
	<-srv.Waiting()
	c.Close()
	if err := <-errs; !errors.Is(err, ErrClosed) {
		t.Errorf("want ErrClosed, got: %v", err)
	}
	<-c.Done()
	if err := c.Notify(context.Background(), "any", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("want ErrClosed, got: %v", err)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	srv := newServer()
	c := attach(t, srv, "")
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Only the first call does anything.
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	tc.Eventually(t, func() bool {
		return len(srv.Notifications(lsp.MethodExit)) == 1
	}, "no exit:\n%v", srv)
	if got := len(srv.Calls(lsp.MethodShutdown)); got != 1 {
		t.Errorf("want one shutdown, got: %v", got)
	}
}

func TestServerInitiatedRequests(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, b := net.Pipe()
	server := jsonrpc2.NewConn(jsonrpc2.NewStream(a))
	server.Go(ctx, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() == lsp.MethodInitialize {
			return reply(ctx, lsp.InitializeResult{}, nil)
		}
		if _, ok := req.(*jsonrpc2.Call); ok {
			return reply(ctx, nil, nil)
		}
		return nil
	})
	defer server.Close()

	c, err := Attach(ctx, b, "")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer c.Close()

	if err := server.Notify(ctx, lsp.MethodWindowLogMessage, &lsp.LogMessageParams{
		Type:    lsp.MessageTypeError,
		Message: "something broke",
	}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	for _, method := range []string{"workspace/configuration", "client/registerCapability"} {
		var result json.RawMessage
		if _, err := server.Call(ctx, method, map[string]any{}, &result); err != nil {
			t.Errorf("%v: %v", method, err)
		}
		if string(result) != "null" {
			t.Errorf("%v: want null, got: %s", method, result)
		}
	}
}
