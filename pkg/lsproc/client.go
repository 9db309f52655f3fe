// Package lsproc runs a language server and talks to it over JSON-RPC.
package lsproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"unicode/utf8"

	"github.com/davecgh/go-spew/spew"
	"github.com/golang/glog"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/filmil/lspbridge/pkg/config"
	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/text"
)

// ErrClosed is returned for calls on a client whose connection is gone.
var ErrClosed = errors.New("language server connection closed")

// ClientName is sent to the server in initialize.
const ClientName = "lspbridge"

// Client is a connection to an initialized language server.
type Client struct {
	conn jsonrpc2.Conn
	// Set when the server was started by Start.
	cmd *exec.Cmd

	root    string
	folders []lsp.WorkspaceFolder

	// From the initialize response.
	serverInfo   *lsp.ServerInfo
	capabilities lsp.ServerCapabilities

	mu          sync.Mutex
	versions    map[uri.URI]int32
	gotShutdown bool
}

// Start runs the configured server as a child process, and initializes it.
func Start(ctx context.Context, s config.Server) (*Client, error) {
	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.Root
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start: %v: %w", s.Command, err)
	}
	glog.Infof("started language server: %v %v (pid %d)", s.Command, s.Args, cmd.Process.Pid)
	c, err := Attach(ctx, &pipeConn{r: stdout, w: stdin}, s.Root)
	if err != nil {
		if err := cmd.Process.Kill(); err != nil {
			glog.Warningf("could not kill %v: %v", s.Command, err)
		}
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

// Attach initializes a server reachable over rwc. root is the workspace
// folder, and may be empty.
func Attach(ctx context.Context, rwc io.ReadWriteCloser, root string) (*Client, error) {
	c := &Client{
		conn:     jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		root:     root,
		versions: map[uri.URI]int32{},
	}
	if root != "" {
		u, err := lspext.FileURI(root)
		if err != nil {
			return nil, fmt.Errorf("bad workspace root: %w", err)
		}
		c.folders = []lsp.WorkspaceFolder{{URI: string(u), Name: root}}
	}
	c.conn.Go(context.Background(), c.GetHandlerFunc())
	if err := c.initialize(ctx); err != nil {
		c.conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	p := lsp.InitializeParams{
		ProcessID:        int32(os.Getpid()),
		ClientInfo:       &lsp.ClientInfo{Name: ClientName},
		WorkspaceFolders: c.folders,
	}
	if len(c.folders) > 0 {
		p.RootURI = uri.URI(c.folders[0].URI)
	}
	glog.V(1).Infof("initialize: Request: %v", spew.Sdump(p)) // This is expensive.
	var r lsp.InitializeResult
	if _, err := c.Call(ctx, lsp.MethodInitialize, &p, &r); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	glog.V(1).Infof("initialize: Response: %v", spew.Sdump(r)) // This is expensive.
	c.serverInfo = r.ServerInfo
	c.capabilities = r.Capabilities
	if err := c.Notify(ctx, lsp.MethodInitialized, &lsp.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized: %w", err)
	}
	return nil
}

// ServerInfo is what the server said about itself, or nil.
func (c *Client) ServerInfo() *lsp.ServerInfo { return c.serverInfo }

func (c *Client) Capabilities() lsp.ServerCapabilities { return c.capabilities }

func (c *Client) Root() string { return c.root }

// Done is closed when the connection to the server ends.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Call implements lspext.LanguageServer. The call fails with ErrClosed if
// the connection ends while it waits.
func (c *Client) Call(ctx context.Context, method string, params, result any) (jsonrpc2.ID, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	glog.V(2).Infof("call: %v", method)
	id, err := c.conn.Call(ctx, method, params, result)
	if err != nil {
		select {
		case <-c.conn.Done():
			return id, fmt.Errorf("%v: %w", method, ErrClosed)
		default:
		}
	}
	return id, err
}

func (c *Client) Notify(ctx context.Context, method string, params any) error {
	select {
	case <-c.conn.Done():
		return fmt.Errorf("%v: %w", method, ErrClosed)
	default:
	}
	glog.V(2).Infof("notify: %v", method)
	return c.conn.Notify(ctx, method, params)
}

// DidOpen tells the server that the client now owns the file at path.
func (c *Client) DidOpen(ctx context.Context, path, languageID, content string) error {
	u, err := lspext.FileURI(path)
	if err != nil {
		return err
	}
	if _, _, ok := c.Workspace(path); !ok && len(c.folders) > 0 {
		glog.Warningf("DidOpen: %v is outside of the workspace %v", path, c.root)
	}
	c.mu.Lock()
	c.versions[u] = 1
	c.mu.Unlock()
	return c.Notify(ctx, lsp.MethodTextDocumentDidOpen, &lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        u,
			LanguageID: lsp.LanguageIdentifier(languageID),
			Version:    1,
			Text:       content,
		},
	})
}

// Workspace returns the workspace folder URI that path belongs to, and the
// path relative to it.
func (c *Client) Workspace(path string) (string, string, bool) {
	u, err := lspext.FileURI(path)
	if err != nil {
		return "", "", false
	}
	return lspext.FindWorkspace(c.folders, u)
}

// DidChange sends the difference between two snapshots of an open file.
func (c *Client) DidChange(ctx context.Context, path string, before, after *text.Snapshot) error {
	u, err := lspext.FileURI(path)
	if err != nil {
		return err
	}
	if before.Text() == after.Text() {
		return nil
	}
	c.mu.Lock()
	v, ok := c.versions[u]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("didChange: not open: %v", path)
	}
	v++
	c.versions[u] = v
	c.mu.Unlock()
	p := lsp.DidChangeTextDocumentParams{
		TextDocument: lsp.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: u},
			Version:                v,
		},
		ContentChanges: []lsp.TextDocumentContentChangeEvent{ChangeEvent(before, after)},
	}
	glog.V(3).Infof("didChange: Request: %v", spew.Sdump(p)) // This is expensive.
	return c.Notify(ctx, lsp.MethodTextDocumentDidChange, &p)
}

func (c *Client) DidClose(ctx context.Context, path string) error {
	u, err := lspext.FileURI(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.versions, u)
	c.mu.Unlock()
	return c.Notify(ctx, lsp.MethodTextDocumentDidClose, &lsp.DidCloseTextDocumentParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: u},
	})
}

// ChangeEvent returns a single range change that turns before into after.
func ChangeEvent(before, after *text.Snapshot) lsp.TextDocumentContentChangeEvent {
	o, n := before.Text(), after.Text()
	prefix := 0
	for prefix < len(o) && prefix < len(n) && o[prefix] == n[prefix] {
		prefix++
	}
	for prefix > 0 && (!runeStart(o, prefix) || !runeStart(n, prefix)) {
		prefix--
	}
	suffix := 0
	for suffix < len(o)-prefix && suffix < len(n)-prefix && o[len(o)-1-suffix] == n[len(n)-1-suffix] {
		suffix++
	}
	for suffix > 0 && (!runeStart(o, len(o)-suffix) || !runeStart(n, len(n)-suffix)) {
		suffix--
	}
	return lsp.TextDocumentContentChangeEvent{
		Range: lsp.Range{
			Start: text.PointToLSP(before.PointFromOffset(prefix)),
			End:   text.PointToLSP(before.PointFromOffset(len(o) - suffix)),
		},
		Text: n[prefix : len(n)-suffix],
	}
}

func runeStart(s string, i int) bool {
	return i >= len(s) || utf8.RuneStart(s[i])
}

// Shutdown asks the server to shut down, and then to exit. A server started
// by Start is waited for.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	done := c.gotShutdown
	c.gotShutdown = true
	c.mu.Unlock()
	if done {
		return nil
	}
	var errs []error
	if _, err := c.Call(ctx, lsp.MethodShutdown, nil, nil); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := c.Notify(ctx, lsp.MethodExit, nil); err != nil {
		errs = append(errs, fmt.Errorf("exit: %w", err))
	}
	if err := c.conn.Close(); err != nil {
		glog.V(1).Infof("close: %v", err)
	}
	if c.cmd != nil {
		if err := c.cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("wait: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close drops the connection without the shutdown handshake.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetHandlerFunc returns the handler for requests and notifications the
// server sends to the client.
func (c *Client) GetHandlerFunc() jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		glog.V(2).Infof("server -> client: %v", req.Method())
		defer func() {
			glog.Flush()
		}()

		switch req.Method() {
		case lsp.MethodWindowLogMessage, lsp.MethodWindowShowMessage:
			var p lsp.LogMessageParams
			if err := json.Unmarshal(req.Params(), &p); err != nil {
				glog.Warningf("%v: could not decode: %v", req.Method(), err)
				return nil
			}
			switch p.Type {
			case lsp.MessageTypeError:
				glog.Errorf("language server: %v", p.Message)
			case lsp.MessageTypeWarning:
				glog.Warningf("language server: %v", p.Message)
			default:
				glog.V(1).Infof("language server: %v", p.Message)
			}
			return nil
		case lsp.MethodTextDocumentPublishDiagnostics:
			glog.V(4).Infof("diagnostics: %s", req.Params())
			return nil
		}
		if _, ok := req.(*jsonrpc2.Call); !ok {
			return nil
		}
		// Requests such as workspace/configuration or
		// client/registerCapability are accepted without doing anything.
		return reply(ctx, nil, nil)
	}
}

var _ lspext.LanguageServer = (*Client)(nil)
