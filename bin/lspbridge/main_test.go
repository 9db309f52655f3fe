package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	lsp "go.lsp.dev/protocol"

	"github.com/filmil/lspbridge/pkg/config"
	"github.com/filmil/lspbridge/pkg/lspext"
	"github.com/filmil/lspbridge/pkg/lsproc"
	"github.com/filmil/lspbridge/pkg/project"
	"github.com/filmil/lspbridge/pkg/session"
	"github.com/filmil/lspbridge/pkg/store"
	"github.com/filmil/lspbridge/pkg/text"
	"github.com/filmil/lspbridge/tc"
)

func newProject(t *testing.T, srv *tc.Server) *project.Project {
	t.Helper()
	ls, err := lsproc.Attach(context.Background(), srv.Pipe(t), "/src")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	return project.New(project.Options{ProjectID: 1, Server: ls, LanguageID: "cpp"})
}

func TestRunCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	web := "https://docs.rs/std"
	srv := tc.NewServer().
		On(lsp.MethodInitialize, lsp.InitializeResult{}, nil).
		On(lspext.SwitchSourceHeaderMethod, "file:///src/foo.h", nil).
		On(lspext.OpenDocsMethod, lspext.DocsURLs{Web: &web}, nil)
	p := newProject(t, srv)
	tc.Must(p.OpenBuffer(ctx, "/src/foo.cpp", "int main() {}\n"))

	tests := []struct {
		req      commandRequest
		expected string
	}{
		{commandRequest{name: cmdSwitchSourceHeader, file: "/src/foo.cpp"}, "\"file:///src/foo.h\"\n"},
		{commandRequest{name: cmdOpenDocs, file: "/src/foo.cpp", pos: text.PointUTF16{Row: 0, Column: 5}}, "{\n  \"web\": \"https://docs.rs/std\"\n}\n"},
		{commandRequest{name: cmdExpandMacro, file: "/src/foo.cpp"}, "{\n  \"name\": \"\",\n  \"expansion\": \"\"\n}\n"},
	}
	for _, test := range tests {
		var out bytes.Buffer
		if err := runCommand(ctx, p, test.req, &out); err != nil {
			t.Fatalf("%v: %v", test.req.name, err)
		}
		if out.String() != test.expected {
			t.Errorf("%v: want: %q, got: %q", test.req.name, test.expected, out.String())
		}
	}

	for _, req := range []commandRequest{
		{name: "frobnicate", file: "/src/foo.cpp"},
		{name: cmdSwitchSourceHeader, file: "/src/bar.cpp"},
	} {
		if err := runCommand(ctx, p, req, &bytes.Buffer{}); err == nil {
			t.Errorf("%+v: want error", req)
		}
	}
}

func TestRunGuest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := tc.NewServer().
		On(lsp.MethodInitialize, lsp.InitializeResult{}, nil).
		On(lspext.SwitchSourceHeaderMethod, "file:///src/foo.h", nil)
	host := newProject(t, srv)
	tc.Must(host.OpenBuffer(ctx, "/src/foo.cpp", "int main() {}\n"))

	sock := filepath.Join(t.TempDir(), "bridge.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	h := session.NewHost(ctx, host)
	host.SetBroadcaster(h)
	go h.Serve(l)
	defer h.Close()

	cfg := config.Default()
	cfg.Socket = sock
	var out bytes.Buffer
	req := commandRequest{name: cmdSwitchSourceHeader, file: "/src/foo.cpp"}
	if err := runGuest(ctx, cfg, req, &out); err != nil {
		t.Fatalf("runGuest: %v", err)
	}
	if want := "\"file:///src/foo.h\"\n"; out.String() != want {
		t.Errorf("want: %q, got: %q", want, out.String())
	}
}

func TestOpenDB(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	name := filepath.Join(t.TempDir(), "history.db")
	db, err := openDB(name)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	tc.Must1(store.SaveBuffer(ctx, db, 1, store.Buffer{ID: 1, Path: "/src/a.rs"}))
	tc.Must1(db.Close())
	if _, err := os.Stat(name); err != nil {
		t.Fatalf("no database file: %v", err)
	}

	// Reopening keeps the contents.
	db, err = openDB(name)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	defer db.Close()
	bufs := tc.Must(store.GetBuffers(ctx, db, 1))
	if len(bufs) != 1 || bufs[0].Path != "/src/a.rs" {
		t.Errorf("unexpected buffers: %+v", bufs)
	}
}
