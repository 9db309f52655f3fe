package lspext

import (
	"errors"
	"fmt"
	"testing"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func TestTextDocumentIdentifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path     string
		expected uri.URI
		err      error
	}{
		{"/src/main.rs", "file:///src/main.rs", nil},
		{"/src/dir with space/foo.cpp", "file:///src/dir%20with%20space/foo.cpp", nil},
		{"src/main.rs", "", ErrInvalidPath},
		{"", "", ErrInvalidPath},
		{"/src/\x00.rs", "", ErrInvalidPath},
	}
	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			a, err := TextDocumentIdentifier(test.path)
			if !errors.Is(err, test.err) {
				t.Fatalf("want: %v, got: %v", test.err, err)
			}
			if a.URI != test.expected {
				t.Errorf("want: %v, got: %v", test.expected, a.URI)
			}
			u, err := FileURI(test.path)
			if !errors.Is(err, test.err) {
				t.Fatalf("FileURI: want: %v, got: %v", test.err, err)
			}
			if u != test.expected {
				t.Errorf("FileURI: want: %v, got: %v", test.expected, u)
			}
		})
	}
}

func TestRPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		URI      lsp.URI
		ws       string
		expected string
		ok       bool
	}{
		{lsp.URI("file:///foobar/file.txt"), "file:///foobar", "/file.txt", true},
		{lsp.URI("file:///foobar/baz/file.txt"), "file:///foobar", "/baz/file.txt", true},
		{lsp.URI("file:///foobar2/file.txt"), "file:///foobar", "", false},
		{lsp.URI("file:///other/file.txt"), "file:///foobar", "", false},
	}

	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			a, ok := RPath(test.ws, test.URI)
			if a != test.expected || ok != test.ok {
				t.Errorf("want: %v, %v, got: %v, %v", test.expected, test.ok, a, ok)
			}
		})
	}
}

func TestFindWorkspace(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w      []lsp.WorkspaceFolder
		f      lsp.URI
		ws, fn string
		ok     bool
	}{
		{
			[]lsp.WorkspaceFolder{
				{URI: "file:///ws", Name: "ws"},
			},
			lsp.URI("file:///ws/file.txt"),
			"file:///ws", "/file.txt", true,
		},
		{
			[]lsp.WorkspaceFolder{
				{URI: "file:///ws", Name: "ws"},
				{URI: "file:///ws2", Name: "ws"},
			},
			lsp.URI("file:///ws2/file.txt"),
			"file:///ws2", "/file.txt", true,
		},
		{
			[]lsp.WorkspaceFolder{
				{URI: "file:///ws", Name: "ws"},
				{URI: "file:///ws/nested", Name: "nested"},
			},
			lsp.URI("file:///ws/nested/file.txt"),
			"file:///ws/nested", "/file.txt", true,
		},
		{
			[]lsp.WorkspaceFolder{
				{URI: "file:///ws", Name: "ws"},
			},
			lsp.URI("file:///elsewhere/file.txt"),
			"", "", false,
		},
	}

	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			aw, af, ok := FindWorkspace(test.w, test.f)
			if aw != test.ws || af != test.fn || ok != test.ok {
				t.Errorf("want: (%v, %v, %v), got: (%v, %v, %v)", test.ws, test.fn, test.ok, aw, af, ok)
			}
		})
	}
}
