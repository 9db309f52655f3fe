package lspext

import (
	"path/filepath"
	"strings"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

func checkPath(path string) error {
	if path == "" || strings.ContainsRune(path, 0) || !filepath.IsAbs(path) {
		return newError(InvalidPath, nil, "%q is not an absolute file path", path)
	}
	return nil
}

// TextDocumentIdentifier names the file at path the way a language server
// expects.
func TextDocumentIdentifier(path string) (lsp.TextDocumentIdentifier, error) {
	if err := checkPath(path); err != nil {
		return lsp.TextDocumentIdentifier{}, err
	}
	return lsp.TextDocumentIdentifier{URI: uri.File(path)}, nil
}

// FileURI builds a file URI from path directly, without cleaning it up
// first.
func FileURI(path string) (uri.URI, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	return uri.From(uri.FileScheme, "", filepath.ToSlash(path), "", ""), nil
}

// RPath returns a file path relative to the given workspace.
// ws is the string representation of a workspace URI, e.g. "file:///ws".
// For "file:///ws/file.txt" it returns "/file.txt", a path rooted in ws.
// Returns false if the file is not in ws.
func RPath(ws string, fileURI lsp.URI) (string, bool) {
	f := string(fileURI)
	if ws == "" || !strings.HasPrefix(f, ws) {
		return "", false
	}
	rest := strings.TrimPrefix(f, ws)
	if rest != "" && !strings.HasPrefix(rest, "/") && !strings.HasSuffix(ws, "/") {
		// "file:///ws2/x" is not in "file:///ws".
		return "", false
	}
	return rest, true
}

// FindWorkspace finds the innermost workspace that the file with uri
// fileURI belongs to. Returns the workspace URI encoded as string, and the
// path of the file relative to it.
//
// Example:
//
//	For "file:///ws/file.txt" in workspace "file:///ws", returns:
//	("file:///ws", "/file.txt", true)
func FindWorkspace(w []lsp.WorkspaceFolder, fileURI lsp.URI) (string, string, bool) {
	var p, f string
	for _, ws := range w {
		if len(ws.URI) <= len(p) {
			continue
		}
		if r, ok := RPath(ws.URI, fileURI); ok {
			p, f = ws.URI, r
		}
	}
	return p, f, p != ""
}
