package lspext

import (
	lsp "go.lsp.dev/protocol"

	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/text"
)

const OpenDocsMethod = `experimental/externalDocs`

type OpenDocsParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
	Position     lsp.Position               `json:"position"`
}

// DocsURLs are the documentation links for a symbol. Either may be absent.
type DocsURLs struct {
	Web   *string `json:"web,omitempty"`
	Local *string `json:"local,omitempty"`
}

func (d DocsURLs) IsEmpty() bool {
	return d.Web == nil && d.Local == nil
}

// OpenDocs looks up external documentation for the symbol at Position.
type OpenDocs struct {
	Position text.Anchor
}

var _ Command[DocsURLs] = OpenDocs{}

// NewOpenDocs anchors p in snap.
func NewOpenDocs(snap *text.Snapshot, p text.PointUTF16) OpenDocs {
	return OpenDocs{Position: snap.AnchorBefore(p)}
}

// OpenDocsFromProto rebuilds the command sent by a peer.
func OpenDocsFromProto(msg *proto.LspExtOpenDocs, snap *text.Snapshot) (OpenDocs, error) {
	a, err := anchorFromProto(msg.Position, snap)
	if err != nil {
		return OpenDocs{}, err
	}
	return OpenDocs{Position: a}, nil
}

func (OpenDocs) DisplayName() string { return "Open docs" }

func (OpenDocs) Method() string { return OpenDocsMethod }

func (c OpenDocs) ToLSP(path string, snap *text.Snapshot) (any, error) {
	u, err := FileURI(path)
	if err != nil {
		return nil, err
	}
	p, err := resolve(snap, c.Position)
	if err != nil {
		return nil, err
	}
	return &OpenDocsParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: u},
		Position:     text.PointToLSP(p),
	}, nil
}

func (OpenDocs) ResponseFromLSP(msg *DocsURLs) DocsURLs {
	if msg == nil {
		return DocsURLs{}
	}
	return *msg
}

func (c OpenDocs) ToProto(projectID uint64, snap *text.Snapshot) proto.Request {
	return &proto.LspExtOpenDocs{
		ProjectID: projectID,
		BufferID:  uint64(snap.ID()),
		Position:  proto.SerializeAnchor(c.Position),
	}
}

func (OpenDocs) ResponseToProto(resp DocsURLs) proto.Message {
	return &proto.LspExtOpenDocsResponse{Web: resp.Web, Local: resp.Local}
}

func (c OpenDocs) ResponseFromProto(msg proto.Message) (DocsURLs, error) {
	m, ok := msg.(*proto.LspExtOpenDocsResponse)
	if !ok {
		return DocsURLs{}, unexpected(c.DisplayName(), msg)
	}
	return DocsURLs{Web: m.Web, Local: m.Local}, nil
}
