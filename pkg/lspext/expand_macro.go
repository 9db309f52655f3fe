package lspext

import (
	lsp "go.lsp.dev/protocol"

	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/text"
)

const ExpandMacroMethod = `rust-analyzer/expandMacro`

type ExpandMacroParams struct {
	TextDocument lsp.TextDocumentIdentifier `json:"textDocument"`
	Position     lsp.Position               `json:"position"`
}

// ExpandedMacro is the result of ExpandMacro.
type ExpandedMacro struct {
	Name      string `json:"name"`
	Expansion string `json:"expansion"`
}

func (m ExpandedMacro) IsEmpty() bool {
	return m.Name == "" && m.Expansion == ""
}

// ExpandMacro expands the macro call at Position.
type ExpandMacro struct {
	Position text.Anchor
}

var _ Command[ExpandedMacro] = ExpandMacro{}

// NewExpandMacro anchors p in snap.
func NewExpandMacro(snap *text.Snapshot, p text.PointUTF16) ExpandMacro {
	return ExpandMacro{Position: snap.AnchorBefore(p)}
}

// ExpandMacroFromProto rebuilds the command sent by a peer.
func ExpandMacroFromProto(msg *proto.LspExtExpandMacro, snap *text.Snapshot) (ExpandMacro, error) {
	a, err := anchorFromProto(msg.Position, snap)
	if err != nil {
		return ExpandMacro{}, err
	}
	return ExpandMacro{Position: a}, nil
}

func (ExpandMacro) DisplayName() string { return "Expand macro" }

func (ExpandMacro) Method() string { return ExpandMacroMethod }

func (c ExpandMacro) ToLSP(path string, snap *text.Snapshot) (any, error) {
	doc, err := TextDocumentIdentifier(path)
	if err != nil {
		return nil, err
	}
	p, err := resolve(snap, c.Position)
	if err != nil {
		return nil, err
	}
	return &ExpandMacroParams{TextDocument: doc, Position: text.PointToLSP(p)}, nil
}

func (ExpandMacro) ResponseFromLSP(msg *ExpandedMacro) ExpandedMacro {
	if msg == nil {
		return ExpandedMacro{}
	}
	return *msg
}

func (c ExpandMacro) ToProto(projectID uint64, snap *text.Snapshot) proto.Request {
	return &proto.LspExtExpandMacro{
		ProjectID: projectID,
		BufferID:  uint64(snap.ID()),
		Position:  proto.SerializeAnchor(c.Position),
	}
}

func (ExpandMacro) ResponseToProto(resp ExpandedMacro) proto.Message {
	return &proto.LspExtExpandMacroResponse{Name: resp.Name, Expansion: resp.Expansion}
}

func (c ExpandMacro) ResponseFromProto(msg proto.Message) (ExpandedMacro, error) {
	m, ok := msg.(*proto.LspExtExpandMacroResponse)
	if !ok {
		return ExpandedMacro{}, unexpected(c.DisplayName(), msg)
	}
	return ExpandedMacro{Name: m.Name, Expansion: m.Expansion}, nil
}
