package lspext

import (
	lsp "go.lsp.dev/protocol"

	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/text"
)

const SwitchSourceHeaderMethod = `textDocument/switchSourceHeader`

// SwitchSourceHeaderParams names the buffer to find the counterpart of.
type SwitchSourceHeaderParams lsp.TextDocumentIdentifier

// SwitchSourceHeaderResult is the URI of the counterpart file, or empty.
type SwitchSourceHeaderResult string

func (r SwitchSourceHeaderResult) IsEmpty() bool { return r == "" }

// SwitchSourceHeader finds the header of a source file, or the source of a
// header. It needs no position.
type SwitchSourceHeader struct{}

var _ Command[SwitchSourceHeaderResult] = SwitchSourceHeader{}

// SwitchSourceHeaderFromProto rebuilds the command sent by a peer. It can not
// fail, since the request carries nothing but addressing.
func SwitchSourceHeaderFromProto(*proto.LspExtSwitchSourceHeader, *text.Snapshot) (SwitchSourceHeader, error) {
	return SwitchSourceHeader{}, nil
}

func (SwitchSourceHeader) DisplayName() string { return "Switch source header" }

func (SwitchSourceHeader) Method() string { return SwitchSourceHeaderMethod }

func (SwitchSourceHeader) ToLSP(path string, _ *text.Snapshot) (any, error) {
	doc, err := TextDocumentIdentifier(path)
	if err != nil {
		return nil, err
	}
	p := SwitchSourceHeaderParams(doc)
	return &p, nil
}

func (SwitchSourceHeader) ResponseFromLSP(msg *SwitchSourceHeaderResult) SwitchSourceHeaderResult {
	if msg == nil {
		return ""
	}
	return *msg
}

func (SwitchSourceHeader) ToProto(projectID uint64, snap *text.Snapshot) proto.Request {
	return &proto.LspExtSwitchSourceHeader{ProjectID: projectID, BufferID: uint64(snap.ID())}
}

func (SwitchSourceHeader) ResponseToProto(resp SwitchSourceHeaderResult) proto.Message {
	return &proto.LspExtSwitchSourceHeaderResponse{TargetFile: string(resp)}
}

func (c SwitchSourceHeader) ResponseFromProto(msg proto.Message) (SwitchSourceHeaderResult, error) {
	m, ok := msg.(*proto.LspExtSwitchSourceHeaderResponse)
	if !ok {
		return "", unexpected(c.DisplayName(), msg)
	}
	return SwitchSourceHeaderResult(m.TargetFile), nil
}
