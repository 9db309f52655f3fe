// Package lspext implements language server extension commands that work the
// same whether the language server runs in this process or at the project
// host on the other end of a session.
package lspext

import (
	"context"
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/golang/glog"
	"go.lsp.dev/jsonrpc2"

	"github.com/filmil/lspbridge/pkg/proto"
	"github.com/filmil/lspbridge/pkg/text"
)

// Response is the typed result of a command. Every response type has an
// empty value, used when the language server had nothing to say.
type Response interface {
	IsEmpty() bool
}

// LanguageServer calls a language server method. jsonrpc2.Conn satisfies it.
type LanguageServer interface {
	Call(ctx context.Context, method string, params, result any) (jsonrpc2.ID, error)
}

// Upstream sends a message to the project host and waits for the response.
// A failure reported by the host is returned as a *proto.Error.
type Upstream interface {
	Request(ctx context.Context, msg proto.Message) (proto.Message, error)
}

// Command is an extension request that can be sent straight to a language
// server, or to the project host as a peer message.
type Command[R Response] interface {
	// DisplayName is used in logs and errors.
	DisplayName() string
	// Method is the language server method.
	Method() string
	// ToLSP returns the language server params for the buffer at path.
	ToLSP(path string, snap *text.Snapshot) (any, error)
	// ResponseFromLSP converts the language server result. A nil msg means
	// the server returned nothing.
	ResponseFromLSP(msg *R) R
	// ToProto returns the peer request.
	ToProto(projectID uint64, snap *text.Snapshot) proto.Request
	// ResponseToProto returns the peer response.
	ResponseToProto(resp R) proto.Message
	// ResponseFromProto converts the peer response.
	ResponseFromProto(msg proto.Message) (R, error)
}

// BufferIDFromProto returns the buffer a peer request is about, without
// decoding the rest of it.
func BufferIDFromProto(req proto.Request) (text.BufferID, error) {
	return text.NewBufferID(req.GetBufferID())
}

// RequestServer runs cmd on a language server. A server that returns null,
// or does not know the method, yields the empty response.
func RequestServer[R Response](ctx context.Context, ls LanguageServer, cmd Command[R], path string, snap *text.Snapshot) (R, error) {
	var zero R
	params, err := cmd.ToLSP(path, snap)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", cmd.DisplayName(), err)
	}
	glog.V(2).Infof("%s: request: %v", cmd.Method(), spew.Sdump(params)) // This is expensive.
	var msg *R
	if _, err := ls.Call(ctx, cmd.Method(), params, &msg); err != nil {
		var je *jsonrpc2.Error
		if errors.As(err, &je) && je.Code == jsonrpc2.MethodNotFound {
			glog.V(1).Infof("%s: server does not implement %s", cmd.DisplayName(), cmd.Method())
			return cmd.ResponseFromLSP(nil), nil
		}
		return zero, fmt.Errorf("%s: %s: %w", cmd.DisplayName(), cmd.Method(), err)
	}
	return cmd.ResponseFromLSP(msg), nil
}

// RequestPeer sends cmd to the project host. Command errors reported by the
// host are returned as *Error of the same kind.
func RequestPeer[R Response](ctx context.Context, up Upstream, cmd Command[R], projectID uint64, snap *text.Snapshot) (R, error) {
	var zero R
	req := cmd.ToProto(projectID, snap)
	resp, err := up.Request(ctx, req)
	if err != nil {
		var pe *proto.Error
		if errors.As(err, &pe) {
			err = FromProtoError(pe)
		}
		return zero, fmt.Errorf("%s: %w", cmd.DisplayName(), err)
	}
	return cmd.ResponseFromProto(resp)
}

func unexpected(cmd string, msg proto.Message) error {
	name := "nil"
	if msg != nil {
		name = msg.MessageName()
	}
	return fmt.Errorf("%s: unexpected response %s", cmd, name)
}

// resolve returns where a points in snap.
func resolve(snap *text.Snapshot, a text.Anchor) (text.PointUTF16, error) {
	p, err := snap.ResolveAnchor(a)
	if err != nil {
		return text.PointUTF16{}, newError(InvalidPosition, err, "buffer %d", snap.ID())
	}
	return p, nil
}

// anchorFromProto checks that a position received from a peer points
// somewhere in snap.
func anchorFromProto(m *proto.Anchor, snap *text.Snapshot) (text.Anchor, error) {
	a, err := proto.DeserializeAnchor(m)
	if err != nil {
		return text.Anchor{}, newError(InvalidPosition, err, "buffer %d", snap.ID())
	}
	if _, err := resolve(snap, a); err != nil {
		return text.Anchor{}, err
	}
	return a, nil
}
