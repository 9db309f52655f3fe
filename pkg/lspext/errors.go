package lspext

import (
	"errors"
	"fmt"

	"github.com/filmil/lspbridge/pkg/proto"
)

// ErrorKind classifies the ways a command can fail.
type ErrorKind int

const (
	// MissingData means the language server had nothing to say. Commands
	// turn this into an empty response, so callers never see it.
	MissingData ErrorKind = iota + 1
	// InvalidPosition means a position received from a peer could not be
	// resolved against the buffer.
	InvalidPosition
	// InvalidPath means a buffer path can not be expressed as a file URI.
	InvalidPath
)

func (k ErrorKind) String() string {
	switch k {
	case MissingData:
		return "missing data"
	case InvalidPosition:
		return "invalid position"
	case InvalidPath:
		return "invalid path"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by commands. Match it by kind with errors.Is and the
// Err* sentinels.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

var (
	ErrMissingData     = &Error{Kind: MissingData}
	ErrInvalidPosition = &Error{Kind: InvalidPosition}
	ErrInvalidPath     = &Error{Kind: InvalidPath}
)

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ToProtoError converts err for sending to a peer.
func ToProtoError(err error) *proto.Error {
	var pe *proto.Error
	if errors.As(err, &pe) {
		return pe
	}
	code := proto.ErrorInternal
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case MissingData:
			code = proto.ErrorMissingData
		case InvalidPosition:
			code = proto.ErrorInvalidPosition
		case InvalidPath:
			code = proto.ErrorInvalidPath
		}
	}
	return &proto.Error{Code: code, Message: err.Error()}
}

// FromProtoError converts an error received from a peer. Errors that are not
// command errors are returned as they are.
func FromProtoError(pe *proto.Error) error {
	var kind ErrorKind
	switch pe.Code {
	case proto.ErrorMissingData:
		kind = MissingData
	case proto.ErrorInvalidPosition:
		kind = InvalidPosition
	case proto.ErrorInvalidPath:
		kind = InvalidPath
	default:
		return pe
	}
	return &Error{Kind: kind, Message: "from peer", cause: pe}
}
