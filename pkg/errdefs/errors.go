// Package errdefs defines the error kinds reported by the model runtime.
//
// Every error returned by the runtime packages wraps exactly one kind, so callers
// classify failures with errors.Is(err, errdefs.ErrDtypeMismatch) and friends, or
// with status.Code(err) when the error crosses an RPC boundary.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrFormat             = errors.New("malformed archive")
	ErrSchema             = errors.New("invalid package")
	ErrUnknownOperator    = errors.New("unknown operator")
	ErrUnsupportedVariant = errors.New("unsupported variant")
	ErrUnknownField       = errors.New("unknown field")
	ErrDtypeMismatch      = errors.New("dtype mismatch")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrUnsupportedContent = errors.New("unsupported content")
	ErrMissingAttribute   = errors.New("missing dynamic attribute")
	ErrMissingInput       = errors.New("missing input value")
	ErrNotWarmedUp        = errors.New("not warmed up")
	ErrBounds             = errors.New("index out of bounds")
	ErrOperatorResult     = errors.New("invalid operator result")
)

var kindCodes = map[error]codes.Code{
	ErrFormat:             codes.InvalidArgument,
	ErrSchema:             codes.InvalidArgument,
	ErrUnknownOperator:    codes.Unimplemented,
	ErrUnsupportedVariant: codes.Unimplemented,
	ErrUnknownField:       codes.InvalidArgument,
	ErrDtypeMismatch:      codes.InvalidArgument,
	ErrShapeMismatch:      codes.InvalidArgument,
	ErrUnsupportedContent: codes.Unimplemented,
	ErrMissingAttribute:   codes.InvalidArgument,
	ErrMissingInput:       codes.InvalidArgument,
	ErrNotWarmedUp:        codes.FailedPrecondition,
	ErrBounds:             codes.OutOfRange,
	ErrOperatorResult:     codes.Internal,
}

// Error is a classified runtime failure.
type Error struct {
	Kind error
	Msg  string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// GRPCStatus lets status.Code and status.FromError classify the error.
func (e *Error) GRPCStatus() *status.Status {
	code, ok := kindCodes[e.Kind]
	if !ok {
		code = codes.Unknown
	}
	return status.New(code, e.Error())
}

// Newf returns an error of the given kind.
func Newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrapf returns an error of the given kind caused by err.
func Wrapf(kind error, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Kind returns the kind wrapped by err, or nil if err is not classified.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// HTTPStatus maps err onto the closest HTTP status code.
func HTTPStatus(err error) int {
	switch status.Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
