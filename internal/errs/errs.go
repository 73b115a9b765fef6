// Package errs defines the aggregator's error kinds (spec.md §7) and
// their mapping onto JSON-RPC error codes, independent of any one
// protocol library's own error type.
package errs

import (
	"context"
	"errors"
	"net"

	"github.com/containerd/errdefs"
	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	InvalidConfig        Kind = "InvalidConfig"
	InvalidRequest       Kind = "InvalidRequest"
	Unauthenticated      Kind = "Unauthenticated"
	Unauthorized         Kind = "Unauthorized"
	UpstreamUnavailable  Kind = "UpstreamUnavailable"
	UpstreamTimeout      Kind = "UpstreamTimeout"
	UpstreamProtocolErr  Kind = "UpstreamProtocolError"
	TransportClosed      Kind = "TransportClosed"
	ConnectionRefused    Kind = "ConnectionRefused"
	InternalErr          Kind = "InternalError"
)

// JSON-RPC 2.0 standard codes, plus the range reserved for
// implementation-defined server errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	codeUnauthenticated     = -32001
	codeUnauthorized        = -32002
	codeUpstreamUnavailable = -32010
	codeUpstreamTimeout     = -32011
)

// Error carries a Kind alongside the wrapped cause, so call sites can
// classify without string-matching.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + string(e.Kind) + ": " + e.err.Error()
	}
	return string(e.Kind) + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// New wraps err (via pkg/errors, for a stack-trace-carrying Cause
// chain) with a Kind.
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, err: pkgerrors.WithStack(err)}
}

// Classify maps a lower-level error (context, net, I/O) to a Kind using
// containerd/errdefs' classification helpers plus stdlib sentinels,
// implementing the "transport errors mapped to InternalError" /
// "standard JSON-RPC codes pass through" policy of spec.md §7.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return UpstreamTimeout
	case errors.Is(err, context.Canceled):
		return TransportClosed
	case errdefs.IsUnavailable(err):
		return UpstreamUnavailable
	case errdefs.IsNotFound(err):
		return InvalidRequest
	case errdefs.IsInvalidArgument(err):
		return InvalidRequest
	case errdefs.IsDeadlineExceeded(err):
		return UpstreamTimeout
	case isConnRefused(err):
		return ConnectionRefused
	default:
		var e *Error
		if errors.As(err, &e) {
			return e.Kind
		}
		return InternalErr
	}
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// JSONRPCCode returns the JSON-RPC error code for a Kind, per the
// "standard codes pass through, everything else maps to a reserved
// server-error code" rule in spec.md §7.
func JSONRPCCode(kind Kind) int {
	switch kind {
	case InvalidConfig, InvalidRequest:
		return CodeInvalidRequest
	case Unauthenticated:
		return codeUnauthenticated
	case Unauthorized:
		return codeUnauthorized
	case UpstreamUnavailable:
		return codeUpstreamUnavailable
	case UpstreamTimeout:
		return codeUpstreamTimeout
	default:
		return CodeInternalError
	}
}

// Cause unwraps to the deepest pkg/errors-wrapped cause, for diagnostic
// stack traces.
func Cause(err error) error {
	return pkgerrors.Cause(err)
}
