package transport

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned when sending on a stream that is not in the
// open state.
var ErrNotOpen = errors.New("stream is not open")

// ErrorKind classifies terminal stream failures. All kinds trigger the
// same fallback behavior upstream; the distinction exists for logging
// and metrics.
type ErrorKind int

const (
	// KindConnection covers network-level failures: dial errors,
	// handshake timeouts, broken reads and writes.
	KindConnection ErrorKind = iota
	// KindProtocol covers malformed or unexpected message shapes.
	KindProtocol
	// KindServer covers explicit error messages from the remote service.
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a terminal stream failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func connectionError(err error) *Error { return &Error{Kind: KindConnection, Err: err} }
func protocolError(err error) *Error   { return &Error{Kind: KindProtocol, Err: err} }
func serverError(err error) *Error     { return &Error{Kind: KindServer, Err: err} }
