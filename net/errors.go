package net

import (
	"errors"
	"fmt"
)

var (
	// ErrShutdown is delivered to every pending call when the connection
	// drops, and returned synchronously by Invoke on a disconnected endpoint.
	ErrShutdown = errors.New("fastrpc: connection shut down")

	// ErrTimeout is delivered to a pending call whose deadline elapsed before
	// a reply arrived.
	ErrTimeout = errors.New("fastrpc: call timed out")

	// ErrSendChannelFull is returned when a connection's outbound queue is
	// saturated.
	ErrSendChannelFull = errors.New("fastrpc: send channel is full")
)

// ProtocolError reports a malformed frame. It is fatal to the connection; the
// transport closes the socket when the receive path returns one.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "fastrpc: protocol error: " + e.Reason
}

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// RemoteError carries the message of an exception reply sent by the peer for
// one of our calls.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ApiNotFoundError is raised when an incoming request names an API that is
// not in the registry. Its message is echoed to the caller verbatim.
type ApiNotFoundError struct {
	Api string
}

func (e *ApiNotFoundError) Error() string {
	return fmt.Sprintf("API '%s' not found", e.Api)
}

// ApiExecutionError wraps an error raised by a handler (or by decoding its
// arguments). Its message is echoed to the caller as an exception reply.
type ApiExecutionError struct {
	Api string
	Err error
}

func (e *ApiExecutionError) Error() string {
	return fmt.Sprintf("API '%s' execution failed: %v", e.Api, e.Err)
}

func (e *ApiExecutionError) Unwrap() error { return e.Err }

// DuplicateIDError reports a packet-id collision in the pending-call table.
// The id source makes this unreachable in practice; seeing one is a bug.
type DuplicateIDError struct {
	PacketID uint32
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("fastrpc: packet id %d already pending", e.PacketID)
}
