package socketio

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed       = errors.New("socketio: session closed")
	ErrAlreadyAcknowledged = errors.New("socketio: call already acknowledged")
	ErrNotConnected        = errors.New("socketio: session not connected")
	ErrInvalidChannel      = errors.New("socketio: invalid channel")
	ErrConnectRefused      = errors.New("socketio: connect refused")
	ErrAlreadyConnected    = errors.New("socketio: channel already connected")
)

// Reply error codes carried by error replies.
const (
	CodeUnhandled    = "unhandled"
	CodeHandlerError = "handler_error"
)

// TransportError reports a connection-level failure. It ends the physical
// connection and every session multiplexed on it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("socketio: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed frame. The frame is discarded and the
// decoder continues with the next packet.
type ProtocolError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *ProtocolError) Error() string {
	msg := "socketio: protocol: " + e.Reason
	if e.Channel != "" {
		msg += " (channel " + e.Channel + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// HandlerError reports a handler that failed or panicked while serving a
// call. It is turned into an error reply.
type HandlerError struct {
	Event string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("socketio: handler %q: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// RoutingError reports a frame with no registered handler.
type RoutingError struct {
	Channel string
	Event   string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("socketio: no handler for %q on channel %s", e.Event, e.Channel)
}

// ReplyError is the failure a caller receives when the peer answered a call
// with an error reply.
type ReplyError struct {
	Code    string
	Message string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socketio: remote %s: %s", e.Code, e.Message)
}
