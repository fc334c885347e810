package socketio

// Ack sends the single reply to a call. Only the first invocation sends a
// frame; later ones return ErrAlreadyAcknowledged. After the session has
// closed it sends nothing and returns ErrSessionClosed. For plain events it is
// a no-op that returns nil.
type Ack func(args ...any) error

// Handler serves one event name on a session. Returning an error before
// acknowledging a call answers it with an error reply.
type Handler interface {
	ServeEvent(s *Session, ack Ack, args []any) error
}

// EventFunc is a fire-and-forget handler. Calls routed to it are never
// acknowledged and stay pending on the caller until its session closes.
type EventFunc func(s *Session, args ...any)

func (fn EventFunc) ServeEvent(s *Session, ack Ack, args []any) error {
	fn(s, args...)
	return nil
}

// CallFunc answers a call with its return values. A non-nil error becomes an
// error reply instead.
type CallFunc func(s *Session, args ...any) ([]any, error)

func (fn CallFunc) ServeEvent(s *Session, ack Ack, args []any) error {
	result, err := fn(s, args...)
	if err != nil {
		return err
	}
	return ack(result...)
}

// AckFunc receives the acknowledge callback and may invoke it later, from any
// goroutine.
type AckFunc func(s *Session, ack Ack, args ...any) error

func (fn AckFunc) ServeEvent(s *Session, ack Ack, args []any) error {
	return fn(s, ack, args...)
}

func noAck(args ...any) error { return nil }
