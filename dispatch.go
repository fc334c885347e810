package socketio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// mailbox is a session's inbound FIFO. The connection's read loop pushes and
// the session's dispatch goroutine pops, so one slow handler holds back only
// its own session.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames *queue.Queue
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{frames: queue.New()}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) push(f *Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.frames.Add(f)
	m.cond.Signal()
	return true
}

// pop blocks for the next frame. Frames still queued when the mailbox closes
// are dropped.
func (m *mailbox) pop() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.frames.Length() == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return nil, false
	}
	return m.frames.Remove().(*Frame), true
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mailbox) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames.Length()
}

// receive takes a decoded frame off the read loop. Replies settle their future
// right away so a handler blocked on its own Call cannot stall them; all other
// frames go through the mailbox in receipt order.
func (s *Session) receive(f *Frame) {
	switch f.Kind {
	case KindReply:
		s.handleReply(f)
	case KindEvent, KindCall, KindDisconnect:
		if f.Kind == KindDisconnect {
			s.leaving.Store(true)
		}
		if !s.mailbox.push(f) {
			s.log().Debug().Stringer("kind", f.Kind).Str("event", f.Event).Msg("frame after close dropped")
		}
	default:
		s.log().Debug().Stringer("kind", f.Kind).Msg("unexpected frame kind")
	}
}

func (s *Session) serve() {
	for {
		f, ok := s.mailbox.pop()
		if !ok {
			return
		}
		s.dispatch(f)
	}
}

func (s *Session) dispatch(f *Frame) {
	switch f.Kind {
	case KindDisconnect:
		s.terminate(s.peerDisconnectReason(), false)

	case KindEvent:
		handler, ok := s.Handler(f.Event)
		if !ok {
			s.log().Debug().Err(&RoutingError{Channel: s.path, Event: f.Event}).Msg("event ignored")
			return
		}
		if err := s.invoke(handler, f.Event, noAck, f.Args); err != nil {
			s.log().Warn().Err(err).Msg("event handler failed")
		}

	case KindCall:
		a := &acker{session: s, id: *f.ID}

		handler, ok := s.Handler(f.Event)
		if !ok {
			rerr := &RoutingError{Channel: s.path, Event: f.Event}
			s.log().Debug().Err(rerr).Int("call_id", a.id).Msg("call unhandled")
			if err := a.fail(CodeUnhandled, fmt.Sprintf("no handler for %q", f.Event)); err != nil {
				s.log().Debug().Err(err).Msg("unhandled reply not sent")
			}
			return
		}

		if err := s.invoke(handler, f.Event, a.ack, f.Args); err != nil {
			var herr *HandlerError
			message := err.Error()
			if errors.As(err, &herr) {
				message = herr.Err.Error()
			}
			ferr := a.fail(CodeHandlerError, message)
			switch {
			case errors.Is(err, ErrSessionClosed) || errors.Is(ferr, ErrSessionClosed):
				s.log().Debug().Err(err).Int("call_id", a.id).Msg("call handler failed on closed session")
			case ferr == nil:
				s.log().Warn().Err(err).Int("call_id", a.id).Msg("call handler failed")
			case errors.Is(ferr, ErrAlreadyAcknowledged):
				s.log().Warn().Err(err).Int("call_id", a.id).Msg("call handler failed after acknowledging")
			default:
				s.log().Warn().Err(ferr).Int("call_id", a.id).Msg("error reply not sent")
			}
		}
	}
}

// peerDisconnectReason names a disconnect frame received from the other end.
func (s *Session) peerDisconnectReason() string {
	if s.channel == nil {
		return ReasonServerDisconnect
	}
	return ReasonClientDisconnect
}

func (s *Session) handleReply(f *Frame) {
	id := *f.ID
	var err error
	if f.Err != nil {
		err = f.Err
	}
	if !s.resolveCall(id, f.Args, err) {
		s.log().Debug().Int("call_id", id).Msg("stale or duplicate reply ignored")
	}
}

func (s *Session) invoke(h Handler, event string, ack Ack, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Event: event, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := h.ServeEvent(s, ack, args); err != nil {
		return &HandlerError{Event: event, Err: err}
	}
	return nil
}

// acker binds the one reply of a call to its id.
type acker struct {
	session *Session
	id      int
	done    atomic.Bool
}

func (a *acker) ack(args ...any) error {
	return a.reply(&Frame{Args: args})
}

func (a *acker) fail(code, message string) error {
	return a.reply(&Frame{Err: &ReplyError{Code: code, Message: message}})
}

// reply spends the one acknowledgement only once the reply has encoded, so a
// result that cannot be sent still leaves room for an error reply.
func (a *acker) reply(f *Frame) error {
	if a.done.Load() {
		return ErrAlreadyAcknowledged
	}

	f.Channel = a.session.path
	f.Kind = KindReply
	f.ID = &a.id
	text, attachments, err := a.session.conn.codec.Encode(f)
	if err != nil {
		return err
	}

	if !a.done.CompareAndSwap(false, true) {
		return ErrAlreadyAcknowledged
	}
	if a.session.State() != StateOpen {
		return ErrSessionClosed
	}
	return a.session.conn.writeEncoded(text, attachments)
}
