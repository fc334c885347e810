package socketio

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Disconnect reasons reported to OnDisconnect handlers.
const (
	ReasonServerDisconnect = "server namespace disconnect"
	ReasonClientDisconnect = "client namespace disconnect"
	ReasonClientClose      = "io client disconnect"
	ReasonConnectFailed    = "connect failed"
)

// Session is one logical connection on one channel. Several sessions may share
// a physical connection, one per channel.
type Session struct {
	path    string
	channel *Channel // nil on the dialing side
	conn    *conn
	state   atomic.Int32
	leaving atomic.Bool // peer sent a disconnect frame
	ready   chan struct{}
	closed  chan struct{}
	mailbox *mailbox

	mu        sync.RWMutex
	id        string
	logger    zerolog.Logger
	handshake any
	reason    string
	err       error

	handlers   map[string]Handler
	handlersMu sync.RWMutex

	callID    atomic.Int64
	pending   map[int]*Future
	pendingMu sync.Mutex
	drained   bool

	rooms   map[string]bool
	roomsMu sync.RWMutex
	data    sync.Map

	onDisconnect []func(string)
	disconnectMu sync.RWMutex
}

func newSession(id, path string, c *conn) *Session {
	s := &Session{
		id:       id,
		path:     path,
		conn:     c,
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		mailbox:  newMailbox(),
		handlers: make(map[string]Handler),
		pending:  make(map[int]*Future),
		rooms:    make(map[string]bool),
	}
	s.logger = c.logger.With().Str("channel", path).Logger()
	if id != "" {
		s.logger = s.logger.With().Str("sid", id).Logger()
	}
	return s
}

// ID returns the session ID. On the dialing side it is assigned by the server
// once the channel is connected.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Channel returns the channel path the session belongs to.
func (s *Session) Channel() string {
	return s.path
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Handshake returns the payload the peer sent with its connect frame.
func (s *Session) Handshake() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshake
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Reason returns why the session closed. Empty while it is still alive.
func (s *Session) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Err returns the error that refused the session during negotiation, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Logger returns the session's logger.
func (s *Session) Logger() *zerolog.Logger {
	return s.log()
}

func (s *Session) log() *zerolog.Logger {
	s.mu.RLock()
	l := s.logger
	s.mu.RUnlock()
	return &l
}

// On registers the handler for an event name. Registering the same name again
// replaces the previous handler.
func (s *Session) On(event string, handler Handler) {
	s.handlersMu.Lock()
	s.handlers[event] = handler
	s.handlersMu.Unlock()
}

// Off removes the handler for an event name.
func (s *Session) Off(event string) {
	s.handlersMu.Lock()
	delete(s.handlers, event)
	s.handlersMu.Unlock()
}

// Handler returns the handler registered for an event name.
func (s *Session) Handler(event string) (Handler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[event]
	return h, ok
}

// Emit sends an event that expects no reply.
func (s *Session) Emit(event string, args ...any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.conn.write(&Frame{
		Channel: s.path,
		Kind:    KindEvent,
		Event:   event,
		Args:    args,
	})
}

// Call sends an event that expects exactly one reply and returns the future
// it resolves. Callers that need a deadline pass one to Future.Wait.
func (s *Session) Call(event string, args ...any) (*Future, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	id := int(s.callID.Add(1))
	future := newFuture(id)

	s.pendingMu.Lock()
	if s.drained {
		s.pendingMu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pending[id] = future
	s.pendingMu.Unlock()

	err := s.conn.write(&Frame{
		Channel: s.path,
		Kind:    KindCall,
		Event:   event,
		Args:    args,
		ID:      &id,
	})
	if err != nil {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		return nil, err
	}

	return future, nil
}

// Pending returns the number of calls still waiting for a reply.
func (s *Session) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Join adds the session to a room
func (s *Session) Join(room string) {
	s.roomsMu.Lock()
	s.rooms[room] = true
	s.roomsMu.Unlock()

	if s.channel != nil {
		s.channel.adapter.Add(s.ID(), room)
	}
}

// Leave removes the session from a room
func (s *Session) Leave(room string) {
	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()

	if s.channel != nil {
		s.channel.adapter.Remove(s.ID(), room)
	}
}

// Rooms returns all rooms the session is in
func (s *Session) Rooms() []string {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Set stores arbitrary data on the session
func (s *Session) Set(key string, value any) {
	s.data.Store(key, value)
}

// Get retrieves data from the session
func (s *Session) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// OnDisconnect registers a handler run, on its own goroutine, after the
// session closes.
func (s *Session) OnDisconnect(handler func(reason string)) {
	s.disconnectMu.Lock()
	s.onDisconnect = append(s.onDisconnect, handler)
	s.disconnectMu.Unlock()
}

// Disconnect closes the session: outstanding calls fail with
// ErrSessionClosed, the peer is told, and the session leaves its channel. The
// physical connection stays up for other channels.
func (s *Session) Disconnect() {
	reason := ReasonServerDisconnect
	if s.channel == nil {
		reason = ReasonClientClose
	}
	s.terminate(reason, true)
}

func (s *Session) checkOpen() error {
	switch s.State() {
	case StateOpen:
		return nil
	case StateConnecting:
		return ErrNotConnected
	default:
		return ErrSessionClosed
	}
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.logger = s.conn.logger.With().Str("channel", s.path).Str("sid", id).Logger()
	s.mu.Unlock()
}

// open moves connecting -> open and starts the dispatch loop. init runs on
// the dispatch goroutine before the first queued frame.
func (s *Session) open(init func(*Session)) bool {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return false
	}
	close(s.ready)
	go func() {
		if init != nil {
			init(s)
		}
		s.serve()
	}()
	s.log().Debug().Msg("session open")
	return true
}

// refuse moves connecting -> closed after a failed negotiation.
func (s *Session) refuse(err error) bool {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) {
		return false
	}
	s.mailbox.close()
	s.conn.detach(s)
	if s.channel != nil {
		s.channel.registry.CloseSession(s.ID())
	}
	s.mu.Lock()
	s.err = err
	s.reason = ReasonConnectFailed
	s.mu.Unlock()
	close(s.closed)
	s.log().Debug().Err(err).Msg("session refused")
	return true
}

// terminate runs open -> closing -> closed exactly once. notify sends a
// disconnect frame to the peer while the transport is still usable.
func (s *Session) terminate(reason string, notify bool) {
transition:
	for {
		switch s.State() {
		case StateConnecting:
			if s.refuse(ErrSessionClosed) {
				return
			}
		case StateOpen:
			if s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
				break transition
			}
		default:
			return
		}
	}

	s.drainPending()

	if notify {
		if err := s.conn.write(&Frame{Channel: s.path, Kind: KindDisconnect}); err != nil {
			s.log().Debug().Err(err).Msg("disconnect frame not sent")
		}
	}

	s.mailbox.close()
	s.conn.detach(s)
	if s.channel != nil {
		s.channel.registry.CloseSession(s.ID())
	}

	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
	close(s.closed)

	s.log().Debug().Str("reason", reason).Msg("session closed")

	s.disconnectMu.RLock()
	handlers := s.onDisconnect
	s.disconnectMu.RUnlock()

	for _, handler := range handlers {
		go handler(reason)
	}
}

func (s *Session) drainPending() {
	s.pendingMu.Lock()
	s.drained = true
	pending := s.pending
	s.pending = make(map[int]*Future)
	s.pendingMu.Unlock()

	for _, future := range pending {
		future.resolve(nil, ErrSessionClosed)
	}
}

// resolveCall settles the pending call a reply refers to. It reports false for
// unknown, duplicate or stale ids.
func (s *Session) resolveCall(id int, args []any, err error) bool {
	s.pendingMu.Lock()
	future, ok := s.pending[id]
	delete(s.pending, id)
	s.pendingMu.Unlock()

	if !ok {
		return false
	}
	return future.resolve(args, err)
}
