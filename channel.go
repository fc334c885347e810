package socketio

import (
	"sort"
	"sync"
)

// Channel is a named group of sessions sharing handler templates and rooms.
type Channel struct {
	path     string
	registry *Registry
	adapter  Adapter
	pinned   bool // guarded by registry.mu

	mu       sync.RWMutex
	sessions map[string]*Session

	hmu        sync.RWMutex
	handlers   map[string]Handler
	onConnect  []func(*Session)
	middleware []func(*Session) error
}

func newChannel(path string, r *Registry) *Channel {
	ch := &Channel{
		path:     path,
		registry: r,
		sessions: make(map[string]*Session),
		handlers: make(map[string]Handler),
	}
	ch.adapter = NewMemoryAdapter(ch)
	return ch
}

// Path returns the channel path.
func (ch *Channel) Path() string {
	return ch.path
}

// Handle registers a handler template for an event. Every session connecting
// afterwards starts with it, and sessions already connected get it as well.
// Last registration wins.
func (ch *Channel) Handle(event string, handler Handler) {
	ch.hmu.Lock()
	ch.handlers[event] = handler
	ch.hmu.Unlock()

	for _, s := range ch.Sessions() {
		s.On(event, handler)
	}
}

// On is Handle for a plain event function.
func (ch *Channel) On(event string, fn func(s *Session, args ...any)) {
	ch.Handle(event, EventFunc(fn))
}

// OnConnection adds a callback run for every session once it is open.
func (ch *Channel) OnConnection(fn func(*Session)) {
	ch.hmu.Lock()
	ch.onConnect = append(ch.onConnect, fn)
	ch.hmu.Unlock()
}

// Use adds a middleware run before a session is admitted. A middleware error
// refuses the session and is reported to the peer as a connect error.
func (ch *Channel) Use(fn func(*Session) error) {
	ch.hmu.Lock()
	ch.middleware = append(ch.middleware, fn)
	ch.hmu.Unlock()
}

// Emit broadcasts an event to every session on the channel.
func (ch *Channel) Emit(event string, args ...any) error {
	return ch.To().Emit(event, args...)
}

// To returns a BroadcastOperator for emitting to specific rooms
func (ch *Channel) To(rooms ...string) *BroadcastOperator {
	return &BroadcastOperator{
		channel: ch,
		rooms:   rooms,
	}
}

// Except returns a BroadcastOperator skipping the given session ids.
func (ch *Channel) Except(ids ...string) *BroadcastOperator {
	return ch.To().Except(ids...)
}

// Sessions returns the connected sessions ordered by id.
func (ch *Channel) Sessions() []*Session {
	ch.mu.RLock()
	sessions := make([]*Session, 0, len(ch.sessions))
	for _, s := range ch.sessions {
		sessions = append(sessions, s)
	}
	ch.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID() < sessions[j].ID() })
	return sessions
}

// Session looks up a connected session by id.
func (ch *Channel) Session(id string) (*Session, bool) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	s, ok := ch.sessions[id]
	return s, ok
}

// Len returns the number of connected sessions.
func (ch *Channel) Len() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.sessions)
}

// SetAdapter replaces the room adapter. Call it before sessions connect.
func (ch *Channel) SetAdapter(adapter Adapter) {
	ch.adapter = adapter
}

// Adapter returns the room adapter.
func (ch *Channel) Adapter() Adapter {
	return ch.adapter
}

func (ch *Channel) admit(s *Session) error {
	ch.hmu.RLock()
	middleware := append([]func(*Session) error(nil), ch.middleware...)
	ch.hmu.RUnlock()

	for _, fn := range middleware {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// install copies the handler templates onto a new session.
func (ch *Channel) install(s *Session) {
	ch.hmu.RLock()
	defer ch.hmu.RUnlock()

	for event, handler := range ch.handlers {
		s.On(event, handler)
	}
}

func (ch *Channel) connected(s *Session) {
	ch.hmu.RLock()
	callbacks := append(([]func(*Session))(nil), ch.onConnect...)
	ch.hmu.RUnlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log().Error().Interface("panic", r).Msg("connection callback panicked")
				}
			}()
			fn(s)
		}()
	}
}

func (ch *Channel) add(s *Session) {
	ch.mu.Lock()
	ch.sessions[s.ID()] = s
	ch.mu.Unlock()
}

func (ch *Channel) remove(id string) {
	ch.mu.Lock()
	delete(ch.sessions, id)
	ch.mu.Unlock()
}

// BroadcastOperator provides methods for broadcasting to specific rooms
type BroadcastOperator struct {
	channel *Channel
	rooms   []string
	except  []string
}

// To adds rooms to broadcast to
func (b *BroadcastOperator) To(rooms ...string) *BroadcastOperator {
	b.rooms = append(b.rooms, rooms...)
	return b
}

// Except excludes specific session IDs from the broadcast
func (b *BroadcastOperator) Except(ids ...string) *BroadcastOperator {
	b.except = append(b.except, ids...)
	return b
}

// Emit broadcasts an event
func (b *BroadcastOperator) Emit(event string, args ...any) error {
	return b.channel.adapter.Broadcast(&Frame{
		Channel: b.channel.path,
		Kind:    KindEvent,
		Event:   event,
		Args:    args,
	}, b.rooms, b.except)
}
