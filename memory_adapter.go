package socketio

import (
	"errors"
	"sort"
	"sync"
)

// MemoryAdapter is an in-memory implementation of the Adapter interface
type MemoryAdapter struct {
	rooms        map[string]map[string]bool // room -> session ids
	sessionRooms map[string]map[string]bool // session id -> rooms
	mu           sync.RWMutex
	channel      *Channel
}

// NewMemoryAdapter creates a new in-memory adapter
func NewMemoryAdapter(channel *Channel) *MemoryAdapter {
	return &MemoryAdapter{
		rooms:        make(map[string]map[string]bool),
		sessionRooms: make(map[string]map[string]bool),
		channel:      channel,
	}
}

// Add adds a session to a room
func (a *MemoryAdapter) Add(sessionID, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rooms[room] == nil {
		a.rooms[room] = make(map[string]bool)
	}
	a.rooms[room][sessionID] = true

	if a.sessionRooms[sessionID] == nil {
		a.sessionRooms[sessionID] = make(map[string]bool)
	}
	a.sessionRooms[sessionID][room] = true
}

// Remove removes a session from a room
func (a *MemoryAdapter) Remove(sessionID, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(sessionID, room)
}

// RemoveAll removes a session from all rooms
func (a *MemoryAdapter) RemoveAll(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for room := range a.sessionRooms[sessionID] {
		a.removeLocked(sessionID, room)
	}
	delete(a.sessionRooms, sessionID)
}

func (a *MemoryAdapter) removeLocked(sessionID, room string) {
	if members := a.rooms[room]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(a.rooms, room)
		}
	}

	if rooms := a.sessionRooms[sessionID]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(a.sessionRooms, sessionID)
		}
	}
}

// Sessions returns all session IDs in a room, sorted
func (a *MemoryAdapter) Sessions(room string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return sortedKeys(a.rooms[room])
}

// SessionRooms returns all rooms a session is in, sorted
func (a *MemoryAdapter) SessionRooms(sessionID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return sortedKeys(a.sessionRooms[sessionID])
}

// Broadcast encodes the frame once and queues it on every target session's
// connection. Sessions that are not open are skipped. Failures on one session
// do not stop delivery to the others; they are returned joined.
func (a *MemoryAdapter) Broadcast(f *Frame, rooms []string, except []string) error {
	text, attachments, err := a.channel.registry.codec.Encode(f)
	if err != nil {
		return err
	}

	excluded := make(map[string]bool, len(except))
	for _, id := range except {
		excluded[id] = true
	}

	var targets []*Session
	if len(rooms) == 0 {
		for _, s := range a.channel.Sessions() {
			if !excluded[s.ID()] {
				targets = append(targets, s)
			}
		}
	} else {
		ids := make(map[string]bool)
		a.mu.RLock()
		for _, room := range rooms {
			for id := range a.rooms[room] {
				if !excluded[id] {
					ids[id] = true
				}
			}
		}
		a.mu.RUnlock()

		for _, id := range sortedKeys(ids) {
			if s, ok := a.channel.Session(id); ok {
				targets = append(targets, s)
			}
		}
	}

	var errs []error
	for _, s := range targets {
		if s.State() != StateOpen {
			continue
		}
		if err := s.conn.writeEncoded(text, attachments); err != nil {
			if errors.Is(err, ErrSessionClosed) {
				continue
			}
			s.log().Debug().Err(err).Str("event", f.Event).Msg("broadcast not delivered")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close forgets every room. A restored channel starts with empty rooms.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rooms = make(map[string]map[string]bool)
	a.sessionRooms = make(map[string]map[string]bool)

	return nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
