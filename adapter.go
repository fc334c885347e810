package socketio

// Adapter keeps a channel's rooms and fans broadcasts out to their members.
// Each channel owns one; the registry drops a session's memberships when the
// session leaves and closes the adapter when the channel is collected.
//
// MemoryAdapter is the in-process implementation. Another adapter can be
// installed with Channel.SetAdapter before any session connects.
type Adapter interface {
	// Add puts a session in a room. Every session starts in the room named
	// by its own id.
	Add(sessionID, room string)
	Remove(sessionID, room string)

	// RemoveAll drops every membership of a session that left the channel.
	RemoveAll(sessionID string)

	// Sessions lists a room's members ordered by id.
	Sessions(room string) []string
	// SessionRooms lists the rooms a session belongs to, ordered by name.
	SessionRooms(sessionID string) []string

	// Broadcast sends an event frame to every open session in the given rooms,
	// or in the whole channel when rooms is empty, skipping the except ids.
	// Sessions that closed meanwhile are skipped; other write failures are
	// joined into the returned error.
	Broadcast(f *Frame, rooms []string, except []string) error

	// Close releases the room state of a collected or shut down channel.
	Close() error
}
