package socketio

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps channel paths to channels and session ids to the channel
// that holds them. One registry serves every connection of a Server.
//
// The root channel "/" always exists. Other channels are created on first
// reference; a channel nobody pinned is dropped when its last session leaves.
type Registry struct {
	codec  Codec
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
	index    map[string]string // session id -> channel path
}

// NewRegistry creates a registry holding only the root channel.
func NewRegistry(codec Codec, logger zerolog.Logger) *Registry {
	r := &Registry{
		codec:    codec,
		logger:   logger,
		channels: make(map[string]*Channel),
		index:    make(map[string]string),
	}
	r.open("/", true)
	return r
}

// Open returns the channel for path, creating it if needed. It is idempotent.
// A channel created here is collected once it has had sessions and the last
// one leaves; use Pin to keep it.
func (r *Registry) Open(path string) *Channel {
	return r.open(NormalizeChannel(path), false)
}

// Pin opens the channel for path and keeps it for the registry's lifetime.
func (r *Registry) Pin(path string) *Channel {
	return r.open(NormalizeChannel(path), true)
}

func (r *Registry) open(path string, pin bool) *Channel {
	r.mu.RLock()
	ch, exists := r.channels[path]
	pinned := exists && ch.pinned
	r.mu.RUnlock()

	if exists && (pinned || !pin) {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	ch, exists = r.channels[path]
	if !exists {
		ch = newChannel(path, r)
		r.channels[path] = ch
		r.logger.Debug().Str("channel", path).Bool("pinned", pin).Msg("channel created")
	}
	if pin {
		ch.pinned = true
	}

	return ch
}

// Lookup returns the channel for path without creating it.
func (r *Registry) Lookup(path string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[NormalizeChannel(path)]
	return ch, ok
}

// Channels returns the paths of all live channels, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.channels))
	for path := range r.channels {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// SessionChannel returns the path of the channel holding a session.
func (r *Registry) SessionChannel(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.index[id]
	return path, ok
}

// Pinned reports whether a channel is kept when empty.
func (r *Registry) Pinned(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[NormalizeChannel(path)]
	return ok && ch.pinned
}

// CloseSession removes a session from its channel. An emptied channel that is
// neither pinned nor the root is dropped. It reports whether the session was
// registered.
func (r *Registry) CloseSession(id string) bool {
	r.mu.Lock()
	path, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.index, id)

	ch := r.channels[path]
	collected := false
	if ch != nil {
		ch.remove(id)
		if ch.Len() == 0 && !ch.pinned && path != "/" {
			delete(r.channels, path)
			collected = true
		}
	}
	r.mu.Unlock()

	if ch != nil {
		ch.adapter.RemoveAll(id)
	}
	if collected {
		r.logger.Debug().Str("channel", path).Msg("channel collected")
		ch.adapter.Close()
	}
	return true
}

// join adds a session to its channel. A channel collected since the session
// looked it up is put back.
func (r *Registry) join(s *Session) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := s.channel
	current, exists := r.channels[ch.path]
	switch {
	case !exists:
		r.channels[ch.path] = ch
		r.logger.Debug().Str("channel", ch.path).Msg("channel restored on connect")
	case current != ch:
		ch = current
		s.channel = ch
	}
	ch.add(s)
	r.index[s.ID()] = ch.path
	return ch
}

// Close releases every channel's adapter.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.channels {
		ch.adapter.Close()
	}
}
