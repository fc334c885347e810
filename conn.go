package socketio

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bubblesnake/socketio/engineio"
	"github.com/rs/zerolog"
)

// negotiator answers the connect handshake frames of a physical connection.
// The server and the client implement it differently.
type negotiator interface {
	handleConnect(c *conn, f *Frame)
	handleConnectError(c *conn, f *Frame)
}

// conn is one physical connection. It owns the frame decoder and routes
// decoded frames to the session connected on each channel.
type conn struct {
	eio        *engineio.Session
	codec      Codec
	decoder    *Decoder // read loop only
	negotiator negotiator
	logger     zerolog.Logger
	negotiated atomic.Bool

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

func newConn(eio *engineio.Session, codec Codec, n negotiator, logger zerolog.Logger) *conn {
	c := &conn{
		eio:        eio,
		codec:      codec,
		decoder:    codec.NewDecoder(),
		negotiator: n,
		logger:     logger.With().Str("eio_sid", eio.ID()).Logger(),
		sessions:   make(map[string]*Session),
	}

	eio.OnMessage(c.handleMessage)
	eio.OnClose(c.handleClose)

	return c
}

func (c *conn) handleMessage(data []byte, binary bool) {
	var (
		frame *Frame
		err   error
	)
	if binary {
		frame, err = c.decoder.FeedBinary(data)
	} else {
		frame, err = c.decoder.Feed(string(data))
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("malformed frame discarded")
	}
	if frame != nil {
		c.route(frame)
	}
}

func (c *conn) route(f *Frame) {
	switch f.Kind {
	case KindConnect:
		c.negotiator.handleConnect(c, f)
	case KindConnectError:
		c.negotiator.handleConnectError(c, f)
	default:
		s := c.session(f.Channel)
		if s == nil {
			c.logger.Debug().Str("channel", f.Channel).Stringer("kind", f.Kind).Msg("frame for unconnected channel")
			return
		}
		s.receive(f)
	}
}

func (c *conn) handleClose(reason string) {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	if err := c.eio.Err(); err != nil {
		c.logger.Info().Err(&TransportError{Op: "io", Err: err}).Str("reason", reason).Msg("connection lost")
	} else {
		c.logger.Debug().Str("reason", reason).Msg("connection closed")
	}

	for _, s := range sessions {
		if s.leaving.Load() {
			s.terminate(s.peerDisconnectReason(), false)
			continue
		}
		s.terminate(reason, false)
	}
}

func (c *conn) write(f *Frame) error {
	text, attachments, err := c.codec.Encode(f)
	if err != nil {
		return err
	}
	return c.writeEncoded(text, attachments)
}

func (c *conn) writeEncoded(text string, attachments [][]byte) error {
	err := c.eio.Send(&engineio.Packet{
		Type:        engineio.PacketTypeMessage,
		Data:        []byte(text),
		Attachments: attachments,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, engineio.ErrSessionClosed) {
		return ErrSessionClosed
	}
	if errors.Is(err, engineio.ErrPayloadTooLarge) {
		return protocolErr("frame exceeds the peer's max payload", err)
	}
	return &TransportError{Op: "send", Err: err}
}

func (c *conn) attach(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	if _, exists := c.sessions[s.path]; exists {
		return ErrAlreadyConnected
	}
	c.sessions[s.path] = s
	c.negotiated.Store(true)
	return nil
}

func (c *conn) detach(s *Session) {
	c.mu.Lock()
	if c.sessions[s.path] == s {
		delete(c.sessions, s.path)
	}
	c.mu.Unlock()
}

func (c *conn) session(path string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[path]
}

func (c *conn) snapshot() []*Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
