package engineio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var ErrPayloadTooLarge = errors.New("payload too large")

// Close reasons reported to OnClose handlers.
const (
	ReasonTransportClose = "transport close"
	ReasonTransportError = "transport error"
	ReasonWriteError     = "write error"
	ReasonPingTimeout    = "ping timeout"
	ReasonClientClosed   = "client closed"
	ReasonServerShutdown = "server shutdown"
	ReasonForcedClose    = "forced close"
)

// Session represents an Engine.IO session: one WebSocket connection with a
// read loop, a write loop and heartbeat timers.
type Session struct {
	id       string
	conn     *websocket.Conn
	config   *Config
	client   bool
	maxSend  int
	outgoing chan *Packet
	logger   zerolog.Logger

	timerMu     sync.Mutex
	pingTimer   *time.Timer
	pingTimeout *time.Timer

	writeMu   sync.Mutex
	writeDone chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}

	mu           sync.RWMutex
	onMessage    func(data []byte, binary bool)
	onClose      []func(string)
	lastActivity time.Time
	err          error
}

func newSession(id string, conn *websocket.Conn, config *Config, client bool) *Session {
	s := &Session{
		id:           id,
		conn:         conn,
		config:       config,
		client:       client,
		outgoing:     make(chan *Packet, config.SendQueue),
		closed:       make(chan struct{}),
		writeDone:    make(chan struct{}),
		lastActivity: time.Now(),
		logger:       config.logger().With().Str("component", "engineio").Str("eio_sid", id).Logger(),
	}

	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// IsClient reports whether this end dialed the connection.
func (s *Session) IsClient() bool {
	return s.client
}

// Start starts the session loops. Servers drive the heartbeat; clients answer
// pings and close when the server goes quiet for longer than
// PingInterval+PingTimeout.
func (s *Session) Start() {
	s.started.Store(true)
	go s.writeLoop()
	go s.readLoop()
	if s.client {
		s.resetWatchdog()
	} else {
		s.schedulePing()
	}
}

// Send queues a packet for the write loop. It never blocks. A packet whose
// text or any attachment exceeds the peer's payload limit is refused.
func (s *Session) Send(packet *Packet) error {
	if s.maxSend > 0 {
		if len(packet.Data)+1 > s.maxSend {
			return ErrPayloadTooLarge
		}
		for _, attachment := range packet.Attachments {
			if len(attachment) > s.maxSend {
				return ErrPayloadTooLarge
			}
		}
	}
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outgoing <- packet:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		// Channel full, connection might be slow
		return ErrSlowClient
	}
}

// Close closes the session
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.timerMu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pingTimeout != nil {
			s.pingTimeout.Stop()
		}
		s.timerMu.Unlock()

		// The write loop flushes what is queued before the close packet.
		if s.started.Load() {
			select {
			case <-s.writeDone:
			case <-time.After(time.Second):
			}
		}

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		packet := &Packet{Type: PacketTypeClose}
		s.conn.WriteMessage(websocket.TextMessage, packet.Encode())
		s.conn.Close()
		s.writeMu.Unlock()

		s.logger.Debug().Str("reason", reason).Msg("engine session closed")

		s.mu.RLock()
		handlers := make([]func(string), len(s.onClose))
		copy(handlers, s.onClose)
		s.mu.RUnlock()

		for _, handler := range handlers {
			handler(reason)
		}
	})
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err returns the transport error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// OnMessage sets the message handler. Text message packets arrive with
// binary=false, raw binary WebSocket messages with binary=true.
func (s *Session) OnMessage(fn func(data []byte, binary bool)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose adds a close handler. Handlers run once, in registration order.
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// LastActivity returns the time the last message was read.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) readLoop() {
	reason := ReasonTransportClose
	defer func() { s.Close(reason) }()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ReasonTransportError
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}

		s.updateActivity()

		if messageType == websocket.BinaryMessage {
			s.handleMessage(data, true)
			continue
		}

		packet, err := DecodePacket(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("dropping undecodable packet")
			continue
		}

		if packet.Type == PacketTypeClose {
			reason = ReasonClientClosed
			return
		}

		s.handlePacket(packet)
	}
}

func (s *Session) writeLoop() {
	defer close(s.writeDone)

	for {
		select {
		case packet := <-s.outgoing:
			if err := s.writePacket(packet); err != nil {
				if s.isClosed() {
					return
				}
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				go s.Close(ReasonWriteError)
				return
			}
		case <-s.closed:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(time.Second))
			s.flushLocked()
			s.writeMu.Unlock()
			return
		}
	}
}

func (s *Session) writePacket(packet *Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.config.PingTimeout))
	return s.writePacketLocked(packet)
}

// flushLocked writes the packets still queued when the session closes, so
// frames sent just before Close reach the peer ahead of the close packet.
// The caller holds writeMu.
func (s *Session) flushLocked() {
	for {
		select {
		case packet := <-s.outgoing:
			if err := s.writePacketLocked(packet); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) writePacketLocked(packet *Packet) error {
	if err := s.conn.WriteMessage(websocket.TextMessage, packet.Encode()); err != nil {
		return err
	}
	for _, attachment := range packet.Attachments {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, attachment); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypePing:
		s.handlePing()
	case PacketTypePong:
		s.handlePong()
	case PacketTypeMessage:
		s.handleMessage(packet.Data, false)
	}
}

func (s *Session) handlePing() {
	s.Send(&Packet{Type: PacketTypePong})
	if s.client {
		s.resetWatchdog()
	}
}

func (s *Session) handlePong() {
	if s.client {
		return
	}
	s.timerMu.Lock()
	if s.pingTimeout != nil {
		s.pingTimeout.Stop()
	}
	s.timerMu.Unlock()
	s.schedulePing()
}

func (s *Session) handleMessage(data []byte, binary bool) {
	s.mu.RLock()
	handler := s.onMessage
	s.mu.RUnlock()

	if handler != nil {
		handler(data, binary)
	}
}

func (s *Session) schedulePing() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.isClosed() {
		return
	}
	s.pingTimer = time.AfterFunc(s.config.PingInterval, func() {
		s.Send(&Packet{Type: PacketTypePing})
		s.schedulePingTimeout()
	})
}

func (s *Session) schedulePingTimeout() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.isClosed() {
		return
	}
	s.pingTimeout = time.AfterFunc(s.config.PingTimeout, func() {
		s.Close(ReasonPingTimeout)
	})
}

func (s *Session) resetWatchdog() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.isClosed() {
		return
	}
	if s.pingTimeout != nil {
		s.pingTimeout.Stop()
	}
	s.pingTimeout = time.AfterFunc(s.config.PingInterval+s.config.PingTimeout, func() {
		s.Close(ReasonPingTimeout)
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}
