package socketio

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bubblesnake/socketio/engineio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReasonConnectTimeout closes a physical connection that connected no channel
// in time.
const ReasonConnectTimeout = "connect timeout"

// Config represents Socket.IO configuration, shared by Server and Client.
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int // bytes per WebSocket message
	SendQueue    int // buffered outgoing packets per connection

	// ConnectTimeout bounds how long a new physical connection may stay
	// without a connected channel.
	ConnectTimeout time.Duration

	// StrictChannels refuses connects to channels the application never
	// opened. Otherwise unknown channels are created on demand.
	StrictChannels bool

	Limits Limits

	// CheckOrigin is handed to the WebSocket upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	Logger *zerolog.Logger
}

// DefaultConfig returns default Socket.IO configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval:   25 * time.Second,
		PingTimeout:    20 * time.Second,
		MaxPayload:     1e6,
		SendQueue:      256,
		ConnectTimeout: 45 * time.Second,
		Limits:         DefaultLimits(),
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	}
	out := *c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.MaxPayload <= 0 {
		out.MaxPayload = def.MaxPayload
	}
	out.Limits = out.Limits.withDefaults()
	// A blob travels as one WebSocket message and must fit the peer's read limit.
	if out.Limits.MaxBlobSize > out.MaxPayload {
		out.Limits.MaxBlobSize = out.MaxPayload
	}
	return &out
}

func (c *Config) engine() *engineio.Config {
	return &engineio.Config{
		PingInterval: c.PingInterval,
		PingTimeout:  c.PingTimeout,
		MaxPayload:   c.MaxPayload,
		SendQueue:    c.SendQueue,
		CheckOrigin:  c.CheckOrigin,
		Logger:       c.Logger,
	}
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return c.Logger.With().Str("component", "socketio").Logger()
}

// Server represents a Socket.IO server
type Server struct {
	eio      *engineio.Server
	registry *Registry
	codec    Codec
	config   *Config
	logger   zerolog.Logger
}

// NewServer creates a new Socket.IO server
func NewServer(config *Config) *Server {
	config = config.withDefaults()
	logger := config.logger()
	codec := Codec{Limits: config.Limits}

	server := &Server{
		eio:      engineio.NewServer(config.engine()),
		registry: NewRegistry(codec, logger),
		codec:    codec,
		config:   config,
		logger:   logger,
	}

	// Handle Engine.IO connections
	server.eio.OnConnect(server.handleConnection)

	return server
}

// Of returns a channel, creating it if it doesn't exist. Channels obtained
// here are never collected.
func (s *Server) Of(path string) *Channel {
	return s.registry.Pin(path)
}

// Registry returns the server's channel registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handle registers a handler template for an event on a channel.
func (s *Server) Handle(path, event string, handler Handler) {
	s.Of(path).Handle(event, handler)
}

// OnConnection adds a callback for sessions opening on a channel.
func (s *Server) OnConnection(path string, fn func(*Session)) {
	s.Of(path).OnConnection(fn)
}

// OnConnect adds a callback for sessions opening on the root channel.
func (s *Server) OnConnect(fn func(*Session)) {
	s.OnConnection("/", fn)
}

// Emit broadcasts to all sessions on the root channel.
func (s *Server) Emit(event string, args ...any) error {
	return s.Of("/").Emit(event, args...)
}

// To returns a BroadcastOperator for the root channel.
func (s *Server) To(rooms ...string) *BroadcastOperator {
	return s.Of("/").To(rooms...)
}

// EmitTo broadcasts an event to every session on an existing channel.
func (s *Server) EmitTo(path, event string, args ...any) error {
	ch, ok := s.registry.Lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, NormalizeChannel(path))
	}
	return ch.Emit(event, args...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/socket.io/") {
		http.NotFound(w, r)
		return
	}

	// Delegate to Engine.IO
	s.eio.ServeHTTP(w, r)
}

// Close closes the server and all connections
func (s *Server) Close() error {
	s.eio.Close()
	s.registry.Close()
	return nil
}

func (s *Server) handleConnection(es *engineio.Session) {
	c := newConn(es, s.codec, s, s.logger)

	timer := time.AfterFunc(s.config.ConnectTimeout, func() {
		if !c.negotiated.Load() {
			c.logger.Debug().Dur("timeout", s.config.ConnectTimeout).Msg("no channel connected")
			es.Close(ReasonConnectTimeout)
		}
	})
	es.OnClose(func(string) { timer.Stop() })
}

func (s *Server) handleConnect(c *conn, f *Frame) {
	path := f.Channel

	if existing := c.session(path); existing != nil {
		c.logger.Debug().Str("channel", path).Msg("duplicate connect ignored")
		return
	}

	var ch *Channel
	if s.config.StrictChannels {
		var ok bool
		if ch, ok = s.registry.Lookup(path); !ok {
			c.logger.Debug().Str("channel", path).Msg("connect to unknown channel refused")
			s.refuse(c, path, "Invalid namespace")
			return
		}
	} else {
		ch = s.registry.Open(path)
	}

	session := newSession(uuid.NewString(), path, c)
	session.channel = ch
	session.handshake = f.Data

	if err := ch.admit(session); err != nil {
		session.refuse(err)
		s.refuse(c, path, err.Error())
		return
	}

	if err := c.attach(session); err != nil {
		session.refuse(err)
		c.logger.Debug().Err(err).Str("channel", path).Msg("connect not attached")
		return
	}

	ch = s.registry.join(session)
	ch.install(session)
	session.Join(session.ID())

	err := c.write(&Frame{
		Channel: path,
		Kind:    KindConnect,
		Data:    map[string]any{"sid": session.ID()},
	})
	if err != nil {
		session.log().Debug().Err(err).Msg("connect reply not sent")
		session.terminate(ReasonConnectFailed, false)
		return
	}

	session.open(ch.connected)
}

func (s *Server) handleConnectError(c *conn, f *Frame) {
	c.logger.Debug().Str("channel", f.Channel).Interface("data", f.Data).Msg("unexpected connect error from client")
}

func (s *Server) refuse(c *conn, path, message string) {
	err := c.write(&Frame{
		Channel: path,
		Kind:    KindConnectError,
		Data:    map[string]any{"message": message},
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("channel", path).Msg("connect error not sent")
	}
}
