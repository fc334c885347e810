package engineio

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ProtocolVersion is the only Engine.IO revision accepted on upgrade.
const ProtocolVersion = "4"

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds Engine.IO configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int // bytes per WebSocket message
	SendQueue    int // buffered outgoing packets per session

	// CheckOrigin is handed to the WebSocket upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool

	Logger *zerolog.Logger
}

// DefaultConfig returns default Engine.IO configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6, // 1MB
		SendQueue:    256,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		c = def
	}
	out := *c
	if out.PingInterval <= 0 {
		out.PingInterval = def.PingInterval
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = def.PingTimeout
	}
	if out.MaxPayload <= 0 {
		out.MaxPayload = def.MaxPayload
	}
	if out.SendQueue <= 0 {
		out.SendQueue = def.SendQueue
	}
	return &out
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// Server represents an Engine.IO server
type Server struct {
	config    *Config
	upgrader  websocket.Upgrader
	sessions  sync.Map
	onConnect func(*Session)
	logger    zerolog.Logger
}

// NewServer creates a new Engine.IO server
func NewServer(config *Config) *Server {
	config = config.withDefaults()

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: config.logger().With().Str("component", "engineio").Logger(),
	}
}

// Config returns the effective configuration.
func (s *Server) Config() *Config {
	return s.config
}

// ServeHTTP handles HTTP requests and upgrades to WebSocket
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("transport") != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}
	if eio := query.Get("EIO"); eio != "" && eio != ProtocolVersion {
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(int64(s.config.MaxPayload))

	sid := generateSID()
	session := newSession(sid, conn, s.config, false)
	session.maxSend = s.config.MaxPayload

	handshake, err := EncodeHandshake(sid, s.config)
	if err != nil {
		conn.Close()
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		s.logger.Debug().Err(err).Str("sid", sid).Msg("handshake write failed")
		conn.Close()
		return
	}

	s.sessions.Store(sid, session)
	session.OnClose(func(reason string) {
		s.sessions.Delete(sid)
	})

	s.logger.Debug().Str("sid", sid).Str("remote", r.RemoteAddr).Msg("engine session opened")

	// Handlers are installed before the loops start so no early message is lost.
	if s.onConnect != nil {
		s.onConnect(session)
	}

	session.Start()
}

// OnConnect sets the connection handler
func (s *Server) OnConnect(fn func(*Session)) {
	s.onConnect = fn
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Close closes all sessions
func (s *Server) Close() {
	s.sessions.Range(func(key, value interface{}) bool {
		session := value.(*Session)
		session.Close("server shutdown")
		return true
	})
}

func generateSID() string {
	return uuid.NewString()
}
