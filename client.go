package socketio

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bubblesnake/socketio/engineio"
	"github.com/rs/zerolog"
)

// Client is the dialing side of one physical connection. It connects any
// number of channels over it, one session each.
type Client struct {
	eio    *engineio.Session
	conn   *conn
	config *Config
	logger zerolog.Logger
}

// Dial opens a physical connection to a Socket.IO server. No channel is
// connected yet; use Socket to install handlers and Connect to negotiate.
func Dial(ctx context.Context, url string, config *Config) (*Client, error) {
	return DialHeader(ctx, url, config, nil)
}

// DialHeader is Dial with extra HTTP headers on the upgrade request.
func DialHeader(ctx context.Context, url string, config *Config, header http.Header) (*Client, error) {
	config = config.withDefaults()

	es, err := engineio.Dial(ctx, url, config.engine(), header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	c := &Client{
		eio:    es,
		config: config,
		logger: config.logger(),
	}
	c.conn = newConn(es, Codec{Limits: config.Limits}, c, c.logger)
	es.Start()

	return c, nil
}

// ID returns the engine session id assigned by the server.
func (c *Client) ID() string {
	return c.eio.ID()
}

// Done is closed once the physical connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.eio.Done()
}

// Socket returns the session for a channel, creating it in StateConnecting
// when there is none. Handlers registered on it before Connect see every
// event the server sends after accepting it.
func (c *Client) Socket(path string) (*Session, error) {
	path = NormalizeChannel(path)
	if err := validateChannel(path); err != nil {
		return nil, err
	}

	for {
		if s := c.conn.session(path); s != nil {
			return s, nil
		}
		s := newSession("", path, c.conn)
		err := c.conn.attach(s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrAlreadyConnected) {
			return nil, err
		}
	}
}

// Session returns the session attached for a channel, if any.
func (c *Client) Session(path string) (*Session, bool) {
	s := c.conn.session(NormalizeChannel(path))
	return s, s != nil
}

// Connect negotiates a channel. data, when not nil, is sent as the handshake
// payload and must marshal to a JSON object. It returns once the server has
// accepted or refused the channel, or ctx ends.
func (c *Client) Connect(ctx context.Context, path string, data any) (*Session, error) {
	s, err := c.Socket(path)
	if err != nil {
		return nil, err
	}
	if s.State() != StateConnecting {
		return nil, ErrAlreadyConnected
	}

	err = c.conn.write(&Frame{
		Channel: s.path,
		Kind:    KindConnect,
		Data:    data,
	})
	if err != nil {
		s.refuse(err)
		return nil, err
	}

	select {
	case <-s.ready:
		return s, nil
	case <-s.closed:
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, ErrSessionClosed
	case <-ctx.Done():
		s.refuse(ctx.Err())
		return nil, ctx.Err()
	}
}

// Close disconnects every channel and closes the physical connection.
func (c *Client) Close() error {
	for _, s := range c.conn.snapshot() {
		s.Disconnect()
	}
	c.eio.Close(engineio.ReasonForcedClose)
	return nil
}

func (c *Client) handleConnect(cn *conn, f *Frame) {
	s := cn.session(f.Channel)
	if s == nil || s.State() != StateConnecting {
		c.logger.Debug().Str("channel", f.Channel).Msg("unsolicited connect ignored")
		return
	}

	if payload, ok := f.Data.(map[string]any); ok {
		if sid, ok := payload["sid"].(string); ok {
			s.setID(sid)
		}
	}
	s.mu.Lock()
	s.handshake = f.Data
	s.mu.Unlock()

	s.open(nil)
}

func (c *Client) handleConnectError(cn *conn, f *Frame) {
	s := cn.session(f.Channel)
	if s == nil {
		c.logger.Debug().Str("channel", f.Channel).Msg("unsolicited connect error ignored")
		return
	}

	message := "connect refused"
	if payload, ok := f.Data.(map[string]any); ok {
		if m, ok := payload["message"].(string); ok {
			message = m
		}
	}
	s.refuse(fmt.Errorf("%w: %s", ErrConnectRefused, message))
}
