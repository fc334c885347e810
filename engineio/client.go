package engineio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Dial opens a WebSocket to an Engine.IO server and reads its open packet.
// The returned session is not started: install handlers, then call Start.
//
// rawURL may use the http, https, ws or wss scheme. An empty path defaults to
// "/socket.io/".
func Dial(ctx context.Context, rawURL string, config *Config, header http.Header) (*Session, error) {
	config = config.withDefaults()

	target, err := Endpoint(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	conn.SetReadLimit(int64(config.MaxPayload))

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	hs, err := DecodeHandshake(data)
	if err != nil {
		conn.Close()
		return nil, err
	}

	negotiated := *config
	negotiated.PingInterval = time.Duration(hs.PingInterval) * time.Millisecond
	negotiated.PingTimeout = time.Duration(hs.PingTimeout) * time.Millisecond

	session := newSession(hs.SID, conn, &negotiated, true)
	session.maxSend = hs.MaxPayload

	session.logger.Debug().Str("url", target).Msg("engine session dialed")

	return session, nil
}

// Endpoint normalizes a server URL into the WebSocket URL used for the
// upgrade request.
func Endpoint(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}

	query := u.Query()
	query.Set("EIO", ProtocolVersion)
	query.Set("transport", "websocket")
	u.RawQuery = query.Encode()

	return u.String(), nil
}
