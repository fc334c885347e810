package main

import (
	"net/http"

	socketio "github.com/bubblesnake/socketio"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const banner = "Socket.IO Test Server"

// registerHandlers installs the test server's event handlers on the root and
// /chat channels.
func registerHandlers(server *socketio.Server, logger zerolog.Logger) {
	server.OnConnect(func(s *socketio.Session) {
		logger.Info().Str("sid", s.ID()).Msg("client connected to the root channel")
		s.OnDisconnect(func(reason string) {
			logger.Info().Str("sid", s.ID()).Str("reason", reason).Msg("client left the root channel")
		})
	})

	server.Handle("/", "message", socketio.EventFunc(func(s *socketio.Session, args ...any) {
		logger.Info().Str("sid", s.ID()).Interface("args", args).Msg("message")
		if err := s.Emit("message", "Hello from the server!"); err != nil {
			logger.Warn().Err(err).Msg("message reply not sent")
		}
	}))

	server.Handle("/", "hello", socketio.EventFunc(func(s *socketio.Session, args ...any) {
		logger.Info().Str("sid", s.ID()).Interface("args", args).Msg("hello")
		if err := s.Emit("hello", "Mixed data received by server!"); err != nil {
			logger.Warn().Err(err).Msg("hello reply not sent")
		}
	}))

	server.Handle("/", "update item", socketio.CallFunc(func(s *socketio.Session, args ...any) ([]any, error) {
		logger.Info().Str("sid", s.ID()).Interface("args", args).Msg("update item")
		return []any{map[string]any{"status": "ok"}}, nil
	}))

	chat := server.Of("/chat")
	chat.OnConnection(func(s *socketio.Session) {
		logger.Info().Str("sid", s.ID()).Msg("client connected to /chat")
		s.OnDisconnect(func(reason string) {
			logger.Info().Str("sid", s.ID()).Str("reason", reason).Msg("client left /chat")
		})
	})

	chat.Handle("hello", socketio.AckFunc(func(s *socketio.Session, ack socketio.Ack, args ...any) error {
		logger.Info().Str("sid", s.ID()).Interface("args", args).Msg("hello on /chat")
		if err := ack(map[string]any{"status": "ok"}); err != nil {
			return err
		}
		return s.Emit("hello", 1, "2", map[string]any{
			"3": "4",
			"5": []byte{6, 5},
			"6": []byte("0123"),
		})
	}))
}

// newRouter serves the banner on / and the engine under /socket.io/.
func newRouter(server *socketio.Server) *mux.Router {
	r := mux.NewRouter()
	r.PathPrefix("/socket.io/").Handler(server)
	r.Path("/").Methods("GET").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(banner))
	})
	return r
}
