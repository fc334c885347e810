// Package socketio is a Socket.IO v4 messaging engine over WebSocket, usable
// as a server and as a client.
//
// A physical connection carries any number of channels (Socket.IO namespaces).
// Connecting a channel creates a Session on both ends. Sessions exchange
// events, calls that expect exactly one reply, and replies. Arguments are
// JSON values and binary blobs ([]byte), nested freely; blobs travel as
// separate WebSocket binary messages.
//
// # Server
//
//	server := socketio.NewServer(nil)
//
//	server.Handle("/", "update item", socketio.CallFunc(func(s *socketio.Session, args ...any) ([]any, error) {
//	    return []any{map[string]any{"status": "ok"}}, nil
//	}))
//
//	server.OnConnection("/chat", func(s *socketio.Session) {
//	    s.Join("lobby")
//	    s.OnDisconnect(func(reason string) {
//	        log.Printf("%s left: %s", s.ID(), reason)
//	    })
//	})
//
//	http.Handle("/socket.io/", server)
//	http.ListenAndServe(":3000", nil)
//
// Handlers registered on a channel are templates copied onto each session
// when it connects. Registering an event name again replaces the previous
// handler, on a channel or on a single session.
//
// # Client
//
//	client, err := socketio.Dial(ctx, "http://localhost:3000", nil)
//	chat, err := client.Socket("/chat")
//	chat.On("hello", socketio.EventFunc(func(s *socketio.Session, args ...any) { ... }))
//	_, err = client.Connect(ctx, "/chat", nil)
//
//	future, err := chat.Call("hello", 1, []byte{6, 5})
//	reply, err := future.Wait(ctx)
//
// # Calls and replies
//
// A call is answered exactly once. CallFunc replies with its return values,
// AckFunc hands the handler an Ack it may invoke later from any goroutine.
// A call without a handler is answered with a ReplyError coded "unhandled";
// a handler returning an error or panicking before acknowledging answers with
// code "handler_error". Closing a session fails its pending futures with
// ErrSessionClosed.
//
// # Ordering
//
// Each session has its own inbound queue served by one goroutine, so events
// and calls are handled in the order they arrived and a slow handler only
// holds back its own session. Replies bypass the queue.
//
// # Rooms
//
// Rooms group sessions of one channel for targeted broadcasting.
//
//	s.Join("room1")
//	server.Of("/chat").To("room1").Except(s.ID()).Emit("news", "hello room")
//	s.Leave("room1")
package socketio
