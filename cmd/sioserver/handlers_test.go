package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	socketio "github.com/bubblesnake/socketio"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := socketio.NewServer(nil)
	registerHandlers(server, zerolog.Nop())

	ts := httptest.NewServer(newRouter(server))
	t.Cleanup(func() {
		server.Close()
		ts.Close()
	})
	return ts
}

func dial(t *testing.T, ctx context.Context, url string) *socketio.Client {
	t.Helper()
	client, err := socketio.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBanner(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != banner {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
}

func TestRootHandlers(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := dial(t, ctx, ts.URL)

	root, err := client.Socket("/")
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	replies := make(chan []any, 1)
	root.On("message", socketio.EventFunc(func(_ *socketio.Session, args ...any) {
		replies <- args
	}))

	if _, err := client.Connect(ctx, "/", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := root.Emit("message", "Hello from the client!"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case args := <-replies:
		if !reflect.DeepEqual(args, []any{"Hello from the server!"}) {
			t.Fatalf("unexpected message reply: %#v", args)
		}
	case <-ctx.Done():
		t.Fatal("no message reply")
	}

	future, err := root.Call("update item", 1, map[string]any{"name": "updated"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	result, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	want := []any{map[string]any{"status": "ok"}}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("unexpected call result: %#v", result)
	}
	if root.Pending() != 0 {
		t.Fatalf("pending calls left: %d", root.Pending())
	}
}

func TestChatHelloWithBlobs(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := dial(t, ctx, ts.URL)

	chat, err := client.Socket("/chat")
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	hellos := make(chan []any, 1)
	chat.On("hello", socketio.EventFunc(func(_ *socketio.Session, args ...any) {
		hellos <- args
	}))

	if _, err := client.Connect(ctx, "/chat", map[string]any{"token": "abc"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	future, err := chat.Call("hello", 1, "2", map[string]any{"3": "4", "5": []byte{6}}, []byte{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	result, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !reflect.DeepEqual(result, []any{map[string]any{"status": "ok"}}) {
		t.Fatalf("unexpected ack: %#v", result)
	}

	select {
	case args := <-hellos:
		if len(args) != 3 || args[0] != float64(1) || args[1] != "2" {
			t.Fatalf("unexpected hello args: %#v", args)
		}
		obj, ok := args[2].(map[string]any)
		if !ok {
			t.Fatalf("third arg is %T", args[2])
		}
		if blob, _ := obj["5"].([]byte); !bytes.Equal(blob, []byte{6, 5}) {
			t.Fatalf("unexpected blob 5: %#v", obj["5"])
		}
		if blob, _ := obj["6"].([]byte); string(blob) != "0123" {
			t.Fatalf("unexpected blob 6: %#v", obj["6"])
		}
	case <-ctx.Done():
		t.Fatal("no hello from /chat")
	}
}

func TestRootHelloMixedData(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := dial(t, ctx, ts.URL)

	root, err := client.Socket("/")
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	hellos := make(chan []any, 1)
	root.On("hello", socketio.EventFunc(func(_ *socketio.Session, args ...any) {
		hellos <- args
	}))
	if _, err := client.Connect(ctx, "/", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := root.Emit("hello", 1, "2", map[string]any{"3": "4"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case args := <-hellos:
		if !reflect.DeepEqual(args, []any{"Mixed data received by server!"}) {
			t.Fatalf("unexpected hello reply: %#v", args)
		}
	case <-ctx.Done():
		t.Fatal("no hello reply")
	}
}

func TestChannelsOnOneConnectionStayApart(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := dial(t, ctx, ts.URL)

	root, err := client.Socket("/")
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	chat, err := client.Socket("/chat")
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	rootMessages := make(chan []any, 4)
	root.On("message", socketio.EventFunc(func(_ *socketio.Session, args ...any) {
		rootMessages <- args
	}))
	chatMessages := make(chan []any, 4)
	chat.On("message", socketio.EventFunc(func(_ *socketio.Session, args ...any) {
		chatMessages <- args
	}))

	if _, err := client.Connect(ctx, "/", nil); err != nil {
		t.Fatalf("connect /: %v", err)
	}
	if _, err := client.Connect(ctx, "/chat", nil); err != nil {
		t.Fatalf("connect /chat: %v", err)
	}

	// "message" is only handled on the root channel.
	if err := chat.Emit("message", "for chat"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	future, err := chat.Call("hello")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	select {
	case args := <-rootMessages:
		t.Fatalf("root handler ran for a /chat event: %#v", args)
	case args := <-chatMessages:
		t.Fatalf("unexpected /chat message: %#v", args)
	default:
	}

	// The root channel still answers on the same connection.
	if err := root.Emit("message", "for root"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case args := <-rootMessages:
		if !reflect.DeepEqual(args, []any{"Hello from the server!"}) {
			t.Fatalf("unexpected root reply: %#v", args)
		}
	case <-ctx.Done():
		t.Fatal("no root reply")
	}
}
