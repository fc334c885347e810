package socketio

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture(7)

	if _, _, ok := f.Result(); ok {
		t.Fatal("fresh future reports a result")
	}
	if !f.resolve([]any{"ok"}, nil) {
		t.Fatal("first resolve rejected")
	}
	if f.resolve(nil, ErrSessionClosed) {
		t.Fatal("second resolve accepted")
	}

	args, err, ok := f.Result()
	if !ok || err != nil || len(args) != 1 || args[0] != "ok" {
		t.Fatalf("result = %v, %v, %v", args, err, ok)
	}
	if f.ID() != 7 {
		t.Fatalf("id = %d", f.ID())
	}
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := newFuture(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("wait = %v", err)
	}

	// The call itself stays pending and can still resolve.
	f.resolve(nil, ErrSessionClosed)
	if _, err := f.Wait(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("wait after resolve = %v", err)
	}
}

func TestMailboxFIFO(t *testing.T) {
	m := newMailbox()
	for i := 0; i < 100; i++ {
		id := i
		if !m.push(&Frame{Kind: KindCall, Event: "e", ID: &id}) {
			t.Fatal("push refused")
		}
	}
	if m.size() != 100 {
		t.Fatalf("size = %d", m.size())
	}

	for i := 0; i < 100; i++ {
		f, ok := m.pop()
		if !ok || *f.ID != i {
			t.Fatalf("pop %d = %v, %v", i, f, ok)
		}
	}
}

func TestMailboxCloseWakesWaiter(t *testing.T) {
	m := newMailbox()
	done := make(chan bool)
	go func() {
		_, ok := m.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	m.close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("pop returned a frame from a closed mailbox")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken")
	}
	if m.push(&Frame{}) {
		t.Fatal("push accepted after close")
	}
}

func TestSessionStateMachine(t *testing.T) {
	s := newSession("id", "/", detachedConn())

	if err := s.checkOpen(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("connecting checkOpen = %v", err)
	}
	if _, err := s.Call("e"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("call while connecting = %v", err)
	}

	if !s.refuse(ErrConnectRefused) {
		t.Fatal("refuse from connecting failed")
	}
	if s.State() != StateClosed || s.Reason() != ReasonConnectFailed || !errors.Is(s.Err(), ErrConnectRefused) {
		t.Fatalf("after refuse: %s %q %v", s.State(), s.Reason(), s.Err())
	}
	if s.open(nil) {
		t.Fatal("closed session reopened")
	}
	if s.refuse(nil) {
		t.Fatal("refuse applied twice")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestSessionTerminateDrainsPending(t *testing.T) {
	s := newSession("id", "/", detachedConn())
	s.open(nil)

	futures := []*Future{newFuture(1), newFuture(2)}
	s.pendingMu.Lock()
	for _, f := range futures {
		s.pending[f.ID()] = f
	}
	s.pendingMu.Unlock()

	reasons := make(chan string, 1)
	s.OnDisconnect(func(reason string) { reasons <- reason })

	s.terminate(ReasonClientDisconnect, false)
	s.terminate(ReasonServerDisconnect, false)

	for _, f := range futures {
		if _, err, ok := f.Result(); !ok || !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("future %d = %v, %v", f.ID(), err, ok)
		}
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d", s.Pending())
	}
	if s.resolveCall(1, nil, nil) {
		t.Fatal("stale reply resolved a drained call")
	}

	select {
	case reason := <-reasons:
		if reason != ReasonClientDisconnect {
			t.Fatalf("reason = %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not run")
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionLoggerCarriesIdentity(t *testing.T) {
	var buf bytes.Buffer
	c := detachedConn()
	c.logger = zerolog.New(&buf)

	s := newSession("", "/chat", c)
	s.setID("abc")
	s.Logger().Info().Msg("hello")
	s.log().Debug().Msg("debug")

	out := buf.String()
	if !strings.Contains(out, `"channel":"/chat"`) || !strings.Contains(out, `"sid":"abc"`) {
		t.Fatalf("log output = %s", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected two lines, got %q", out)
	}
}
