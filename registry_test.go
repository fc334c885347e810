package socketio

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRegistry() *Registry {
	return NewRegistry(Codec{}, zerolog.Nop())
}

// detachedConn is a connection with no transport, enough for sessions that
// never write.
func detachedConn() *conn {
	return &conn{
		logger:   zerolog.Nop(),
		sessions: make(map[string]*Session),
	}
}

func joinSession(r *Registry, id, path string) *Session {
	s := newSession(id, path, detachedConn())
	s.channel = r.Open(path)
	r.join(s)
	return s
}

func TestRegistryRootAlwaysExists(t *testing.T) {
	r := newTestRegistry()

	root, ok := r.Lookup("/")
	if !ok || root.Path() != "/" {
		t.Fatalf("root channel missing")
	}
	if !r.Pinned("/") {
		t.Fatal("root should be pinned")
	}

	s := joinSession(r, "a", "/")
	if !r.CloseSession(s.ID()) {
		t.Fatal("session not registered")
	}
	if _, ok := r.Lookup(""); !ok {
		t.Fatal("root removed after its last session left")
	}
}

func TestRegistryOpenIsIdempotent(t *testing.T) {
	r := newTestRegistry()

	a := r.Open("/chat")
	b := r.Open("chat")
	if a != b {
		t.Fatal("Open returned different channels for the same path")
	}
	if r.Pin("/chat") != a {
		t.Fatal("Pin replaced an existing channel")
	}
	if !reflect.DeepEqual(r.Channels(), []string{"/", "/chat"}) {
		t.Fatalf("channels = %v", r.Channels())
	}
}

func TestRegistryCollectsUnpinnedChannels(t *testing.T) {
	r := newTestRegistry()

	s1 := joinSession(r, "s1", "/lazy")
	s2 := joinSession(r, "s2", "/lazy")

	if path, ok := r.SessionChannel("s1"); !ok || path != "/lazy" {
		t.Fatalf("index = %q, %v", path, ok)
	}

	r.CloseSession(s1.ID())
	if _, ok := r.Lookup("/lazy"); !ok {
		t.Fatal("channel collected while a session remains")
	}

	r.CloseSession(s2.ID())
	if _, ok := r.Lookup("/lazy"); ok {
		t.Fatal("empty unpinned channel kept")
	}
	if r.CloseSession(s2.ID()) {
		t.Fatal("second close reported a registered session")
	}
}

func TestRegistryKeepsPinnedChannels(t *testing.T) {
	r := newTestRegistry()
	r.Pin("/chat")

	s := joinSession(r, "s", "/chat")
	r.CloseSession(s.ID())

	ch, ok := r.Lookup("/chat")
	if !ok {
		t.Fatal("pinned channel collected")
	}
	if ch.Len() != 0 {
		t.Fatalf("channel still holds %d sessions", ch.Len())
	}
}

func TestRegistryJoinRestoresCollectedChannel(t *testing.T) {
	r := newTestRegistry()

	ch := r.Open("/tmp")
	s := newSession("late", "/tmp", detachedConn())
	s.channel = ch

	other := joinSession(r, "other", "/tmp")
	r.CloseSession(other.ID())
	if _, ok := r.Lookup("/tmp"); ok {
		t.Fatal("channel should be collected")
	}

	if got := r.join(s); got != ch {
		t.Fatal("join did not restore the session's channel")
	}
	if found, ok := r.Lookup("/tmp"); !ok || found != ch {
		t.Fatal("restored channel not registered")
	}
	if _, ok := ch.Session("late"); !ok {
		t.Fatal("session missing from restored channel")
	}
}

func TestRegistryCloseSessionLeavesRooms(t *testing.T) {
	r := newTestRegistry()
	s := joinSession(r, "s", "/")
	s.Join("lobby")

	root, _ := r.Lookup("/")
	if got := root.Adapter().Sessions("lobby"); !reflect.DeepEqual(got, []string{"s"}) {
		t.Fatalf("lobby = %v", got)
	}

	r.CloseSession("s")
	if got := root.Adapter().Sessions("lobby"); len(got) != 0 {
		t.Fatalf("lobby still has %v", got)
	}
	if got := root.Adapter().SessionRooms("s"); len(got) != 0 {
		t.Fatalf("session still in %v", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := newTestRegistry()
	r.Pin("/pinned")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				path := fmt.Sprintf("/c%d", i%4)
				if i%3 == 0 {
					path = "/pinned"
				}
				s := joinSession(r, fmt.Sprintf("w%d-%d", w, i), path)
				r.Lookup(path)
				r.Channels()
				r.CloseSession(s.ID())
			}
		}(w)
	}
	wg.Wait()

	if !reflect.DeepEqual(r.Channels(), []string{"/", "/pinned"}) {
		t.Fatalf("channels left = %v", r.Channels())
	}
}

type recordingAdapter struct {
	*MemoryAdapter
	frames []*Frame
	rooms  [][]string
	except [][]string
}

func (a *recordingAdapter) Broadcast(f *Frame, rooms []string, except []string) error {
	a.frames = append(a.frames, f)
	a.rooms = append(a.rooms, rooms)
	a.except = append(a.except, except)
	return a.MemoryAdapter.Broadcast(f, rooms, except)
}

func TestChannelBroadcastGoesThroughAdapter(t *testing.T) {
	r := newTestRegistry()
	ch := r.Pin("/news")
	rec := &recordingAdapter{MemoryAdapter: NewMemoryAdapter(ch)}
	ch.SetAdapter(rec)

	if err := ch.To("a").To("b").Except("x").Emit("headline", "hi"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := ch.Emit("all"); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if len(rec.frames) != 2 {
		t.Fatalf("broadcasts = %d", len(rec.frames))
	}
	f := rec.frames[0]
	if f.Channel != "/news" || f.Kind != KindEvent || f.Event != "headline" {
		t.Fatalf("frame = %+v", f)
	}
	if !reflect.DeepEqual(rec.rooms[0], []string{"a", "b"}) || !reflect.DeepEqual(rec.except[0], []string{"x"}) {
		t.Fatalf("rooms = %v except = %v", rec.rooms[0], rec.except[0])
	}
	if len(rec.rooms[1]) != 0 {
		t.Fatalf("plain emit targeted rooms %v", rec.rooms[1])
	}
}
