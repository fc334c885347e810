package engineio

import (
	"errors"
	"testing"
	"time"
)

func TestPacketEncodeDecode(t *testing.T) {
	p := &Packet{Type: PacketTypeMessage, Data: []byte(`2["hi"]`)}
	encoded := p.Encode()
	if string(encoded) != `42["hi"]` {
		t.Fatalf("encoded = %q", encoded)
	}

	decoded, err := DecodePacket(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != PacketTypeMessage || string(decoded.Data) != `2["hi"]` {
		t.Fatalf("decoded = %+v", decoded)
	}

	ping, err := DecodePacket([]byte("2"))
	if err != nil || ping.Type != PacketTypePing || ping.Data != nil {
		t.Fatalf("ping = %+v, %v", ping, err)
	}
}

func TestDecodePacketErrors(t *testing.T) {
	if _, err := DecodePacket(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := DecodePacket([]byte("9x")); !errors.Is(err, ErrInvalidPacketType) {
		t.Fatalf("bad type: %v", err)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	cfg := &Config{PingInterval: 25 * time.Second, PingTimeout: 20 * time.Second, MaxPayload: 1e6}

	data, err := EncodeHandshake("abc", cfg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if data[0] != '0' {
		t.Fatalf("open packet starts with %q", data[0])
	}

	hs, err := DecodeHandshake(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hs.SID != "abc" || hs.PingInterval != 25000 || hs.PingTimeout != 20000 || hs.MaxPayload != 1e6 {
		t.Fatalf("handshake = %+v", hs)
	}
	if hs.Upgrades == nil || len(hs.Upgrades) != 0 {
		t.Fatalf("upgrades = %#v", hs.Upgrades)
	}
}

func TestDecodeHandshakeRejects(t *testing.T) {
	cases := map[string]string{
		"not open":    `4{"sid":"a"}`,
		"bad json":    `0{`,
		"missing sid": `0{"pingInterval":1,"pingTimeout":1,"maxPayload":1}`,
		"no timing":   `0{"sid":"a","maxPayload":1}`,
	}
	for name, raw := range cases {
		if _, err := DecodeHandshake([]byte(raw)); !errors.Is(err, ErrBadHandshake) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestEndpoint(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3300":       "ws://localhost:3300/socket.io/?EIO=4&transport=websocket",
		"https://example.com/":        "wss://example.com/socket.io/?EIO=4&transport=websocket",
		"ws://host/custom/?token=x":   "ws://host/custom/?EIO=4&token=x&transport=websocket",
		"wss://host/socket.io/?EIO=3": "wss://host/socket.io/?EIO=4&transport=websocket",
	}
	for in, want := range cases {
		got, err := Endpoint(in)
		if err != nil {
			t.Fatalf("Endpoint(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Endpoint(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := Endpoint("ftp://host"); err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{PingInterval: time.Second}).withDefaults()
	def := DefaultConfig()

	if cfg.PingInterval != time.Second {
		t.Fatalf("explicit ping interval replaced: %v", cfg.PingInterval)
	}
	if cfg.PingTimeout != def.PingTimeout || cfg.MaxPayload != def.MaxPayload || cfg.SendQueue != def.SendQueue {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	var nilCfg *Config
	if got := nilCfg.withDefaults(); got.PingInterval != def.PingInterval {
		t.Fatalf("nil config = %+v", got)
	}
}
