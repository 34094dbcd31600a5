package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lockstep/internal/config"
	"lockstep/internal/netproto"
	"lockstep/internal/session"
)

func newTestServer(t *testing.T, hub *PeerHub) (*Server, *httptest.Server) {
	t.Helper()
	s, err := session.New(session.Config{
		Sim:         config.DefaultSim(),
		Players:     2,
		LocalPlayer: 0,
		Seed:        1,
		DumpDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(s.Close)

	srv := NewServer(s, hub)
	t.Cleanup(srv.Stop)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatsReportsPhase(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["phase"] != "lobby" {
		t.Fatalf("phase = %v, want lobby", body["phase"])
	}
}

func TestDumpLatestWithoutDump(t *testing.T) {
	_, ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/dump/latest")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIPRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             3,
		CleanupInterval:   time.Minute,
	})
	defer rl.Stop()

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed = %d, want burst of 3", allowed)
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("separate IP throttled by the first IP's burst")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	inputs []netproto.InputMsg
	hashes []netproto.HashMsg
}

func (r *recordingSink) RemoteInput(player int, frame int64, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, netproto.InputMsg{PlayerID: uint8(player), Frame: uint32(frame), InputBytes: payload})
}

func (r *recordingSink) RemoteHash(player int, frame int64, hash uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, netproto.HashMsg{PlayerID: uint8(player), Frame: uint32(frame), Hash: hash})
}

type staticSource struct {
	mu   sync.Mutex
	msgs []netproto.Message
}

func (s *staticSource) TakeOutgoingMessages(max int) []netproto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return nil
	}
	n := len(s.msgs)
	if n > max {
		n = max
	}
	out := s.msgs[:n]
	s.msgs = s.msgs[n:]
	return out
}

func TestPeerHubRoundTrip(t *testing.T) {
	sink := &recordingSink{}
	source := &staticSource{msgs: []netproto.Message{
		netproto.HashMsg{PlayerID: 0, Frame: 12, Hash: 0xabc},
	}}
	hub := NewPeerHub(sink, source)
	defer hub.Stop()
	go hub.Run()

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleUpgrade))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/peer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Inbound: an input frame reaches the sink.
	data, err := netproto.Encode(netproto.InputMsg{PlayerID: 1, Frame: 5, InputBytes: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Outbound: the queued hash message arrives at the dialer.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("message kind = %d", kind)
	}
	msg, err := netproto.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hash, ok := msg.(netproto.HashMsg)
	if !ok || hash.Frame != 12 || hash.Hash != 0xabc {
		t.Fatalf("got %+v, want hash msg for frame 12", msg)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.inputs)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("inbound input never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
