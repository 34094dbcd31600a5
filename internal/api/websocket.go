package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lockstep/internal/netproto"
)

// MaxPeerConnections caps the number of simultaneous peer links; a match
// never has more peers than player slots.
const MaxPeerConnections = 16

const (
	writeInterval = 5 * time.Millisecond
	writeTimeout  = 2 * time.Second
	drainBatch    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Peer links are addressed by explicit configuration, not browsers;
	// origin checks don't apply.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MessageSink receives decoded peer messages on the transport goroutine.
// internal/ioadapter.Adapter satisfies this via a tiny wrapper in the
// peer binary.
type MessageSink interface {
	RemoteInput(player int, frame int64, payload []byte)
	RemoteHash(player int, frame int64, hash uint64)
}

// MessageSource yields queued outgoing messages for the writer goroutine.
type MessageSource interface {
	TakeOutgoingMessages(max int) []netproto.Message
}

// PeerHub owns every active peer link: accepted upgrades and outbound
// dials both land in the same connection set, each with a read goroutine
// feeding sink; one shared writer goroutine fans source's queue out to
// all links.
type PeerHub struct {
	sink   MessageSink
	source MessageSource

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewPeerHub builds a hub; Run starts the shared writer.
func NewPeerHub(sink MessageSink, source MessageSource) *PeerHub {
	return &PeerHub{
		sink:     sink,
		source:   source,
		conns:    make(map[*websocket.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Run drains outgoing messages to every connected peer until Stop. Call
// from its own goroutine.
func (h *PeerHub) Run() {
	ticker := time.NewTicker(writeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopChan:
			return
		case <-ticker.C:
			h.flush()
		}
	}
}

// Stop terminates Run and closes every link.
func (h *PeerHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.mu.Lock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}

func (h *PeerHub) flush() {
	msgs := h.source.TakeOutgoingMessages(drainBatch)
	if len(msgs) == 0 {
		return
	}
	frames := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		data, err := netproto.Encode(m)
		if err != nil {
			log.Printf("encode outgoing message: %v", err)
			continue
		}
		frames = append(frames, data)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		for _, data := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				conn.Close()
				delete(h.conns, conn)
				peerConnectionsActive.Set(float64(len(h.conns)))
				break
			}
			peerMessagesSent.Inc()
		}
	}
}

// HandleUpgrade is the HTTP handler peers dial: it upgrades and attaches
// the connection to the hub.
func (h *PeerHub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	full := len(h.conns) >= MaxPeerConnections
	h.mu.Unlock()
	if full {
		RecordConnectionRejected("peer_limit")
		http.Error(w, "peer limit reached", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("peer upgrade failed: %v", err)
		return
	}
	h.attach(conn)
}

// Dial connects outbound to another peer's /peer endpoint.
func (h *PeerHub) Dial(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return err
	}
	h.attach(conn)
	return nil
}

func (h *PeerHub) attach(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	count := len(h.conns)
	h.mu.Unlock()
	peerConnectionsActive.Set(float64(count))
	log.Printf("peer connected from %s (%d total)", conn.RemoteAddr(), count)
	go h.readLoop(conn)
}

func (h *PeerHub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		count := len(h.conns)
		h.mu.Unlock()
		conn.Close()
		peerConnectionsActive.Set(float64(count))
		log.Printf("peer disconnected (%d remaining)", count)
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		msg, err := netproto.Decode(data)
		if err != nil {
			RecordConnectionRejected("bad_frame")
			log.Printf("bad peer frame: %v", err)
			continue
		}
		peerMessagesReceived.Inc()
		switch m := msg.(type) {
		case netproto.InputMsg:
			h.sink.RemoteInput(int(m.PlayerID), int64(m.Frame), m.InputBytes)
		case netproto.HashMsg:
			h.sink.RemoteHash(int(m.PlayerID), int64(m.Frame), m.Hash)
		}
	}
}
