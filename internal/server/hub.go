package server

import (
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	log "github.com/sirupsen/logrus"
)

const outgoingQueueLen = 64

// frame is one data message queued for a peer.
type frame struct {
	op   ws.OpCode
	data []byte
}

// peer is a connected client of the relay.
type peer struct {
	conn     net.Conn
	addr     string
	writeMu  sync.Mutex
	outgoing chan frame
}

func newPeer(conn net.Conn, addr string) *peer {
	return &peer{
		conn:     conn,
		addr:     addr,
		outgoing: make(chan frame, outgoingQueueLen),
	}
}

// Write sends raw bytes; the control frame handler uses it for pong and close replies.
func (p *peer) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(b)
}

func (p *peer) writeFrame(f frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return wsutil.WriteServerMessage(p.conn, f.op, f.data)
}

// hub manages all connected peers and handles broadcast.
type hub struct {
	clients map[*peer]bool
	mu      sync.RWMutex
	log     *log.Entry
}

func newHub(entry *log.Entry) *hub {
	return &hub{
		clients: make(map[*peer]bool),
		log:     entry,
	}
}

func (h *hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[p] = true
}

func (h *hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, p)
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast queues f for every peer except sender, or for all peers when echo is set.
// A peer whose queue is full misses the frame.
func (h *hub) broadcast(f frame, sender *peer, echo bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for p := range h.clients {
		if p == sender && !echo {
			continue
		}
		select {
		case p.outgoing <- f:
		default:
			h.log.WithField("peer", p.addr).Warn("outgoing queue full, dropping frame")
		}
	}
}

// closeAll closes every peer socket; their read loops then unregister them.
func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.clients {
		_ = p.conn.Close()
	}
}
