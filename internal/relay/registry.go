package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// peerConn is one registered websocket. Writes are serialized per connection.
type peerConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (p *peerConn) writeText(b []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(websocket.TextMessage, b)
}

// Registry maps account ids to their current connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*peerConn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*peerConn)}
}

// Register stores conn under id and returns the connection it replaced, if any.
func (r *Registry) Register(id string, conn *peerConn) (old *peerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.conns[id]; ok && prev != conn {
		old = prev
	}
	r.conns[id] = conn
	return old
}

// Unregister removes id only while it still maps to conn, so a stale
// connection closing never evicts its replacement.
func (r *Registry) Unregister(id string, conn *peerConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[id] == conn {
		delete(r.conns, id)
	}
}

func (r *Registry) lookup(id string) *peerConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Len reports the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered connection. Their read loops then
// unregister them.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]*peerConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	}
	return len(conns)
}
