package server

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/pkg/types"
)

// wsConn is the subset of *websocket.Conn this package depends on,
// narrowed so tests can exercise dispatch logic with a fake socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// conn is one client WebSocket connection: a single reader task plus a
// write path serialized by writeMu, and the set of session ids this
// socket is subscribed to.
type conn struct {
	id      string // opaque, logged alongside this socket's lifecycle and traffic
	ws      wsConn
	srv     *Server
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]func() // session id -> cancel for the registry stream callback

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws wsConn, srv *Server) *conn {
	return &conn{
		id:     uuid.NewString(),
		ws:     ws,
		srv:    srv,
		subs:   make(map[string]func()),
		closed: make(chan struct{}),
	}
}

// run is the connection's read loop; it blocks until the socket closes.
func (c *conn) run() {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			logging.Debug().Str("conn", c.id).Msg("server: request parse error")
			c.send(errResponse(nil, codeParseError, "parse error"))
			continue
		}

		resp := c.dispatch(&req)
		if resp != nil {
			c.send(resp)
		}
	}
}

// send serializes writes to the socket; safe to call concurrently from
// the read loop and from session event fanout goroutines.
func (c *conn) send(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return
	default:
	}

	if err := c.ws.WriteJSON(v); err != nil {
		logging.Debug().Err(err).Msg("server: write to client failed")
	}
}

// close cancels every live subscription, closes the socket once, and is
// idempotent.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.subMu.Lock()
		subs := c.subs
		c.subs = make(map[string]func())
		c.subMu.Unlock()

		for _, cancel := range subs {
			cancel()
		}

		_ = c.ws.Close()
	})
}

// subscribe registers a stream callback with the registry for
// sessionID, fanning received events to this socket as session.event
// notifications. Idempotent per session id.
func (c *conn) subscribe(sessionID string) bool {
	c.subMu.Lock()
	if _, exists := c.subs[sessionID]; exists {
		c.subMu.Unlock()
		return true
	}
	c.subMu.Unlock()

	cancel, ok := c.srv.registry.Stream(sessionID, func(ev types.SessionEvent) {
		c.send(notification("session.event", ev))
	})
	if !ok {
		return false
	}

	c.subMu.Lock()
	c.subs[sessionID] = cancel
	c.subMu.Unlock()
	return true
}

func (c *conn) unsubscribe(sessionID string) {
	c.subMu.Lock()
	cancel, ok := c.subs[sessionID]
	delete(c.subs, sessionID)
	c.subMu.Unlock()

	if ok {
		cancel()
	}
}
