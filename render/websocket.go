package render

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/imhunterand/iDA-projectile/logging"
)

const (
	writeWait  = 2 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// WebsocketRenderer broadcasts frames as JSON text messages to every connected client. Clients
// that fall behind are disconnected.
type WebsocketRenderer struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewWebsocketRenderer returns a renderer with no clients. Serve it with ServeHTTP.
func NewWebsocketRenderer(logger logging.Logger) *WebsocketRenderer {
	return &WebsocketRenderer{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// ServeHTTP upgrades the request and streams frames until the client goes away.
func (w *WebsocketRenderer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		//nolint:errcheck
		conn.Close()
		return
	}
	w.clients[c] = struct{}{}
	count := len(w.clients)
	w.mu.Unlock()
	w.logger.Infow("render client connected", "remote", r.RemoteAddr, "clients", count)

	go w.writePump(c)
	w.readPump(c)
}

// Clients returns the number of connected clients.
func (w *WebsocketRenderer) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

// Render implements Renderer.
func (w *WebsocketRenderer) Render(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		select {
		case c.send <- data:
		default:
			w.logger.Warnw("dropping slow render client", "remote", c.conn.RemoteAddr().String())
			w.removeLocked(c)
		}
	}
	return nil
}

// Close disconnects every client.
func (w *WebsocketRenderer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for c := range w.clients {
		w.removeLocked(c)
	}
	return nil
}

func (w *WebsocketRenderer) removeLocked(c *client) {
	if _, ok := w.clients[c]; !ok {
		return
	}
	delete(w.clients, c)
	close(c.send)
}

func (w *WebsocketRenderer) remove(c *client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(c)
}

// readPump discards client messages; reading is needed to process pongs and notice closes.
func (w *WebsocketRenderer) readPump(c *client) {
	defer func() {
		w.remove(c)
		//nolint:errcheck
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	//nolint:errcheck
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer to c.conn.
func (w *WebsocketRenderer) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		//nolint:errcheck
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
