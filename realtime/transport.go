package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns a gorilla based Dialer.
func NewWebsocketDialer(handshakeTimeout time.Duration) Dialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &wsDialer{dialer: &d}
}

func (d *wsDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connection is one live transport. Its read and heartbeat goroutines exit
// once done is closed.
type connection struct {
	gen          uint64
	ws           Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(gen uint64, ws Conn, writeTimeout time.Duration) *connection {
	return &connection{
		gen:          gen,
		ws:           ws,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *connection) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// closeNormal sends a 1000 close frame before dropping the transport.
func (c *connection) closeNormal() {
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()
	c.shutdown()
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func isNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}
