package signaling

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 1 * time.Second

// Peer is a fan-out recipient. Send must not block.
type Peer interface {
	ID() string
	Send(frame []byte) bool
}

// Conn is one browser tab's signaling socket.
//
// gorilla/websocket allows one concurrent writer; writePump is the only
// caller of WriteMessage. Pings and close frames go through WriteControl,
// which is safe to call concurrently.
type Conn struct {
	id         string
	ws         *websocket.Conn
	remoteAddr string
	log        *slog.Logger

	queue *sendQueue

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, sendQueueBytes int, log *slog.Logger) *Conn {
	id := uuid.NewString()
	remote := ws.RemoteAddr().String()
	return &Conn{
		id:         id,
		ws:         ws,
		remoteAddr: remote,
		log:        log.With("conn_id", id, "remote_addr", remote),
		queue:      newSendQueue(sendQueueBytes),
		done:       make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues frame for delivery. It reports false when the connection is
// closed or its send queue is full.
func (c *Conn) Send(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	return c.queue.Enqueue(frame)
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writePump() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.log.Debug("ws_write_failed", "err", err)
			c.Close()
			return
		}
	}
}

func (c *Conn) pingLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.log.Debug("ws_ping_failed", "err", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// Close releases the socket and drops any queued frames. It is idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.queue.Close()
		_ = c.ws.Close()
	})
}
