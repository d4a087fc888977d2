package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// WS dials lobby servers reachable over websocket, one frame per text
// message.
type WS struct{}

func (w *WS) Dial(ctx context.Context, addr string) (Conn, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn.SetReadLimit(maxLineBytes)

	c := &wsConn{
		conn:   conn,
		frames: make(chan string, 64),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn   *websocket.Conn
	frames chan string

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			close(c.frames)
			return
		}
		// A single message may carry several newline-separated frames.
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if line != "" {
				c.frames <- line
			}
		}
	}
}

func (c *wsConn) Frames() <-chan string { return c.frames }

func (c *wsConn) Send(frame string) error {
	if err := c.conn.Write(context.Background(), websocket.MessageText, []byte(frame)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
