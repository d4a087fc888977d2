package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Frames can get long when the server dumps channel rosters.
const maxLineBytes = 1 << 20

// TCP dials plain TCP lobby servers speaking one newline-terminated frame
// per line.
type TCP struct {
	// DialTimeout bounds connection establishment. Zero means 10s.
	DialTimeout time.Duration
}

func (t *TCP) Dial(ctx context.Context, addr string) (Conn, error) {
	timeout := t.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}

	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &tcpConn{
		nc:     nc,
		frames: make(chan string, 64),
	}
	go c.readLoop()
	return c, nil
}

type tcpConn struct {
	nc     net.Conn
	frames chan string

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *tcpConn) readLoop() {
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		c.frames <- scanner.Text()
	}

	c.mu.Lock()
	if !c.closed && scanner.Err() != nil {
		c.err = scanner.Err()
	}
	c.mu.Unlock()
	close(c.frames)
}

func (c *tcpConn) Frames() <-chan string { return c.frames }

func (c *tcpConn) Send(frame string) error {
	if _, err := c.nc.Write([]byte(frame + "\n")); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (c *tcpConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.nc.Close()
}

func (c *tcpConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
