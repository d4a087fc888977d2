// Package transport provides framed connections to lobby servers. The
// engine depends only on the Transport/Conn contract; TCP and websocket
// implementations are provided.
package transport

import "context"

// Conn is an established, framed connection.
type Conn interface {
	// Frames delivers inbound frames. The channel closes on connection
	// loss; Err then reports the reason.
	Frames() <-chan string
	// Send writes one frame. The implementation owns frame delimiting.
	Send(frame string) error
	// Close tears the connection down. The Frames channel closes soon
	// after. Safe to call more than once.
	Close() error
	// Err returns the error that closed the connection, or nil for a
	// local Close.
	Err() error
}

// Transport dials lobby servers.
type Transport interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}
