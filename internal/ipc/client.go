package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/rybkr/timelapse/internal/errkind"
)

// dialTimeout bounds how long the client waits for the daemon's socket to
// accept a connection before giving up with an errkind.IoError carrying
// "is the daemon running?" guidance.
const dialTimeout = 5 * time.Second

// Client is a thin synchronous wrapper around one Unix socket connection,
// used by the timelapse CLI to send a single Request and read back its
// Response.
type Client struct {
	conn net.Conn
}

// Dial connects to the daemon's socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, fmt.Sprintf("ipc: connect to %s (is the daemon running?)", socketPath))
	}
	return &Client{conn: conn}, nil
}

// Call sends req and returns the daemon's Response.
func (c *Client) Call(req Request) (Response, error) {
	if err := WriteFrame(c.conn, &req); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := ReadFrame(c.conn, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
