package amqp

import "context"

// Client is a connection to an AMQP broker. Create one with Dial or New.
type Client struct {
	conn *conn
}

// NewSession opens a new session on the connection.
func (c *Client) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	return c.conn.NewSession(ctx, opts)
}

// Close closes the connection, waiting for a graceful close handshake
// with the peer.
func (c *Client) Close() error {
	return c.conn.Close()
}
