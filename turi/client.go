package turi

import (
	"fmt"
	"net"

	"github.com/prellblock/prellblock/identity"
)

// DialTimeout bounds establishing a new client connection.
const DialTimeout = RequestTimeout

// Client is a connection to one RPU's TURI gateway, used by the CLI and by
// any other external caller submitting transactions or reading state.
type Client struct {
	key       *identity.PrivateKey
	transport Transport
}

// Dial opens a new connection to a TURI gateway at address, signing
// outgoing requests with key.
func Dial(address string, key *identity.PrivateKey) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("turi: dial %s: %w", address, err)
	}
	return &Client{key: key, transport: NewTCPTransport(conn, RequestTimeout, RequestTimeout)}, nil
}

// Request sends msg and returns the gateway's single response. An
// ErrorResponse reply is surfaced as a Go error, per §7's client-facing
// stringification rule. The request's correlation ID is checked against the
// reply's so a response meant for an earlier request on this connection is
// never mistaken for this one.
func (c *Client) Request(msg Message) (Message, error) {
	sentID, err := c.transport.Send(c.key, msg)
	if err != nil {
		return nil, err
	}
	resp, _, _, gotID, err := c.transport.Receive()
	if err != nil {
		return nil, err
	}
	if gotID != sentID {
		return nil, fmt.Errorf("turi: correlation id mismatch: sent %s, received %s", sentID, gotID)
	}
	if errResp, ok := resp.(ErrorResponse); ok {
		return nil, errResp
	}
	return resp, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.transport.Close()
}
