package peer

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prellblock/prellblock/identity"
)

// ErrUnexpectedSigner is returned by Request when the response came back
// signed by someone other than the dialed Target — a connection is
// identified by address, not identity, so this is the check that binds the
// two.
var ErrUnexpectedSigner = errors.New("peer: response from unexpected signer")

// DialTimeout bounds establishing a new peer connection.
const DialTimeout = 5 * time.Second

// RequestTimeout bounds a single Send+Receive round trip on an existing
// connection.
const RequestTimeout = 10 * time.Second

// Client is a connection to one remote RPU, used by the Broadcaster and by
// the consensus engine's block-sync path to send a message and read back
// exactly one response.
type Client struct {
	target    identity.PeerId
	key       *identity.PrivateKey
	transport Transport
}

// Dial opens a new connection to address, identified by the peer's claimed
// target PeerId (verified out-of-band via the roster, not by this dial
// itself — see config/roster.go). Outgoing requests are signed with key,
// the local RPU's own signing key.
func Dial(target identity.PeerId, address string, key *identity.PrivateKey) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", address, err)
	}
	return &Client{
		target:    target,
		key:       key,
		transport: NewTCPTransport(conn, RequestTimeout, RequestTimeout),
	}, nil
}

// Target returns the PeerId this client was dialed for.
func (c *Client) Target() identity.PeerId {
	return c.target
}

// Request sends msg and returns the single response the peer sends back,
// together with that peer's signature over the response's own
// CanonicalBytes. The signature is reusable as-is as a quorum vote (e.g. an
// Ack-Prepare/Ack-Append's signature in §4.6.4/§4.6.5): Request itself
// verifies the response was signed by this Client's Target, rejecting
// anything else with ErrUnexpectedSigner.
func (c *Client) Request(msg Message) (Message, identity.Signature, error) {
	if err := c.transport.Send(c.key, msg); err != nil {
		return nil, identity.Signature{}, err
	}
	resp, signer, sig, err := c.transport.Receive()
	if err != nil {
		return nil, identity.Signature{}, err
	}
	if signer != c.target {
		return nil, identity.Signature{}, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedSigner, signer, c.target)
	}
	return resp, sig, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.transport.Close()
}
