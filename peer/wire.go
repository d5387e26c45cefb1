package peer

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/identity"
)

// maxFrameSize bounds a single framed message, guarding against a peer (or a
// corrupted length prefix) asking us to allocate an unbounded buffer.
const maxFrameSize = 64 << 20 // 64 MiB

// Frame is the on-the-wire shape of one peer message: the envelope-encoded
// message bytes plus the sender's PeerId and its signature over those
// bytes, per §6 ("Each carries sender PeerId and a signature over the
// payload bytes").
type Frame struct {
	Payload   []byte
	Signer    identity.PeerId
	Signature identity.Signature
}

// Transport sends and receives signed, framed Messages over a single
// logical connection to one peer. It is the seam named in §6: a framed-TCP
// implementation is provided here, and a future TRDP-backed implementation
// could satisfy the same interface without the consensus engine or
// broadcaster changing.
type Transport interface {
	// Send signs msg with key and writes one framed message, honoring the
	// deadline on the underlying connection if one was configured.
	Send(key *identity.PrivateKey, msg Message) error

	// Receive blocks for the next framed message, verifying its signature
	// before returning. The returned PeerId is the authenticated sender and
	// the returned Signature is the sender's signature over the message's
	// own CanonicalBytes — reused directly as a quorum vote signature by
	// callers that need one (§4.6.4's Ack-Prepare, §4.6.5's Ack-Append).
	Receive() (Message, identity.PeerId, identity.Signature, error)

	// Close releases the underlying connection.
	Close() error
}

// connTransport is the length-prefixed, RLP-payload Transport over a
// net.Conn: a 4-byte little-endian length prefix followed by the RLP
// encoding of a Frame.
type connTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewTCPTransport wraps conn (already dialed or accepted) as a framed
// Transport. writeTimeout and readTimeout bound each individual Send/Receive
// call; zero disables the corresponding deadline.
func NewTCPTransport(conn net.Conn, writeTimeout, readTimeout time.Duration) Transport {
	return &connTransport{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

// Send implements Transport.
func (t *connTransport) Send(key *identity.PrivateKey, msg Message) error {
	payload, err := msg.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("peer: encoding message: %w", err)
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return fmt.Errorf("peer: signing message: %w", err)
	}
	data, err := rlp.EncodeToBytes(&Frame{Payload: payload, Signer: key.PeerId(), Signature: sig})
	if err != nil {
		return fmt.Errorf("peer: encoding frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("peer: outgoing frame of %d bytes exceeds limit", len(data))
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("peer: set write deadline: %w", err)
		}
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(data)))
	if _, err := t.conn.Write(header); err != nil {
		return fmt.Errorf("peer: writing frame header: %w", err)
	}
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("peer: writing frame payload: %w", err)
	}
	return nil
}

// Receive implements Transport.
func (t *connTransport) Receive() (Message, identity.PeerId, identity.Signature, error) {
	if t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return nil, identity.PeerId{}, identity.Signature{}, fmt.Errorf("peer: set read deadline: %w", err)
		}
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, fmt.Errorf("peer: reading frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(header)
	if size > maxFrameSize {
		return nil, identity.PeerId{}, identity.Signature{}, fmt.Errorf("peer: incoming frame of %d bytes exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(t.conn, data); err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, fmt.Errorf("peer: reading frame payload: %w", err)
	}

	var frame Frame
	if err := rlp.DecodeBytes(data, &frame); err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, fmt.Errorf("peer: decoding frame: %w", err)
	}
	if !identity.Verify(frame.Signer, frame.Payload, frame.Signature) {
		return nil, identity.PeerId{}, identity.Signature{}, fmt.Errorf("peer: %w", identity.ErrSignatureInvalid)
	}
	msg, err := Decode(frame.Payload)
	if err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, err
	}
	return msg, frame.Signer, frame.Signature, nil
}

// Close implements Transport.
func (t *connTransport) Close() error {
	return t.conn.Close()
}
