package turi

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"github.com/prellblock/prellblock/identity"
)

// maxFrameSize mirrors package peer's bound: guards against an unbounded
// allocation from a corrupted or hostile length prefix.
const maxFrameSize = 64 << 20 // 64 MiB

// Frame is the on-the-wire shape of one TURI message: the same
// envelope-plus-signature shape as the peer protocol (§6: "Same framing"),
// plus a CorrelationID so a request and its reply can be matched even if a
// future revision pipelines several requests over one connection.
// CorrelationID rides alongside the signed payload rather than inside it —
// it identifies the exchange, not the message content, so it isn't part of
// what Signature attests to.
type Frame struct {
	Payload       []byte
	Signer        identity.PeerId
	Signature     identity.Signature
	CorrelationID string
}

// Transport sends and receives signed, framed TURI Messages over one
// connection. Send originates a new request and returns the correlation ID
// it generated; Reply answers a received request, echoing its correlation
// ID back so the sender can match it.
type Transport interface {
	Send(key *identity.PrivateKey, msg Message) (correlationID string, err error)
	Reply(key *identity.PrivateKey, msg Message, correlationID string) error
	Receive() (msg Message, sender identity.PeerId, sig identity.Signature, correlationID string, err error)
	Close() error
}

type connTransport struct {
	conn         net.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

// NewTCPTransport wraps conn as a framed Transport.
func NewTCPTransport(conn net.Conn, writeTimeout, readTimeout time.Duration) Transport {
	return &connTransport{conn: conn, writeTimeout: writeTimeout, readTimeout: readTimeout}
}

// Send implements Transport, originating a fresh correlation ID for msg.
func (t *connTransport) Send(key *identity.PrivateKey, msg Message) (string, error) {
	id := uuid.New().String()
	return id, t.send(key, msg, id)
}

// Reply implements Transport, echoing correlationID back to the sender.
func (t *connTransport) Reply(key *identity.PrivateKey, msg Message, correlationID string) error {
	return t.send(key, msg, correlationID)
}

func (t *connTransport) send(key *identity.PrivateKey, msg Message, correlationID string) error {
	payload, err := msg.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("turi: encoding message: %w", err)
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return fmt.Errorf("turi: signing message: %w", err)
	}
	data, err := rlp.EncodeToBytes(&Frame{Payload: payload, Signer: key.PeerId(), Signature: sig, CorrelationID: correlationID})
	if err != nil {
		return fmt.Errorf("turi: encoding frame: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("turi: outgoing frame of %d bytes exceeds limit", len(data))
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("turi: set write deadline: %w", err)
		}
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(data)))
	if _, err := t.conn.Write(header); err != nil {
		return fmt.Errorf("turi: writing frame header: %w", err)
	}
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("turi: writing frame payload: %w", err)
	}
	return nil
}

// Receive implements Transport.
func (t *connTransport) Receive() (Message, identity.PeerId, identity.Signature, string, error) {
	if t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return nil, identity.PeerId{}, identity.Signature{}, "", fmt.Errorf("turi: set read deadline: %w", err)
		}
	}
	header := make([]byte, 4)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, "", fmt.Errorf("turi: reading frame header: %w", err)
	}
	size := binary.LittleEndian.Uint32(header)
	if size > maxFrameSize {
		return nil, identity.PeerId{}, identity.Signature{}, "", fmt.Errorf("turi: incoming frame of %d bytes exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(t.conn, data); err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, "", fmt.Errorf("turi: reading frame payload: %w", err)
	}

	var frame Frame
	if err := rlp.DecodeBytes(data, &frame); err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, "", fmt.Errorf("turi: decoding frame: %w", err)
	}
	if !identity.Verify(frame.Signer, frame.Payload, frame.Signature) {
		return nil, identity.PeerId{}, identity.Signature{}, "", fmt.Errorf("turi: %w", identity.ErrSignatureInvalid)
	}
	msg, err := Decode(frame.Payload)
	if err != nil {
		return nil, identity.PeerId{}, identity.Signature{}, "", err
	}
	return msg, frame.Signer, frame.Signature, frame.CorrelationID, nil
}

// Close implements Transport.
func (t *connTransport) Close() error {
	return t.conn.Close()
}
