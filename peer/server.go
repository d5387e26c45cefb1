package peer

import (
	"errors"
	"fmt"
	"net"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/identity"
)

// Handler answers one authenticated inbound peer message with the response
// to send back on the same connection. The consensus engine registers the
// handler that implements §4.6.3-§4.6.8's request/response steps; Handler
// itself knows nothing about consensus semantics. sender is the
// signature-verified PeerId of whoever sent msg, and sig is the sender's
// signature over msg. The consensus engine's handler ignores sig: it
// counts votes from the signatures on Broadcast responses instead.
type Handler func(sender identity.PeerId, sig identity.Signature, msg Message) (Message, error)

// Server accepts peer connections and dispatches each inbound message to a
// Handler, one goroutine per connection, mirroring §5's "peer acceptor"
// long-running loop. Responses are signed with Key, this RPU's own
// signing key.
type Server struct {
	listener net.Listener
	handler  Handler
	key      *identity.PrivateKey
	log      log.Logger
}

// Listen starts accepting peer connections on address. Accepted connections
// run until the peer closes them or a frame fails to decode or verify.
func Listen(address string, key *identity.PrivateKey, handler Handler) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("peer: listen %s: %w", address, err)
	}
	return &Server{
		listener: listener,
		handler:  handler,
		key:      key,
		log:      log.New("component", "peer-server"),
	}, nil
}

// Addr returns the server's bound address, useful when address was ":0".
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks, accepting connections until the listener is closed. Run it
// from its own goroutine, per §5.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("peer: accept: %w", err)
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	transport := NewTCPTransport(conn, RequestTimeout, RequestTimeout)
	for {
		msg, sender, sig, err := transport.Receive()
		if err != nil {
			return
		}
		resp, err := s.handler(sender, sig, msg)
		if err != nil {
			s.log.Warn("peer request failed", "remote", conn.RemoteAddr(), "sender", sender, "err", err)
			errResp := ErrorResponse{Message: err.Error()}
			var coded CodedError
			if errors.As(err, &coded) {
				errResp.Code = coded.Code()
			}
			if sendErr := transport.Send(s.key, errResp); sendErr != nil {
				s.log.Warn("peer error response failed", "remote", conn.RemoteAddr(), "err", sendErr)
				return
			}
			continue
		}
		if resp == nil {
			continue
		}
		if err := transport.Send(s.key, resp); err != nil {
			s.log.Warn("peer response failed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
