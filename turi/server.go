package turi

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/batcher"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/blockstore"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/worldstate"
)

// RequestTimeout bounds a single client request: it is the read and write
// deadline on the client's connection, and a request that exceeds it has
// its connection closed without a reply.
const RequestTimeout = 10 * time.Second

// ErrTimeout names the request-timeout condition. The server never sends
// it: a request that exceeds RequestTimeout ends with its connection closed.
var ErrTimeout = errors.New("turi: request timed out")

// Config wires the gateway to the local RPU's core collaborators. TURI
// itself never touches consensus: Execute only ever reaches the batcher,
// and every read query is served straight from WorldState/BlockStore
// (§6).
type Config struct {
	Key        *identity.PrivateKey
	BlockStore blockstore.Store
	WorldState *worldstate.Service
	Batcher    *batcher.Batcher
}

// Server accepts client connections and answers the TURI protocol, one
// goroutine per connection, mirroring peer.Server's own shape (§5's "TURI
// acceptor" long-running loop).
type Server struct {
	listener net.Listener
	cfg      Config
	log      log.Logger
}

// Listen starts accepting TURI client connections on address.
func Listen(address string, cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("turi: listen %s: %w", address, err)
	}
	return &Server{listener: listener, cfg: cfg, log: log.New("component", "turi-server")}, nil
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
			return fmt.Errorf("turi: accept: %w", err)
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	transport := NewTCPTransport(conn, RequestTimeout, RequestTimeout)
	for {
		msg, sender, _, correlationID, err := transport.Receive()
		if err != nil {
			return
		}
		resp := s.handle(sender, msg)
		if err := transport.Reply(s.cfg.Key, resp, correlationID); err != nil {
			s.log.Warn("turi response failed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// handle dispatches one request to its handler, converting any error into
// a client-facing ErrorResponse (stringified, per §7) rather than closing
// the connection — a client that mistypes a GetValue key should be able to
// try again on the same connection.
func (s *Server) handle(sender identity.PeerId, msg Message) Message {
	switch m := msg.(type) {
	case Ping:
		return Pong{}
	case Execute:
		return s.handleExecute(m)
	case GetValue:
		return s.handleGetValue(m)
	case GetAccount:
		return s.handleGetAccount(m)
	case GetBlock:
		return s.handleGetBlock(m)
	case GetCurrentBlockNumber:
		return s.handleGetCurrentBlockNumber()
	default:
		return ErrorResponse{Message: fmt.Sprintf("turi: unsupported request kind %d", msg.Kind())}
	}
}

func (s *Server) handleExecute(m Execute) Message {
	tx, err := block.DecodeSignedTransaction(m.Transaction)
	if err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	decoded, err := tx.Verify()
	if err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	if err := s.cfg.WorldState.Snapshot().Allow(tx.Signer, decoded); err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	if err := s.cfg.Batcher.Add(tx); err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	return ExecuteAck{}
}

func (s *Server) handleGetValue(m GetValue) Message {
	ns, ok := s.cfg.WorldState.Snapshot().Data[m.Owner]
	if !ok {
		return GetValueResponse{Found: false}
	}
	value, ok := ns[m.Key]
	if !ok {
		return GetValueResponse{Found: false}
	}
	return GetValueResponse{Value: value, Found: true}
}

func (s *Server) handleGetAccount(m GetAccount) Message {
	account, ok := s.cfg.WorldState.Snapshot().Accounts[m.Target]
	if !ok {
		return GetAccountResponse{Found: false}
	}
	return GetAccountResponse{Account: account, Found: true}
}

func (s *Server) handleGetBlock(m GetBlock) Message {
	blocks, err := s.cfg.BlockStore.Read(m.Number, m.Number+1)
	if err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	if len(blocks) == 0 {
		return GetBlockResponse{Found: false}
	}
	sb, err := block.FromBlock(blocks[0])
	if err != nil {
		return ErrorResponse{Message: err.Error()}
	}
	return GetBlockResponse{Block: sb, Found: true}
}

// handleGetCurrentBlockNumber answers with the number of committed blocks,
// not BlockStore's highest block index: blocks are numbered from 0, so the
// count a client expects (1 after the first commit, per §8) is last+1.
func (s *Server) handleGetCurrentBlockNumber() Message {
	last, ok := s.cfg.BlockStore.CurrentBlockNumber()
	if !ok {
		return GetCurrentBlockNumberResponse{Empty: true}
	}
	return GetCurrentBlockNumberResponse{Number: last + 1}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
