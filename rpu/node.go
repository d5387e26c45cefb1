// Package rpu wires one Redundant Processing Unit's collaborators together —
// block store, world state, batcher, broadcaster, consensus engine, peer
// server, and TURI gateway — and starts every long-running loop §5 names
// as its own goroutine.
package rpu

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/batcher"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/blockstore"
	"github.com/prellblock/prellblock/broadcaster"
	"github.com/prellblock/prellblock/config"
	"github.com/prellblock/prellblock/consensus/praftbft"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
	"github.com/prellblock/prellblock/turi"
	"github.com/prellblock/prellblock/worldstate"
)

// defaultBatchSize and defaultFlushInterval are the batcher thresholds
// used unless a caller overrides them via Options — small enough to keep
// the six end-to-end scenarios of §8 committing promptly in tests, large
// enough that a busy cluster doesn't propose a block per transaction.
const (
	defaultBatchSize     = 64
	defaultFlushInterval = 500 * time.Millisecond
	defaultBatchBuffer   = 1024
	defaultPhaseTimeout  = praftbft.DefaultPhaseTimeout

	// batchBroadcastTimeout bounds announcing a flushed batch to peers
	// (§4.5). It's not on the consensus-critical path — the eventual Prepare
	// re-verifies every transaction's own signature regardless — so a slow
	// or unreachable peer here only costs that peer a future resync, never
	// local progress.
	batchBroadcastTimeout = 5 * time.Second
)

// Options overrides Node's defaults; the zero value is the production
// default tuning.
type Options struct {
	BatchSize              int
	FlushInterval          time.Duration
	BatchBuffer            int
	PhaseTimeout           time.Duration
	DisableConnectionCache bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.BatchBuffer <= 0 {
		o.BatchBuffer = defaultBatchBuffer
	}
	if o.PhaseTimeout <= 0 {
		o.PhaseTimeout = defaultPhaseTimeout
	}
	return o
}

// Node bundles one RPU's full collaborator graph.
type Node struct {
	self   identity.PeerId
	roster config.Roster

	blockStore    blockstore.Store
	world         *worldstate.Service
	batcher       *batcher.Batcher
	engineBatches chan []identity.Signed[block.Transaction]
	broadcast     *broadcaster.Broadcaster
	engine        *praftbft.Engine

	peerServer *peer.Server
	turiServer *turi.Server

	log log.Logger
}

// New builds a Node for this RPU, identified by its own key, against the
// given roster and block store. The world state is replayed from
// blockStore's full history if it already has committed blocks (e.g. a
// restart).
func New(roster config.Roster, key *identity.PrivateKey, blockStore blockstore.Store, opts Options) (*Node, error) {
	opts = opts.withDefaults()
	self := key.PeerId()
	selfPeer, err := roster.Self(self)
	if err != nil {
		return nil, err
	}

	world, err := replayWorldState(blockStore)
	if err != nil {
		return nil, fmt.Errorf("rpu: replay world state: %w", err)
	}

	peers := make([]broadcaster.Peer, 0, len(roster)-1)
	for _, p := range roster {
		if p.PeerId == self {
			continue
		}
		peers = append(peers, broadcaster.Peer{Id: p.PeerId, Address: p.PeerAddress})
	}
	bc := broadcaster.New(peers, key, !opts.DisableConnectionCache)

	b := batcher.New(opts.BatchSize, opts.FlushInterval, opts.BatchBuffer)
	engineBatches := make(chan []identity.Signed[block.Transaction])

	engine, err := praftbft.New(praftbft.Config{
		Roster:       roster.PeerIds(),
		Self:         self,
		Key:          key,
		WorldState:   world,
		BlockStore:   blockStore,
		Broadcaster:  bc,
		Batches:      engineBatches,
		PhaseTimeout: opts.PhaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("rpu: construct engine: %w", err)
	}

	peerServer, err := peer.Listen(selfPeer.PeerAddress, key, engine.Handle)
	if err != nil {
		return nil, fmt.Errorf("rpu: listen peer %s: %w", selfPeer.PeerAddress, err)
	}

	turiServer, err := turi.Listen(selfPeer.ClientAddress, turi.Config{
		Key:        key,
		BlockStore: blockStore,
		WorldState: world,
		Batcher:    b,
	})
	if err != nil {
		peerServer.Close()
		return nil, fmt.Errorf("rpu: listen turi %s: %w", selfPeer.ClientAddress, err)
	}

	return &Node{
		self:          self,
		roster:        roster,
		blockStore:    blockStore,
		world:         world,
		batcher:       b,
		engineBatches: engineBatches,
		broadcast:     bc,
		engine:        engine,
		peerServer:    peerServer,
		turiServer:    turiServer,
		log:           log.New("component", "rpu", "self", self),
	}, nil
}

// replayWorldState rebuilds a WorldState by re-applying every block in
// blockStore from genesis — the startup path for a restarted RPU, the Go
// analogue of a chain replay rather than persisting world state itself
// (§4.3's "the world state is a pure function of the committed block
// prefix").
func replayWorldState(store blockstore.Store) (*worldstate.Service, error) {
	ws := worldstate.New()
	last, ok := store.CurrentBlockNumber()
	if !ok {
		return worldstate.NewServiceWithState(ws), nil
	}
	blocks, err := store.Read(0, last+1)
	if err != nil {
		return nil, err
	}
	for _, blk := range blocks {
		if err := ws.ApplyBlock(blk); err != nil {
			return nil, fmt.Errorf("rpu: replaying block %d: %w", blk.Number, err)
		}
	}
	return worldstate.NewServiceWithState(ws), nil
}

// Run starts every long-running loop named in §5 — TURI acceptor, peer
// acceptor, batcher flush, consensus engine, and the downstream committed
// block notifier — and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	defer n.batcher.Stop()
	defer n.peerServer.Close()
	defer n.turiServer.Close()
	defer n.broadcast.Close()

	committed := make(chan praftbft.CommittedBlock, 16)
	sub := n.engine.Subscribe(committed)
	defer sub.Unsubscribe()

	go n.batcher.Run()
	go n.serveLoop("peer", n.peerServer.Serve)
	go n.serveLoop("turi", n.turiServer.Serve)
	go n.notifyLoop(ctx, committed)
	go n.relayBatches(ctx)

	return n.engine.Run(ctx)
}

func (n *Node) serveLoop(name string, serve func() error) {
	if err := serve(); err != nil {
		n.log.Error("server stopped", "server", name, "err", err)
	}
}

// notifyLoop is the downstream hook named in §4.6: every committed block is
// logged here in place of the out-of-scope ThingsBoard forwarder, which
// would Subscribe the same way to stream blocks onward.
func (n *Node) notifyLoop(ctx context.Context, committed <-chan praftbft.CommittedBlock) {
	for {
		select {
		case <-ctx.Done():
			return
		case cb := <-committed:
			n.log.Info("block committed", "number", cb.Block.Number, "transactions", len(cb.Block.Transactions))
		}
	}
}

// relayBatches broadcasts each flushed batch to every peer before handing it
// to the local engine, per §4.5 ("flushed batches are broadcast to peers").
// Receiving engines only acknowledge the batch; they do not keep it or
// check later proposals against it.
func (n *Node) relayBatches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-n.batcher.Flushes():
			if !ok {
				return
			}
			n.broadcastBatch(batch)
			select {
			case n.engineBatches <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// broadcastBatch announces batch to every peer asynchronously; it does not
// block relayBatches on the outcome, since a peer that misses it simply
// re-learns the transactions from the eventual Prepare.
func (n *Node) broadcastBatch(batch []identity.Signed[block.Transaction]) {
	wire := make([]block.SignedTransactionWire, 0, len(batch))
	for _, tx := range batch {
		w, err := block.EncodeSignedTransaction(tx)
		if err != nil {
			n.log.Error("encode batch transaction for broadcast", "err", err)
			return
		}
		wire = append(wire, w)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), batchBroadcastTimeout)
		defer cancel()
		n.broadcast.Broadcast(ctx, peer.ExecuteBatch{Transactions: wire})
	}()
}

// Stop terminates the consensus engine; Run's deferred cleanup then closes
// every other collaborator.
func (n *Node) Stop() {
	n.engine.Stop()
}
