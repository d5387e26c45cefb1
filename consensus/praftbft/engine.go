// Package praftbft implements PRaftBFT: PrellBlock's leader-based hybrid of
// Raft-style leadership rotation and PBFT-style three-phase voting, with
// view changes on leader failure and block synchronization for stragglers
// (§4.6). The engine is a single-owner state machine (§9): every field
// touched by dispatch, propose, or timeout handling is mutated only inside
// Run's own goroutine; every other component talks to it over channels,
// never by reaching into its fields.
package praftbft

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/blockstore"
	"github.com/prellblock/prellblock/broadcaster"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
	"github.com/prellblock/prellblock/worldstate"
)

// DefaultPhaseTimeout bounds how long the engine waits for progress before
// starting a view change (§4.6.7), used when Config.PhaseTimeout is zero.
const DefaultPhaseTimeout = 5 * time.Second

// proposalCacheSize bounds the memory held for recently-seen (leader_term,
// block_number) proposals used to detect leader equivocation (§4.6.7).
const proposalCacheSize = 1024

// Broadcaster is the subset of *broadcaster.Broadcaster the engine drives.
// Narrowed to an interface so tests can wire several Engines directly
// together without real TCP connections.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg peer.Message) broadcaster.Result
}

// CommittedBlock is delivered to every channel passed to Subscribe whenever
// the engine advances its committed chain — the hook SPEC_FULL.md §4.6 adds
// so the ThingsBoard forwarder and the read-query path can observe newly
// committed blocks without polling the block store.
type CommittedBlock struct {
	Block *block.Block
}

// Config bundles everything one RPU's Engine needs to participate in
// consensus.
type Config struct {
	// Roster is the peer roster in its configured (file) order, never
	// re-sorted: leader for term t is Roster[t%N]. Must include Self.
	Roster []identity.PeerId
	Self   identity.PeerId
	Key    *identity.PrivateKey

	WorldState  *worldstate.Service
	BlockStore  blockstore.Store
	Broadcaster Broadcaster

	// Batches delivers flushed transaction batches from the local batcher
	// (§4.5); only consumed while this RPU is leader for the current term.
	Batches <-chan []identity.Signed[block.Transaction]

	// PhaseTimeout bounds how long the engine waits for progress before
	// triggering a view change. Defaults to DefaultPhaseTimeout.
	PhaseTimeout time.Duration
}

// Engine is the per-RPU PRaftBFT state machine.
type Engine struct {
	cfg       Config
	roster    []identity.PeerId
	rosterSet mapset.Set[identity.PeerId]
	self      identity.PeerId
	log       log.Logger

	events     chan *inboundEvent
	broadcasts chan broadcastOutcome
	done       chan struct{}
	stopOnce   sync.Once

	feed event.Feed

	// Single-owner state: touched only from inside Run's goroutine.
	leaderTerm        block.LeaderTerm
	phase             Phase
	lastCommittedHash block.BlockHash
	pendingTxs        []identity.Signed[block.Transaction]
	acceptedProposals *lru.Cache[proposalKey, block.BlockHash]
	prepareVotes      *quorumCollector
	appendVotes       *quorumCollector
	vc                *viewChangeState
	syncing           bool
	timer             *time.Timer
}

type inboundEvent struct {
	sender identity.PeerId
	msg    peer.Message
	reply  chan inboundReply
}

type inboundReply struct {
	msg peer.Message
	err error
}

type broadcastOutcome struct {
	kind   peer.Kind
	number block.BlockNumber
	hash   block.BlockHash
	result broadcaster.Result
}

// New constructs an Engine, seeding next_expected_block_number and the last
// committed block's hash from the block store's current head (§4.2).
func New(cfg Config) (*Engine, error) {
	if len(cfg.Roster) == 0 {
		return nil, fmt.Errorf("praftbft: roster must not be empty")
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = DefaultPhaseTimeout
	}
	roster := append([]identity.PeerId(nil), cfg.Roster...)

	nextExpected := block.BlockNumber(0)
	lastHash := block.GenesisBlockHash
	if last, ok := cfg.BlockStore.CurrentBlockNumber(); ok {
		blocks, err := cfg.BlockStore.Read(last, last+1)
		if err != nil {
			return nil, fmt.Errorf("praftbft: reading block store head: %w", err)
		}
		if len(blocks) != 1 {
			return nil, fmt.Errorf("praftbft: %w: missing head block %d", blockstore.ErrIntegrity, last)
		}
		hash, err := blocks[0].Hash()
		if err != nil {
			return nil, fmt.Errorf("praftbft: hashing head block: %w", err)
		}
		nextExpected = last + 1
		lastHash = hash
	}

	cache, err := lru.New[proposalKey, block.BlockHash](proposalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("praftbft: proposal cache: %w", err)
	}

	e := &Engine{
		cfg:               cfg,
		roster:            roster,
		rosterSet:         mapset.NewSet(roster...),
		self:              cfg.Self,
		log:               log.New("component", "praftbft", "self", cfg.Self),
		events:            make(chan *inboundEvent, 64),
		broadcasts:        make(chan broadcastOutcome, 64),
		done:              make(chan struct{}),
		phase:             waitingPhase(nextExpected),
		lastCommittedHash: lastHash,
		acceptedProposals: cache,
		vc:                newViewChangeState(),
	}
	e.timer = time.NewTimer(cfg.PhaseTimeout)
	return e, nil
}

// Handle adapts Engine to peer.Handler, submitting msg to the engine's
// single-owner goroutine and blocking for its reply (§9: "other tasks
// communicate with it by sending messages", never by locking shared state).
func (e *Engine) Handle(sender identity.PeerId, _ identity.Signature, msg peer.Message) (peer.Message, error) {
	reply := make(chan inboundReply, 1)
	select {
	case e.events <- &inboundEvent{sender: sender, msg: msg, reply: reply}:
	case <-e.done:
		return nil, &Error{Kind: IoError, msg: "engine stopped"}
	}
	select {
	case r := <-reply:
		return r.msg, r.err
	case <-e.done:
		return nil, &Error{Kind: IoError, msg: "engine stopped"}
	}
}

// Run drives the engine's event loop until ctx is cancelled or Stop is
// called. It is the one goroutine ever permitted to mutate phase state, per
// §5's "consensus engine" long-running task and §9's single-owner model.
func (e *Engine) Run(ctx context.Context) error {
	defer e.timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case ev := <-e.events:
			msg, err := e.dispatch(ev.sender, ev.msg)
			ev.reply <- inboundReply{msg: msg, err: err}
		case batch, ok := <-e.cfg.Batches:
			if !ok {
				e.cfg.Batches = nil
				continue
			}
			e.onBatch(batch)
		case bo := <-e.broadcasts:
			e.handleBroadcastOutcome(bo)
		case <-e.timer.C:
			e.onPhaseTimeout()
		}
	}
}

// Stop terminates Run and fails any in-flight or future Handle call.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// Subscribe delivers every block this engine commits to ch.
func (e *Engine) Subscribe(ch chan<- CommittedBlock) event.Subscription {
	return e.feed.Subscribe(ch)
}

func (e *Engine) dispatch(sender identity.PeerId, msg peer.Message) (peer.Message, error) {
	switch m := msg.(type) {
	case peer.Prepare:
		return e.onPrepare(sender, m)
	case peer.Append:
		return e.onAppend(sender, m)
	case peer.Commit:
		return e.onCommit(sender, m)
	case peer.ViewChange:
		return e.onViewChange(sender, m)
	case peer.SyncBlocksRequest:
		return e.onSyncBlocksRequest(sender, m)
	case peer.SyncBlocksResponse:
		return e.onSyncBlocksResponse(sender, m)
	case peer.ExecuteBatch:
		return e.onExecuteBatch(sender, m)
	case peer.AckPrepare, peer.AckAppend:
		// Votes only ever arrive as Broadcast responses, never as a
		// standalone inbound request from an honest peer.
		return nil, newErr(WrongPhase, "unsolicited vote from %s", sender)
	default:
		return nil, fmt.Errorf("praftbft: unhandled message kind %T", msg)
	}
}

func (e *Engine) leaderFor(term block.LeaderTerm) identity.PeerId {
	return e.roster[uint64(term)%uint64(len(e.roster))]
}

func (e *Engine) isLeaderFor(term block.LeaderTerm) bool {
	return e.leaderFor(term) == e.self
}

func (e *Engine) phaseTimeout() time.Duration {
	return e.cfg.PhaseTimeout
}

func (e *Engine) resetTimer() {
	if !e.timer.Stop() {
		select {
		case <-e.timer.C:
		default:
		}
	}
	e.timer.Reset(e.phaseTimeout())
}

func (e *Engine) onBatch(batch []identity.Signed[block.Transaction]) {
	e.pendingTxs = append(e.pendingTxs, batch...)
	e.maybePropose()
}

func (e *Engine) onExecuteBatch(sender identity.PeerId, _ peer.ExecuteBatch) (peer.Message, error) {
	if !e.rosterSet.Contains(sender) {
		return nil, newErr(NotARosterMember, "sender %s", sender)
	}
	// A follower keeps no independent record of the leader's announced
	// batch beyond this point: the eventual Prepare re-verifies every
	// transaction's own signature regardless (§4.6.4), so there is nothing
	// further to validate against here yet.
	return peer.Ack{}, nil
}
