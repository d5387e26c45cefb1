package praftbft

import (
	"context"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/broadcaster"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
)

// maybePropose starts a new round if this engine is idle, leads the current
// term, and has transactions waiting to go into a block.
func (e *Engine) maybePropose() {
	if e.phase.Kind != Waiting {
		return
	}
	if !e.isLeaderFor(e.leaderTerm) {
		return
	}
	if len(e.pendingTxs) == 0 {
		return
	}
	batch := e.pendingTxs
	e.pendingTxs = nil
	e.propose(batch)
}

// propose builds a candidate block from txs, signs its own prepare vote,
// and either skips straight to the append phase (tiny roster, self-vote
// alone reaches quorum) or broadcasts Prepare and waits for acks (§4.6.3).
func (e *Engine) propose(txs []identity.Signed[block.Transaction]) {
	valid := make([]identity.Signed[block.Transaction], 0, len(txs))
	for _, tx := range txs {
		if _, err := tx.Verify(); err != nil {
			e.log.Warn("dropping transaction with invalid signature from proposal", "signer", tx.Signer, "err", err)
			continue
		}
		valid = append(valid, tx)
	}
	if len(valid) == 0 {
		return
	}

	wire := make([]block.SignedTransactionWire, 0, len(valid))
	for _, tx := range valid {
		w, err := block.EncodeSignedTransaction(tx)
		if err != nil {
			e.log.Error("encode proposal transaction", "err", err)
			return
		}
		wire = append(wire, w)
	}

	body := block.Body{
		Number:       e.phase.BlockNumber,
		PrevHash:     e.lastCommittedHash,
		LeaderTerm:   e.leaderTerm,
		Transactions: wire,
	}
	hash, err := body.Hash()
	if err != nil {
		e.log.Error("hash proposal", "err", err)
		return
	}

	voteData, err := prepareVoteData(body.Number, hash)
	if err != nil {
		e.log.Error("prepare vote data", "err", err)
		return
	}
	selfSig, err := e.cfg.Key.Sign(voteData)
	if err != nil {
		e.log.Error("sign self prepare vote", "err", err)
		return
	}
	selfVote := block.PeerSignature{Signer: e.self, Signature: selfSig}

	e.phase = Phase{Kind: Preparing, BlockNumber: body.Number, BlockHash: hash, Proposal: body}
	e.acceptedProposals.Add(proposalKey{term: e.leaderTerm, number: body.Number}, hash)
	e.prepareVotes = newQuorumCollector(len(e.roster), e.roster, voteData, &selfVote)
	e.resetTimer()

	if e.prepareVotes.satisfied() {
		e.enterAppendPhase()
		return
	}
	e.broadcastAsync(peer.KindPrepare, body.Number, hash, peer.Prepare{Proposal: body, BlockHash: hash})
}

// broadcastAsync fans msg out to the roster in its own goroutine, feeding
// the result back into Run's loop tagged with the block position it was
// for, so a stale reply arriving after a view change can be told apart from
// a current one (§9: broadcast completions never block the engine loop).
func (e *Engine) broadcastAsync(kind peer.Kind, number block.BlockNumber, hash block.BlockHash, msg peer.Message) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.phaseTimeout())
		defer cancel()
		result := e.cfg.Broadcaster.Broadcast(ctx, msg)
		select {
		case e.broadcasts <- broadcastOutcome{kind: kind, number: number, hash: hash, result: result}:
		case <-e.done:
		}
	}()
}

func (e *Engine) handleBroadcastOutcome(bo broadcastOutcome) {
	if bo.kind == peer.KindSyncBlocksRequest {
		e.handleSyncBroadcast(bo)
		return
	}
	if e.phase.BlockNumber != bo.number || e.phase.BlockHash != bo.hash {
		return // stale: a view change or a faster quorum already moved the phase on
	}
	switch bo.kind {
	case peer.KindPrepare:
		e.collectPrepareVotes(bo.result)
	case peer.KindAppend:
		e.collectAppendVotes(bo.result)
	}
}

func (e *Engine) collectPrepareVotes(result broadcaster.Result) {
	if e.phase.Kind != Preparing || e.prepareVotes == nil {
		return
	}
	for signer, outcome := range result.Responses {
		if outcome.Err != nil {
			continue
		}
		ack, ok := outcome.Response.(peer.AckPrepare)
		if !ok || ack.BlockNumber != e.phase.BlockNumber || ack.BlockHash != e.phase.BlockHash {
			continue
		}
		reached, err := e.prepareVotes.add(block.PeerSignature{Signer: signer, Signature: outcome.Signature})
		if err != nil {
			e.log.Warn("rejected prepare vote", "signer", signer, "err", err)
			continue
		}
		if reached {
			e.enterAppendPhase()
			return
		}
	}
}

// enterAppendPhase assembles the gathered prepare quorum, signs this
// engine's own append vote, and either skips straight to commit or
// broadcasts Append and waits for acks (§4.6.5).
func (e *Engine) enterAppendPhase() {
	quorum := e.prepareVotes.signatures(e.roster)
	e.phase.Kind = Appending
	e.phase.PrepareQuorum = quorum

	voteData, err := appendVoteData(e.phase.BlockNumber, e.phase.BlockHash)
	if err != nil {
		e.log.Error("append vote data", "err", err)
		return
	}
	selfSig, err := e.cfg.Key.Sign(voteData)
	if err != nil {
		e.log.Error("sign self append vote", "err", err)
		return
	}
	selfVote := block.PeerSignature{Signer: e.self, Signature: selfSig}
	e.appendVotes = newQuorumCollector(len(e.roster), e.roster, voteData, &selfVote)
	e.resetTimer()

	if e.appendVotes.satisfied() {
		e.enterCommitPhase()
		return
	}
	msg := peer.Append{BlockNumber: e.phase.BlockNumber, BlockHash: e.phase.BlockHash, PrepareQuorum: quorum}
	e.broadcastAsync(peer.KindAppend, e.phase.BlockNumber, e.phase.BlockHash, msg)
}

func (e *Engine) collectAppendVotes(result broadcaster.Result) {
	if e.phase.Kind != Appending || e.appendVotes == nil {
		return
	}
	for signer, outcome := range result.Responses {
		if outcome.Err != nil {
			continue
		}
		ack, ok := outcome.Response.(peer.AckAppend)
		if !ok || ack.BlockNumber != e.phase.BlockNumber || ack.BlockHash != e.phase.BlockHash {
			continue
		}
		reached, err := e.appendVotes.add(block.PeerSignature{Signer: signer, Signature: outcome.Signature})
		if err != nil {
			e.log.Warn("rejected append vote", "signer", signer, "err", err)
			continue
		}
		if reached {
			e.enterCommitPhase()
			return
		}
	}
}

// enterCommitPhase assembles commit_signatures from the gathered append
// quorum, broadcasts Commit, and applies the block locally without waiting
// for the broadcast to finish (§4.6.6).
func (e *Engine) enterCommitPhase() {
	commitSigs := e.appendVotes.signatures(e.roster)
	proposal := e.phase.Proposal
	hash := e.phase.BlockHash

	msg := peer.Commit{Proposal: proposal, BlockHash: hash, CommitSignatures: commitSigs}
	e.broadcastAsync(peer.KindCommit, e.phase.BlockNumber, hash, msg)

	if err := e.applyBlock(msg.Block()); err != nil {
		e.log.Error("apply committed block", "number", proposal.Number, "err", err)
	}
}
