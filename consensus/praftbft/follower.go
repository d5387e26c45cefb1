package praftbft

import (
	"fmt"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
)

// onPrepare answers the leader's proposal for the next block, running
// §4.6.4's six checks in order before acking. The Ack-Prepare returned here
// carries no signature of its own: the wire frame the caller's transport
// signs around it is the vote.
func (e *Engine) onPrepare(sender identity.PeerId, m peer.Prepare) (peer.Message, error) {
	term := m.Proposal.LeaderTerm
	if expected := e.leaderFor(term); sender != expected {
		return nil, &Error{Kind: WrongLeader, Leader: expected}
	}
	switch {
	case term < e.leaderTerm:
		return nil, newErr(LeaderTermTooSmall, "have %d, want %d", term, e.leaderTerm)
	case term > e.leaderTerm:
		return nil, newErr(LeaderTermTooBig, "have %d, want %d", term, e.leaderTerm)
	}

	switch {
	case m.Proposal.Number < e.phase.BlockNumber:
		return nil, newErr(BlockNumberTooSmall, "have %d, want %d", m.Proposal.Number, e.phase.BlockNumber)
	case m.Proposal.Number > e.phase.BlockNumber:
		e.beginSync(m.Proposal.Number)
		return nil, newErr(BlockNumberTooBig, "have %d, want %d", m.Proposal.Number, e.phase.BlockNumber)
	}

	if m.Proposal.PrevHash != e.lastCommittedHash {
		return nil, newErr(WrongBlockHash, "prev hash mismatch at block %d", m.Proposal.Number)
	}
	recomputed, err := m.Proposal.Hash()
	if err != nil {
		return nil, fmt.Errorf("praftbft: hashing proposal: %w", err)
	}
	if recomputed != m.BlockHash {
		return nil, newErr(WrongBlockHash, "proposal hash mismatch at block %d", m.Proposal.Number)
	}

	key := proposalKey{term: term, number: m.Proposal.Number}
	if prior, ok := e.acceptedProposals.Get(key); ok {
		if prior != m.BlockHash {
			e.log.Warn("leader equivocated", "term", term, "number", m.Proposal.Number, "leader", sender)
			return nil, newErr(WrongBlockHash, "leader %s equivocated at (%d,%d)", sender, term, m.Proposal.Number)
		}
		// Retransmit of the same proposal: re-ack idempotently.
		return peer.AckPrepare{BlockNumber: m.Proposal.Number, BlockHash: m.BlockHash}, nil
	}

	for i, wire := range m.Proposal.Transactions {
		signed, err := block.DecodeSignedTransaction(wire)
		if err != nil {
			return nil, fmt.Errorf("praftbft: decode transaction %d: %w", i, err)
		}
		if _, err := signed.Verify(); err != nil {
			return nil, newErr(SignatureInvalid, "transaction %d", i)
		}
	}

	e.acceptedProposals.Add(key, m.BlockHash)
	e.phase = Phase{Kind: Preparing, BlockNumber: m.Proposal.Number, BlockHash: m.BlockHash, Proposal: m.Proposal}
	e.resetTimer()
	return peer.AckPrepare{BlockNumber: m.Proposal.Number, BlockHash: m.BlockHash}, nil
}

// onAppend answers the leader's gathered prepare quorum (§4.6.5). Append
// doesn't carry an explicit leader_term; the sender is instead checked
// against the leader for this engine's own current term, which the phase
// transition already anchors to the same round onPrepare accepted.
func (e *Engine) onAppend(sender identity.PeerId, m peer.Append) (peer.Message, error) {
	if expected := e.leaderFor(e.leaderTerm); sender != expected {
		return nil, &Error{Kind: WrongLeader, Leader: expected}
	}
	switch {
	case m.BlockNumber < e.phase.BlockNumber:
		return nil, newErr(BlockNumberTooSmall, "have %d, want %d", m.BlockNumber, e.phase.BlockNumber)
	case m.BlockNumber > e.phase.BlockNumber:
		e.beginSync(m.BlockNumber)
		return nil, newErr(BlockNumberTooBig, "have %d, want %d", m.BlockNumber, e.phase.BlockNumber)
	}
	if e.phase.Kind != Preparing {
		return nil, &Error{Kind: WrongPhase, Current: e.phase.Kind, Expected: Preparing}
	}
	if e.phase.BlockHash != m.BlockHash {
		return nil, newErr(ChangedBlockHash, "append for block %d carries a different hash", m.BlockNumber)
	}

	voteData, err := prepareVoteData(m.BlockNumber, m.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("praftbft: prepare vote data: %w", err)
	}
	if err := VerifyQuorum(e.roster, voteData, m.PrepareQuorum); err != nil {
		return nil, err
	}

	e.phase.Kind = Appending
	e.phase.PrepareQuorum = m.PrepareQuorum
	e.resetTimer()
	return peer.AckAppend{BlockNumber: m.BlockNumber, BlockHash: m.BlockHash}, nil
}

// onCommit answers the leader's fully assembled block, verifies its commit
// quorum, and applies it locally (§4.6.6).
func (e *Engine) onCommit(sender identity.PeerId, m peer.Commit) (peer.Message, error) {
	if expected := e.leaderFor(e.leaderTerm); sender != expected {
		return nil, &Error{Kind: WrongLeader, Leader: expected}
	}
	switch {
	case m.Proposal.Number < e.phase.BlockNumber:
		return nil, newErr(BlockNumberTooSmall, "have %d, want %d", m.Proposal.Number, e.phase.BlockNumber)
	case m.Proposal.Number > e.phase.BlockNumber:
		e.beginSync(m.Proposal.Number)
		return nil, newErr(BlockNumberTooBig, "have %d, want %d", m.Proposal.Number, e.phase.BlockNumber)
	}
	if e.phase.BlockHash != m.BlockHash {
		return nil, newErr(ChangedBlockHash, "commit for block %d carries a different hash", m.Proposal.Number)
	}

	voteData, err := appendVoteData(m.Proposal.Number, m.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("praftbft: append vote data: %w", err)
	}
	if err := VerifyQuorum(e.roster, voteData, m.CommitSignatures); err != nil {
		return nil, err
	}

	if err := e.applyBlock(m.Block()); err != nil {
		return nil, err
	}
	return peer.Ack{}, nil
}
