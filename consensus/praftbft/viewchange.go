package praftbft

import (
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
)

// viewChangeState tracks, per candidate new_term, the distinct ViewChange
// votes gathered so far and whether that term has already been acted on
// (§4.6.7). Unlike prepare/append quorums it does not verify votes against
// one shared canonical payload: different senders may legitimately report
// different LastCommitted/pending state, so membership and distinctness
// (guaranteed by the already-authenticated sender) are all that's counted.
type viewChangeState struct {
	votes map[block.LeaderTerm]map[identity.PeerId]peer.ViewChange
	done  map[block.LeaderTerm]bool
}

func newViewChangeState() *viewChangeState {
	return &viewChangeState{
		votes: make(map[block.LeaderTerm]map[identity.PeerId]peer.ViewChange),
		done:  make(map[block.LeaderTerm]bool),
	}
}

func (v *viewChangeState) record(term block.LeaderTerm, sender identity.PeerId, msg peer.ViewChange) {
	m, ok := v.votes[term]
	if !ok {
		m = make(map[identity.PeerId]peer.ViewChange)
		v.votes[term] = m
	}
	if _, already := m[sender]; !already {
		m[sender] = msg
	}
}

func (v *viewChangeState) voted(term block.LeaderTerm, sender identity.PeerId) bool {
	_, ok := v.votes[term][sender]
	return ok
}

func (v *viewChangeState) count(term block.LeaderTerm) int {
	return len(v.votes[term])
}

func (v *viewChangeState) triggered(term block.LeaderTerm) bool {
	return v.done[term]
}

func (v *viewChangeState) markTriggered(term block.LeaderTerm) {
	v.done[term] = true
}

// bestPending returns the (block_number, block_hash, prepare_quorum) of the
// vote that reported the largest carried-forward prepare quorum for term,
// if any vote reported one at all.
func (v *viewChangeState) bestPending(term block.LeaderTerm) (block.BlockNumber, block.BlockHash, []block.PeerSignature, bool) {
	var (
		best  peer.ViewChange
		found bool
	)
	for _, msg := range v.votes[term] {
		if len(msg.PendingPrepareQuorum) == 0 {
			continue
		}
		if !found || len(msg.PendingPrepareQuorum) > len(best.PendingPrepareQuorum) {
			best = msg
			found = true
		}
	}
	if !found {
		return 0, block.BlockHash{}, nil, false
	}
	return best.LastCommitted + 1, best.PendingBlockHash, best.PendingPrepareQuorum, true
}

// onPhaseTimeout fires when no progress was observed within PhaseTimeout
// (§4.6.7): the engine votes for the next term and broadcasts that vote.
func (e *Engine) onPhaseTimeout() {
	e.startViewChange(e.leaderTerm + 1)
}

func (e *Engine) startViewChange(newTerm block.LeaderTerm) {
	msg := peer.ViewChange{NewTerm: newTerm, LastCommitted: e.lastCommittedBlockNumber()}
	if e.phase.Kind == Preparing || e.phase.Kind == Appending {
		msg.PendingBlockHash = e.phase.BlockHash
		msg.PendingPrepareQuorum = e.phase.PrepareQuorum
	}
	e.vc.record(newTerm, e.self, msg)
	e.resetTimer()
	e.broadcastAsync(peer.KindViewChange, e.phase.BlockNumber, e.phase.BlockHash, msg)
	e.maybeCompleteViewChange(newTerm)
}

func (e *Engine) lastCommittedBlockNumber() block.BlockNumber {
	if e.phase.BlockNumber == 0 {
		return 0
	}
	return e.phase.BlockNumber - 1
}

// onViewChange records an inbound ViewChange vote, propagating this
// engine's own vote for the same term if it hasn't already voted (so the
// round converges even for peers whose own timer hasn't fired yet), then
// completes the view change once a quorum of distinct senders agree.
func (e *Engine) onViewChange(sender identity.PeerId, m peer.ViewChange) (peer.Message, error) {
	if !e.rosterSet.Contains(sender) {
		return nil, newErr(NotARosterMember, "sender %s", sender)
	}
	if m.NewTerm <= e.leaderTerm {
		return nil, newErr(LeaderTermTooSmall, "proposed term %d not newer than current %d", m.NewTerm, e.leaderTerm)
	}
	e.vc.record(m.NewTerm, sender, m)

	if !e.vc.voted(m.NewTerm, e.self) {
		own := peer.ViewChange{NewTerm: m.NewTerm, LastCommitted: e.lastCommittedBlockNumber()}
		if e.phase.Kind == Preparing || e.phase.Kind == Appending {
			own.PendingBlockHash = e.phase.BlockHash
			own.PendingPrepareQuorum = e.phase.PrepareQuorum
		}
		e.vc.record(m.NewTerm, e.self, own)
		e.broadcastAsync(peer.KindViewChange, e.phase.BlockNumber, e.phase.BlockHash, own)
	}

	e.maybeCompleteViewChange(m.NewTerm)
	return peer.Ack{}, nil
}

func (e *Engine) maybeCompleteViewChange(term block.LeaderTerm) {
	if e.vc.triggered(term) {
		return
	}
	if e.vc.count(term) < QuorumSize(len(e.roster)) {
		return
	}
	e.completeViewChange(term)
}

// completeViewChange advances leaderTerm to term and either carries forward
// a block that had already reached prepare quorum before the view change
// (re-entering Append directly, §4.6.7) or resets to Waiting — carrying
// forward requires this engine to itself hold the matching proposal body,
// which it only does if it had witnessed that Prepare round; otherwise the
// unwitnessed candidate is dropped, which is always safe since it never
// committed.
func (e *Engine) completeViewChange(term block.LeaderTerm) {
	e.vc.markTriggered(term)

	carryNumber, carryHash, carryQuorum, hasCarry := e.vc.bestPending(term)
	nextExpected := e.phase.BlockNumber

	var carryBody block.Body
	// The hash covers the block number, so a matching hash identifies the
	// same pending block even at block 0, where LastCommitted+1 is off by one.
	haveBody := hasCarry && carryHash == e.phase.BlockHash &&
		(e.phase.Kind == Preparing || e.phase.Kind == Appending)
	if haveBody {
		carryBody = e.phase.Proposal
		carryNumber = nextExpected
	}

	e.leaderTerm = term
	e.prepareVotes = nil
	e.appendVotes = nil

	switch {
	case haveBody:
		e.phase = Phase{Kind: Appending, BlockNumber: carryNumber, BlockHash: carryHash, Proposal: carryBody, PrepareQuorum: carryQuorum}
		e.log.Info("view change carried forward a prepared block", "term", term, "number", carryNumber)
	default:
		e.phase = waitingPhase(nextExpected)
		if hasCarry {
			e.log.Warn("view change dropped a prepared block this peer never witnessed", "term", term, "number", carryNumber)
		}
	}
	e.resetTimer()

	if !e.isLeaderFor(term) {
		return
	}

	switch e.phase.Kind {
	case Appending:
		e.resumeAppendAsNewLeader()
	case Waiting:
		e.maybePropose()
	}
}

// resumeAppendAsNewLeader re-signs this engine's own append vote for the
// block carried forward by completeViewChange and resumes the append round
// as the newly elected leader.
func (e *Engine) resumeAppendAsNewLeader() {
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

	if e.appendVotes.satisfied() {
		e.enterCommitPhase()
		return
	}
	msg := peer.Append{BlockNumber: e.phase.BlockNumber, BlockHash: e.phase.BlockHash, PrepareQuorum: e.phase.PrepareQuorum}
	e.broadcastAsync(peer.KindAppend, e.phase.BlockNumber, e.phase.BlockHash, msg)
}
