package praftbft

import (
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
)

// QuorumSize returns 2f+1 given a roster of size 3f+1, the constant named
// throughout §4.6.2. Rosters not of the form 3f+1 round down to the nearest
// f the roster can tolerate.
func QuorumSize(rosterSize int) int {
	f := (rosterSize - 1) / 3
	return 2*f + 1
}

// quorumCollector gathers distinct, signature-verified votes over a single
// piece of canonical vote data (an AckPrepare's or AckAppend's own
// CanonicalBytes, per §4.6.5: "signatures over the correct
// (block_number, block_hash)") until QuorumSize is reached.
//
// Grounding for the implicit self-vote rule (§4.6, Open Questions,
// documented in SPEC_FULL.md §4.6): the leader's own Prepare/Append acts as
// its own Ack-Prepare/Ack-Append, so the leader seeds the collector with its
// own signature and only 2f additional follower signatures are required to
// reach the 2f+1 threshold.
type quorumCollector struct {
	need   int
	data   []byte
	roster map[identity.PeerId]bool
	votes  map[identity.PeerId]block.PeerSignature
}

func newQuorumCollector(rosterSize int, roster []identity.PeerId, voteData []byte, selfVote *block.PeerSignature) *quorumCollector {
	rosterSet := make(map[identity.PeerId]bool, len(roster))
	for _, id := range roster {
		rosterSet[id] = true
	}
	qc := &quorumCollector{
		need:   QuorumSize(rosterSize),
		data:   voteData,
		roster: rosterSet,
		votes:  make(map[identity.PeerId]block.PeerSignature),
	}
	if selfVote != nil {
		qc.votes[selfVote.Signer] = *selfVote
	}
	return qc
}

// add verifies sig against the collector's vote data and, if valid and from
// a not-yet-counted roster member, records it. It returns
// (reachedQuorum, error): NotARosterMember if the signer isn't in the
// roster, SignatureInvalid if the signature does not verify.
func (q *quorumCollector) add(sig block.PeerSignature) (bool, error) {
	if !q.roster[sig.Signer] {
		return false, newErr(NotARosterMember, "signer %s", sig.Signer)
	}
	if !identity.Verify(sig.Signer, q.data, sig.Signature) {
		return false, newErr(SignatureInvalid, "vote from %s", sig.Signer)
	}
	q.votes[sig.Signer] = sig
	return len(q.votes) >= q.need, nil
}

// count returns the number of distinct valid votes gathered so far.
func (q *quorumCollector) count() int {
	return len(q.votes)
}

// satisfied reports whether quorum has already been reached.
func (q *quorumCollector) satisfied() bool {
	return len(q.votes) >= q.need
}

// signatures returns the gathered quorum as a stable-ordered slice (roster
// order), suitable for embedding in an Append or Commit message.
func (q *quorumCollector) signatures(rosterOrder []identity.PeerId) []block.PeerSignature {
	out := make([]block.PeerSignature, 0, len(q.votes))
	for _, id := range rosterOrder {
		if sig, ok := q.votes[id]; ok {
			out = append(out, sig)
		}
	}
	return out
}

// VerifyQuorum checks that sigs contains at least QuorumSize(len(roster))
// distinct, valid signatures from roster members over voteData — the check
// every Append/Commit recipient and every block-sync consumer must run
// before trusting a quorum it did not itself assemble (§8: "contains at
// least 2f+1 distinct valid signatures from the roster"). A signature that
// fails to verify is skipped rather than rejecting the whole quorum outright
// — the boundary case of 2f valid signatures plus one invalid one must come
// back as NotEnoughSignatures, not SignatureInvalid (§8).
func VerifyQuorum(roster []identity.PeerId, voteData []byte, sigs []block.PeerSignature) error {
	rosterSet := make(map[identity.PeerId]bool, len(roster))
	for _, id := range roster {
		rosterSet[id] = true
	}

	seen := make(map[identity.PeerId]bool, len(sigs))
	for _, sig := range sigs {
		if !rosterSet[sig.Signer] {
			return newErr(NotARosterMember, "signer %s", sig.Signer)
		}
		if seen[sig.Signer] {
			continue
		}
		if !identity.Verify(sig.Signer, voteData, sig.Signature) {
			continue
		}
		seen[sig.Signer] = true
	}
	if len(seen) < QuorumSize(len(roster)) {
		return newErr(NotEnoughSignatures, "have %d, need %d", len(seen), QuorumSize(len(roster)))
	}
	return nil
}
