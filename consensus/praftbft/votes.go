package praftbft

import (
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/peer"
)

// proposalKey identifies a single (leader_term, block_number) position, the
// unit at which §4.6.7 allows "at most one proposal... a second proposal
// from the same leader for the same position is evidence of misbehavior".
type proposalKey struct {
	term   block.LeaderTerm
	number block.BlockNumber
}

// prepareVoteData is the canonical bytes an Ack-Prepare vote signs over.
// Because AckPrepare carries nothing but (BlockNumber, BlockHash), this is
// identical to the wire-level signature already produced when a follower's
// handler response is signed and sent back over the peer transport — no
// separate application-level signing round trip is needed (§4.6.4).
func prepareVoteData(number block.BlockNumber, hash block.BlockHash) ([]byte, error) {
	return peer.AckPrepare{BlockNumber: number, BlockHash: hash}.CanonicalBytes()
}

// appendVoteData is the canonical bytes an Ack-Append vote signs over,
// reused unmodified as the data a Block's CommitSignatures are checked
// against (§4.6.6: commit_signatures are the gathered Ack-Append
// signatures, not a freshly produced commit-specific signature).
func appendVoteData(number block.BlockNumber, hash block.BlockHash) ([]byte, error) {
	return peer.AckAppend{BlockNumber: number, BlockHash: hash}.CanonicalBytes()
}
