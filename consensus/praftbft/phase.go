package praftbft

import "github.com/prellblock/prellblock/block"

// PhaseKind is one of the four states of §4.6.2's per-block state machine.
type PhaseKind int

// The enumerated phase states, in the order they are visited for a single
// block.
const (
	Waiting PhaseKind = iota
	Preparing
	Appending
	Committed
)

func (k PhaseKind) String() string {
	switch k {
	case Waiting:
		return "Waiting"
	case Preparing:
		return "Prepare"
	case Appending:
		return "Append"
	case Committed:
		return "Committed"
	default:
		return "Unknown"
	}
}

// Phase is the engine's current position in the per-block state machine
// for block BlockNumber. It is mutated only from the engine's own
// goroutine (§9: "single-owner task plus message passing").
type Phase struct {
	Kind        PhaseKind
	BlockNumber block.BlockNumber

	// BlockHash is frozen the moment a proposal is first seen for this
	// (leader_term, block_number); it never changes until Waiting resets it
	// (§4.6.7's "a block_hash observed during Prepare is frozen").
	BlockHash block.BlockHash
	Proposal  block.Body

	// PrepareQuorum is populated once Append is entered.
	PrepareQuorum []block.PeerSignature
}

// waitingPhase returns the Waiting phase for the given block number.
func waitingPhase(number block.BlockNumber) Phase {
	return Phase{Kind: Waiting, BlockNumber: number}
}
