package peer

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTripEveryKind(t *testing.T) {
	sig := block.PeerSignature{}

	cases := []Message{
		Prepare{Proposal: block.Body{Number: 1}, BlockHash: block.BlockHash{1}},
		AckPrepare{BlockNumber: 1, BlockHash: block.BlockHash{1}},
		Append{BlockNumber: 1, BlockHash: block.BlockHash{1}, PrepareQuorum: []block.PeerSignature{sig}},
		AckAppend{BlockNumber: 1, BlockHash: block.BlockHash{1}},
		Commit{Proposal: block.Body{Number: 1}, BlockHash: block.BlockHash{1}, CommitSignatures: []block.PeerSignature{sig}},
		ViewChange{NewTerm: 2, LastCommitted: 1},
		SyncBlocksRequest{From: 0, To: 2},
		SyncBlocksResponse{Blocks: nil},
		ExecuteBatch{Transactions: nil},
		ErrorResponse{Code: 3, Message: "wrong leader"},
		Ack{},
	}

	for _, want := range cases {
		data, err := want.CanonicalBytes()
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, want.Kind(), got.Kind())
		require.Equal(t, want, got)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	env := Envelope{Kind: 0xff}
	data, err := rlp.EncodeToBytes(&env)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
}

func TestCommitBlockReassembly(t *testing.T) {
	wire := block.SignedTransactionWire{TxBytes: []byte("tx"), Signer: identity.PeerId{1}, Signature: identity.Signature{2}}
	c := Commit{
		Proposal:         block.Body{Number: 3, Transactions: []block.SignedTransactionWire{wire}},
		BlockHash:        block.BlockHash{9},
		CommitSignatures: []block.PeerSignature{{}},
	}
	blk := c.Block()
	require.Equal(t, block.BlockNumber(3), blk.Number)
}
