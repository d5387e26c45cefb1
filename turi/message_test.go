package turi

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/worldstate"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTripEveryKind(t *testing.T) {
	wire := block.SignedTransactionWire{TxBytes: []byte("tx"), Signer: identity.PeerId{1}, Signature: identity.Signature{2}}

	cases := []Message{
		Ping{},
		Pong{},
		Execute{Transaction: wire},
		ExecuteAck{},
		GetValue{Owner: identity.PeerId{1}, Key: "k"},
		GetValueResponse{Value: []byte("v"), Found: true},
		GetAccount{Target: identity.PeerId{1}},
		GetAccountResponse{Account: worldstate.Account{Permissions: []string{"write"}, Quota: 5}, Found: true},
		GetBlock{Number: 3},
		GetBlockResponse{Block: block.SyncBlock{Body: block.Body{Number: 3}}, Found: true},
		GetCurrentBlockNumber{},
		GetCurrentBlockNumberResponse{Number: 7},
		ErrorResponse{Message: "nope"},
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
