package broadcaster

import (
	"context"
	"errors"
	"testing"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	resp peer.Message
	sig  identity.Signature
	err  error
}

func (f *fakeClient) Request(peer.Message) (peer.Message, identity.Signature, error) {
	return f.resp, f.sig, f.err
}
func (f *fakeClient) Close() error { return nil }

func peerId(b byte) identity.PeerId {
	var id identity.PeerId
	id[0] = b
	return id
}

func TestBroadcastCollectsPerPeerOutcomes(t *testing.T) {
	good := peerId(1)
	bad := peerId(2)

	bc := New([]Peer{{Id: good, Address: "a"}, {Id: bad, Address: "b"}}, nil, false)
	bc.Dial = func(target identity.PeerId, address string) (Client, error) {
		if target == bad {
			return &fakeClient{err: errors.New("unreachable")}, nil
		}
		return &fakeClient{resp: peer.AckPrepare{BlockNumber: 1, BlockHash: block.BlockHash{1}}}, nil
	}

	result := bc.Broadcast(context.Background(), peer.Prepare{})

	require.Len(t, result.Responses, 2)
	require.NoError(t, result.Responses[good].Err)
	require.Error(t, result.Responses[bad].Err)

	ok := result.Ok()
	require.Len(t, ok, 1)
	_, present := ok[good]
	require.True(t, present)
}

func TestBroadcastOneFailingPeerDoesNotAbortOthers(t *testing.T) {
	fast := peerId(1)
	failing := peerId(2)

	bc := New([]Peer{{Id: fast, Address: "a"}, {Id: failing, Address: "b"}}, nil, false)
	bc.Dial = func(target identity.PeerId, address string) (Client, error) {
		if target == failing {
			return nil, errors.New("dial refused")
		}
		return &fakeClient{resp: peer.AckAppend{BlockNumber: 2}}, nil
	}

	result := bc.Broadcast(context.Background(), peer.Append{})
	require.NoError(t, result.Responses[fast].Err)
	require.Error(t, result.Responses[failing].Err)
}
