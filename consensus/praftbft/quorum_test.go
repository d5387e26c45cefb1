package praftbft

import (
	"testing"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
	"github.com/stretchr/testify/require"
)

func TestQuorumSizeFourPeers(t *testing.T) {
	// f=1, roster of 4: quorum is 2*1+1 == 3 (§8 scenario 6).
	require.Equal(t, 3, QuorumSize(4))
}

func ackPrepareVoteData(t *testing.T, number block.BlockNumber, hash block.BlockHash) []byte {
	t.Helper()
	data, err := peer.AckPrepare{BlockNumber: number, BlockHash: hash}.CanonicalBytes()
	require.NoError(t, err)
	return data
}

func vote(t *testing.T, key *identity.PrivateKey, data []byte) block.PeerSignature {
	t.Helper()
	sig, err := key.Sign(data)
	require.NoError(t, err)
	return block.PeerSignature{Signer: key.PeerId(), Signature: sig}
}

func TestQuorumCollectorImplicitSelfVote(t *testing.T) {
	leader, err := identity.GenerateKey()
	require.NoError(t, err)
	b, err := identity.GenerateKey()
	require.NoError(t, err)
	c, err := identity.GenerateKey()
	require.NoError(t, err)
	d, err := identity.GenerateKey()
	require.NoError(t, err)

	roster := []identity.PeerId{leader.PeerId(), b.PeerId(), c.PeerId(), d.PeerId()}
	data := ackPrepareVoteData(t, 1, block.BlockHash{7})

	selfVote := vote(t, leader, data)
	qc := newQuorumCollector(len(roster), roster, data, &selfVote)
	require.Equal(t, 1, qc.count())
	require.False(t, qc.satisfied())

	reached, err := qc.add(vote(t, b, data))
	require.NoError(t, err)
	require.False(t, reached)

	reached, err = qc.add(vote(t, c, data))
	require.NoError(t, err)
	require.True(t, reached)
	require.True(t, qc.satisfied())
}

func TestQuorumCollectorRejectsNonRosterSigner(t *testing.T) {
	leader, err := identity.GenerateKey()
	require.NoError(t, err)
	outsider, err := identity.GenerateKey()
	require.NoError(t, err)

	roster := []identity.PeerId{leader.PeerId()}
	data := ackPrepareVoteData(t, 1, block.BlockHash{})
	qc := newQuorumCollector(1, roster, data, nil)

	_, err = qc.add(vote(t, outsider, data))
	require.ErrorIs(t, err, ErrNotARosterMember)
}

func TestQuorumCollectorRejectsForgedVote(t *testing.T) {
	leader, err := identity.GenerateKey()
	require.NoError(t, err)
	follower, err := identity.GenerateKey()
	require.NoError(t, err)

	roster := []identity.PeerId{leader.PeerId(), follower.PeerId()}
	data := ackPrepareVoteData(t, 1, block.BlockHash{})
	qc := newQuorumCollector(len(roster), roster, data, nil)

	forged := vote(t, follower, data)
	forged.Signature[0] ^= 0xff

	_, err = qc.add(forged)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyQuorumRejectsTooFewSignatures(t *testing.T) {
	a, err := identity.GenerateKey()
	require.NoError(t, err)
	b, err := identity.GenerateKey()
	require.NoError(t, err)
	c, err := identity.GenerateKey()
	require.NoError(t, err)
	d, err := identity.GenerateKey()
	require.NoError(t, err)

	roster := []identity.PeerId{a.PeerId(), b.PeerId(), c.PeerId(), d.PeerId()}
	data := ackPrepareVoteData(t, 1, block.BlockHash{1})

	sigs := []block.PeerSignature{vote(t, a, data), vote(t, b, data)}
	err = VerifyQuorum(roster, data, sigs)
	require.ErrorIs(t, err, ErrNotEnoughSignatures)
}

func TestVerifyQuorumAcceptsExactThreshold(t *testing.T) {
	a, err := identity.GenerateKey()
	require.NoError(t, err)
	b, err := identity.GenerateKey()
	require.NoError(t, err)
	c, err := identity.GenerateKey()
	require.NoError(t, err)
	d, err := identity.GenerateKey()
	require.NoError(t, err)

	roster := []identity.PeerId{a.PeerId(), b.PeerId(), c.PeerId(), d.PeerId()}
	data := ackPrepareVoteData(t, 1, block.BlockHash{1})

	sigs := []block.PeerSignature{vote(t, a, data), vote(t, b, data), vote(t, c, data)}
	require.NoError(t, VerifyQuorum(roster, data, sigs))
}

// TestVerifyQuorumRejectsForgedSignature covers the §8 scenario 6 boundary:
// 2 valid signatures plus 1 invalid one, against a 4-peer roster needing 3.
// The invalid signature is skipped rather than failing the whole quorum
// outright, so this falls through to the same NotEnoughSignatures a quorum
// with only 2 honest signers and no forgery at all would produce.
func TestVerifyQuorumRejectsForgedSignature(t *testing.T) {
	a, err := identity.GenerateKey()
	require.NoError(t, err)
	b, err := identity.GenerateKey()
	require.NoError(t, err)
	c, err := identity.GenerateKey()
	require.NoError(t, err)
	d, err := identity.GenerateKey()
	require.NoError(t, err)

	roster := []identity.PeerId{a.PeerId(), b.PeerId(), c.PeerId(), d.PeerId()}
	data := ackPrepareVoteData(t, 1, block.BlockHash{1})

	forged := vote(t, a, data)
	forged.Signature[0] ^= 0xff

	sigs := []block.PeerSignature{forged, vote(t, b, data), vote(t, c, data)}
	err = VerifyQuorum(roster, data, sigs)
	require.ErrorIs(t, err, ErrNotEnoughSignatures)
}
