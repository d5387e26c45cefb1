package block

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/identity"
)

// BlockNumber is the monotonically increasing position of a block in the
// chain, starting at 0.
type BlockNumber uint64

// LeaderTerm identifies a leader epoch. The leader for term t is
// peers[t % N] where peers is the roster in its configured (file) order,
// never re-sorted (§3).
type LeaderTerm uint64

// BlockHash is the Keccak256 digest of a Block's canonical body.
type BlockHash [32]byte

// GenesisBlockHash is the fixed prev_block_hash of block 0.
var GenesisBlockHash = BlockHash{}

// String renders the `0x`-prefixed hex form.
func (h BlockHash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// PeerSignature pairs a roster member's PeerId with its signature over a
// (block_number, block_hash) pair, as carried in Block.CommitSignatures and
// in prepare/append vote quorums.
type PeerSignature struct {
	Signer    identity.PeerId
	Signature identity.Signature
}

// SignedTransactionWire is the wire-friendly shape of an
// identity.Signed[Transaction]: the transaction's own concrete type is
// erased into its canonical bytes so the envelope can be RLP-encoded
// without RLP ever seeing a Go interface value. Shared with package peer,
// whose Prepare/Append/Commit messages carry the same candidate body.
type SignedTransactionWire struct {
	TxBytes   []byte
	Signer    identity.PeerId
	Signature identity.Signature
}

// EncodeSignedTransaction converts an identity.Signed[Transaction] into its
// wire-friendly form.
func EncodeSignedTransaction(tx identity.Signed[Transaction]) (SignedTransactionWire, error) {
	data, err := tx.Payload.CanonicalBytes()
	if err != nil {
		return SignedTransactionWire{}, err
	}
	return SignedTransactionWire{TxBytes: data, Signer: tx.Signer, Signature: tx.Signature}, nil
}

// DecodeSignedTransaction reverses EncodeSignedTransaction, leaving the
// envelope unverified — callers must call .Verify()/.VerifyFrom() before
// using the transaction in an authenticated context.
func DecodeSignedTransaction(wire SignedTransactionWire) (identity.Signed[Transaction], error) {
	tx, err := DecodeTransaction(wire.TxBytes)
	if err != nil {
		var zero identity.Signed[Transaction]
		return zero, err
	}
	return identity.Signed[Transaction]{Payload: tx, Signer: wire.Signer, Signature: wire.Signature}, nil
}

// Body is the part of a Block that is hashed and signed during Prepare —
// everything except the commit quorum, which can only exist once the body
// itself is already agreed (§3 "block_hash... deterministic hash over
// (block_number, prev_block_hash, leader_term, transactions)"). It is the
// exact shape of a leader's candidate proposal, reused as-is by
// peer.Prepare.
type Body struct {
	Number       BlockNumber
	PrevHash     BlockHash
	LeaderTerm   LeaderTerm
	Transactions []SignedTransactionWire
}

// Hash computes Keccak256 over the RLP encoding of the body — the
// block_hash that Prepare/Append/Commit all agree on.
func (bd *Body) Hash() (BlockHash, error) {
	data, err := rlp.EncodeToBytes(bd)
	if err != nil {
		return BlockHash{}, err
	}
	var hash BlockHash
	copy(hash[:], crypto.Keccak256(data))
	return hash, nil
}

// Block is an append-only log entry: an ordered batch of signed
// transactions proposed by the leader of LeaderTerm and witnessed by a
// commit quorum of signatures.
type Block struct {
	Number           BlockNumber
	PrevHash         BlockHash
	LeaderTerm       LeaderTerm
	Transactions     []identity.Signed[Transaction]
	CommitSignatures []PeerSignature
}

func (b *Block) toBody() (Body, error) {
	wire := make([]SignedTransactionWire, len(b.Transactions))
	for i, tx := range b.Transactions {
		w, err := EncodeSignedTransaction(tx)
		if err != nil {
			return Body{}, fmt.Errorf("block: encode transaction %d: %w", i, err)
		}
		wire[i] = w
	}
	return Body{
		Number:       b.Number,
		PrevHash:     b.PrevHash,
		LeaderTerm:   b.LeaderTerm,
		Transactions: wire,
	}, nil
}

// BodyBytes returns the canonical RLP encoding of everything but the commit
// quorum — the bytes that are hashed to produce Hash() and that a Prepare
// message's block_hash commits to.
func (b *Block) BodyBytes() ([]byte, error) {
	bd, err := b.toBody()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&bd)
}

// Hash computes the block's content hash over
// (block_number, prev_block_hash, leader_term, transactions).
func (b *Block) Hash() (BlockHash, error) {
	bd, err := b.toBody()
	if err != nil {
		return BlockHash{}, err
	}
	return bd.Hash()
}

// fullBlock is the wire/disk encoding of a complete, committed Block.
type fullBlock struct {
	Body             Body
	CommitSignatures []PeerSignature
}

// CanonicalBytes implements identity.Encodable over the full block
// (including commit signatures), used when a committed block itself needs
// to be signed or hashed again, e.g. for block-sync responses and for
// persistence in the block store.
func (b *Block) CanonicalBytes() ([]byte, error) {
	bd, err := b.toBody()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&fullBlock{Body: bd, CommitSignatures: b.CommitSignatures})
}

// Decode reverses CanonicalBytes, reconstructing a Block from its encoded
// form (read from the block store or a SyncBlocksResponse). Transactions
// come back as unverified Signed[Transaction] envelopes — callers that
// need authenticated data must still call .Verify() on each.
func Decode(data []byte) (*Block, error) {
	var full fullBlock
	if err := rlp.DecodeBytes(data, &full); err != nil {
		return nil, fmt.Errorf("block: decode: %w", err)
	}
	txs := make([]identity.Signed[Transaction], len(full.Body.Transactions))
	for i, wire := range full.Body.Transactions {
		tx, err := DecodeSignedTransaction(wire)
		if err != nil {
			return nil, fmt.Errorf("block: decode transaction %d: %w", i, err)
		}
		txs[i] = tx
	}
	return &Block{
		Number:           full.Body.Number,
		PrevHash:         full.Body.PrevHash,
		LeaderTerm:       full.Body.LeaderTerm,
		Transactions:     txs,
		CommitSignatures: full.CommitSignatures,
	}, nil
}

// BodyOf returns the Body (candidate-proposal shape) of an as-yet-uncommitted
// block, for use by the leader when constructing a Prepare message.
func BodyOf(b *Block) (Body, error) {
	return b.toBody()
}

// SyncBlock is the RLP-encodable shape of a fully committed Block, used by
// SyncBlocksResponse to ship a range of blocks to a catching-up peer
// (§4.6.8). It is identical to fullBlock, exported for use by package peer.
type SyncBlock struct {
	Body             Body
	CommitSignatures []PeerSignature
}

// FromBlock converts a committed Block into its wire shape.
func FromBlock(b *Block) (SyncBlock, error) {
	bd, err := b.toBody()
	if err != nil {
		return SyncBlock{}, err
	}
	return SyncBlock{Body: bd, CommitSignatures: b.CommitSignatures}, nil
}

// ToBlock reconstructs a Block from its wire shape. Transactions come back
// unverified; callers must verify each commit signature (and, if they also
// want authenticated transactions, each transaction) before trusting it.
func (s SyncBlock) ToBlock() (*Block, error) {
	txs := make([]identity.Signed[Transaction], len(s.Body.Transactions))
	for i, wire := range s.Body.Transactions {
		tx, err := DecodeSignedTransaction(wire)
		if err != nil {
			return nil, fmt.Errorf("block: decode transaction %d: %w", i, err)
		}
		txs[i] = tx
	}
	return &Block{
		Number:           s.Body.Number,
		PrevHash:         s.Body.PrevHash,
		LeaderTerm:       s.Body.LeaderTerm,
		Transactions:     txs,
		CommitSignatures: s.CommitSignatures,
	}, nil
}

