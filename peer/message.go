// Package peer implements the RPU-to-RPU wire protocol: the signed,
// length-prefixed framed messages of §6 and the Broadcaster's transport.
package peer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
)

// Kind tags a peer message variant. The set is fixed per §6 ("Message
// kinds include Prepare, AckPrepare, Append, AckAppend, Commit, ViewChange,
// SyncBlocksRequest, SyncBlocksResponse, ExecuteBatch").
type Kind byte

// The enumerated peer message kinds.
const (
	KindPrepare Kind = iota + 1
	KindAckPrepare
	KindAppend
	KindAckAppend
	KindCommit
	KindViewChange
	KindSyncBlocksRequest
	KindSyncBlocksResponse
	KindExecuteBatch
	KindErrorResponse
	KindAck
)

// Message is implemented by every peer wire message variant.
type Message interface {
	identity.Encodable
	Kind() Kind
}

func encodeVariant(kind Kind, fields interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&Envelope{Kind: kind, Payload: payload})
}

// Envelope is the shared on-the-wire shape: a tag byte plus the nested RLP
// encoding of the variant's own fields.
type Envelope struct {
	Kind    Kind
	Payload rlp.RawValue
}

// Prepare is the leader's proposal for the next block, broadcast to start
// prepare voting (§4.6.3).
type Prepare struct {
	Proposal  block.Body
	BlockHash block.BlockHash
}

// Kind implements Message.
func (Prepare) Kind() Kind { return KindPrepare }

// CanonicalBytes implements identity.Encodable.
func (m Prepare) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindPrepare, &m)
}

// AckPrepare is a follower's vote that it has transitioned to the Prepare
// phase for (BlockNumber, BlockHash) (§4.6.4).
type AckPrepare struct {
	BlockNumber block.BlockNumber
	BlockHash   block.BlockHash
}

// Kind implements Message.
func (AckPrepare) Kind() Kind { return KindAckPrepare }

// CanonicalBytes implements identity.Encodable.
func (m AckPrepare) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindAckPrepare, &m)
}

// Append carries the gathered prepare quorum, asking followers to witness
// it and move to the Append phase (§4.6.5).
type Append struct {
	BlockNumber   block.BlockNumber
	BlockHash     block.BlockHash
	PrepareQuorum []block.PeerSignature
}

// Kind implements Message.
func (Append) Kind() Kind { return KindAppend }

// CanonicalBytes implements identity.Encodable.
func (m Append) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindAppend, &m)
}

// AckAppend is a follower's vote that it has witnessed the prepare quorum
// and transitioned to the Append phase (§4.6.5).
type AckAppend struct {
	BlockNumber block.BlockNumber
	BlockHash   block.BlockHash
}

// Kind implements Message.
func (AckAppend) Kind() Kind { return KindAckAppend }

// CanonicalBytes implements identity.Encodable.
func (m AckAppend) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindAckAppend, &m)
}

// Commit carries the fully assembled block and its commit quorum
// (§4.6.6).
type Commit struct {
	Proposal         block.Body
	BlockHash        block.BlockHash
	CommitSignatures []block.PeerSignature
}

// Kind implements Message.
func (Commit) Kind() Kind { return KindCommit }

// CanonicalBytes implements identity.Encodable.
func (m Commit) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindCommit, &m)
}

// Block reassembles the full committed block carried by this Commit
// message.
func (m Commit) Block() *block.Block {
	txs := make([]identity.Signed[block.Transaction], 0, len(m.Proposal.Transactions))
	for _, wire := range m.Proposal.Transactions {
		tx, err := block.DecodeSignedTransaction(wire)
		if err != nil {
			// A Commit whose transactions don't decode is malformed;
			// callers always validate the quorum/hash before calling
			// Block(), at which point this cannot happen for an honest
			// peer's Commit — but return an empty block rather than panic.
			return &block.Block{Number: m.Proposal.Number, PrevHash: m.Proposal.PrevHash, LeaderTerm: m.Proposal.LeaderTerm, CommitSignatures: m.CommitSignatures}
		}
		txs = append(txs, tx)
	}
	return &block.Block{
		Number:           m.Proposal.Number,
		PrevHash:         m.Proposal.PrevHash,
		LeaderTerm:       m.Proposal.LeaderTerm,
		Transactions:     txs,
		CommitSignatures: m.CommitSignatures,
	}
}

// ViewChange asks the cluster to move to a new leader term because the
// sender observed no progress within the phase timeout (§4.6.7).
type ViewChange struct {
	NewTerm       block.LeaderTerm
	LastCommitted block.BlockNumber
	// PendingPrepareQuorum, if non-empty, is the highest prepare quorum the
	// sender observed for the not-yet-committed block after LastCommitted
	// (block 0 while nothing is committed, when LastCommitted also reads 0),
	// carried forward so the new leader can re-propose it (§4.6.7).
	PendingBlockHash     block.BlockHash
	PendingPrepareQuorum []block.PeerSignature
}

// Kind implements Message.
func (ViewChange) Kind() Kind { return KindViewChange }

// CanonicalBytes implements identity.Encodable.
func (m ViewChange) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindViewChange, &m)
}

// SyncBlocksRequest asks for committed blocks [From, To) (§4.6.8).
type SyncBlocksRequest struct {
	From block.BlockNumber
	To   block.BlockNumber
}

// Kind implements Message.
func (SyncBlocksRequest) Kind() Kind { return KindSyncBlocksRequest }

// CanonicalBytes implements identity.Encodable.
func (m SyncBlocksRequest) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindSyncBlocksRequest, &m)
}

// SyncBlocksResponse carries the requested range of fully-committed
// blocks, each independently verifiable via its own CommitSignatures.
type SyncBlocksResponse struct {
	Blocks []block.SyncBlock
}

// Kind implements Message.
func (SyncBlocksResponse) Kind() Kind { return KindSyncBlocksResponse }

// CanonicalBytes implements identity.Encodable.
func (m SyncBlocksResponse) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindSyncBlocksResponse, &m)
}

// ExecuteBatch is the batcher's broadcast of a freshly flushed batch of
// client transactions to every peer (§4.5). A receiving engine checks only
// that the sender is a roster member and replies Ack; it keeps no copy of
// the batch, so proposals are not compared against it.
type ExecuteBatch struct {
	Transactions []block.SignedTransactionWire
}

// Kind implements Message.
func (ExecuteBatch) Kind() Kind { return KindExecuteBatch }

// CanonicalBytes implements identity.Encodable.
func (m ExecuteBatch) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindExecuteBatch, &m)
}

// Ack is the bare acknowledgement sent back for request kinds that carry no
// reply data of their own (Commit, ViewChange, ExecuteBatch,
// SyncBlocksResponse) — every request still gets exactly one response
// frame, so a sender's Client.Request never blocks until RequestTimeout
// waiting for a reply that was never coming.
type Ack struct{}

// Kind implements Message.
func (Ack) Kind() Kind { return KindAck }

// CanonicalBytes implements identity.Encodable.
func (m Ack) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindAck, &m)
}

// CodedError is implemented by domain errors (e.g. *praftbft.Error) that
// carry a small numeric classification a peer can branch on without this
// transport package needing to import the domain package that defines it
// (§7: peer-to-peer responses keep a structured error instead of merely
// dropping the connection).
type CodedError interface {
	error
	Code() byte
}

// ErrorResponse carries a rejected request's error back to the sender
// instead of the handler's ordinary response, so the sender can branch on
// Code (e.g. to trigger its own sync or leader bookkeeping) without a
// second round trip.
type ErrorResponse struct {
	Code    byte
	Message string
}

// Kind implements Message.
func (ErrorResponse) Kind() Kind { return KindErrorResponse }

// CanonicalBytes implements identity.Encodable.
func (m ErrorResponse) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindErrorResponse, &m)
}

// Error implements error, so an ErrorResponse can be returned directly as
// the err half of a Handler-shaped call when convenient.
func (m ErrorResponse) Error() string { return m.Message }

// Decode decodes the canonical bytes produced by Message.CanonicalBytes
// back into a concrete Message.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("peer: decode envelope: %w", err)
	}
	switch env.Kind {
	case KindPrepare:
		var m Prepare
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindAckPrepare:
		var m AckPrepare
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindAppend:
		var m Append
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindAckAppend:
		var m AckAppend
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindCommit:
		var m Commit
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindViewChange:
		var m ViewChange
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindSyncBlocksRequest:
		var m SyncBlocksRequest
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindSyncBlocksResponse:
		var m SyncBlocksResponse
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindExecuteBatch:
		var m ExecuteBatch
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindErrorResponse:
		var m ErrorResponse
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindAck:
		var m Ack
		if err := rlpDecodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("peer: unknown message kind %d", env.Kind)
	}
}

func rlpDecodeInto(payload rlp.RawValue, v interface{}) error {
	if err := rlp.DecodeBytes(payload, v); err != nil {
		return fmt.Errorf("peer: decode payload: %w", err)
	}
	return nil
}
