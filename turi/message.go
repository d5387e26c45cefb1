// Package turi implements the client-facing request gateway of §6: the
// same length-prefixed, signed framing as the peer protocol, but a
// distinct message set scoped to what an external client needs — submit a
// transaction, or read world state and committed blocks without going
// through consensus.
package turi

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/worldstate"
)

// Kind tags a TURI message variant.
type Kind byte

// The enumerated TURI message kinds (§6: "Ping -> Pong and
// Execute(Signed<Transaction>) -> (); read-path queries GetValue,
// GetAccount, GetBlock, GetCurrentBlockNumber").
const (
	KindPing Kind = iota + 1
	KindPong
	KindExecute
	KindExecuteAck
	KindGetValue
	KindGetValueResponse
	KindGetAccount
	KindGetAccountResponse
	KindGetBlock
	KindGetBlockResponse
	KindGetCurrentBlockNumber
	KindGetCurrentBlockNumberResponse
	KindErrorResponse
)

// Message is implemented by every TURI wire message variant.
type Message interface {
	identity.Encodable
	Kind() Kind
}

// Envelope is the shared on-the-wire shape, identical in structure to the
// peer protocol's envelope (§6: "Same framing").
type Envelope struct {
	Kind    Kind
	Payload rlp.RawValue
}

func encodeVariant(kind Kind, fields interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&Envelope{Kind: kind, Payload: payload})
}

// Ping is a liveness check a client sends before relying on a connection.
type Ping struct{}

// Kind implements Message.
func (Ping) Kind() Kind { return KindPing }

// CanonicalBytes implements identity.Encodable.
func (m Ping) CanonicalBytes() ([]byte, error) { return encodeVariant(KindPing, &m) }

// Pong answers a Ping.
type Pong struct{}

// Kind implements Message.
func (Pong) Kind() Kind { return KindPong }

// CanonicalBytes implements identity.Encodable.
func (m Pong) CanonicalBytes() ([]byte, error) { return encodeVariant(KindPong, &m) }

// Execute submits a client-signed transaction for inclusion in a future
// block. The envelope this message itself travels in may be signed by a
// different key than Transaction.Signer (e.g. a gateway relaying on a
// sensor's behalf); only Transaction.Signer is checked for permission.
type Execute struct {
	Transaction block.SignedTransactionWire
}

// Kind implements Message.
func (Execute) Kind() Kind { return KindExecute }

// CanonicalBytes implements identity.Encodable.
func (m Execute) CanonicalBytes() ([]byte, error) { return encodeVariant(KindExecute, &m) }

// ExecuteAck confirms a transaction was accepted into the local batcher. It
// does not mean the transaction has committed — only that TURI validated
// and forwarded it.
type ExecuteAck struct{}

// Kind implements Message.
func (ExecuteAck) Kind() Kind { return KindExecuteAck }

// CanonicalBytes implements identity.Encodable.
func (m ExecuteAck) CanonicalBytes() ([]byte, error) { return encodeVariant(KindExecuteAck, &m) }

// GetValue reads one key from Owner's namespace in the current world state
// snapshot, bypassing consensus entirely (§6).
type GetValue struct {
	Owner identity.PeerId
	Key   string
}

// Kind implements Message.
func (GetValue) Kind() Kind { return KindGetValue }

// CanonicalBytes implements identity.Encodable.
func (m GetValue) CanonicalBytes() ([]byte, error) { return encodeVariant(KindGetValue, &m) }

// GetValueResponse answers GetValue.
type GetValueResponse struct {
	Value []byte
	Found bool
}

// Kind implements Message.
func (GetValueResponse) Kind() Kind { return KindGetValueResponse }

// CanonicalBytes implements identity.Encodable.
func (m GetValueResponse) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindGetValueResponse, &m)
}

// GetAccount reads Target's account record (permissions, quota).
type GetAccount struct {
	Target identity.PeerId
}

// Kind implements Message.
func (GetAccount) Kind() Kind { return KindGetAccount }

// CanonicalBytes implements identity.Encodable.
func (m GetAccount) CanonicalBytes() ([]byte, error) { return encodeVariant(KindGetAccount, &m) }

// GetAccountResponse answers GetAccount.
type GetAccountResponse struct {
	Account worldstate.Account
	Found   bool
}

// Kind implements Message.
func (GetAccountResponse) Kind() Kind { return KindGetAccountResponse }

// CanonicalBytes implements identity.Encodable.
func (m GetAccountResponse) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindGetAccountResponse, &m)
}

// GetBlock reads one committed block by number directly from the block
// store.
type GetBlock struct {
	Number block.BlockNumber
}

// Kind implements Message.
func (GetBlock) Kind() Kind { return KindGetBlock }

// CanonicalBytes implements identity.Encodable.
func (m GetBlock) CanonicalBytes() ([]byte, error) { return encodeVariant(KindGetBlock, &m) }

// GetBlockResponse answers GetBlock.
type GetBlockResponse struct {
	Block block.SyncBlock
	Found bool
}

// Kind implements Message.
func (GetBlockResponse) Kind() Kind { return KindGetBlockResponse }

// CanonicalBytes implements identity.Encodable.
func (m GetBlockResponse) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindGetBlockResponse, &m)
}

// GetCurrentBlockNumber asks how many blocks have been committed so far.
type GetCurrentBlockNumber struct{}

// Kind implements Message.
func (GetCurrentBlockNumber) Kind() Kind { return KindGetCurrentBlockNumber }

// CanonicalBytes implements identity.Encodable.
func (m GetCurrentBlockNumber) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindGetCurrentBlockNumber, &m)
}

// GetCurrentBlockNumberResponse answers GetCurrentBlockNumber. Number is the
// committed block count (the highest committed block index plus one, since
// blocks are numbered from 0) — 1 right after the first block commits.
// Empty is true if the block store has not committed anything yet.
type GetCurrentBlockNumberResponse struct {
	Number block.BlockNumber
	Empty  bool
}

// Kind implements Message.
func (GetCurrentBlockNumberResponse) Kind() Kind { return KindGetCurrentBlockNumberResponse }

// CanonicalBytes implements identity.Encodable.
func (m GetCurrentBlockNumberResponse) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindGetCurrentBlockNumberResponse, &m)
}

// ErrorResponse carries a request's rejection reason back to the client as
// a stringified message (§7: client-facing responses stringify structured
// errors with .Error(), unlike the peer protocol which keeps them
// structured).
type ErrorResponse struct {
	Message string
}

// Kind implements Message.
func (ErrorResponse) Kind() Kind { return KindErrorResponse }

// CanonicalBytes implements identity.Encodable.
func (m ErrorResponse) CanonicalBytes() ([]byte, error) { return encodeVariant(KindErrorResponse, &m) }

// Error implements error.
func (m ErrorResponse) Error() string { return m.Message }

// Decode decodes the canonical bytes produced by Message.CanonicalBytes
// back into a concrete Message.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("turi: decode envelope: %w", err)
	}
	switch env.Kind {
	case KindPing:
		var m Ping
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindPong:
		var m Pong
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindExecute:
		var m Execute
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindExecuteAck:
		var m ExecuteAck
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetValue:
		var m GetValue
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetValueResponse:
		var m GetValueResponse
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetAccount:
		var m GetAccount
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetAccountResponse:
		var m GetAccountResponse
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetBlock:
		var m GetBlock
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetBlockResponse:
		var m GetBlockResponse
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetCurrentBlockNumber:
		var m GetCurrentBlockNumber
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindGetCurrentBlockNumberResponse:
		var m GetCurrentBlockNumberResponse
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindErrorResponse:
		var m ErrorResponse
		if err := decodeInto(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("turi: unknown message kind %d", env.Kind)
	}
}

func decodeInto(payload rlp.RawValue, v interface{}) error {
	if err := rlp.DecodeBytes(payload, v); err != nil {
		return fmt.Errorf("turi: decode payload: %w", err)
	}
	return nil
}
