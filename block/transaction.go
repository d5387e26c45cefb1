// Package block defines the PrellBlock ledger's unit of agreement: the
// transaction variants clients submit and the Block that bundles them.
package block

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/identity"
)

// Kind tags a Transaction variant. The set is fixed and enumerated (§9
// "Polymorphism over message kinds... no open-ended dispatch") — adding a
// new transaction type means adding a new Kind and a branch in
// DecodeTransaction, never an open registry.
type Kind byte

// The enumerated transaction kinds.
const (
	// KindKeyValue writes a single key/value pair into the signer's
	// namespace of the world state.
	KindKeyValue Kind = iota + 1
	// KindAccountUpdate mutates another peer's Account record (permissions,
	// quota). Added beyond the distilled spec's single KeyValue variant —
	// see SPEC_FULL.md §3 — because WorldState.accounts needs some
	// transaction able to change it.
	KindAccountUpdate
)

// Transaction is the tagged-variant payload signed by its originator and
// carried inside a Block. Every variant must encode deterministically via
// CanonicalBytes so all peers sign and hash byte-identical data.
type Transaction interface {
	identity.Encodable
	Kind() Kind
}

// envelope is the on-the-wire shape shared by every variant: a tag byte
// plus the nested RLP encoding of the variant's own fields. This mirrors
// the teacher's typed-envelope convention (a discriminant followed by an
// opaque, variant-specific payload) rather than flattening every variant's
// fields into one positional struct, which RLP's list encoding cannot
// decode unambiguously across variants of different shapes.
type envelope struct {
	Kind    Kind
	Payload rlp.RawValue
}

func encodeVariant(kind Kind, fields interface{}) ([]byte, error) {
	payload, err := rlp.EncodeToBytes(fields)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&envelope{Kind: kind, Payload: payload})
}

// KeyValue sets Value at Key in the signer's data namespace.
type KeyValue struct {
	Key   string
	Value []byte
}

// Kind implements Transaction.
func (KeyValue) Kind() Kind { return KindKeyValue }

// CanonicalBytes implements identity.Encodable.
func (tx KeyValue) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindKeyValue, &struct {
		Key   string
		Value []byte
	}{tx.Key, tx.Value})
}

// AccountUpdate mutates the Permissions and Quota of Target's account.
// Whether the signer is allowed to do so is a question for the permission
// checker (§9 Open Questions), not for this type.
type AccountUpdate struct {
	Target      identity.PeerId
	Permissions []string
	Quota       uint64
}

// Kind implements Transaction.
func (AccountUpdate) Kind() Kind { return KindAccountUpdate }

// CanonicalBytes implements identity.Encodable.
func (tx AccountUpdate) CanonicalBytes() ([]byte, error) {
	return encodeVariant(KindAccountUpdate, &struct {
		Target      identity.PeerId
		Permissions []string
		Quota       uint64
	}{tx.Target, tx.Permissions, tx.Quota})
}

// DecodeTransaction decodes the canonical bytes produced by
// Transaction.CanonicalBytes back into a concrete Transaction.
func DecodeTransaction(data []byte) (Transaction, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("block: decode transaction envelope: %w", err)
	}
	switch env.Kind {
	case KindKeyValue:
		var fields struct {
			Key   string
			Value []byte
		}
		if err := rlp.DecodeBytes(env.Payload, &fields); err != nil {
			return nil, fmt.Errorf("block: decode KeyValue: %w", err)
		}
		return KeyValue{Key: fields.Key, Value: fields.Value}, nil
	case KindAccountUpdate:
		var fields struct {
			Target      identity.PeerId
			Permissions []string
			Quota       uint64
		}
		if err := rlp.DecodeBytes(env.Payload, &fields); err != nil {
			return nil, fmt.Errorf("block: decode AccountUpdate: %w", err)
		}
		return AccountUpdate{Target: fields.Target, Permissions: fields.Permissions, Quota: fields.Quota}, nil
	default:
		return nil, fmt.Errorf("block: unknown transaction kind %d", env.Kind)
	}
}
