// Package worldstate implements the deterministic, in-memory replicated
// state that is a pure function of the committed block prefix (§4.3).
package worldstate

import (
	"errors"
	"fmt"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
)

// ErrPermissionDenied is returned by Allow when signer lacks the
// permission a transaction requires.
var ErrPermissionDenied = errors.New("worldstate: permission denied")

// WorldState is the per-peer key/value data plane plus the per-peer
// account/permission records (§3).
type WorldState struct {
	Accounts map[identity.PeerId]Account
	Data     map[identity.PeerId]map[string][]byte
}

// New returns an empty WorldState.
func New() *WorldState {
	return &WorldState{
		Accounts: make(map[identity.PeerId]Account),
		Data:     make(map[identity.PeerId]map[string][]byte),
	}
}

// Clone deep-copies the WorldState so a writer may mutate it without
// affecting outstanding snapshot readers (§5 "Writers always publish
// atomically").
func (ws *WorldState) Clone() *WorldState {
	out := New()
	for id, acc := range ws.Accounts {
		out.Accounts[id] = acc.clone()
	}
	for id, ns := range ws.Data {
		clonedNs := make(map[string][]byte, len(ns))
		for k, v := range ns {
			value := make([]byte, len(v))
			copy(value, v)
			clonedNs[k] = value
		}
		out.Data[id] = clonedNs
	}
	return out
}

// Allow is the permission-checker's predicate over (PeerId, Transaction,
// WorldState), left unspecified in its exact policy language by §9 Open
// Questions; PrellBlock's own rule is: KeyValue requires "write",
// AccountUpdate requires "admin", and an unknown signer is always denied.
func (ws *WorldState) Allow(signer identity.PeerId, tx block.Transaction) error {
	account, ok := ws.Accounts[signer]
	if !ok {
		return fmt.Errorf("%w: %s is not a known account", ErrPermissionDenied, signer)
	}
	switch tx.(type) {
	case block.KeyValue:
		if !account.Allows("write") {
			return fmt.Errorf("%w: %s lacks write permission", ErrPermissionDenied, signer)
		}
	case block.AccountUpdate:
		if !account.Allows("admin") {
			return fmt.Errorf("%w: %s lacks admin permission", ErrPermissionDenied, signer)
		}
	default:
		return fmt.Errorf("%w: unknown transaction kind", ErrPermissionDenied)
	}
	return nil
}

// Apply executes tx against the state in place. It is idempotent per
// position in a block: applying the same block twice from the same
// starting state yields the same result (§8 "Apply→snapshot→apply is a
// no-op at the same block height").
func (ws *WorldState) Apply(signer identity.PeerId, tx block.Transaction) {
	switch t := tx.(type) {
	case block.KeyValue:
		ns, ok := ws.Data[signer]
		if !ok {
			ns = make(map[string][]byte)
			ws.Data[signer] = ns
		}
		ns[t.Key] = t.Value
	case block.AccountUpdate:
		acc := ws.Accounts[t.Target]
		acc.Permissions = t.Permissions
		acc.Quota = t.Quota
		ws.Accounts[t.Target] = acc
	}
}

// ApplyBlock applies every transaction of blk, in order, after verifying
// each transaction's signature and permission. It stops at the first
// invalid transaction. Prepare checks transaction signatures but not
// permissions, so a committed block can still fail here on a permission.
func (ws *WorldState) ApplyBlock(blk *block.Block) error {
	for i, signed := range blk.Transactions {
		tx, err := signed.Verify()
		if err != nil {
			return fmt.Errorf("worldstate: transaction %d: %w", i, err)
		}
		if err := ws.Allow(signed.Signer, tx); err != nil {
			return fmt.Errorf("worldstate: transaction %d: %w", i, err)
		}
		ws.Apply(signed.Signer, tx)
	}
	return nil
}
