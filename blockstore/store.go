// Package blockstore implements the append-only, durable log of committed
// blocks described in §4.2. Two implementations share the Store interface:
// an in-memory store for tests and a goleveldb-backed store for production,
// mirroring the teacher's own ethdb-over-goleveldb layering.
package blockstore

import (
	"errors"
	"fmt"

	"github.com/prellblock/prellblock/block"
)

// ErrIntegrity signals a durability or consistency failure in the log
// itself (e.g. a corrupt record). Per §7 this is fatal to the engine.
var ErrIntegrity = errors.New("blockstore: integrity failure")

// ErrOutOfOrder is returned by Append when block_number or prev_block_hash
// does not chain onto the current head.
var ErrOutOfOrder = errors.New("blockstore: block out of order")

// Store is the append-only block log interface consumed by the consensus
// engine (single writer) and by the read-query path (many readers).
type Store interface {
	// Append durably persists blk. It must fail with ErrOutOfOrder unless
	// blk.Number == CurrentBlockNumber()+1 (or 0 for an empty store) and
	// blk.PrevHash equals the hash of the current head block. The store is
	// durable before Append returns success (§4.2).
	Append(blk *block.Block) error

	// Read yields blocks [from, to) in ascending order.
	Read(from, to block.BlockNumber) ([]*block.Block, error)

	// CurrentBlockNumber returns the number of the most recently appended
	// block and true, or (0, false) if the store is empty.
	CurrentBlockNumber() (block.BlockNumber, bool)

	// Close releases any underlying resources (file handles, etc.).
	Close() error
}

// validateAppend checks the chaining invariants shared by every Store
// implementation: blk.Number == last+1 and blk.PrevHash == hash(last).
func validateAppend(blk *block.Block, last *block.Block) error {
	var expectedNumber block.BlockNumber
	expectedPrevHash := block.GenesisBlockHash
	if last != nil {
		expectedNumber = last.Number + 1
		hash, err := last.Hash()
		if err != nil {
			return fmt.Errorf("%w: hashing current head: %v", ErrIntegrity, err)
		}
		expectedPrevHash = hash
	}
	if blk.Number != expectedNumber {
		return fmt.Errorf("%w: expected block number %d, got %d", ErrOutOfOrder, expectedNumber, blk.Number)
	}
	if blk.PrevHash != expectedPrevHash {
		return fmt.Errorf("%w: expected prev hash %s, got %s", ErrOutOfOrder, expectedPrevHash, blk.PrevHash)
	}
	return nil
}
