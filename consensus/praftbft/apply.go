package praftbft

import (
	"context"
	"fmt"

	"github.com/prellblock/prellblock/block"
)

// applyBlock applies blk to a writable world-state view, appends it to the
// durable block store, publishes the new world state, and advances the
// engine to Waiting for the next block number (§4.6.6). Block-store IO errors are fatal to the engine (§7): the
// world-state write is discarded and Run is shut down for operator
// inspection rather than risking a world state that has diverged from the
// durable log.
func (e *Engine) applyBlock(blk *block.Block) error {
	writable, err := e.cfg.WorldState.AcquireWritable(context.Background())
	if err != nil {
		return fmt.Errorf("praftbft: acquire writable world state: %w", err)
	}
	if err := writable.State().ApplyBlock(blk); err != nil {
		writable.Discard()
		return fmt.Errorf("praftbft: apply block %d: %w", blk.Number, err)
	}
	if err := e.cfg.BlockStore.Append(blk); err != nil {
		writable.Discard()
		e.log.Error("block store append failed, shutting down engine", "number", blk.Number, "err", err)
		e.shutdown()
		return &Error{Kind: IoError, msg: err.Error()}
	}
	hash, err := blk.Hash()
	if err != nil {
		writable.Discard()
		return fmt.Errorf("praftbft: hash committed block %d: %w", blk.Number, err)
	}
	writable.Commit()

	e.lastCommittedHash = hash
	e.phase = waitingPhase(blk.Number + 1)
	e.prepareVotes = nil
	e.appendVotes = nil
	e.syncing = false
	e.resetTimer()
	e.feed.Send(CommittedBlock{Block: blk})
	e.maybePropose()
	return nil
}

func (e *Engine) shutdown() {
	e.stopOnce.Do(func() { close(e.done) })
}
