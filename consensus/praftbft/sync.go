package praftbft

import (
	"context"
	"fmt"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
	"github.com/prellblock/prellblock/peer"
)

// onSyncBlocksRequest answers a straggling peer's request for a range of
// already-committed blocks (§4.6.8).
func (e *Engine) onSyncBlocksRequest(sender identity.PeerId, m peer.SyncBlocksRequest) (peer.Message, error) {
	if !e.rosterSet.Contains(sender) {
		return nil, newErr(NotARosterMember, "sender %s", sender)
	}
	blocks, err := e.cfg.BlockStore.Read(m.From, m.To)
	if err != nil {
		return nil, &Error{Kind: IoError, msg: err.Error()}
	}
	wire := make([]block.SyncBlock, 0, len(blocks))
	for _, blk := range blocks {
		sb, err := block.FromBlock(blk)
		if err != nil {
			return nil, fmt.Errorf("praftbft: encode sync block %d: %w", blk.Number, err)
		}
		wire = append(wire, sb)
	}
	return peer.SyncBlocksResponse{Blocks: wire}, nil
}

// beginSync asks every peer for the blocks this engine is missing whenever
// an inbound message names a block_number strictly ahead of what it
// expects (§4.6.8), catching up before resuming phase participation.
func (e *Engine) beginSync(upTo block.BlockNumber) {
	if e.syncing {
		return
	}
	e.syncing = true
	from := e.phase.BlockNumber
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.phaseTimeout())
		defer cancel()
		result := e.cfg.Broadcaster.Broadcast(ctx, peer.SyncBlocksRequest{From: from, To: upTo})
		select {
		case e.broadcasts <- broadcastOutcome{kind: peer.KindSyncBlocksRequest, number: upTo, result: result}:
		case <-e.done:
		}
	}()
}

func (e *Engine) handleSyncBroadcast(bo broadcastOutcome) {
	for _, outcome := range bo.result.Responses {
		if outcome.Err != nil {
			continue
		}
		resp, ok := outcome.Response.(peer.SyncBlocksResponse)
		if !ok || len(resp.Blocks) == 0 {
			continue
		}
		// Stop at the first response that advanced the chain; one whose
		// blocks failed quorum verification falls through to the next.
		before := e.phase.BlockNumber
		e.applySyncBlocks(resp.Blocks)
		if e.phase.BlockNumber > before {
			break
		}
	}
	e.syncing = false
}

// onSyncBlocksResponse accepts an unsolicited push of committed blocks the
// same way it would a reply to beginSync: harmless if already applied,
// useful if it fills a gap this engine hadn't yet noticed.
func (e *Engine) onSyncBlocksResponse(_ identity.PeerId, m peer.SyncBlocksResponse) (peer.Message, error) {
	e.applySyncBlocks(m.Blocks)
	return peer.Ack{}, nil
}

// applySyncBlocks applies each offered block in order, verifying its commit
// quorum before trusting it, stopping at the first block that isn't
// exactly the one this engine still expects next.
func (e *Engine) applySyncBlocks(wire []block.SyncBlock) {
	for _, sb := range wire {
		if sb.Body.Number < e.phase.BlockNumber {
			continue
		}
		if sb.Body.Number != e.phase.BlockNumber {
			break
		}
		blk, err := sb.ToBlock()
		if err != nil {
			e.log.Warn("sync: decode block failed", "number", sb.Body.Number, "err", err)
			break
		}
		hash, err := blk.Hash()
		if err != nil {
			e.log.Warn("sync: hash block failed", "number", sb.Body.Number, "err", err)
			break
		}
		voteData, err := appendVoteData(blk.Number, hash)
		if err != nil {
			e.log.Warn("sync: vote data failed", "number", sb.Body.Number, "err", err)
			break
		}
		if err := VerifyQuorum(e.roster, voteData, blk.CommitSignatures); err != nil {
			e.log.Warn("sync: block failed quorum verification", "number", sb.Body.Number, "err", err)
			break
		}
		if err := e.applyBlock(blk); err != nil {
			e.log.Error("sync: apply block failed", "number", sb.Body.Number, "err", err)
			break
		}
	}
}
