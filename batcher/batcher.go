// Package batcher accumulates client transactions between consensus rounds,
// flushing a batch when either a count threshold or a time interval is
// reached (§4.5).
package batcher

import (
	"errors"
	"time"

	"github.com/prellblock/prellblock/block"
	"github.com/prellblock/prellblock/identity"
)

// ErrBatcherFull is returned by Add when the backpressure buffer is
// saturated; callers (TURI) surface this to the client as a retryable
// timeout-adjacent error, per §4.5.
var ErrBatcherFull = errors.New("batcher: backpressure buffer full")

// Batcher buffers Signed[Transaction] values and flushes them to Flushes
// once MaxSize transactions have accumulated or FlushInterval has elapsed
// since the last flush, whichever comes first.
type Batcher struct {
	MaxSize       int
	FlushInterval time.Duration

	incoming chan identity.Signed[block.Transaction]
	flushes  chan []identity.Signed[block.Transaction]
	done     chan struct{}
}

// New creates a Batcher with the given thresholds and a bounded incoming
// buffer of bufferSize pending transactions (the backpressure bound named
// in §4.5).
func New(maxSize int, flushInterval time.Duration, bufferSize int) *Batcher {
	return &Batcher{
		MaxSize:       maxSize,
		FlushInterval: flushInterval,
		incoming:      make(chan identity.Signed[block.Transaction], bufferSize),
		flushes:       make(chan []identity.Signed[block.Transaction]),
		done:          make(chan struct{}),
	}
}

// Add enqueues tx for the next flush. It returns ErrBatcherFull immediately
// rather than blocking when the buffer is saturated, per §4.5's
// backpressure requirement.
func (b *Batcher) Add(tx identity.Signed[block.Transaction]) error {
	select {
	case b.incoming <- tx:
		return nil
	default:
		return ErrBatcherFull
	}
}

// Flushes is the channel of flushed batches; the consensus engine's
// goroutine reads from it to start a new proposal round (§4.6.3).
func (b *Batcher) Flushes() <-chan []identity.Signed[block.Transaction] {
	return b.flushes
}

// Run drives the flush loop described in §4.5 as a single-owner goroutine
// (per §5, started from rpu.Node.Run): a count threshold and a
// time.Ticker-driven interval, selected via a select over the incoming
// channel. It blocks until Stop is called.
func (b *Batcher) Run() {
	ticker := time.NewTicker(b.FlushInterval)
	defer ticker.Stop()

	var pending []identity.Signed[block.Transaction]
	for {
		select {
		case tx := <-b.incoming:
			pending = append(pending, tx)
			if len(pending) >= b.MaxSize {
				pending = b.flush(pending)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				pending = b.flush(pending)
			}
		case <-b.done:
			return
		}
	}
}

func (b *Batcher) flush(pending []identity.Signed[block.Transaction]) []identity.Signed[block.Transaction] {
	batch := pending
	select {
	case b.flushes <- batch:
	case <-b.done:
	}
	return nil
}

// Stop terminates the Run loop.
func (b *Batcher) Stop() {
	close(b.done)
}
