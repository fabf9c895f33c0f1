package linkcrawl

import (
	"context"
	"errors"
	"fmt"
)

// ErrQueueDrained is returned by Dequeue once every batch has been handed out.
var ErrQueueDrained = errors.New("work queue drained")

// WorkQueue hands out a fixed set of batches. It is filled once and closed, so receiving is
// the only operation and a drained queue stays drained.
type WorkQueue struct {
	ch chan Batch
}

// NewWorkQueue loads batches last-first, so the final batch is handed out first.
func NewWorkQueue(batches []Batch) *WorkQueue {
	ch := make(chan Batch, len(batches))
	for i := len(batches) - 1; i >= 0; i-- {
		ch <- batches[i]
	}
	close(ch)
	return &WorkQueue{ch: ch}
}

// Dequeue returns the next batch, ErrQueueDrained when none remain, or the context error.
func (q *WorkQueue) Dequeue(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return Batch{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case b, ok := <-q.ch:
		if !ok {
			return Batch{}, ErrQueueDrained
		}
		return b, nil
	}
}

// Len reports how many batches are still queued.
func (q *WorkQueue) Len() int {
	return len(q.ch)
}
