package linkcrawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/continuation"
	"github.com/JakeFAU/wikipath/internal/diagnostics"
	"github.com/JakeFAU/wikipath/internal/mediawiki"
	"github.com/JakeFAU/wikipath/internal/metrics"
	"github.com/JakeFAU/wikipath/internal/policy/retry"
)

const operation = "links"

// Upstream fetches one page of outgoing links for a batch of titles.
type Upstream interface {
	Links(ctx context.Context, titles []string, cursor continuation.Cursor) (*mediawiki.Response, error)
}

// Pacer blocks until key may issue its next request. Forget releases key's state.
type Pacer interface {
	Wait(ctx context.Context, key string) error
	Forget(key string)
}

// Result is the complete link list of one title.
type Result struct {
	Title string
	Links []string
}

// Worker takes batches off the queue, follows each batch's continuation to the end and
// hands the collected links to the writer.
type Worker struct {
	name     string
	queue    *WorkQueue
	upstream Upstream
	pacer    Pacer
	policy   *retry.ExponentialPolicy
	results  chan<- Result
	dumper   *diagnostics.Dumper
	logger   *zap.Logger
}

// Run processes batches until the queue is drained. A malformed response ends the run with
// an error matching mediawiki.ErrMalformedResponse. A batch whose transport retries are
// exhausted is skipped and its titles stay pending.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer w.pacer.Forget(w.name)

	for {
		batch, err := w.queue.Dequeue(ctx)
		if errors.Is(err, ErrQueueDrained) {
			w.logger.Debug("queue drained, worker exiting")
			return nil
		}
		if err != nil {
			return err
		}

		results, err := w.crawlBatch(ctx, batch)
		switch {
		case err == nil:
		case errors.Is(err, mediawiki.ErrMalformedResponse):
			metrics.ObserveBatch(metrics.OutcomeMalformed)
			w.dumper.Record(ctx, operation, err)
			w.logger.Error("malformed links response, abandoning run",
				zap.Int("batch", batch.Seq),
				zap.Strings("titles", batch.Titles),
				zap.Error(err),
			)
			return fmt.Errorf("%s batch %d: %w", w.name, batch.Seq, err)
		case ctx.Err() != nil:
			return fmt.Errorf("%s batch %d: %w", w.name, batch.Seq, ctx.Err())
		default:
			metrics.ObserveBatch(metrics.OutcomeError)
			w.logger.Warn("batch failed, titles stay pending",
				zap.Int("batch", batch.Seq),
				zap.Strings("titles", batch.Titles),
				zap.Error(err),
			)
			continue
		}

		for _, r := range results {
			w.results <- r
		}
		metrics.ObserveBatch(metrics.OutcomeSuccess)
		w.logger.Debug("batch complete", zap.Int("batch", batch.Seq), zap.Int("titles", len(results)))
	}
}

// crawlBatch returns every title's full link list in the order titles first appeared.
func (w *Worker) crawlBatch(ctx context.Context, batch Batch) ([]Result, error) {
	var (
		cursor    continuation.Cursor
		order     []string
		collected = make(map[string][]string, len(batch.Titles))
	)
	for {
		resp, err := w.fetch(ctx, batch.Titles, cursor)
		if err != nil {
			return nil, err
		}
		if !resp.HasQuery() {
			break
		}
		for _, page := range resp.Pages() {
			links, seen := collected[page.Title]
			if !seen {
				order = append(order, page.Title)
				links = []string{}
			}
			collected[page.Title] = append(links, page.LinkTitles()...)
		}
		if resp.Done() {
			break
		}
		cursor = *resp.Continue
	}

	results := make([]Result, 0, len(order))
	for _, title := range order {
		results = append(results, Result{Title: title, Links: collected[title]})
	}
	return results, nil
}

func (w *Worker) fetch(ctx context.Context, titles []string, cursor continuation.Cursor) (*mediawiki.Response, error) {
	var resp *mediawiki.Response
	call := func(ctx context.Context) error {
		if err := w.pacer.Wait(ctx, w.name); err != nil {
			return err
		}
		r, err := w.upstream.Links(ctx, titles, cursor)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	var err error
	if w.policy == nil {
		err = call(ctx)
	} else {
		err = w.policy.Do(ctx, call, func(err error, attempt int, wait time.Duration) {
			metrics.ObserveUpstream(operation, metrics.OutcomeError)
			w.logger.Warn("links request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		})
	}
	if err != nil {
		if errors.Is(err, mediawiki.ErrMalformedResponse) {
			metrics.ObserveUpstream(operation, metrics.OutcomeMalformed)
		}
		return nil, err
	}
	metrics.ObserveUpstream(operation, metrics.OutcomeSuccess)
	return resp, nil
}
