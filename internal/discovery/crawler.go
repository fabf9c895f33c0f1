// Package discovery enumerates every article title through the allpages generator and
// records each page position so an interrupted run resumes where it stopped.
package discovery

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

const operation = "discovery"

// Store persists discovery progress and discovered titles.
type Store interface {
	LatestCursor(ctx context.Context) (continuation.Cursor, error)
	SaveCursor(ctx context.Context, cur continuation.Cursor) error
	InsertTitles(ctx context.Context, titles []string) (int64, error)
}

// Upstream fetches one generator page.
type Upstream interface {
	AllPages(ctx context.Context, cursor continuation.Cursor) (*mediawiki.Response, error)
}

// Config tunes retry spacing. Failed requests are retried until they succeed or ctx ends.
type Config struct {
	RetryBase time.Duration
	RetryMax  time.Duration
}

// Stats summarizes a run.
type Stats struct {
	Pages    int
	Titles   int
	Inserted int64
	Retries  int
}

// Crawler walks the generator one page at a time. It is strictly sequential.
type Crawler struct {
	store    Store
	upstream Upstream
	policy   *retry.ExponentialPolicy
	dumper   *diagnostics.Dumper
	logger   *zap.Logger
}

// New builds a Crawler. dumper may be nil.
func New(store Store, upstream Upstream, dumper *diagnostics.Dumper, logger *zap.Logger, cfg Config) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		store:    store,
		upstream: upstream,
		policy:   retry.NewExponentialPolicy(retry.Config{BaseDelay: cfg.RetryBase, MaxDelay: cfg.RetryMax}),
		dumper:   dumper,
		logger:   logger.Named("discovery"),
	}
}

// Run resumes from the latest saved cursor and requests pages until the API stops
// returning a continuation envelope or ctx ends.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	cursor, err := c.store.LatestCursor(ctx)
	if err != nil {
		return stats, fmt.Errorf("load resume point: %w", err)
	}
	c.logger.Info("discovery starting", zap.Stringer("cursor", cursor), zap.Bool("fresh", cursor.IsZero()))

	for {
		resp, retries, err := c.fetch(ctx, cursor)
		stats.Retries += retries
		if err != nil {
			return stats, err
		}
		stats.Pages++

		if err := c.store.SaveCursor(ctx, cursor); err != nil {
			c.logger.Error("save cursor failed", zap.Stringer("cursor", cursor), zap.Error(err))
		}

		titles := resp.Titles()
		stats.Titles += len(titles)
		metrics.AddTitlesDiscovered(len(titles))
		inserted, err := c.store.InsertTitles(ctx, titles)
		if err != nil {
			c.logger.Error("insert titles failed", zap.Int("titles", len(titles)), zap.Error(err))
		}
		stats.Inserted += inserted

		if resp.Done() {
			c.logger.Info("discovery complete",
				zap.Int("pages", stats.Pages),
				zap.Int("titles", stats.Titles),
				zap.Int64("inserted", stats.Inserted),
			)
			return stats, nil
		}

		cursor = cursor.Merge(*resp.Continue)
		if stats.Pages%100 == 0 {
			c.logger.Info("discovery progress", zap.Int("pages", stats.Pages), zap.Stringer("next", cursor))
		}
	}
}

// fetch issues the request for cursor until it yields a usable response.
func (c *Crawler) fetch(ctx context.Context, cursor continuation.Cursor) (*mediawiki.Response, int, error) {
	var (
		resp    *mediawiki.Response
		retries int
	)
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		r, err := c.upstream.AllPages(ctx, cursor)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		retries++
		outcome := metrics.OutcomeError
		if errors.Is(err, mediawiki.ErrMalformedResponse) {
			outcome = metrics.OutcomeMalformed
			c.dumper.Record(ctx, operation, err)
		}
		metrics.ObserveUpstream(operation, outcome)
		c.logger.Warn("discovery request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Stringer("cursor", cursor),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, retries, fmt.Errorf("discovery request at %s: %w", cursor, err)
	}
	metrics.ObserveUpstream(operation, metrics.OutcomeSuccess)
	return resp, retries, nil
}
