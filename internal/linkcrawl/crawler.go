package linkcrawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikipath/internal/diagnostics"
	"github.com/JakeFAU/wikipath/internal/mediawiki"
	"github.com/JakeFAU/wikipath/internal/metrics"
	"github.com/JakeFAU/wikipath/internal/policy/ratelimit"
	"github.com/JakeFAU/wikipath/internal/policy/retry"
)

// Store lists pending titles and persists link lists.
type Store interface {
	LinkStore
	PendingTitles(ctx context.Context) ([]string, error)
}

// Config tunes the pool.
type Config struct {
	Workers         int
	BatchSize       int
	RequestInterval time.Duration
	Stagger         time.Duration
	MaxRetries      int
	RetryBase       time.Duration
	RetryMax        time.Duration
	MaxRestarts     int
}

// Stats summarizes a crawl across restarts.
type Stats struct {
	Runs     int
	Pending  int
	Batches  int
	Written  int
	Failed   int
	Restarts int
}

// Crawler supervises worker pools. Each pool run starts from the store's current pending
// titles. A malformed response cancels the pool, the writer drains what was already
// delivered, and a fresh pool is started until MaxRestarts is exhausted.
type Crawler struct {
	store    Store
	upstream Upstream
	dumper   *diagnostics.Dumper
	logger   *zap.Logger
	cfg      Config
}

// New builds a Crawler. dumper may be nil.
func New(store Store, upstream Upstream, dumper *diagnostics.Dumper, logger *zap.Logger, cfg Config) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > mediawiki.MaxTitles {
		cfg.BatchSize = mediawiki.MaxTitles
	}
	return &Crawler{
		store:    store,
		upstream: upstream,
		dumper:   dumper,
		logger:   logger.Named("linkcrawl"),
		cfg:      cfg,
	}
}

// Run crawls until no run fails on a malformed response, restarts are exhausted or ctx ends.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for {
		run, err := c.runOnce(ctx)
		stats.Runs++
		stats.Batches += run.Batches
		stats.Written += run.Written
		stats.Failed += run.Failed
		if stats.Runs == 1 {
			stats.Pending = run.Pending
		}

		if err == nil {
			c.logger.Info("link crawl complete",
				zap.Int("runs", stats.Runs),
				zap.Int("written", stats.Written),
				zap.Int("failed_writes", stats.Failed),
			)
			return stats, nil
		}
		if ctx.Err() != nil {
			return stats, fmt.Errorf("link crawl interrupted: %w", ctx.Err())
		}
		if !errors.Is(err, mediawiki.ErrMalformedResponse) {
			return stats, err
		}
		if stats.Restarts >= c.cfg.MaxRestarts {
			return stats, fmt.Errorf("link crawl gave up after %d restarts: %w", stats.Restarts, err)
		}
		stats.Restarts++
		metrics.IncCrawlerRestarts()
		c.logger.Warn("restarting link crawl from stored state",
			zap.Int("restart", stats.Restarts),
			zap.Int("max_restarts", c.cfg.MaxRestarts),
			zap.Error(err),
		)
	}
}

type runStats struct {
	Pending int
	Batches int
	WriteStats
}

func (c *Crawler) runOnce(ctx context.Context) (runStats, error) {
	var stats runStats

	titles, err := c.store.PendingTitles(ctx)
	if err != nil {
		return stats, fmt.Errorf("load pending titles: %w", err)
	}
	stats.Pending = len(titles)
	if len(titles) == 0 {
		c.logger.Info("no pending titles")
		return stats, nil
	}

	batches := Partition(titles, c.cfg.BatchSize)
	stats.Batches = len(batches)
	queue := NewWorkQueue(batches)
	c.logger.Info("link crawl run starting",
		zap.Int("titles", len(titles)),
		zap.Int("batches", len(batches)),
		zap.Int("workers", c.cfg.Workers),
	)

	// Sized for every title of the run, so workers never wait on the writer.
	results := make(chan Result, len(titles))
	writer := NewWriter(c.store, c.logger.Named("writer"))
	writeDone := make(chan WriteStats, 1)
	go func() {
		writeDone <- writer.Run(ctx, results)
	}()

	pacer := ratelimit.New(ratelimit.Config{Interval: c.cfg.RequestInterval, Burst: 1})
	var policy *retry.ExponentialPolicy
	if c.cfg.MaxRetries > 0 {
		policy = retry.NewExponentialPolicy(retry.Config{
			MaxAttempts: c.cfg.MaxRetries,
			BaseDelay:   c.cfg.RetryBase,
			MaxDelay:    c.cfg.RetryMax,
		}, mediawiki.ErrMalformedResponse)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		if i > 0 {
			if err := retry.Sleep(gctx, c.cfg.Stagger); err != nil {
				break
			}
		}
		name := fmt.Sprintf("worker-%d", i)
		w := &Worker{
			name:     name,
			queue:    queue,
			upstream: c.upstream,
			pacer:    pacer,
			policy:   policy,
			results:  results,
			dumper:   c.dumper,
			logger:   c.logger.With(zap.String("worker", name)),
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	err = g.Wait()
	close(results)
	stats.WriteStats = <-writeDone

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return stats, err
}
