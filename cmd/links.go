package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/config"
	"github.com/JakeFAU/wikipath/internal/linkcrawl"
)

func newLinksCmd() *cobra.Command {
	var (
		workers   int
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Fetches outgoing links for every article that has none yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			if cmd.Flags().Changed("workers") {
				cfg.Links.Workers = workers
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Links.BatchSize = batchSize
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.StartMetrics()

			crawler := linkcrawl.New(a.Store(), a.Upstream(), a.Dumper(), a.Logger(), linkCrawlConfig(cfg))
			stats, err := crawler.Run(cmd.Context())
			a.Logger().Info("links finished",
				zap.Int("runs", stats.Runs),
				zap.Int("pending", stats.Pending),
				zap.Int("batches", stats.Batches),
				zap.Int("written", stats.Written),
				zap.Int("failed_writes", stats.Failed),
				zap.Int("restarts", stats.Restarts),
			)
			if err != nil && !interrupted(err) {
				return fmt.Errorf("run link crawl: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers (overrides links.workers)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "titles per request, 1-10 (overrides links.batch_size)")
	return cmd
}

func linkCrawlConfig(cfg config.Config) linkcrawl.Config {
	return linkcrawl.Config{
		Workers:         cfg.Links.Workers,
		BatchSize:       cfg.Links.BatchSize,
		RequestInterval: cfg.RequestInterval(),
		Stagger:         cfg.Stagger(),
		MaxRetries:      cfg.Links.MaxRetries,
		RetryBase:       millis(cfg.Links.RetryBaseMs),
		RetryMax:        millis(cfg.Links.RetryMaxMs),
		MaxRestarts:     cfg.Links.MaxRestarts,
	}
}
