package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikipath/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Enumerates article titles, resuming from the last saved page",
		Long: `Walks the allpages generator one page at a time. Every page's continuation
tokens are saved before its titles are inserted, so an interrupted run picks up
at the last page it requested.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			a.StartMetrics()

			crawler := discovery.New(a.Store(), a.Upstream(), a.Dumper(), a.Logger(), discovery.Config{
				RetryBase: millis(cfg.Discovery.RetryBaseMs),
				RetryMax:  millis(cfg.Discovery.RetryMaxMs),
			})
			stats, err := crawler.Run(cmd.Context())
			a.Logger().Info("discover finished",
				zap.Int("pages", stats.Pages),
				zap.Int("titles", stats.Titles),
				zap.Int64("inserted", stats.Inserted),
				zap.Int("retries", stats.Retries),
			)
			if err != nil && !interrupted(err) {
				return fmt.Errorf("run discovery: %w", err)
			}
			return nil
		},
	}
}
