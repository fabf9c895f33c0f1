package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/wikipath/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Loads the link graph and serves path and search queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv, err := server.New(cmd.Context(), a.Store(), a.Searcher(), a.Config().Server, a.Logger())
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
