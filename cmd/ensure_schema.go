package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnsureSchemaCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "ensure-schema [tickers]",
		Short: "Creates the price and sentiment tables of each ticker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			symbols, err := resolveTickers(args, cfg)
			if err != nil {
				return err
			}

			p, wh, err := openPipeline(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer wh.Close()

			if err := p.EnsureSchema(cmd.Context(), symbols, replace); err != nil {
				return fmt.Errorf("error ensuring schema: %w", err)
			}
			log.Info(fmt.Sprintf("Ensured tables for %d tickers", len(symbols)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "drop and recreate existing tables")
	return cmd
}
