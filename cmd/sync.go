package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [tickers]",
		Short: "Appends new intraday prices and the latest news sentiment for each ticker",
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

			summary := p.Sync(cmd.Context(), symbols)
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}

			if failed := len(symbols) - len(summary); failed > 0 {
				return fmt.Errorf("%d of %d tickers failed, see the log for details", failed, len(symbols))
			}
			log.Info(fmt.Sprintf("Sync completed without errors. Wrote %d rows", summary.Total()))
			return nil
		},
	}
}
