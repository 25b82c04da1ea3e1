package cmd

import (
	"fmt"

	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/transform"
	"github.com/spf13/cobra"
)

// fetch commands print normalized rows without touching the warehouse. They honour
// alphavantage.error_policy, so with "empty" a failed fetch prints an empty list.
func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetches and normalizes data for one ticker and prints it as JSON",
	}
	fetchCmd.AddCommand(newFetchPricesCmd())
	fetchCmd.AddCommand(newFetchSentimentCmd())
	return fetchCmd
}

func newFetchPricesCmd() *cobra.Command {
	var month, interval string
	cmd := &cobra.Command{
		Use:   "prices <ticker>",
		Short: "Fetches the intraday price series of a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			symbol, err := transform.ValidateSymbol(args[0])
			if err != nil {
				return err
			}

			client, err := extract.NewClient(cfg, log)
			if err != nil {
				return fmt.Errorf("error creating HTTP client: %w", err)
			}

			opts := client.Intraday
			if month != "" {
				opts.Month = month
			}
			if interval != "" {
				if opts.Interval, err = extract.ParseInterval(interval); err != nil {
					return err
				}
			}

			raw, err := client.IntradaySeries(cmd.Context(), symbol, opts)
			if err != nil {
				return err
			}
			rows, err := transform.NormalizePrices(symbol, raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "historical month to fetch, formatted YYYY-MM")
	cmd.Flags().StringVar(&interval, "interval", "", "sampling interval, overrides alphavantage.intraday.interval")
	return cmd
}

func newFetchSentimentCmd() *cobra.Command {
	var timeFrom, timeTo string
	var limit int
	cmd := &cobra.Command{
		Use:   "sentiment <ticker>",
		Short: "Fetches the news sentiment mentions of a ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			symbol, err := transform.ValidateSymbol(args[0])
			if err != nil {
				return err
			}

			client, err := extract.NewClient(cfg, log)
			if err != nil {
				return fmt.Errorf("error creating HTTP client: %w", err)
			}

			opts := client.Sentiment
			if timeFrom != "" {
				opts.TimeFrom = timeFrom
			}
			if timeTo != "" {
				opts.TimeTo = timeTo
			}
			if limit > 0 {
				opts.Limit = limit
			}

			raw, err := client.NewsSentiment(cmd.Context(), symbol, opts)
			if err != nil {
				return err
			}
			records, err := transform.NormalizeSentiment(symbol, raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().StringVar(&timeFrom, "time-from", "", "start of the window, formatted YYYYMMDDTHHMM")
	cmd.Flags().StringVar(&timeTo, "time-to", "", "end of the window, formatted YYYYMMDDTHHMM")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of articles")
	return cmd
}
