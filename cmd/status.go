package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rasnes/alphavantage-warehouse/load"
	"github.com/spf13/cobra"
)

type tableStatus struct {
	Symbol        string `json:"symbol"`
	PriceRows     int64  `json:"price_rows"`
	SentimentRows int64  `json:"sentiment_rows"`
	Watermark     string `json:"watermark,omitempty"`
	LatestMention string `json:"latest_mention,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [tickers]",
		Short: "Prints the row counts and latest timestamps of each ticker's tables",
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

			wh, err := load.NewWarehouse(cmd.Context(), cfg, log)
			if err != nil {
				return fmt.Errorf("error creating DB connection: %w", err)
			}
			defer wh.Close()
			log.Info("Reading table status", "warehouse", wh.Name, "dialect", wh.Dialect, "symbols", len(symbols))

			statuses := make([]tableStatus, 0, len(symbols))
			for _, symbol := range symbols {
				status, err := symbolStatus(cmd.Context(), wh, symbol)
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}
			return printJSON(cmd.OutOrStdout(), statuses)
		},
	}
}

func symbolStatus(ctx context.Context, wh *load.Warehouse, symbol string) (tableStatus, error) {
	status := tableStatus{Symbol: symbol}

	prices, err := load.PriceTable(symbol)
	if err != nil {
		return status, err
	}
	sentiment, err := load.SentimentTable(symbol)
	if err != nil {
		return status, err
	}

	for _, t := range []struct {
		meta   load.TableMeta
		rows   *int64
		latest *string
	}{
		{prices, &status.PriceRows, &status.Watermark},
		{sentiment, &status.SentimentRows, &status.LatestMention},
	} {
		exists, err := wh.TableExists(ctx, t.meta)
		if err != nil {
			return status, err
		}
		if !exists {
			continue
		}

		query := fmt.Sprintf("SELECT count(*) AS row_count, MAX(%s) AS latest FROM %s", t.meta.SortKey, t.meta.Name)
		res, err := wh.GetQueryResults(ctx, query)
		if err != nil {
			return status, err
		}
		if len(res["row_count"]) != 1 || len(res["latest"]) != 1 {
			return status, fmt.Errorf("unexpected status result for %s: %v", t.meta.Name, res)
		}
		if *t.rows, err = strconv.ParseInt(res["row_count"][0], 10, 64); err != nil {
			return status, fmt.Errorf("error parsing row count of %s: %w", t.meta.Name, err)
		}
		*t.latest = res["latest"][0]
	}
	return status, nil
}
