package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/rasnes/alphavantage-warehouse/config"
	"github.com/rasnes/alphavantage-warehouse/extract"
	"github.com/rasnes/alphavantage-warehouse/load"
	"github.com/rasnes/alphavantage-warehouse/logger"
	"github.com/rasnes/alphavantage-warehouse/pipeline"
	"github.com/rasnes/alphavantage-warehouse/transform"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "etl",
	Short:        "Loads Alpha Vantage intraday prices and news sentiment into a SQL warehouse",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newEnsureSchemaCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newScheduleCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newStatusCmd())
}

func isRunningOnGitHubActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger("info")
	if !isRunningOnGitHubActions() {
		// A missing .env is fine, the variables may come from the environment.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error("Error loading .env file", "error", err)
			return nil, nil, err
		}
	}

	// 1. Open the base configuration file
	baseConfigFile, err := os.Open("config.base.yaml")
	if err != nil {
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}
	defer baseConfigFile.Close()

	// 2. Prepare environment-specific config reader (if needed)
	env := os.Getenv("APP_ENV")
	var envConfig io.Reader
	envConfigFilename := fmt.Sprintf("config.%s.yaml", env)
	if _, err := os.Stat(envConfigFilename); env != "" && err == nil {
		envConfigFile, err := os.Open(envConfigFilename)
		if err != nil {
			log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
			return nil, nil, err
		}
		defer envConfigFile.Close()
		envConfig = envConfigFile
	}

	// 3. Create the config
	cfg, err := config.NewConfig(baseConfigFile, envConfig, env)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	return cfg, logger.NewLogger(cfg.Log.Level), nil
}

// resolveTickers reads the comma separated tickers argument, falling back to the configured list.
func resolveTickers(args []string, cfg *config.Config) ([]string, error) {
	lists := cfg.Tickers
	if len(args) > 0 {
		lists = args[:1]
	}
	symbols, err := transform.ParseSymbols(lists...)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, errors.New("no tickers given and none configured")
	}
	return symbols, nil
}

// openPipeline connects to the warehouse and builds a pipeline whose client always
// propagates fetch errors. The caller closes the returned warehouse.
func openPipeline(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pipeline.Pipeline, *load.Warehouse, error) {
	client, err := extract.NewClient(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating HTTP client: %w", err)
	}
	client = client.WithErrorPolicy(config.ErrorPolicyPropagate)

	wh, err := load.NewWarehouse(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating DB connection: %w", err)
	}
	log.Info("Opened warehouse", "warehouse", wh.Name, "dialect", wh.Dialect)

	return pipeline.New(wh, client, client.Intraday, client.Sentiment, log), wh, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
