package load

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rasnes/alphavantage-warehouse/config"
)

// NewWarehouse opens the warehouse selected by warehouse.driver.
func NewWarehouse(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Warehouse, error) {
	switch cfg.Warehouse.Driver {
	case config.DriverDuckDB, "":
		return NewDuckDB(cfg, logger)
	case config.DriverPostgres, config.DriverRedshift:
		return NewPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver: %s", cfg.Warehouse.Driver)
	}
}
