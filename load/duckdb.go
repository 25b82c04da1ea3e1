package load

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/marcboeker/go-duckdb"
	"github.com/rasnes/alphavantage-warehouse/config"
	"github.com/rasnes/alphavantage-warehouse/template"
)

//go:embed sql/insert_csv.sql.tmpl
var insertCSVTemplate string

// NewDuckDB opens a DuckDB warehouse. The path may be a local file, ":memory:" (or empty)
// for an in-memory database, or an "md:" MotherDuck database, which needs MOTHERDUCK_TOKEN.
func NewDuckDB(cfg *config.Config, logger *slog.Logger) (*Warehouse, error) {
	var path string
	var dbType string
	duckCfg := cfg.Warehouse.DuckDB
	if strings.HasPrefix(duckCfg.Path, "md:") {
		motherduckToken := os.Getenv("MOTHERDUCK_TOKEN")
		if motherduckToken == "" {
			return nil, fmt.Errorf("MOTHERDUCK_TOKEN env variable is not set")
		}
		path = fmt.Sprintf("%s?motherduck_token=%s", duckCfg.Path, motherduckToken)
		dbType = ":md:"
	} else if duckCfg.Path == "" || duckCfg.Path == ":memory:" {
		path = ""
		dbType = ":memory:"
	} else {
		path = duckCfg.Path
		dbType = path
	}

	var connInitFn func(driver.ExecerContext) error
	if len(duckCfg.ConnInitFnQueries) > 0 {
		connInitFn = func(exec driver.ExecerContext) error {
			for _, path := range duckCfg.ConnInitFnQueries {
				query, err := template.ReadSqlTemplate(path)
				if err != nil {
					return err
				}
				if _, err := exec.ExecContext(context.Background(), query, nil); err != nil {
					return fmt.Errorf("failed to execute query from file %s: %w", path, err)
				}
			}
			return nil
		}
		logger.Debug(fmt.Sprintf("Connection initialization queries: %v", duckCfg.ConnInitFnQueries))
	}

	connector, err := duckdb.NewConnector(path, connInitFn)
	if err != nil {
		return nil, dbError("connect", "", err)
	}

	db := sqlx.NewDb(sql.OpenDB(connector), "duckdb")

	switch dbType {
	case ":memory:":
		logger.Info("Connected to DuckDB in-memory database")
	case ":md:":
		logger.Info("Connected to MotherDuck database")
	default:
		logger.Info(fmt.Sprintf("Connected to local DuckDB database at %s", dbType))
	}

	return &Warehouse{
		Logger:  logger,
		DB:      db,
		Dialect: DialectDuckDB,
		Name:    dbType,
		insert:  insertViaCSV,
		closers: []func() error{connector.Close},
	}, nil
}

// insertViaCSV stages the rows in a temporary CSV file and loads it with read_csv.
func insertViaCSV(ctx context.Context, tx *sqlx.Tx, meta TableMeta, rows [][]any) error {
	csv, err := EncodeCSV(meta.ColumnNames(), rows)
	if err != nil {
		return err
	}

	tmpFile, err := createTmpFile(csv)
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile.Name())

	// Empty strings stay empty instead of being read back as NULL.
	var notNull []string
	for _, c := range meta.Columns {
		if c.Type == TypeString {
			notNull = append(notNull, c.Name)
		}
	}

	query, err := template.Render("insert_csv", insertCSVTemplate, map[string]any{
		"Table":   meta.Name,
		"Columns": DialectDuckDB.columns(meta),
		"NotNull": notNull,
		"CsvFile": strings.ReplaceAll(tmpFile.Name(), "'", "''"),
	})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to load %s from CSV: %w", meta.Name, err)
	}
	return nil
}
