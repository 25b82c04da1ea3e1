package load

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rasnes/alphavantage-warehouse/config"
	"github.com/rasnes/alphavantage-warehouse/utils"
)

const PasswordEnv = "WAREHOUSE_PASSWORD"

// PostgresDSN builds a lib/pq connection URL. The schema, when set, becomes the
// session search_path so unqualified table names resolve inside it.
func PostgresDSN(cfg config.PostgresConfig, password string) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	query := url.Values{}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	query.Set("sslmode", sslMode)
	if cfg.Schema != "" {
		query.Set("options", "-c search_path="+cfg.Schema)
	}
	for k, v := range cfg.Params {
		query.Set(k, v)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// NewPostgres connects to a PostgreSQL or Redshift warehouse using lib/pq.
// The password is read from WAREHOUSE_PASSWORD.
func NewPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Warehouse, error) {
	dialect := Dialect(cfg.Warehouse.Driver)
	if dialect != DialectPostgres && dialect != DialectRedshift {
		return nil, fmt.Errorf("driver %q is not served by lib/pq", cfg.Warehouse.Driver)
	}

	pgCfg := cfg.Warehouse.Postgres
	db, err := sqlx.ConnectContext(ctx, "postgres", PostgresDSN(pgCfg, os.Getenv(PasswordEnv)))
	if err != nil {
		return nil, dbError("connect", "", err)
	}
	logger.Info(fmt.Sprintf("Connected to %s database %s at %s", dialect, pgCfg.Database, pgCfg.Host), "schema", pgCfg.Schema)

	wh := NewSQLWarehouse(db, dialect, cfg.Warehouse.InsertBatchSize, logger)
	wh.Name = pgCfg.Database + "@" + pgCfg.Host
	return wh, nil
}

// NewSQLWarehouse wraps an open connection pool that speaks PostgreSQL-compatible SQL.
// Rows are inserted with multi-row VALUES statements of at most batchSize rows.
func NewSQLWarehouse(db *sqlx.DB, dialect Dialect, batchSize int, logger *slog.Logger) *Warehouse {
	return &Warehouse{
		Logger:  logger,
		DB:      db,
		Dialect: dialect,
		Name:    string(dialect),
		insert:  valuesInserter(dialect, batchSize),
	}
}

func valuesInserter(dialect Dialect, batchSize int) rowInserter {
	return func(ctx context.Context, tx *sqlx.Tx, meta TableMeta, rows [][]any) error {
		for _, batch := range utils.Chunk(rows, rowsPerStatement(meta, batchSize)) {
			query, args := insertValuesSQL(dialect, meta, batch)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	}
}

// rowsPerStatement caps batchSize so a statement never binds more than config.MaxBindParameters values.
func rowsPerStatement(meta TableMeta, batchSize int) int {
	return max(1, min(batchSize, config.MaxBindParameters/len(meta.Columns)))
}

func insertValuesSQL(dialect Dialect, meta TableMeta, rows [][]any) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", meta.Name, strings.Join(meta.ColumnNames(), ", "))

	args := make([]any, 0, len(rows)*len(meta.Columns))
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, v)
			sb.WriteString(dialect.placeholder(len(args)))
		}
		sb.WriteString(")")
	}
	return sb.String(), args
}
