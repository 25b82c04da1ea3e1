package load

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rasnes/alphavantage-warehouse/model"
	"github.com/rasnes/alphavantage-warehouse/template"
)

//go:embed sql/create_table.sql.tmpl
var createTableTemplate string

type WriteMode int

const (
	// Append inserts the rows next to the existing ones.
	Append WriteMode = iota
	// Replace deletes every existing row before inserting, in the same transaction.
	Replace
)

func (m WriteMode) String() string {
	if m == Replace {
		return "replace"
	}
	return "append"
}

// rowInserter bulk-inserts rows, ordered like meta.Columns, inside tx.
type rowInserter func(ctx context.Context, tx *sqlx.Tx, meta TableMeta, rows [][]any) error

// Warehouse runs DDL and DML against one SQL store through a single connection pool,
// opened once and released by Close.
type Warehouse struct {
	Logger  *slog.Logger
	DB      *sqlx.DB
	Dialect Dialect
	Name    string
	insert  rowInserter
	closers []func() error
}

func (w *Warehouse) Close() error {
	errs := []error{w.DB.Close()}
	for _, closer := range w.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

// CreateTableSQL renders the DDL for meta. With replace the table is dropped first.
func (w *Warehouse) CreateTableSQL(meta TableMeta, replace bool) (string, error) {
	return template.Render("create_table", createTableTemplate, map[string]any{
		"Table":   meta.Name,
		"Columns": w.Dialect.columns(meta),
		"SortKey": meta.SortKey,
		"Dialect": string(w.Dialect),
		"Replace": replace,
	})
}

// EnsureTable creates the table when missing. With replace an existing table is dropped
// and recreated empty.
func (w *Warehouse) EnsureTable(ctx context.Context, meta TableMeta, replace bool) error {
	script, err := w.CreateTableSQL(meta, replace)
	if err != nil {
		return dbError("ensure_table", meta.Name, err)
	}

	tx, err := w.DB.BeginTxx(ctx, nil)
	if err != nil {
		return dbError("ensure_table", meta.Name, err)
	}
	defer tx.Rollback()

	for _, stmt := range template.SplitStatements(script) {
		w.Logger.Debug("Executing DDL", "table", meta.Name, "query", stmt)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return dbError("ensure_table", meta.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("ensure_table", meta.Name, err)
	}
	return nil
}

func (w *Warehouse) TableExists(ctx context.Context, meta TableMeta) (bool, error) {
	var n int
	query := "SELECT count(*) FROM information_schema.tables WHERE table_name = $1 AND table_schema = current_schema()"
	if err := w.DB.GetContext(ctx, &n, query, meta.Name); err != nil {
		return false, dbError("table_exists", meta.Name, err)
	}
	return n > 0, nil
}

// MaxTimestamp returns the largest value of the table's sort key column, i.e. the watermark.
// ok is false when the table does not exist or holds no rows.
func (w *Warehouse) MaxTimestamp(ctx context.Context, meta TableMeta) (watermark time.Time, ok bool, err error) {
	exists, err := w.TableExists(ctx, meta)
	if err != nil || !exists {
		return time.Time{}, false, err
	}

	var latest sql.NullTime
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", meta.SortKey, meta.Name)
	if err := w.DB.GetContext(ctx, &latest, query); err != nil {
		return time.Time{}, false, dbError("max_timestamp", meta.Name, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

func (w *Warehouse) WritePrices(ctx context.Context, meta TableMeta, bars []model.PriceBar, mode WriteMode) (int, error) {
	rows := make([][]any, len(bars))
	for i, b := range bars {
		rows[i] = []any{b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume}
	}
	return w.write(ctx, meta, rows, mode)
}

func (w *Warehouse) WriteSentiment(ctx context.Context, meta TableMeta, records []model.SentimentRecord, mode WriteMode) (int, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.Symbol, r.PublishedAt, r.Source, r.RelevanceScore, r.Label}
	}
	return w.write(ctx, meta, rows, mode)
}

func (w *Warehouse) write(ctx context.Context, meta TableMeta, rows [][]any, mode WriteMode) (int, error) {
	op := "insert_" + mode.String()
	for _, row := range rows {
		if len(row) != len(meta.Columns) {
			return 0, dbError(op, meta.Name, fmt.Errorf("row has %d values, table has %d columns", len(row), len(meta.Columns)))
		}
	}

	tx, err := w.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, dbError(op, meta.Name, err)
	}
	defer tx.Rollback()

	if mode == Replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+meta.Name); err != nil {
			return 0, dbError(op, meta.Name, err)
		}
	}

	if len(rows) > 0 {
		if err := w.insert(ctx, tx, meta, rows); err != nil {
			return 0, dbError(op, meta.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, dbError(op, meta.Name, err)
	}

	w.Logger.Debug("Wrote rows", "table", meta.Name, "mode", mode.String(), "rows", len(rows))
	return len(rows), nil
}

// GetQueryResults executes a query and returns the results as a map of column names to slices of values.
// NULL becomes the empty string and timestamps use the naive "2006-01-02 15:04:05" layout.
func (w *Warehouse) GetQueryResults(ctx context.Context, query string) (map[string][]string, error) {
	rows, err := w.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, dbError("query", "", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := make(map[string][]string)
	for _, col := range columns {
		results[col] = []string{}
	}

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, col := range columns {
			results[col] = append(results[col], formatValue(values[i]))
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}

	return results, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
