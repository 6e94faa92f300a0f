package resource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

const memoryPath = ":memory:"

// ErrDatabaseMissing is returned when the DuckDB file has not been created yet,
// which usually means the extraction job has never run.
var ErrDatabaseMissing = errors.New("duckdb database does not exist")

// Table describes one table in the raw dataset.
type Table struct {
	Schema string
	Name   string
	Rows   int64
}

// TableLister lists the tables of a schema with their row counts.
type TableLister interface {
	ListTables(ctx context.Context, schema string) ([]Table, error)
}

// DuckDB is the handle on the embedded analytical database. Connections are
// opened per use so that external loaders are never blocked by a lock held
// by this process.
type DuckDB struct {
	Path     string
	Settings map[string]string
	logger   *slog.Logger
}

var _ TableLister = (*DuckDB)(nil)

// NewDuckDB creates a DuckDB resource. Settings are passed as DSN options
// (e.g. threads, memory_limit).
func NewDuckDB(path string, settings map[string]string, logger *slog.Logger) *DuckDB {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDB{Path: path, Settings: settings, logger: logger}
}

func (d *DuckDB) inMemory() bool {
	return d.Path == "" || d.Path == memoryPath
}

// DSN builds the driver connection string.
func (d *DuckDB) DSN(readOnly bool) string {
	path := d.Path
	if d.inMemory() {
		path = ""
	}

	opts := url.Values{}
	for k, v := range d.Settings {
		opts.Set(k, v)
	}
	if readOnly && !d.inMemory() {
		opts.Set("access_mode", "READ_ONLY")
	}
	if len(opts) == 0 {
		return path
	}
	return path + "?" + opts.Encode()
}

// Connect opens a connection pool. The caller must close it.
func (d *DuckDB) Connect(ctx context.Context, readOnly bool) (*sql.DB, error) {
	if readOnly && !d.inMemory() {
		if _, err := os.Stat(d.Path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, d.Path)
		}
	}

	d.logger.Debug("opening duckdb", slog.String("path", d.Path), slog.Bool("read_only", readOnly))
	db, err := sql.Open("duckdb", d.DSN(readOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	return db, nil
}

// ListTables returns the tables of schema with their row counts.
func (d *DuckDB) ListTables(ctx context.Context, schema string) ([]Table, error) {
	db, err := d.Connect(ctx, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	return ListTables(ctx, db, schema)
}

// ListTables lists the base tables of schema on an open connection, sorted
// by name, and counts their rows.
func ListTables(ctx context.Context, db *sql.DB, schema string) ([]Table, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", schema, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	for rows.Next() {
		t := Table{Schema: schema}
		if err := rows.Scan(&t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	for i := range tables {
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(schema), quoteIdent(tables[i].Name)) //nolint:gosec // identifiers are quoted
		if err := db.QueryRowContext(ctx, q).Scan(&tables[i].Rows); err != nil {
			return nil, fmt.Errorf("failed to count rows in %s.%s: %w", schema, tables[i].Name, err)
		}
	}
	return tables, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
