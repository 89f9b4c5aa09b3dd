package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/esekit/ese-verify/cmd/records"
)

var errNoStagingTable = errors.New("no staging table found")

const defaultPGSchema = "public"

// PostgresSource reads exports that were staged into a PostgreSQL database,
// one staging table per exported table, named {database}_{table} like the
// file-based layout.
type PostgresSource struct {
	name      string
	schema    string
	db        *sql.DB
	logger    *slog.Logger
	connected bool
	tables    map[TableID]string
}

// NewPostgresSource creates a source over a postgres:// connection string.
// The connection is established lazily on first use.
func NewPostgresSource(name, dsn, schema string, logger *slog.Logger) (*PostgresSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres source: %w", err)
	}

	if schema == "" {
		schema = defaultPGSchema
	}
	return &PostgresSource{
		name:   name,
		schema: schema,
		db:     db,
		logger: logger,
	}, nil
}

// Name returns the source's configured name
func (s *PostgresSource) Name() string {
	return s.name
}

// ListTables discovers staging tables whose names parse as {database}_{table}
func (s *PostgresSource) ListTables(ctx context.Context) ([]TableHandle, error) {
	if !s.connected {
		if err := s.db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to postgres source: %w", err)
		}
		s.connected = true
	}

	query := `
		SELECT tablename
		FROM pg_tables
		WHERE schemaname = $1
		ORDER BY tablename
	`

	rows, err := s.db.QueryContext(ctx, query, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	s.tables = make(map[TableID]string)
	var handles []TableHandle
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}

		parts := strings.SplitN(tableName, "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			// Not a staged export; unrelated tables may share the schema.
			continue
		}

		id := TableID{Database: parts[0], Table: parts[1]}
		s.tables[id] = tableName
		// Query-backed rows have no cheap content stamp, so no fingerprint:
		// this source is always loaded in full.
		handles = append(handles, TableHandle{ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	s.logger.Debug(fmt.Sprintf("📊 Source %s: found %d staging tables in schema %s", s.name, len(handles), s.schema))
	return handles, nil
}

// LoadTable reads and normalizes every row of one staging table
func (s *PostgresSource) LoadTable(ctx context.Context, id TableID) ([]records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.tables == nil {
		if _, err := s.ListTables(ctx); err != nil {
			return nil, &records.LoadError{Source: s.name, Path: s.schema, Err: err}
		}
	}

	tableName, ok := s.tables[id]
	if !ok {
		return nil, &records.LoadError{
			Source: s.name,
			Path:   fmt.Sprintf("%s.%s_%s", s.schema, id.Database, id.Table),
			Err:    errNoStagingTable,
		}
	}
	tablePath := fmt.Sprintf("%s.%s", s.schema, tableName)

	columns, err := s.getTableColumns(ctx, tableName)
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: tablePath, Err: err}
	}

	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col.name)
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(quoted, ", "), pq.QuoteIdentifier(s.schema), pq.QuoteIdentifier(tableName))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &records.LoadError{Source: s.name, Path: tablePath, Err: err}
	}
	defer rows.Close()

	var result []records.Record
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, &records.LoadError{Source: s.name, Path: tablePath, Err: err}
		}

		fields := make(map[string]records.Value, len(columns))
		for i, col := range columns {
			fields[col.name] = normalizeSQLValue(col.udtName, values[i])
		}
		result = append(result, records.NewRecord(fields))
	}
	if err := rows.Err(); err != nil {
		return nil, &records.LoadError{Source: s.name, Path: tablePath, Err: err}
	}

	return result, nil
}

type columnInfo struct {
	name    string
	udtName string
}

func (s *PostgresSource) getTableColumns(ctx context.Context, tableName string) ([]columnInfo, error) {
	query := `
		SELECT column_name, udt_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := s.db.QueryContext(ctx, query, s.schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []columnInfo
	for rows.Next() {
		var col columnInfo
		if err := rows.Scan(&col.name, &col.udtName); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no visible columns", tableName)
	}
	return columns, nil
}

// normalizeSQLValue maps one scanned SQL value onto the value model, using
// the column's udt name to disambiguate the []byte cases.
func normalizeSQLValue(udtName string, raw interface{}) records.Value {
	switch v := raw.(type) {
	case nil:
		return records.Null()
	case bool:
		return records.Bool(v)
	case int64:
		return records.Int(v)
	case float64:
		return records.Float(v)
	case time.Time:
		return records.Text(v.UTC().Format(time.RFC3339Nano))
	case []byte:
		switch udtName {
		case "bytea":
			return records.Binary(v)
		case "numeric":
			return numericValue(string(v))
		default:
			return records.Text(string(v))
		}
	case string:
		return records.Text(v)
	default:
		return records.Text(fmt.Sprintf("%v", v))
	}
}

// numericValue keeps integral numerics on the integer side of the int/float
// distinction, matching how the file exporters serialize them.
func numericValue(literal string) records.Value {
	if !strings.ContainsAny(literal, ".eE") {
		return records.FromJSON(json.Number(literal))
	}
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return records.Text(literal)
	}
	return records.Float(f)
}

// Close closes the database connection
func (s *PostgresSource) Close() error {
	return s.db.Close()
}
