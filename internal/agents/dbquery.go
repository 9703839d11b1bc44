package agents

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

// DatabaseQuery runs SQL against sqlite, postgresql, or mysql.
// Connection pools open lazily on first use and are shared by
// connection string.
type DatabaseQuery struct {
	mu    sync.Mutex
	pools map[string]*sqlx.DB
}

func NewDatabaseQuery() *DatabaseQuery {
	return &DatabaseQuery{pools: make(map[string]*sqlx.DB)}
}

func (a *DatabaseQuery) Kind() string { return "database_query" }

func driverFor(dbType string) (string, error) {
	switch dbType {
	case "sqlite":
		return "sqlite3", nil
	case "postgresql":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", apperrors.ValidationError("unsupported db_type: " + dbType)
	}
}

func (a *DatabaseQuery) pool(dbType, dsn string) (*sqlx.DB, error) {
	driver, err := driverFor(dbType)
	if err != nil {
		return nil, err
	}

	key := driver + "\x1f" + dsn
	a.mu.Lock()
	defer a.mu.Unlock()
	if db, ok := a.pools[key]; ok {
		return db, nil
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	a.pools[key] = db
	return db, nil
}

// Close releases every pool the agent opened.
func (a *DatabaseQuery) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for key, db := range a.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.pools, key)
	}
	return firstErr
}

func (a *DatabaseQuery) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()

	dbType := stringParam(inv.Config, "db_type", "sqlite")
	dsn := stringParam(inv.Config, "connection_string", "")
	if dsn == "" {
		return nil, apperrors.ValidationError("connection_string is required")
	}
	db, err := a.pool(dbType, dsn)
	if err != nil {
		return nil, err
	}

	operation := stringParam(inv.Input, "operation", "")
	sqlText := stringParam(inv.Input, "sql", "")
	params := mapParam(inv.Input, "params")

	var output map[string]interface{}
	switch operation {
	case "query":
		output, err = a.runQuery(ctx, db, sqlText, params)
	case "insert", "update", "delete", "create_table", "drop_table":
		output, err = a.runExec(ctx, db, sqlText, params)
	case "describe_table":
		output, err = a.describeTable(ctx, db, dbType, stringParam(inv.Input, "table", ""))
	case "list_tables":
		output, err = a.listTables(ctx, db, dbType)
	case "batch":
		output, err = a.runBatch(ctx, db, sliceParam(inv.Input, "queries"))
	case "export_csv":
		output, err = a.exportCSV(ctx, db, sqlText, params, mapParam(inv.Input, "parameters"))
	case "import_csv":
		output, err = a.importCSV(ctx, db, stringParam(inv.Input, "table", ""), mapParam(inv.Input, "parameters"))
	default:
		return nil, apperrors.ValidationError("unknown database operation: " + operation)
	}
	if err != nil {
		return nil, err
	}
	output["operation"] = operation

	return &Result{
		Output:   output,
		Metadata: Metadata{StartedAt: started, CompletedAt: time.Now().UTC()},
	}, nil
}

func bindNamed(db *sqlx.DB, sqlText string, params map[string]interface{}) (string, []interface{}, error) {
	if len(params) == 0 {
		return sqlText, nil, nil
	}
	query, args, err := sqlx.Named(sqlText, params)
	if err != nil {
		return "", nil, apperrors.ValidationError("failed to bind named parameters: " + err.Error())
	}
	return db.Rebind(query), args, nil
}

func (a *DatabaseQuery) runQuery(ctx context.Context, db *sqlx.DB, sqlText string, params map[string]interface{}) (map[string]interface{}, error) {
	if sqlText == "" {
		return nil, apperrors.ValidationError("sql is required")
	}
	query, args, err := bindNamed(db, sqlText, params)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, normalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"rows": result, "row_count": len(result)}, nil
}

// normalizeRow converts driver-specific values into JSON-friendly ones.
// Datetimes serialize as ISO-8601 and byte slices as strings.
func normalizeRow(row map[string]interface{}) map[string]interface{} {
	for k, v := range row {
		switch t := v.(type) {
		case time.Time:
			row[k] = t.UTC().Format(time.RFC3339)
		case []byte:
			row[k] = string(t)
		}
	}
	return row
}

func (a *DatabaseQuery) runExec(ctx context.Context, db *sqlx.DB, sqlText string, params map[string]interface{}) (map[string]interface{}, error) {
	if sqlText == "" {
		return nil, apperrors.ValidationError("sql is required")
	}
	query, args, err := bindNamed(db, sqlText, params)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	affected, _ := res.RowsAffected()
	return map[string]interface{}{"rows_affected": affected}, nil
}

// runBatch wraps all queries in a single transaction; any failure
// rolls back the whole batch.
func (a *DatabaseQuery) runBatch(ctx context.Context, db *sqlx.DB, queries []interface{}) (map[string]interface{}, error) {
	if len(queries) == 0 {
		return nil, apperrors.ValidationError("batch requires queries")
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var total int64
	for i, raw := range queries {
		var sqlText string
		var params map[string]interface{}
		switch q := raw.(type) {
		case string:
			sqlText = q
		case map[string]interface{}:
			sqlText = stringParam(q, "sql", "")
			params = mapParam(q, "params")
		}
		if sqlText == "" {
			_ = tx.Rollback()
			return nil, apperrors.ValidationError(fmt.Sprintf("batch entry %d has no sql", i))
		}

		query, args, err := bindNamed(db, sqlText, params)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("batch entry %d failed: %w", i, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return map[string]interface{}{"rows_affected": total, "statements": len(queries)}, nil
}

func (a *DatabaseQuery) listTables(ctx context.Context, db *sqlx.DB, dbType string) (map[string]interface{}, error) {
	var query string
	switch dbType {
	case "sqlite":
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	case "postgresql":
		query = `SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename`
	case "mysql":
		query = `SHOW TABLES`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return map[string]interface{}{"tables": tables}, rows.Err()
}

func (a *DatabaseQuery) describeTable(ctx context.Context, db *sqlx.DB, dbType, table string) (map[string]interface{}, error) {
	if table == "" {
		return nil, apperrors.ValidationError("describe_table requires table")
	}
	// Table names cannot be bound as parameters; restrict to identifier
	// characters instead.
	if strings.ContainsAny(table, " ;'\"`") {
		return nil, apperrors.ValidationError("invalid table name")
	}

	var query string
	var args []interface{}
	switch dbType {
	case "sqlite":
		query = fmt.Sprintf(`PRAGMA table_info(%q)`, table)
	case "postgresql":
		query = `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position`
		args = []interface{}{table}
	case "mysql":
		query = fmt.Sprintf("DESCRIBE `%s`", table)
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []map[string]interface{}
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		columns = append(columns, normalizeRow(row))
	}
	return map[string]interface{}{"table": table, "columns": columns}, rows.Err()
}

func (a *DatabaseQuery) exportCSV(ctx context.Context, db *sqlx.DB, sqlText string, params, opts map[string]interface{}) (map[string]interface{}, error) {
	path := stringParam(opts, "path", "")
	if path == "" {
		return nil, apperrors.ValidationError("export_csv requires parameters.path")
	}
	if sqlText == "" {
		return nil, apperrors.ValidationError("sql is required")
	}
	query, args, err := bindNamed(db, sqlText, params)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	count := 0
	for rows.Next() {
		row := map[string]interface{}{}
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		row = normalizeRow(row)
		rec := make([]string, len(columns))
		for i, c := range columns {
			if row[c] != nil {
				rec[i] = fmt.Sprintf("%v", row[c])
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
		count++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"path": path, "rows_exported": count}, rows.Err()
}

func (a *DatabaseQuery) importCSV(ctx context.Context, db *sqlx.DB, table string, opts map[string]interface{}) (map[string]interface{}, error) {
	path := stringParam(opts, "path", "")
	if table == "" || path == "" {
		return nil, apperrors.ValidationError("import_csv requires table and parameters.path")
	}
	if strings.ContainsAny(table, " ;'\"`") {
		return nil, apperrors.ValidationError("invalid table name")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) < 2 {
		return map[string]interface{}{"rows_imported": 0}, nil
	}
	header := records[0]

	placeholders := make([]string, len(header))
	for i, col := range header {
		placeholders[i] = ":" + col
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(header, ", "), strings.Join(placeholders, ", "))

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	count := 0
	for _, rec := range records[1:] {
		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		query, args, err := bindNamed(db, insert, row)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to import row %d: %w", count+1, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit import: %w", err)
	}
	return map[string]interface{}{"rows_imported": count, "table": table}, nil
}
