package driver

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"
)

// sqlAdapter holds the behavior shared by all database/sql backed
// adapters: statement execution, value normalization, and close.
type sqlAdapter struct {
	provider Provider
	db       *sql.DB
}

// openSQL opens and verifies a database/sql connection. The pool is
// pinned to a single connection since every Driver lives for exactly
// one logical operation.
func openSQL(ctx context.Context, provider Provider, driverName, dsn string, timeout time.Duration) (*sqlAdapter, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &ConnectError{Provider: provider, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &ConnectError{Provider: provider, Err: err}
	}
	return &sqlAdapter{provider: provider, db: db}, nil
}

func (a *sqlAdapter) Close() {
	if err := a.db.Close(); err != nil {
		log.Printf("[driver] %s close: %v", a.provider, err)
	}
}

// RunQuery executes one statement. Row-returning statements are read
// through Query; everything else goes through Exec so the affected-row
// count can be reported. The statement text is passed to the engine
// unmodified.
func (a *sqlAdapter) RunQuery(ctx context.Context, query string) (*QueryResult, error) {
	start := time.Now()

	if !returnsRows(query) {
		res, err := a.db.ExecContext(ctx, query)
		if err != nil {
			return nil, &QueryError{Err: err}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		return &QueryResult{
			Columns:   []string{},
			Rows:      [][]any{},
			Meta:      QueryMeta{Affected: affected},
			ElapsedMS: time.Since(start).Milliseconds(),
		}, nil
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	out := [][]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{Err: err}
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}

	return &QueryResult{
		Columns:   cols,
		Rows:      out,
		Meta:      QueryMeta{Affected: 0},
		ElapsedMS: time.Since(start).Milliseconds(),
	}, nil
}

// returnsRows classifies a statement by its first keyword. DDL/DML runs
// through Exec instead so RowsAffected is available.
func returnsRows(query string) bool {
	q := strings.TrimSpace(query)
	// Strip leading line comments
	for strings.HasPrefix(q, "--") {
		if i := strings.IndexByte(q, '\n'); i >= 0 {
			q = strings.TrimSpace(q[i+1:])
		} else {
			return false
		}
	}
	i := strings.IndexFunc(q, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	word := q
	if i > 0 {
		word = q[:i]
	}
	switch strings.ToLower(word) {
	case "select", "with", "show", "explain", "describe", "desc", "pragma", "values", "table":
		return true
	}
	return false
}

// normalizeValue maps engine-native scan values onto transport-neutral
// ones so results serialize identically across providers.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return v
	}
}
