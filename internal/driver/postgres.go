package driver

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

type postgresDriver struct {
	*sqlAdapter
}

func openPostgres(ctx context.Context, params ConnectParams) (Driver, error) {
	sslMode := "disable"
	if params.TLS {
		sslMode = "require"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(params.Username, params.Password),
		Host:   fmt.Sprintf("%s:%d", params.Host, params.Port),
		Path:   "/" + params.Database,
	}
	q := u.Query()
	q.Set("sslmode", sslMode)
	if params.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(params.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	a, err := openSQL(ctx, ProviderPostgres, "pgx", u.String(), params.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return &postgresDriver{sqlAdapter: a}, nil
}

func (d *postgresDriver) GetSchema(ctx context.Context) (*SchemaDescription, error) {
	const q = `
		SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, ordinal_position`

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	tables := []TableInfo{}
	for rows.Next() {
		var schema, table, column, dataType, nullable string
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return nil, &QueryError{Err: err}
		}
		tables = appendColumn(tables, schema, table, ColumnInfo{
			Name:     column,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return &SchemaDescription{Tables: tables}, nil
}

func (d *postgresDriver) ListTables(ctx context.Context) ([]TableInfo, error) {
	// reltuples is the planner's estimate; never a table scan. It is -1
	// on tables that have not been analyzed yet.
	const q = `
		SELECT n.nspname, c.relname, c.reltuples::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p')
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY n.nspname, c.relname`

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	tables := []TableInfo{}
	for rows.Next() {
		var t TableInfo
		if err := rows.Scan(&t.Schema, &t.Name, &t.RowEstimate); err != nil {
			return nil, &QueryError{Err: err}
		}
		if t.RowEstimate < 0 {
			t.RowEstimate = -1
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return tables, nil
}

// appendColumn attaches a column to the table it belongs to, creating
// the table entry on first sight. Input arrives ordered by schema,
// table, ordinal position, so appending preserves the contract order.
func appendColumn(tables []TableInfo, schema, table string, col ColumnInfo) []TableInfo {
	n := len(tables)
	if n > 0 && tables[n-1].Schema == schema && tables[n-1].Name == table {
		tables[n-1].Columns = append(tables[n-1].Columns, col)
		return tables
	}
	return append(tables, TableInfo{
		Schema:      schema,
		Name:        table,
		RowEstimate: -1,
		Columns:     []ColumnInfo{col},
	})
}
