package driver

import (
	"context"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

type mysqlDriver struct {
	*sqlAdapter
	database string
}

func openMySQL(ctx context.Context, params ConnectParams) (Driver, error) {
	cfg := mysql.NewConfig()
	cfg.User = params.Username
	cfg.Passwd = params.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", params.Host, params.Port)
	cfg.DBName = params.Database
	cfg.Timeout = params.ConnectTimeout
	cfg.ParseTime = true
	if params.TLS {
		// Tunneled connections terminate TLS at the database itself;
		// the certificate will not match 127.0.0.1.
		cfg.TLSConfig = "skip-verify"
	}

	a, err := openSQL(ctx, ProviderMySQL, "mysql", cfg.FormatDSN(), params.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return &mysqlDriver{sqlAdapter: a, database: params.Database}, nil
}

// systemSchemas are excluded from introspection results.
const mysqlSystemSchemas = `'mysql', 'information_schema', 'performance_schema', 'sys'`

func (d *mysqlDriver) GetSchema(ctx context.Context) (*SchemaDescription, error) {
	q := `
		SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN (` + mysqlSystemSchemas + `)`
	args := []any{}
	if d.database != "" {
		q += ` AND table_schema = ?`
		args = append(args, d.database)
	}
	q += ` ORDER BY table_schema, table_name, ordinal_position`

	rows, err := d.db.QueryContext(ctx, q, args...)
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

func (d *mysqlDriver) ListTables(ctx context.Context) ([]TableInfo, error) {
	// table_rows is the storage engine's estimate, not an exact count.
	q := `
		SELECT table_schema, table_name, COALESCE(table_rows, -1)
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN (` + mysqlSystemSchemas + `)`
	args := []any{}
	if d.database != "" {
		q += ` AND table_schema = ?`
		args = append(args, d.database)
	}
	q += ` ORDER BY table_schema, table_name`

	rows, err := d.db.QueryContext(ctx, q, args...)
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
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return tables, nil
}
