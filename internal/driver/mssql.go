package driver

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" database/sql driver
)

type mssqlDriver struct {
	*sqlAdapter
}

func openMSSQL(ctx context.Context, params ConnectParams) (Driver, error) {
	encrypt := "disable"
	if params.TLS {
		encrypt = "true"
	}
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(params.Username, params.Password),
		Host:   fmt.Sprintf("%s:%d", params.Host, params.Port),
	}
	q := u.Query()
	q.Set("database", params.Database)
	q.Set("encrypt", encrypt)
	q.Set("TrustServerCertificate", "true")
	if params.ConnectTimeout > 0 {
		q.Set("dial timeout", fmt.Sprintf("%d", int(params.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	a, err := openSQL(ctx, ProviderMSSQL, "sqlserver", u.String(), params.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return &mssqlDriver{sqlAdapter: a}, nil
}

func (d *mssqlDriver) GetSchema(ctx context.Context) (*SchemaDescription, error) {
	const q = `
		SELECT s.name, t.name, c.name, ty.name, c.is_nullable
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.columns c ON c.object_id = t.object_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		ORDER BY s.name, t.name, c.column_id`

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	tables := []TableInfo{}
	for rows.Next() {
		var schema, table, column, dataType string
		var nullable bool
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return nil, &QueryError{Err: err}
		}
		tables = appendColumn(tables, schema, table, ColumnInfo{
			Name:     column,
			DataType: dataType,
			Nullable: nullable,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return &SchemaDescription{Tables: tables}, nil
}

func (d *mssqlDriver) ListTables(ctx context.Context) ([]TableInfo, error) {
	// Partition row counts come from catalog metadata, not a scan.
	const q = `
		SELECT s.name, t.name, SUM(p.rows)
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.partitions p ON p.object_id = t.object_id AND p.index_id IN (0, 1)
		GROUP BY s.name, t.name
		ORDER BY s.name, t.name`

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
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return tables, nil
}
