package driver

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
)

// sqliteDriver serves local database files. ConnectParams.Database is
// the file path; host, port, TLS and tunnel settings do not apply.
type sqliteDriver struct {
	*sqlAdapter
}

func openSQLite(ctx context.Context, params ConnectParams) (Driver, error) {
	if params.Database == "" {
		return nil, &ConnectError{Provider: ProviderSQLite, Err: fmt.Errorf("no database file path")}
	}
	dsn := fmt.Sprintf("file:%s?mode=rw", params.Database)
	a, err := openSQL(ctx, ProviderSQLite, "sqlite3", dsn, params.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	return &sqliteDriver{sqlAdapter: a}, nil
}

func (d *sqliteDriver) GetSchema(ctx context.Context) (*SchemaDescription, error) {
	names, err := d.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := []TableInfo{}
	for _, name := range names {
		// PRAGMA arguments cannot be bound; quote the identifier.
		q := fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name))
		rows, err := d.db.QueryContext(ctx, q)
		if err != nil {
			return nil, &QueryError{Err: err}
		}

		t := TableInfo{Schema: "main", Name: name, RowEstimate: -1}
		for rows.Next() {
			var cid int
			var colName, colType string
			var notNull int
			var dflt any
			var pk int
			if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				rows.Close()
				return nil, &QueryError{Err: err}
			}
			t.Columns = append(t.Columns, ColumnInfo{
				Name:     colName,
				DataType: colType,
				Nullable: notNull == 0,
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, &QueryError{Err: err}
		}
		rows.Close()
		tables = append(tables, t)
	}
	return &SchemaDescription{Tables: tables}, nil
}

func (d *sqliteDriver) ListTables(ctx context.Context) ([]TableInfo, error) {
	names, err := d.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		// SQLite keeps no row-count estimate in its catalog.
		tables = append(tables, TableInfo{Schema: "main", Name: name, RowEstimate: -1})
	}
	return tables, nil
}

func (d *sqliteDriver) tableNames(ctx context.Context) ([]string, error) {
	const q = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &QueryError{Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Err: err}
	}
	return names, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
