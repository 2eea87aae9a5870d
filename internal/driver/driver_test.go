package driver

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newFixtureDB creates a sqlite file to open through the adapter. The
// adapter itself opens in rw mode and will not create files, so the
// fixture is prepared with the raw driver.
func newFixtureDB(t *testing.T, schema ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Fatalf("create fixture file: %v", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("prepare fixture: %v", err)
		}
	}
	return path
}

func openFixture(t *testing.T, path string) Driver {
	t.Helper()
	d, err := Open(context.Background(), ProviderSQLite, ConnectParams{Database: path})
	if err != nil {
		t.Fatalf("open driver: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestOpenUnknownProvider(t *testing.T) {
	_, err := Open(context.Background(), Provider("oracle"), ConnectParams{})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestOpenMissingFileIsConnectError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.db")
	_, err := Open(context.Background(), ProviderSQLite, ConnectParams{Database: path})
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
	if ce.Provider != ProviderSQLite {
		t.Errorf("provider = %q", ce.Provider)
	}
}

func TestOpenEmptyPathIsConnectError(t *testing.T) {
	_, err := Open(context.Background(), ProviderSQLite, ConnectParams{})
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
}

func TestRunQueryExecAndSelect(t *testing.T) {
	path := newFixtureDB(t)
	d := openFixture(t, path)
	ctx := context.Background()

	res, err := d.RunQuery(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(res.Rows) != 0 || len(res.Columns) != 0 {
		t.Errorf("create returned rows: %+v", res)
	}

	res, err = d.RunQuery(ctx, `INSERT INTO users (name) VALUES ('ada'), ('brin'), ('curie')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.Meta.Affected != 3 {
		t.Errorf("affected = %d, want 3", res.Meta.Affected)
	}

	res, err = d.RunQuery(ctx, `SELECT id, name FROM users ORDER BY id`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Columns) != 2 || res.Columns[0] != "id" || res.Columns[1] != "name" {
		t.Errorf("columns = %v", res.Columns)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(res.Rows))
	}
	if name, ok := res.Rows[0][1].(string); !ok || name != "ada" {
		t.Errorf("row[0][1] = %#v, want \"ada\"", res.Rows[0][1])
	}

	res, err = d.RunQuery(ctx, `UPDATE users SET name = 'lovelace' WHERE name = 'ada'`)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Meta.Affected != 1 {
		t.Errorf("affected = %d, want 1", res.Meta.Affected)
	}
}

func TestRunQueryEmptyResultSet(t *testing.T) {
	path := newFixtureDB(t, `CREATE TABLE empty_t (id INTEGER)`)
	d := openFixture(t, path)

	res, err := d.RunQuery(context.Background(), `SELECT id FROM empty_t`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if res.Rows == nil {
		t.Errorf("rows is nil, want empty slice")
	}
	if len(res.Rows) != 0 {
		t.Errorf("rows = %d, want 0", len(res.Rows))
	}
	if len(res.Columns) != 1 {
		t.Errorf("columns = %v", res.Columns)
	}
}

func TestRunQueryPassesEngineErrorVerbatim(t *testing.T) {
	path := newFixtureDB(t)
	d := openFixture(t, path)

	_, err := d.RunQuery(context.Background(), `SELEC 1`)
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want *QueryError", err)
	}
	if !strings.Contains(err.Error(), "syntax error") {
		t.Errorf("message %q does not carry the engine's syntax error", err.Error())
	}
}

func TestListTablesSortedAndIdempotent(t *testing.T) {
	path := newFixtureDB(t,
		`CREATE TABLE zoo (id INTEGER)`,
		`CREATE TABLE apples (id INTEGER)`,
		`CREATE TABLE middle (id INTEGER)`,
	)
	d := openFixture(t, path)
	ctx := context.Background()

	first, err := d.ListTables(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"apples", "middle", "zoo"}
	if len(first) != len(want) {
		t.Fatalf("tables = %d, want %d", len(first), len(want))
	}
	for i, ti := range first {
		if ti.Name != want[i] {
			t.Errorf("tables[%d] = %q, want %q", i, ti.Name, want[i])
		}
		if ti.Schema != "main" {
			t.Errorf("tables[%d].Schema = %q", i, ti.Schema)
		}
		if ti.RowEstimate != -1 {
			t.Errorf("tables[%d].RowEstimate = %d, want -1", i, ti.RowEstimate)
		}
	}

	second, err := d.ListTables(ctx)
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	for i := range first {
		if first[i].Name != second[i].Name || first[i].Schema != second[i].Schema ||
			first[i].RowEstimate != second[i].RowEstimate {
			t.Errorf("list not stable at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestGetSchemaColumns(t *testing.T) {
	path := newFixtureDB(t,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL, pinned BOOLEAN)`,
	)
	d := openFixture(t, path)

	schema, err := d.GetSchema(context.Background())
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if len(schema.Tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(schema.Tables))
	}
	tbl := schema.Tables[0]
	if tbl.Name != "notes" {
		t.Errorf("name = %q", tbl.Name)
	}
	if len(tbl.Columns) != 3 {
		t.Fatalf("columns = %d, want 3", len(tbl.Columns))
	}
	body := tbl.Columns[1]
	if body.Name != "body" || body.DataType != "TEXT" || body.Nullable {
		t.Errorf("body column = %+v", body)
	}
	if pinned := tbl.Columns[2]; !pinned.Nullable {
		t.Errorf("pinned should be nullable: %+v", pinned)
	}
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"EXPLAIN SELECT 1", true},
		{"PRAGMA table_info(t)", true},
		{"VALUES (1)", true},
		{"-- leading comment\nSELECT 1", true},
		{"select(1)", true},
		{"INSERT INTO t VALUES (1)", false},
		{"UPDATE t SET a = 1", false},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (id INTEGER)", false},
		{"DROP TABLE t", false},
		{"-- only a comment", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := returnsRows(tt.query); got != tt.want {
			t.Errorf("returnsRows(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestNormalizeValue(t *testing.T) {
	if got := normalizeValue([]byte("hello")); got != "hello" {
		t.Errorf("bytes: got %#v", got)
	}
	if got := normalizeValue(nil); got != nil {
		t.Errorf("nil: got %#v", got)
	}
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)
	if got := normalizeValue(ts); got != "2025-03-14T09:26:53.589Z" {
		t.Errorf("time: got %#v", got)
	}
	if got := normalizeValue(int64(42)); got != int64(42) {
		t.Errorf("int64: got %#v", got)
	}
}
