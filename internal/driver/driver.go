// Package driver provides a uniform capability interface over
// heterogeneous database engines. One adapter per supported provider
// knows how to connect, enumerate schema and tables, execute a query,
// and disconnect. Provider selection is a pure map from the provider
// enum to an adapter constructor; adding an engine means adding one
// adapter and one registry entry.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider identifies a supported database engine.
type Provider string

const (
	ProviderPostgres Provider = "postgres"
	ProviderMySQL    Provider = "mysql"
	ProviderMSSQL    Provider = "mssql"
	ProviderSQLite   Provider = "sqlite"
)

// ErrUnknownProvider is returned by Open for an unregistered provider.
var ErrUnknownProvider = errors.New("driver: unknown provider")

// ConnectError indicates the engine was unreachable, rejected
// authentication, or failed TLS negotiation. It wraps the
// provider-specific cause.
type ConnectError struct {
	Provider Provider
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s connect failed: %v", e.Provider, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }

// QueryError carries the engine's native error message verbatim; that
// message is the caller's primary debugging signal and is never
// rewritten.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// ConnectParams point an adapter at its effective endpoint: either the
// real host or 127.0.0.1 with a tunnel's local port. Password arrives
// already decrypted. For SQLite, Database is the file path and the
// network fields are ignored.
type ConnectParams struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	TLS      bool

	// ConnectTimeout bounds the connection handshake.
	ConnectTimeout time.Duration
}

// ColumnInfo describes one column of a table.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}

// TableInfo describes one table. RowEstimate is a cheap, engine-provided
// estimate (never a full scan); -1 means the engine offers none.
type TableInfo struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	RowEstimate int64        `json:"rowEstimate"`
	Columns     []ColumnInfo `json:"columns,omitempty"`
}

// SchemaDescription is an ordered collection of tables grouped by
// namespace: alphabetical by schema, then by table name, so repeated
// calls against an unchanged database are deterministic.
type SchemaDescription struct {
	Tables []TableInfo `json:"tables"`
}

// QueryMeta carries side-channel results of a statement.
type QueryMeta struct {
	Affected int64 `json:"affected"`
}

// QueryResult holds one statement's outcome. Row values are normalized
// to transport-neutral types (string/number/bool/nil) regardless of the
// engine's native types. Statements that return no rows yield an empty
// row list plus Meta.Affected.
type QueryResult struct {
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	Meta      QueryMeta `json:"meta"`
	ElapsedMS int64     `json:"elapsedMs"`
}

// Driver is the per-engine capability contract. A Driver owns one live
// connection, is used for exactly one logical operation, and is closed
// before the orchestrator returns.
type Driver interface {
	// GetSchema introspects the engine's catalog with per-column detail.
	GetSchema(ctx context.Context) (*SchemaDescription, error)

	// ListTables is the lighter-weight variant without column detail,
	// including a cheap row-count estimate where available.
	ListTables(ctx context.Context) ([]TableInfo, error)

	// RunQuery executes exactly one statement.
	RunQuery(ctx context.Context, query string) (*QueryResult, error)

	// Close releases the underlying connection. Idempotent; logs and
	// swallows its own errors.
	Close()
}

// OpenFunc connects an adapter to its endpoint. It fails with
// *ConnectError on any authentication, network, or TLS failure.
type OpenFunc func(ctx context.Context, params ConnectParams) (Driver, error)

var registry = map[Provider]OpenFunc{
	ProviderPostgres: openPostgres,
	ProviderMySQL:    openMySQL,
	ProviderMSSQL:    openMSSQL,
	ProviderSQLite:   openSQLite,
}

// Open connects the adapter registered for the provider.
func Open(ctx context.Context, provider Provider, params ConnectParams) (Driver, error) {
	open, ok := registry[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return open(ctx, params)
}

// Known reports whether the provider has a registered adapter.
func Known(provider Provider) bool {
	_, ok := registry[provider]
	return ok
}
