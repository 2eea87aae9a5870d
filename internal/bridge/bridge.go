// Package bridge is the per-request connection orchestrator. Each
// operation runs a linear pipeline with guaranteed unwind: validate,
// decrypt credentials, open an SSH tunnel when configured, build the
// provider's driver against the effective endpoint, perform the one
// requested operation, then close driver and tunnel in reverse order.
// Either the caller gets the result with zero leaked resources, or one
// clearly-attributed error with zero leaked resources.
package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dbbridge/dbbridge/internal/config"
	"github.com/dbbridge/dbbridge/internal/crypto"
	"github.com/dbbridge/dbbridge/internal/driver"
	"github.com/dbbridge/dbbridge/internal/sshtunnel"
)

// SSHTunnelConfig describes an optional bastion hop. PrivateKey and
// Passphrase are ciphertext at rest.
type SSHTunnelConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase,omitempty"`
}

// ConnectionConfig is the request shape for every database operation.
// Password is ciphertext at rest; plaintext exists only in memory for
// the duration of one orchestrated operation and is never logged.
type ConnectionConfig struct {
	Provider   driver.Provider  `json:"provider"`
	Host       string           `json:"host"`
	Port       int              `json:"port"`
	Database   string           `json:"database"`
	Username   string           `json:"username"`
	Password   string           `json:"password"`
	SSLEnabled bool             `json:"sslEnabled"`
	SSHTunnel  *SSHTunnelConfig `json:"sshTunnel,omitempty"`
}

// TunnelHandle is what the bridge needs from an open tunnel. Close must
// be idempotent and must not return errors.
type TunnelHandle interface {
	Port() int
	Close()
}

// Bridge sequences decrypt, tunnel, drive and unwind. The openers are
// swappable so tests can count open/close pairs without network I/O.
type Bridge struct {
	OpenTunnel func(ctx context.Context, cfg sshtunnel.Config, targetHost string, targetPort int) (TunnelHandle, error)
	OpenDriver func(ctx context.Context, provider driver.Provider, params driver.ConnectParams) (driver.Driver, error)

	SSHConnectTimeout time.Duration
	DBConnectTimeout  time.Duration
	QueryTimeout      time.Duration
}

// New returns a Bridge wired to the real tunnel manager and driver
// registry, with timeouts from configuration.
func New() *Bridge {
	return &Bridge{
		OpenTunnel: func(ctx context.Context, cfg sshtunnel.Config, targetHost string, targetPort int) (TunnelHandle, error) {
			return sshtunnel.Open(ctx, cfg, targetHost, targetPort)
		},
		OpenDriver:        driver.Open,
		SSHConnectTimeout: config.Cfg.SSHConnectTimeout,
		DBConnectTimeout:  config.Cfg.DBConnectTimeout,
		QueryTimeout:      config.Cfg.QueryTimeout,
	}
}

// FetchSchema performs one orchestrated schema introspection.
func (b *Bridge) FetchSchema(ctx context.Context, cfg ConnectionConfig) (*driver.SchemaDescription, error) {
	var schema *driver.SchemaDescription
	err := b.execute(ctx, cfg, func(ctx context.Context, d driver.Driver) error {
		var err error
		schema, err = d.GetSchema(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// ListTables performs one orchestrated table enumeration.
func (b *Bridge) ListTables(ctx context.Context, cfg ConnectionConfig) ([]driver.TableInfo, error) {
	var tables []driver.TableInfo
	err := b.execute(ctx, cfg, func(ctx context.Context, d driver.Driver) error {
		var err error
		tables, err = d.ListTables(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

// RunQuery executes exactly one statement through one orchestrated
// connection, bounded by the query timeout.
func (b *Bridge) RunQuery(ctx context.Context, cfg ConnectionConfig, query string) (*driver.QueryResult, error) {
	if query == "" {
		return nil, &Error{Kind: KindValidation, Message: "sql statement is required"}
	}
	var result *driver.QueryResult
	err := b.execute(ctx, cfg, func(ctx context.Context, d driver.Driver) error {
		if b.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.QueryTimeout)
			defer cancel()
		}
		var err error
		result, err = d.RunQuery(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// execute runs the shared pipeline around one driver operation.
func (b *Bridge) execute(ctx context.Context, cfg ConnectionConfig, op func(context.Context, driver.Driver) error) error {
	// Step 1: validate. Master key first, so partially-decrypted state
	// is never produced and no socket is opened without it.
	if !crypto.Ready() {
		return &Error{Kind: KindConfiguration, Message: "master encryption key is not configured"}
	}
	if err := validate(cfg); err != nil {
		return err
	}

	// Step 2: decrypt. A failure on the primary password is fatal; an
	// absent password stays absent.
	var password string
	if cfg.Password != "" {
		var err error
		password, err = crypto.Decrypt(cfg.Password)
		if err != nil {
			return classify(fmt.Errorf("decrypt password: %w", err))
		}
	}

	effHost, effPort := cfg.Host, cfg.Port

	// Step 3: tunnel, when configured. On failure the driver is never
	// constructed.
	if tc := cfg.SSHTunnel; tc != nil && tc.Enabled {
		tun, err := b.OpenTunnel(ctx, sshtunnel.Config{
			Host: tc.Host,
			Port: tc.Port,
			User: tc.Username,
			// SSH secrets are the only fields with a legacy-plaintext
			// fallback; see decryptSSHSecret.
			PrivateKey:     decryptSSHSecret(tc.PrivateKey),
			Passphrase:     decryptSSHSecret(tc.Passphrase),
			ConnectTimeout: b.SSHConnectTimeout,
		}, cfg.Host, cfg.Port)
		if err != nil {
			return classify(err)
		}
		// Release guard for the tunnel, independent of the driver's.
		// Runs last (after the driver guard) per LIFO: reverse
		// acquisition order. Tunnel Close never panics or errors.
		defer tun.Close()
		effHost, effPort = "127.0.0.1", tun.Port()
	}

	// Step 4: drive.
	d, err := b.OpenDriver(ctx, cfg.Provider, driver.ConnectParams{
		Host:           effHost,
		Port:           effPort,
		Database:       cfg.Database,
		Username:       cfg.Username,
		Password:       password,
		TLS:            cfg.SSLEnabled,
		ConnectTimeout: b.DBConnectTimeout,
	})
	if err != nil {
		return classify(err)
	}
	// Release guard for the driver. Driver Close logs and swallows its
	// own errors, so a failed release cannot mask the primary result
	// and cannot prevent the tunnel's release.
	defer d.Close()

	if err := op(ctx, d); err != nil {
		return classify(err)
	}
	return nil
}

// decryptSSHSecret decrypts a stored SSH secret, falling back to the
// stored value when it is not valid ciphertext. This supports legacy
// records saved before encryption was introduced and is deliberately
// restricted to the two SSH secret fields; the primary database
// password never falls back.
func decryptSSHSecret(stored string) string {
	if stored == "" {
		return ""
	}
	plaintext, err := crypto.Decrypt(stored)
	if err != nil {
		log.Printf("[bridge] ssh secret not decryptable, using stored value as plaintext")
		return stored
	}
	return plaintext
}

func validate(cfg ConnectionConfig) error {
	if cfg.Provider == "" {
		return &Error{Kind: KindValidation, Message: "provider is required"}
	}
	if !driver.Known(cfg.Provider) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("unsupported provider %q", cfg.Provider)}
	}
	if cfg.Database == "" {
		return &Error{Kind: KindValidation, Message: "database is required"}
	}
	if cfg.Provider != driver.ProviderSQLite {
		if cfg.Host == "" {
			return &Error{Kind: KindValidation, Message: "host is required"}
		}
		if cfg.Port <= 0 {
			return &Error{Kind: KindValidation, Message: "port is required"}
		}
		if cfg.Username == "" {
			return &Error{Kind: KindValidation, Message: "username is required"}
		}
	}
	if tc := cfg.SSHTunnel; tc != nil && tc.Enabled {
		if cfg.Provider == driver.ProviderSQLite {
			return &Error{Kind: KindValidation, Message: "sqlite connections cannot use an ssh tunnel"}
		}
		if tc.Host == "" {
			return &Error{Kind: KindValidation, Message: "ssh tunnel host is required"}
		}
		if tc.Port <= 0 {
			return &Error{Kind: KindValidation, Message: "ssh tunnel port is required"}
		}
		if tc.PrivateKey == "" {
			return &Error{Kind: KindValidation, Message: "ssh tunnel private key is required"}
		}
	}
	return nil
}
