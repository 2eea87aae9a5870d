package bridge

import (
	"errors"

	"github.com/dbbridge/dbbridge/internal/crypto"
	"github.com/dbbridge/dbbridge/internal/driver"
	"github.com/dbbridge/dbbridge/internal/sshtunnel"
)

// Kind classifies a request failure so the caller can react (show a
// setup instruction, fix the request, report the engine's message)
// without parsing message text.
type Kind string

const (
	KindConfiguration Kind = "configuration"  // missing master key
	KindValidation    Kind = "validation"     // missing/malformed request fields
	KindDecryption    Kind = "decryption"     // ciphertext unreadable under current key
	KindTunnelAuth    Kind = "tunnel_auth"    // bastion rejected credentials
	KindTunnelConnect Kind = "tunnel_connect" // bastion unreachable
	KindTunnelBind    Kind = "tunnel_bind"    // no local port available
	KindConnect       Kind = "connect"        // database unreachable or rejected auth
	KindQuery         Kind = "query"          // statement failed; message is verbatim
	KindInternal      Kind = "internal"
)

// Error is the single structured failure shape crossing this layer's
// boundary: a kind plus a human-readable message, no stack detail.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// classify maps the typed errors of the crypto, sshtunnel and driver
// packages onto the taxonomy. Unrecognized errors become KindInternal.
func classify(err error) *Error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, crypto.ErrNoMasterKey) {
		return &Error{Kind: KindConfiguration, Message: "master encryption key is not configured", Err: err}
	}
	if errors.Is(err, crypto.ErrInvalidToken) {
		return newError(KindDecryption, err)
	}
	if errors.Is(err, driver.ErrUnknownProvider) {
		return newError(KindValidation, err)
	}

	var authErr *sshtunnel.AuthError
	if errors.As(err, &authErr) {
		return newError(KindTunnelAuth, err)
	}
	var connErr *sshtunnel.ConnectError
	if errors.As(err, &connErr) {
		return newError(KindTunnelConnect, err)
	}
	var bindErr *sshtunnel.BindError
	if errors.As(err, &bindErr) {
		return newError(KindTunnelBind, err)
	}

	var dcErr *driver.ConnectError
	if errors.As(err, &dcErr) {
		return newError(KindConnect, err)
	}
	var qErr *driver.QueryError
	if errors.As(err, &qErr) {
		// The engine's native message passes through verbatim; it is
		// the caller's primary diagnostic.
		return newError(KindQuery, err)
	}

	return newError(KindInternal, err)
}
