// Package crypto is the credential codec: symmetric encryption and
// decryption of secret strings (passwords, private keys, passphrases)
// under a single process-wide master key.
//
// The key is resolved once at startup from configuration. Encrypt and
// Decrypt are pure transformations with no shared mutable state beyond
// the read-only key, so they are safe to call concurrently.
package crypto

import (
	"crypto/sha256"
	"errors"
	"time"

	"github.com/fernet/fernet-go"
)

// ErrNoMasterKey is returned when the codec is used before a master key
// has been configured. Callers must surface this as a configuration
// failure before attempting any other work.
var ErrNoMasterKey = errors.New("crypto: no master key configured")

// ErrInvalidToken is returned by Decrypt when the ciphertext is
// malformed, corrupted, or was produced under a different key.
var ErrInvalidToken = errors.New("crypto: invalid token")

var masterKey *fernet.Key

// Init resolves the master key. A standard fernet key (base64, 32 bytes)
// is used verbatim; any other non-empty string is derived into a key via
// SHA-256 so operators can configure a plain passphrase. An empty string
// leaves the codec unconfigured.
func Init(key string) {
	if key == "" {
		masterKey = nil
		return
	}
	if k, err := fernet.DecodeKey(key); err == nil {
		masterKey = k
		return
	}
	sum := sha256.Sum256([]byte(key))
	var k fernet.Key
	copy(k[:], sum[:])
	masterKey = &k
}

// Ready reports whether a master key has been configured.
func Ready() bool {
	return masterKey != nil
}

// Encrypt encrypts plaintext under the master key.
func Encrypt(plaintext string) (string, error) {
	if masterKey == nil {
		return "", ErrNoMasterKey
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), masterKey)
	if err != nil {
		return "", err
	}
	return string(tok), nil
}

// Decrypt reverses Encrypt. It returns ErrInvalidToken when the
// ciphertext cannot be verified under the current key; callers that
// accept legacy unencrypted values must handle that fallback explicitly
// at their own call site.
func Decrypt(ciphertext string) (string, error) {
	if masterKey == nil {
		return "", ErrNoMasterKey
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0*time.Second, []*fernet.Key{masterKey})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// Mask returns a display-safe form of a secret.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
