package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dbbridge/dbbridge/internal/crypto"
)

type cryptoRequest struct {
	Value string `json:"value"`
}

// EncryptValue handles POST /api/v1/crypto/encrypt.
func EncryptValue(w http.ResponseWriter, r *http.Request) {
	var req cryptoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	encrypted, err := crypto.Encrypt(req.Value)
	if err != nil {
		writeCryptoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encrypted": encrypted})
}

// DecryptValue handles POST /api/v1/crypto/decrypt.
func DecryptValue(w http.ResponseWriter, r *http.Request) {
	var req cryptoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decrypted, err := crypto.Decrypt(req.Value)
	if err != nil {
		writeCryptoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"decrypted": decrypted})
}

func writeCryptoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crypto.ErrNoMasterKey):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "master encryption key is not configured",
			"kind":  "configuration",
		})
	case errors.Is(err, crypto.ErrInvalidToken):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"kind":  "decryption",
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
