package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dbbridge/dbbridge/internal/bridge"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeBridgeError maps the bridge's error taxonomy onto HTTP status
// codes. Only kind and message cross the boundary, never stack detail.
func writeBridgeError(w http.ResponseWriter, err error) {
	var be *bridge.Error
	if !errors.As(err, &be) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, statusForKind(be.Kind), map[string]string{
		"error": be.Message,
		"kind":  string(be.Kind),
	})
}

func statusForKind(kind bridge.Kind) int {
	switch kind {
	case bridge.KindValidation, bridge.KindQuery:
		return http.StatusBadRequest
	case bridge.KindDecryption:
		return http.StatusUnprocessableEntity
	case bridge.KindTunnelAuth, bridge.KindTunnelConnect, bridge.KindTunnelBind, bridge.KindConnect:
		return http.StatusBadGateway
	case bridge.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
