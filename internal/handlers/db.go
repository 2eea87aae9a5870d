package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dbbridge/dbbridge/internal/bridge"
	"github.com/dbbridge/dbbridge/internal/database"
	"github.com/dbbridge/dbbridge/internal/driver"
)

// Bridge is the shared connection orchestrator, set in main.
var Bridge *bridge.Bridge

// dbRequest carries either inline connection parameters or a reference
// to a saved connection record, plus the statement for query requests.
type dbRequest struct {
	bridge.ConnectionConfig
	ConnectionID string `json:"connectionId,omitempty"`
	SQL          string `json:"sql,omitempty"`
}

// resolve returns the effective connection config, loading the saved
// record when one is referenced. Secrets come back from the store as
// ciphertext; the bridge decrypts them on use.
func (req *dbRequest) resolve() (bridge.ConnectionConfig, error) {
	if req.ConnectionID == "" {
		return req.ConnectionConfig, nil
	}
	rec, err := database.GetConnection(req.ConnectionID)
	if err != nil {
		return bridge.ConnectionConfig{}, err
	}
	cfg := bridge.ConnectionConfig{
		Provider:   driver.Provider(rec.Provider),
		Host:       rec.Host,
		Port:       rec.Port,
		Database:   rec.Database,
		Username:   rec.Username,
		Password:   rec.Password,
		SSLEnabled: rec.SSLEnabled,
	}
	if rec.SSHEnabled {
		cfg.SSHTunnel = &bridge.SSHTunnelConfig{
			Enabled:    true,
			Host:       rec.SSHHost,
			Port:       rec.SSHPort,
			Username:   rec.SSHUsername,
			PrivateKey: rec.SSHPrivateKey,
			Passphrase: rec.SSHPassphrase,
		}
	}
	return cfg, nil
}

func decodeDBRequest(w http.ResponseWriter, r *http.Request) (*dbRequest, bridge.ConnectionConfig, bool) {
	var req dbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, bridge.ConnectionConfig{}, false
	}
	cfg, err := req.resolve()
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, bridge.ConnectionConfig{}, false
	}
	return &req, cfg, true
}

// FetchSchema handles POST /api/v1/db/schema.
func FetchSchema(w http.ResponseWriter, r *http.Request) {
	_, cfg, ok := decodeDBRequest(w, r)
	if !ok {
		return
	}
	schema, err := Bridge.FetchSchema(r.Context(), cfg)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schema": schema})
}

// ListTables handles POST /api/v1/db/tables.
func ListTables(w http.ResponseWriter, r *http.Request) {
	_, cfg, ok := decodeDBRequest(w, r)
	if !ok {
		return
	}
	tables, err := Bridge.ListTables(r.Context(), cfg)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

// RunQuery handles POST /api/v1/db/query.
func RunQuery(w http.ResponseWriter, r *http.Request) {
	req, cfg, ok := decodeDBRequest(w, r)
	if !ok {
		return
	}
	result, err := Bridge.RunQuery(r.Context(), cfg, req.SQL)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}
