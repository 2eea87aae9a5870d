package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dbbridge/dbbridge/internal/crypto"
	"github.com/dbbridge/dbbridge/internal/database"
	"github.com/dbbridge/dbbridge/internal/driver"
	"github.com/go-chi/chi/v5"
)

// connectionPayload is the client-facing shape of a saved connection.
// Secrets are plaintext on input (encrypted before storage) and masked
// on output.
type connectionPayload struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Database   string `json:"database"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	SSLEnabled bool   `json:"sslEnabled"`

	SSHEnabled    bool   `json:"sshEnabled"`
	SSHHost       string `json:"sshHost,omitempty"`
	SSHPort       int    `json:"sshPort,omitempty"`
	SSHUsername   string `json:"sshUsername,omitempty"`
	SSHPrivateKey string `json:"sshPrivateKey,omitempty"`
	SSHPassphrase string `json:"sshPassphrase,omitempty"`
}

func (p *connectionPayload) toRecord() *database.ConnectionRecord {
	return &database.ConnectionRecord{
		ID:            p.ID,
		Name:          p.Name,
		Provider:      p.Provider,
		Host:          p.Host,
		Port:          p.Port,
		Database:      p.Database,
		Username:      p.Username,
		Password:      p.Password,
		SSLEnabled:    p.SSLEnabled,
		SSHEnabled:    p.SSHEnabled,
		SSHHost:       p.SSHHost,
		SSHPort:       p.SSHPort,
		SSHUsername:   p.SSHUsername,
		SSHPrivateKey: p.SSHPrivateKey,
		SSHPassphrase: p.SSHPassphrase,
	}
}

// toResponse masks secrets; ciphertext never leaves the server intact.
func toResponse(rec *database.ConnectionRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":          rec.ID,
		"name":        rec.Name,
		"provider":    rec.Provider,
		"host":        rec.Host,
		"port":        rec.Port,
		"database":    rec.Database,
		"username":    rec.Username,
		"password":    crypto.Mask(rec.Password),
		"sslEnabled":  rec.SSLEnabled,
		"sshEnabled":  rec.SSHEnabled,
		"sshHost":     rec.SSHHost,
		"sshPort":     rec.SSHPort,
		"sshUsername": rec.SSHUsername,
		"created_at":  rec.CreatedAt,
		"updated_at":  rec.UpdatedAt,
	}
}

func validatePayload(p *connectionPayload) string {
	if p.Name == "" {
		return "name is required"
	}
	if !driver.Known(driver.Provider(p.Provider)) {
		return "unsupported provider"
	}
	if p.SSHEnabled && p.SSHPrivateKey == "" && p.ID == "" {
		return "ssh tunnel requires a private key"
	}
	return ""
}

// ListConnections handles GET /api/v1/connections.
func ListConnections(w http.ResponseWriter, r *http.Request) {
	recs, err := database.ListConnections()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(recs))
	for i := range recs {
		out = append(out, toResponse(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": out})
}

// CreateConnection handles POST /api/v1/connections.
func CreateConnection(w http.ResponseWriter, r *http.Request) {
	if !crypto.Ready() {
		writeError(w, http.StatusServiceUnavailable, "master encryption key is not configured")
		return
	}
	var p connectionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validatePayload(&p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rec := p.toRecord()
	if err := database.CreateConnection(rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

// GetConnection handles GET /api/v1/connections/{id}.
func GetConnection(w http.ResponseWriter, r *http.Request) {
	rec, err := database.GetConnection(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

// UpdateConnection handles PUT /api/v1/connections/{id}.
func UpdateConnection(w http.ResponseWriter, r *http.Request) {
	if !crypto.Ready() {
		writeError(w, http.StatusServiceUnavailable, "master encryption key is not configured")
		return
	}
	var p connectionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = chi.URLParam(r, "id")
	if msg := validatePayload(&p); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	rec := p.toRecord()
	if err := database.UpdateConnection(rec); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

// DeleteConnection handles DELETE /api/v1/connections/{id}.
func DeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := database.DeleteConnection(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connection not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
