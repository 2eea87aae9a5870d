package handlers

import (
	"net/http"

	"github.com/dbbridge/dbbridge/internal/crypto"
	"github.com/dbbridge/dbbridge/internal/database"
	"github.com/dbbridge/dbbridge/internal/sshtunnel"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	storeStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				storeStatus = "connected"
			}
		}
	}

	masterKey := "missing"
	if crypto.Ready() {
		masterKey = "configured"
	}

	status := "healthy"
	if storeStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"store":          storeStatus,
		"master_key":     masterKey,
		"active_tunnels": sshtunnel.ActiveCount(),
	})
}
