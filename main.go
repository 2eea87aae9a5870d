package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbbridge/dbbridge/internal/bridge"
	"github.com/dbbridge/dbbridge/internal/config"
	"github.com/dbbridge/dbbridge/internal/crypto"
	"github.com/dbbridge/dbbridge/internal/database"
	"github.com/dbbridge/dbbridge/internal/handlers"
	"github.com/dbbridge/dbbridge/internal/logging"
	"github.com/dbbridge/dbbridge/internal/sshtunnel"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func main() {
	config.Load()
	logging.Init()

	crypto.Init(config.Cfg.MasterKey)
	if !crypto.Ready() {
		log.Printf("WARNING: DBBRIDGE_MASTER_KEY is not set; all credential operations will fail until it is configured")
	}

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	handlers.Bridge = bridge.New()

	stopReaper := sshtunnel.StartReaper(config.Cfg.TunnelMaxLifetime)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no body, no secrets)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Database operations (request-scoped: open, operate, close)
		r.Post("/db/schema", handlers.FetchSchema)
		r.Post("/db/tables", handlers.ListTables)
		r.Post("/db/query", handlers.RunQuery)

		// Credential codec utilities
		r.Post("/crypto/encrypt", handlers.EncryptValue)
		r.Post("/crypto/decrypt", handlers.DecryptValue)

		// Saved connections
		r.Get("/connections", handlers.ListConnections)
		r.Post("/connections", handlers.CreateConnection)
		r.Get("/connections/{id}", handlers.GetConnection)
		r.Put("/connections/{id}", handlers.UpdateConnection)
		r.Delete("/connections/{id}", handlers.DeleteConnection)

		// Server logs
		r.Get("/logs", handlers.GetServerLogs)
		r.Delete("/logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Drain in-flight requests first; they own their tunnels.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}

	stopReaper()
	sshtunnel.CloseAll()
	log.Println("Server stopped")
}
