/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the obligation scheduling engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire domain services into the API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags, overridable by environment variables (flag wins when both set):
  -port     HTTP server port (default: 8080, env PORT)
  -db       SQLite database path (default: obligations.db, env DATABASE_PATH)
            Use ":memory:" for an in-memory database
  -uf-rate  Pinned UF->CLP rate for indexed services (env UF_RATE).
            Services priced in UF fail generation when unset.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/obligations.db"

  # Run with a pinned UF rate
  ./server -uf-rate=37850.21

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/andesfin/obligation-engine/api"
	"github.com/andesfin/obligation-engine/billing"
	"github.com/andesfin/obligation-engine/store/sqlite"
)

func main() {
	// .env is optional; real env vars take precedence over it.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "obligations.db"), "SQLite database path")
	ufRate := flag.String("uf-rate", envStr("UF_RATE", ""), "pinned UF->CLP rate for indexed services")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Rate source for UF-indexed services. A zero rate fails closed; the
	// cache layer keeps the last good rate across transient failures.
	rate := decimal.Zero
	if *ufRate != "" {
		if rate, err = decimal.NewFromString(*ufRate); err != nil {
			log.Fatalf("Invalid -uf-rate %q: %v", *ufRate, err)
		}
	}
	rates := billing.NewCachedRateSource(billing.StaticRateSource{Rate: rate})

	handler := api.NewHandler(store, rates)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
