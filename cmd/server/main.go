/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Harvestly loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging
  3. Initialize SQLite store
  4. Load the tier/reward catalog (file or compiled-in default)
  5. Create the engine and HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -db       SQLite database path (default: loyalty.db)
            Use ":memory:" for an in-memory database
  -catalog  YAML catalog path (default: compiled-in catalog)
  -seed     Seed a demo account with test points and exit
  -pretty   Human-readable console logging instead of JSON

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with a custom catalog
  ./server -catalog=./catalog.yaml

  # Seed a demo account
  ./server -db=./data/loyalty.db -seed=demo-user

SEE ALSO:
  - api/server.go: Router configuration
  - loyalty/engine.go: Domain operations
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harvestly/loyalty-engine/api"
	"github.com/harvestly/loyalty-engine/loyalty"
	"github.com/harvestly/loyalty-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "loyalty.db", "SQLite database path")
	catalogPath := flag.String("catalog", "", "YAML catalog path (default: compiled-in)")
	seedUser := flag.String("seed", "", "seed a demo account with test points and exit")
	pretty := flag.Bool("pretty", false, "human-readable console logging")
	flag.Parse()

	// Logging
	var log zerolog.Logger
	if *pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Catalog
	catalog := loyalty.DefaultCatalog()
	if *catalogPath != "" {
		catalog, err = loyalty.LoadCatalog(*catalogPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *catalogPath).Msg("failed to load catalog")
		}
		log.Info().Str("path", *catalogPath).Int("version", catalog.Version).Msg("catalog loaded")
	}

	// Engine
	engine, err := loyalty.NewEngine(store, catalog, loyalty.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create loyalty engine")
	}

	if *seedUser != "" {
		seedDemoAccount(engine, log, loyalty.UserID(*seedUser))
		return
	}

	// Router
	handler := api.NewHandler(engine, log)
	router := api.NewRouter(handler, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", *port).Msg("loyalty engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// seedDemoAccount grants enough test points to land the demo account in the
// Cultivator tier so every storefront view has data to render.
func seedDemoAccount(engine *loyalty.Engine, log zerolog.Logger, userID loyalty.UserID) {
	ctx := context.Background()

	acct, err := engine.GrantTestPoints(ctx, userID, 450, "demo seed")
	if err != nil {
		log.Fatal().Err(err).Str("user", string(userID)).Msg("failed to seed demo account")
	}

	log.Info().
		Str("user", string(userID)).
		Int64("points", acct.Points).
		Str("tier", string(acct.Tier)).
		Msg("demo account seeded")
}
