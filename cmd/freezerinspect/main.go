/*
freezerinspect is a small, optional, read-only HTTP debug tool for poking
at a Freezer database from a browser or curl - it is not part of the
embedded library's public contract, has no write endpoints, and exists
purely for local inspection.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Open the Freezer store
  3. Configure the HTTP router
  4. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port  HTTP server port (default: 8090)
  -db    path to the Freezer database file (default: empty, which opens
         an ephemeral in-memory database)

SEE ALSO:
  - routes.go: route wiring
  - store.go (root package): the library this tool inspects
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
	"github.com/rs/zerolog/log"

	"github.com/freezerdb/freezer"
)

func main() {
	port := flag.Int("port", 8090, "HTTP server port")
	dbPath := flag.String("db", "", "path to the Freezer database file (empty = in-memory)")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	log.Logger = logger

	store, err := openStore(*dbPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	router := newRouter(store)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("freezerinspect listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("stopped")
}

func openStore(path string, logger zerolog.Logger) (*freezer.Store, error) {
	if path == "" {
		return freezer.OpenInMemory(freezer.WithLogger(logger))
	}
	return freezer.Open(path, freezer.WithLogger(logger))
}

