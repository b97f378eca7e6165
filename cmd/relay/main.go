package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/relay"
	"chat-relay/repositories"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and blocks until shutdown. Keeping the
// logic out of main ensures the defers (database close, sequence release)
// execute before the process exits.
func run() error {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Persistence port
	users, err := repositories.NewUserRepository(db)
	if err != nil {
		return err
	}
	defer func() { _ = users.Close() }()
	messages := repositories.NewMessageRepository(db)

	// 4. Context & signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Relay server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := relay.NewServer(log, users, messages, address, config.ReadBufferSize, config.EchoDelay)

	if err := server.Run(ctx); err != nil {
		return err
	}
	log.Info("Program stopped cleanly")
	return nil
}
