package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/omochice/realtime-channel/internal/config"
	"github.com/omochice/realtime-channel/internal/logging"
	"github.com/omochice/realtime-channel/internal/server"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "YAML config file (optional)")
	addr := flag.String("addr", "", "Address to listen on (e.g., :8080); overrides relay.addr")
	echo := flag.Bool("echo", false, "Send every frame back to its sender as well")
	flag.Parse()

	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.Load(*configPath, false)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	if *echo {
		cfg.Relay.Echo = true
	}
	if err := logging.Setup(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, MaxSizeMB: cfg.Logging.MaxSizeMB}); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	defer logging.Close()

	var opts []server.Option
	if cfg.Relay.Echo {
		opts = append(opts, server.WithEcho())
	}
	srv := server.New(cfg.Relay.Addr, opts...)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Infof("Starting relay server on %s...", cfg.Relay.Addr)
		errChan <- srv.Start()
	}()

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Infof("Received signal %v, shutting down...", sig)
		srv.Stop()
	}
}
