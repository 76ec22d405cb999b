package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/realtime-channel/internal/channel"
	"github.com/omochice/realtime-channel/internal/channel/ws"
	"github.com/omochice/realtime-channel/internal/config"
	"github.com/omochice/realtime-channel/internal/logging"
	"github.com/omochice/realtime-channel/internal/metrics"
	"github.com/omochice/realtime-channel/internal/registry"
	"github.com/omochice/realtime-channel/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	endpoint := flag.String("server", "", "WebSocket endpoint (e.g., ws://localhost:8080/ws)")
	channelID := flag.String("channel", "", "Channel id; also scopes the outgoing buffer")
	sender := flag.String("sender", "", "Sender id stamped on outgoing messages")
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
	if *endpoint != "" {
		cfg.Channel.Endpoint = *endpoint
	}
	if *channelID != "" {
		cfg.Channel.ID = *channelID
	}
	if *sender != "" {
		cfg.Channel.SenderID = *sender
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logging.Setup(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, MaxSizeMB: cfg.Logging.MaxSizeMB}); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	defer logging.Close()

	if err := run(cfg); err != nil {
		log.Errorf("client stopped: %v", err)
		logging.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := storage.Close(store); err != nil {
			log.WithError(err).Warn("failed to close storage")
		}
	}()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	channels := registry.New(func(id string) (channel.Channel, error) {
		opts, err := cfg.ChannelOptions(store, log.WithField("component", "client"), m)
		if err != nil {
			return nil, err
		}
		return ws.New(id, opts)
	})
	defer func() { _ = channels.Close() }()

	ch, err := channels.Open(cfg.Channel.ID)
	if err != nil {
		return err
	}
	if err := ch.Connect(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return printStatus(ctx, ch) })
	g.Go(func() error { return printMessages(ctx, ch) })
	g.Go(func() error { return sendLines(ctx, ch, os.Stdin) })
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, reg) })
	}

	err = g.Wait()
	ch.Disconnect()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

func printStatus(ctx context.Context, ch channel.Channel) error {
	sub := ch.Status()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			fmt.Printf("*** %s ***\n", ev.Describe())
		}
	}
}

func printMessages(ctx context.Context, ch channel.Channel) error {
	sub := ch.Messages()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			from := msg.SenderID
			if from == "" {
				from = "?"
			}
			if text, ok := msg.Payload["text"].(string); ok {
				fmt.Printf("[%s]: %s\n", from, text)
			} else {
				fmt.Printf("[%s] %s: %v\n", from, msg.Type, msg.Payload)
			}
		}
	}
}

// sendLines sends each stdin line as a chat message. "/connect" and
// "/disconnect" drive the channel by hand; "quit" ends the client.
func sendLines(ctx context.Context, ch channel.Channel, in *os.File) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Printf("Error reading input: %v", err)
		}
	}()

	fmt.Println("Type your messages (or 'quit' to exit):")
	for {
		var text string
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			text = strings.TrimSpace(line)
		}

		switch text {
		case "":
			continue
		case "quit", "exit":
			return errQuit
		case "/connect":
			if err := ch.Connect(); err != nil {
				return err
			}
			continue
		case "/disconnect":
			ch.Disconnect()
			continue
		}

		if err := ch.Send(ctx, "chat", map[string]any{"text": text}); err != nil {
			// Being offline is not an error; this is a storage or encoding failure.
			log.WithError(err).Error("failed to send message")
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
