package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/relayforge/bedrock-gateway/internal/api"
	"github.com/relayforge/bedrock-gateway/internal/config"
	"github.com/relayforge/bedrock-gateway/internal/logging"
	"github.com/relayforge/bedrock-gateway/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	port := flag.Int("port", 0, "Listen port (overrides the configured port)")
	flag.Parse()

	// A missing .env file is fine; environment variables still apply.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logging.Configure(cfg.Debug, cfg.LoggingToFile, cfg.LogDir)

	server := api.NewServer(cfg)

	httpServer := &http.Server{
		Addr:              cfg.Address(),
		Handler:           server.Engine(),
		ReadHeaderTimeout: 30 * time.Second,
		// No write timeout: streaming responses stay open as long as the
		// upstream keeps sending.
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := watcher.Watch(ctx, *configPath, server.ApplyConfig); err != nil {
			log.Warnf("config watcher disabled: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
	}()

	log.Infof("bedrock gateway listening on %s (auth mode %q, default region %s)",
		cfg.Address(), cfg.AuthMode, cfg.DefaultRegion)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
