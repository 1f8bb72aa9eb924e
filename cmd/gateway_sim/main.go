// Command gateway_sim serves a simulated broker gateway for local runs and integration tests
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution_client/internal/broker"
	"execution_client/internal/logging"
	"execution_client/internal/mock"
)

func main() {
	port := flag.Int("port", 7497, "Port to listen on")
	logLevel := flag.String("log-level", "INFO", "Log level")
	flag.Parse()

	logger, err := logging.NewZapLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	gw := mock.NewGateway(mock.NewMockSession(), logger)
	mux := http.NewServeMux()
	mux.Handle(broker.SessionPath, gw)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw.DropClients()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Gateway simulator listening", "addr", srv.Addr, "path", broker.SessionPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Gateway simulator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Gateway simulator stopped")
}
