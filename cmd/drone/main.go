package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spawn-mcp/research-pipeline/pkg/app"
	"github.com/spawn-mcp/research-pipeline/pkg/config"
	"github.com/spawn-mcp/research-pipeline/pkg/drone"
	"github.com/spawn-mcp/research-pipeline/pkg/researcher"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
)

func main() {
	log.Println("Starting research drone...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	client, provider, err := app.Providers(cfg, timeout.NewManager(app.GlobalTimeout))
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}
	handler := drone.NewHandler(cfg.DroneID, func(ledger researcher.Ledger) drone.SectionResearcher {
		return researcher.New(client, provider, ledger)
	})

	// Cloud Run injects PORT
	addr := cfg.HTTPAddr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{Addr: addr, Handler: handler.Routes()}

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Drone %s listening on %s", cfg.DroneID, addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down drone: %v", err)
	}

	log.Println("Drone stopped")
}
