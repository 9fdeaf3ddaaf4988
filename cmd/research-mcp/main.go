package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spawn-mcp/research-pipeline/pkg/app"
	"github.com/spawn-mcp/research-pipeline/pkg/config"
	"github.com/spawn-mcp/research-pipeline/pkg/mcp"
)

func main() {
	// stdout carries the MCP protocol; logs go to stderr
	log.SetOutput(os.Stderr)
	log.Println("Starting research pipeline MCP server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}
	pipeline.Recover(ctx)

	mcpServer := mcp.NewMCPServer(pipeline.Orchestrator)

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := mcpServer.Start(ctx); err != nil {
			log.Printf("MCP server error: %v", err)
		}
		cancel()
	}()

	select {
	case <-sigChan:
		log.Println("Received shutdown signal")
	case <-ctx.Done():
		log.Println("MCP client disconnected")
	}

	log.Println("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping pipeline: %v", err)
	}

	log.Println("Shutdown complete")
}
