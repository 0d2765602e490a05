package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentgrid-dev/agentgrid"
	"github.com/agentgrid-dev/agentgrid/internal/observability"
	obs "github.com/agentgrid-dev/agentgrid/pkg/observability"
	"github.com/agentgrid-dev/agentgrid/script/luahost"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	// Command line flags
	configFile = flag.String("config", getEnv("CONFIG_FILE", "config/agents.yaml"), "Agent configuration file")
	httpPort   = flag.Int("http-port", getEnvInt("PORT", 8080), "HTTP server port")
)

func main() {
	flag.Parse()

	log.Printf("Starting agentgrid v%s", Version)
	log.Printf("Config: %s, HTTP Port: %d", *configFile, *httpPort)

	if err := observability.InitFromEnv(); err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	}

	obs.InitMetrics()

	loader := agentgrid.NewConfigLoader(&agentgrid.OSFileReader{})
	config, err := loader.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	agents, err := config.Build(luahost.Factory)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	healthChecker := obs.InitHealthChecker()
	healthChecker.RegisterCheck(obs.PingCheck())
	healthChecker.RegisterCheck(obs.InFlightCheck(agents.TotalInFlight, 100000))

	obsServer := obs.NewServer(*httpPort)
	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on :%d", *httpPort)
		if err := obsServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	log.Printf("Started %d agent(s). Press Ctrl+C to stop.", len(agents.List()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Printf("Error: %v", err)
	case <-quit:
		log.Println("Shutting down...")
	}

	// Drain, then tear down: senders are the agents themselves, so wait for
	// the in-flight counter before releasing the receivers.
	agents.WaitUntilEmpty()
	if err := agents.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := obsServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := observability.Shutdown(ctx); err != nil {
		log.Printf("Warning: failed to shutdown tracing: %v", err)
	}

	log.Println("agentgrid stopped")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
