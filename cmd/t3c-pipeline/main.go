// t3c-pipeline worker - pulls report jobs from the queue and runs the
// deliberation report pipeline against the configured LLM providers.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/AIObjectives/t3c-pipeline/pkg/cleanup"
	"github.com/AIObjectives/t3c-pipeline/pkg/config"
	"github.com/AIObjectives/t3c-pipeline/pkg/pipeline"
	"github.com/AIObjectives/t3c-pipeline/pkg/queue"
	"github.com/AIObjectives/t3c-pipeline/pkg/stages"
	"github.com/AIObjectives/t3c-pipeline/pkg/state"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", "./deploy/t3c.yaml"),
		"Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", *envPath, err)
		log.Printf("Continuing with existing environment variables...")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		log.Fatalf("Missing LLM API key: environment variable %s is empty", cfg.LLM.APIKeyEnv)
	}

	client, err := state.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}()

	store := state.NewStore(client, state.WithTTL(cfg.Pipeline.StateTTL))
	runner := pipeline.NewRunner(store,
		pipeline.NewExecutors(nil, stages.WithConcurrency(cfg.Pipeline.StageConcurrency)),
		pipeline.Options{
			Timeout:           cfg.Pipeline.Timeout,
			ValidationCeiling: cfg.Pipeline.ValidationFailureCeiling,
			LockLease:         cfg.Pipeline.LockLease,
		})

	podID := getEnv("POD_ID", "t3c")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := queue.NewWorkerPool(podID, queue.NewQueue(client), runner, store, apiKey, cfg.Queue)
	pool.Start(ctx)

	retention := cleanup.NewService(cfg.Retention, store)
	retention.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	retention.Stop()
	pool.Stop()
	log.Println("Shutdown complete")
}
