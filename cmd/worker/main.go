package main

import (
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"finance-sync-service/internal/consumers"
	"finance-sync-service/internal/database"
	"finance-sync-service/internal/services"
	"finance-sync-service/internal/worker"
)

func main() {
	// Load env
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found in ../../.env, trying .env")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found, using system env")
		}
	}

	// Connect DB
	database.Connect()
	db := database.DB

	// Redis
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	// The worker needs its own client so continuation rounds it runs can
	// enqueue the next round.
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Services
	ledgerClient := services.NewLedgerClient()
	tokenService := services.NewTokenService(db, ledgerClient)
	writer := services.NewTransactionWriter(db)
	checkpoints := services.NewCheckpointService(db)
	enricher := services.NewEnrichmentService(db, ledgerClient, writer, checkpoints)
	notifier := services.NewNotificationService()
	syncService := services.NewSyncService(db, tokenService, ledgerClient, writer, checkpoints, enricher, notifier, asynqClient)

	// Processor
	processor := consumers.NewSyncProcessor(syncService)

	log.Println("Starting Asynq Worker...")
	worker.StartWorker(redisOpt, processor)
}
