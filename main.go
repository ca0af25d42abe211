package main

import (
	"log"
	"net/http"
	"os"

	"finance-sync-service/internal/database"
	"finance-sync-service/internal/handlers"
	"finance-sync-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	// Redis/Asynq Client
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	// Services
	ledgerClient := services.NewLedgerClient()
	tokenService := services.NewTokenService(db, ledgerClient)
	writer := services.NewTransactionWriter(db)
	checkpoints := services.NewCheckpointService(db)
	enricher := services.NewEnrichmentService(db, ledgerClient, writer, checkpoints)
	notifier := services.NewNotificationService()
	syncService := services.NewSyncService(db, tokenService, ledgerClient, writer, checkpoints, enricher, notifier, asynqClient)
	dashboardService := services.NewDashboardService(db)

	// Handlers
	syncHandler := handlers.NewSyncHandler(syncService, dashboardService)
	transactionHandler := handlers.NewTransactionHandler(db)

	// Initialize Gin
	r := gin.Default()

	// Ping endpoint
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Welcome to School Finance Sync service",
		})
	})

	// Read routes for the dashboard UI
	r.GET("/sync/status", syncHandler.Status)
	r.GET("/transactions", transactionHandler.GetTransactions)
	r.GET("/dashboard/summary", syncHandler.Summary)

	// Admin-gated sync operations
	admin := r.Group("/", adminAuth())
	admin.POST("/sync/start", syncHandler.StartSync)
	admin.POST("/sync/pause", syncHandler.PauseSync)
	admin.POST("/sync/clear", syncHandler.Clear)

	// Start stalled-sync sweep
	syncService.StartScheduler()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

// adminAuth is the admin yes/no gate in front of sync triggers. Real
// authentication lives upstream; this only checks the shared key.
func adminAuth() gin.HandlerFunc {
	adminKey := os.Getenv("ADMIN_API_KEY")
	return func(c *gin.Context) {
		if adminKey == "" || c.GetHeader("X-Api-Key") != adminKey {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}
