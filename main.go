// api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"amplisync/api/amplitude"
	"amplisync/api/database"
	"amplisync/api/handlers"
	"amplisync/api/middleware"
	"amplisync/api/store"
	"amplisync/api/sync"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Time zone for date/time localization ---
	tzName := envDefault("SYNC_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Fatalf("Invalid SYNC_TIMEZONE %q: %v", tzName, err)
	}

	// --- Initialize PostgreSQL Database (system of record) ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	if err := database.Migrate(dbClient.DB); err != nil {
		log.Fatalf("Failed to migrate database schema: %v", err)
	}

	// --- Initialize Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	mobileStore := store.NewMobileStore(dbClient.DB)
	scheduleStore := store.NewScheduleStore(dbClient.DB)

	// --- Initialize Amplitude export client ---
	ampClient := amplitude.NewClient(amplitude.Config{
		URL:           os.Getenv("AMPLITUDE_EXPORT_URL"),
		APIKey:        os.Getenv("AMPLITUDE_API_KEY"),
		SecretKey:     os.Getenv("AMPLITUDE_SECRET_KEY"),
		Timeout:       time.Duration(envInt("AMPLITUDE_TIMEOUT_SECONDS", 60)) * time.Second,
		SkipMalformed: os.Getenv("AMPLITUDE_SKIP_MALFORMED") == "true",
	})

	// --- Initialize sync pipeline ---
	syncService := sync.NewService(ampClient, mobileStore, sync.Config{
		MobileEventTypes: splitList(os.Getenv("AMPLITUDE_MOBILE_EVENT_TYPES")),
		Location:         loc,
	})

	// --- Initialize optional ClickHouse warehouse mirror ---
	var warehouse *store.WarehouseStore
	if os.Getenv("CLICKHOUSE_HOST") != "" {
		chClient, err := database.NewClickHouseDB()
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse database: %v", err)
		}
		defer chClient.Close()

		warehouse = store.NewWarehouseStore(chClient)
		if err := warehouse.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate ClickHouse schema: %v", err)
		}
		syncService.AttachWarehouse(warehouse)
	} else {
		log.Println("CLICKHOUSE_HOST not set; event warehouse mirror disabled.")
	}

	// --- Initialize Handlers ---
	authHandlers := handlers.NewAuthHandlers(userStore)
	amplitudeHandlers := handlers.NewAmplitudeHandlers(mobileStore.Daily, scheduleStore, syncService, warehouse, loc)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Authentication Endpoints (no authentication required)
		api.POST("/signup", authHandlers.Signup)
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)
		// Protected Routes (require a valid JWT token)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			amplitudeGroup := protected.Group("/amplitude")
			{
				amplitudeGroup.GET("/today-mobile-activity", amplitudeHandlers.ListDailyActivity)
				amplitudeGroup.POST("/sync/run", amplitudeHandlers.RunSync)
				amplitudeGroup.GET("/schedule", amplitudeHandlers.GetSchedule)
				amplitudeGroup.PUT("/schedule", amplitudeHandlers.UpdateSchedule)

				statsGroup := amplitudeGroup.Group("/stats")
				{
					statsGroup.GET("/event-counts", amplitudeHandlers.GetEventCountsOverTime)
					statsGroup.GET("/unique-devices", amplitudeHandlers.GetUniqueDevicesOverTime)
					statsGroup.GET("/top-event-types", amplitudeHandlers.GetTopEventTypes)
				}
			}
		}
	}

	// --- Scheduler loop (at most one sync run per day, gated in the DB) ---
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	if os.Getenv("SYNC_SCHEDULER_ENABLED") != "false" {
		scheduler := sync.NewScheduler(dbClient.DB, scheduleStore, syncService, loc)
		go scheduler.RunLoop(schedulerCtx)
		log.Println("Sync scheduler started (minute resolution).")
	} else {
		log.Println("SYNC_SCHEDULER_ENABLED=false; sync scheduler disabled.")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Amplitude sync API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}

func envDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
