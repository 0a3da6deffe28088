package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"douly-backend/internal/audio"
	"douly-backend/internal/config"
	"douly-backend/internal/conversation"
	"douly-backend/internal/database"
	"douly-backend/internal/handlers"
	"douly-backend/internal/middleware"
	"douly-backend/internal/repository"
	"douly-backend/internal/router"
	"douly-backend/internal/services"
	"douly-backend/internal/websocket"
	"douly-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Douly Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 3: Lead Archive (optional) ────
	var leadArchive services.LeadArchive
	var workerPool *worker.Pool
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("✗ PostgreSQL connection failed: %v", err)
		}
		defer pool.Close()
		log.Println("✓ PostgreSQL connected")

		if err := database.RunMigrations(context.Background(), pool, "migrations"); err != nil {
			log.Fatalf("✗ Database migration failed: %v", err)
		}
		log.Println("✓ Database migrations applied")

		workerPool = worker.NewPool(redisClients.Store, repository.NewLeadRepo(pool), 2)
		workerPool.Start()
		leadArchive = worker.NewLeadQueue(redisClients.Store)
		log.Println("✓ Lead archive workers started (2 goroutines)")
	} else {
		log.Println("⚠ DATABASE_URL not set, leads are not archived")
	}

	// ──── Step 4: Initialize Gemini Clients ────
	geminiService, err := services.NewGeminiService(
		cfg.GeminiAPIKey,
		cfg.GeminiModel,
		cfg.GeminiTemperature,
		cfg.GeminiTopP,
		cfg.GeminiConcurrentReqs,
	)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer geminiService.Close()
	speechService, err := services.NewSpeechService(cfg.GeminiAPIKey, cfg.GeminiTTSModel, cfg.DefaultVoice, "")
	if err != nil {
		log.Fatalf("✗ Speech client initialization failed: %v", err)
	}
	log.Printf("✓ Gemini clients initialized (%s, %s)", cfg.GeminiModel, cfg.GeminiTTSModel)

	// ──── Step 5: Initialize Services ────
	publisher := services.NewRedisPublisher(redisClients.PubSub)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	notifier := services.NewNotifier(emailService, leadArchive, cfg.AdminEmail, cfg.NotifyThreshold, cfg.ContactPhone)
	sessionStore := repository.NewSessionStore(redisClients.Store, cfg.HistoryLimit, cfg.SessionTTL)
	sessionAuth := middleware.NewSessionAuth(cfg.SessionSecret, cfg.SessionTTL)

	player := audio.NewPlayer(publisher)
	player.Start()
	log.Println("✓ Audio player started")

	// ──── Step 6: Start Conversation Manager ────
	manager := conversation.NewManager(conversation.Deps{
		Model:        geminiService,
		Speech:       speechService,
		Player:       player,
		Store:        sessionStore,
		Notifier:     notifier,
		Publisher:    publisher,
		ContactPhone: cfg.ContactPhone,
	}, time.Hour)
	manager.Start()
	log.Println("✓ Conversation manager started")

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, sessionAuth, cfg.WebSocketOrigin())
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	createLimiter := middleware.NewRateLimiter(10, time.Minute)
	messageLimiter := middleware.NewRateLimiter(cfg.MessagesPerMinute, time.Minute)
	r := router.New(
		sessionAuth,
		handlers.NewSessionHandler(manager, sessionAuth),
		createLimiter,
		messageLimiter,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// A turn covers the model call and speech synthesis.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)

		player.Stop()
		manager.Stop()
		createLimiter.Stop()
		messageLimiter.Stop()
		wsHub.Close()
		if workerPool != nil {
			workerPool.Stop()
		}
	}()

	log.Printf("✓ Douly Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
