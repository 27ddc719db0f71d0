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

	"github.com/google/uuid"

	"cropdoc-backend/internal/config"
	"cropdoc-backend/internal/database"
	"cropdoc-backend/internal/gemini"
	"cropdoc-backend/internal/handlers"
	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/middleware"
	"cropdoc-backend/internal/models"
	"cropdoc-backend/internal/orchestrator"
	"cropdoc-backend/internal/router"
	"cropdoc-backend/internal/services"
	"cropdoc-backend/internal/sessions"
	"cropdoc-backend/internal/websocket"
)

func main() {
	log.Println("🚀 Starting CropDoc Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 3: Initialize Gemini Clients ────
	gate := services.NewRateGate(cfg.GeminiConcurrentReqs)

	diagnosisService, err := services.NewDiagnosisService(cfg.GeminiAPIKey, cfg.GeminiAnalysisModel, gate)
	if err != nil {
		log.Fatalf("✗ Gemini client initialization failed: %v", err)
	}
	defer diagnosisService.Close()

	restClient, err := gemini.NewClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("✗ Gemini REST client initialization failed: %v", err)
	}
	speechService := services.NewSpeechService(restClient, cfg.GeminiTTSModel, gate)
	chatFactory := services.NewChatFactory(restClient, cfg.GeminiChatModel)
	log.Printf("✓ Gemini clients initialized (analysis: %s, chat: %s, tts: %s)",
		cfg.GeminiAnalysisModel, cfg.GeminiChatModel, cfg.GeminiTTSModel)

	// ──── Step 4: Session Registry ────
	publisher := services.NewRedisPublisher(redisClients.Publish)
	deps := orchestrator.Deps{
		Diagnoser:   diagnosisService,
		Synthesizer: speechService,
		Conversations: func(result models.DiagnosisResult, lang i18n.Language) (orchestrator.Conversation, error) {
			conv, err := services.NewConversationSession(result, lang, chatFactory, gate)
			if err != nil {
				return nil, err
			}
			return conv, nil
		},
		Publisher:       publisher,
		Language:        cfg.DefaultLanguage,
		AudioErrorClear: cfg.AudioErrorClear,
	}
	store := sessions.NewStore(func(id string) *orchestrator.Session {
		return orchestrator.NewSession(id, deps)
	}, cfg.SessionTTL)

	// ──── Step 5: Start WebSocket Hub ────
	sessionAuth := middleware.NewSessionAuth(cfg.SessionSecret)
	wsHub := websocket.NewHub(redisClients.Subscribe, sessionAuth, store, cfg.FrontendURL)
	log.Println("✓ WebSocket hub started")

	// sessions with an open tab are never swept
	store.SetInUse(func(id uuid.UUID) bool { return wsHub.Connections(id) > 0 })
	store.Start(time.Minute)
	log.Printf("✓ Session store started (idle TTL %s)", cfg.SessionTTL)

	// ──── Step 6: Start HTTP Server ────
	analyzeLimiter := middleware.NewRateLimiter(cfg.AnalyzeRatePerMin, time.Minute)
	sessionHandler := handlers.NewSessionHandler(store, sessionAuth, cfg.MaxUploadBytes)

	r := router.New(
		sessionAuth,
		analyzeLimiter,
		sessionHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// analysis and speech calls are answered in-request
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		analyzeLimiter.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		store.Stop()
	}()

	log.Printf("✓ CropDoc Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
