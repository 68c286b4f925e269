package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"planpal/api/internal/app"
	"planpal/api/internal/attachments"
	"planpal/api/internal/chatbot"
	"planpal/api/internal/config"
	"planpal/api/internal/feed"
	"planpal/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	chatStore := store.NewChatStore(db)
	log.Printf("chat schema variant: %s", chatStore.DetectVariant(ctx))

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	chatStore.SetNotifier(feed.NewPublisher(redisClient))

	var generator chatbot.Generator
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		generator = chatbot.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	} else {
		log.Printf("WARNING: GEMINI_API_KEY not set, chatbot will answer with setup instructions")
	}
	bot := chatbot.NewPipeline(chatStore, generator, cfg.BotUserID)

	var uploads *attachments.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		uploads, err = attachments.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPublicURL, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	} else {
		log.Printf("attachment storage not configured, uploads disabled")
	}

	var service *app.Service
	if uploads != nil {
		service = app.NewService(cfg, chatStore, bot, uploads)
	} else {
		service = app.NewService(cfg, chatStore, bot, nil)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("PlanPal chat API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
