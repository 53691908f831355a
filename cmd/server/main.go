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

	"fablevoice-backend/internal/config"
	"fablevoice-backend/internal/database"
	"fablevoice-backend/internal/handlers"
	"fablevoice-backend/internal/middleware"
	"fablevoice-backend/internal/pipeline"
	"fablevoice-backend/internal/repository"
	"fablevoice-backend/internal/router"
	"fablevoice-backend/internal/services"
	"fablevoice-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting FableVoice Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Client ────
	redisClient, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	userRepo := repository.NewUserRepo(pool)
	storyRepo := repository.NewStoryRepo(pool)
	profileRepo := repository.NewProfileRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Step 5: Initialize Media Services ────
	stageTimeout := time.Duration(cfg.StageTimeoutSec) * time.Second

	captionService, err := services.NewCaptionService(cfg.GeminiAPIKey, cfg.GeminiConcurrentReqs)
	if err != nil {
		log.Fatalf("✗ Caption client initialization failed: %v", err)
	}
	defer captionService.Close()
	log.Println("✓ Caption client initialized")

	artifactStore := services.NewArtifactStore(cfg.StoragePath, cfg.MediaBaseURL)
	separationService := services.NewSeparationService(cfg.SeparationURL, cfg.SeparationKey, stageTimeout)
	voiceCloneService := services.NewVoiceCloneService(cfg.VoiceCloneURL, cfg.VoiceCloneKey, stageTimeout)
	avatarService := services.NewAvatarService(cfg.AvatarURL, cfg.AvatarKey, stageTimeout)
	composerService := services.NewComposerService(cfg.ComposerURL, cfg.ComposerKey, stageTimeout)

	// ──── Initialize Auth & Email ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	authService := services.NewAuthService(userRepo, jwtAuth)

	// ──── Step 6: Assemble Pipeline ────
	orchestrator := pipeline.NewOrchestrator(
		jobRepo,
		storyRepo,
		profileRepo,
		pipeline.NewAnalysisRunner(separationService, captionService, artifactStore),
		pipeline.NewSynthesisRunner(voiceCloneService, avatarService, artifactStore),
		pipeline.NewCompositionRunner(composerService, artifactStore),
		stageTimeout,
	)

	// ──── Step 7: Start Job Worker Pool ────
	workerPool := worker.NewPool(redisClient, orchestrator, jobRepo, storyRepo, userRepo, emailService, cfg.WorkerCount)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	// ──── Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	storyHandler := handlers.NewStoryHandler(storyRepo, redisClient)
	profileHandler := handlers.NewProfileHandler(profileRepo)
	generationHandler := handlers.NewGenerationHandler(jobRepo, storyRepo, profileRepo, redisClient)
	userHandler := handlers.NewUserHandler(userRepo)

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		authHandler,
		storyHandler,
		profileHandler,
		generationHandler,
		userHandler,
		cfg.StoragePath,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ FableVoice Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
