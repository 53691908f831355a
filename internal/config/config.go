package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Gemini (word-level caption transcription)
	GeminiAPIKey         string
	GeminiConcurrentReqs int

	// External media services
	SeparationURL   string
	SeparationKey   string
	VoiceCloneURL   string
	VoiceCloneKey   string
	AvatarURL       string
	AvatarKey       string
	ComposerURL     string
	ComposerKey     string
	StageTimeoutSec int

	// Worker pool
	WorkerCount int

	// Storage
	StoragePath  string
	MediaBaseURL string

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 4),

		SeparationURL:   mustGetEnv("SEPARATION_SERVICE_URL"),
		SeparationKey:   getEnvOrDefault("SEPARATION_SERVICE_KEY", ""),
		VoiceCloneURL:   mustGetEnv("VOICE_CLONE_SERVICE_URL"),
		VoiceCloneKey:   getEnvOrDefault("VOICE_CLONE_SERVICE_KEY", ""),
		AvatarURL:       mustGetEnv("AVATAR_SERVICE_URL"),
		AvatarKey:       getEnvOrDefault("AVATAR_SERVICE_KEY", ""),
		ComposerURL:     mustGetEnv("COMPOSER_SERVICE_URL"),
		ComposerKey:     getEnvOrDefault("COMPOSER_SERVICE_KEY", ""),
		StageTimeoutSec: getEnvAsIntOrDefault("STAGE_TIMEOUT_SECONDS", 600),

		WorkerCount: getEnvAsIntOrDefault("WORKER_COUNT", 3),

		StoragePath:  getEnvOrDefault("STORAGE_PATH", "./media"),
		MediaBaseURL: getEnvOrDefault("MEDIA_BASE_URL", "http://localhost:8080/media"),

		SMTPHost: getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort: getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser: getEnvOrDefault("SMTP_USER", ""),
		SMTPPass: getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom: getEnvOrDefault("SMTP_FROM", "noreply@fablevoice.app"),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
