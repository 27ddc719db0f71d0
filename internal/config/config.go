package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"cropdoc-backend/internal/i18n"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Redis
	RedisURL string

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration

	// Gemini AI
	GeminiAPIKey         string
	GeminiAnalysisModel  string
	GeminiChatModel      string
	GeminiTTSModel       string
	GeminiConcurrentReqs int

	// Behaviour
	DefaultLanguage   i18n.Language
	MaxUploadBytes    int64
	AudioErrorClear   time.Duration
	AnalyzeRatePerMin int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		RedisURL:             mustGetEnv("REDIS_URL"),
		SessionSecret:        mustGetEnv("SESSION_SECRET"),
		SessionTTL:           time.Duration(getEnvAsIntOrDefault("SESSION_TTL_MINUTES", 60)) * time.Minute,
		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiAnalysisModel:  getEnvOrDefault("GEMINI_ANALYSIS_MODEL", "gemini-2.5-flash"),
		GeminiChatModel:      getEnvOrDefault("GEMINI_CHAT_MODEL", "gemini-2.5-flash"),
		GeminiTTSModel:       getEnvOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		DefaultLanguage:      i18n.Parse(getEnvOrDefault("DEFAULT_LANGUAGE", "bn"), i18n.Bengali),
		MaxUploadBytes:       int64(getEnvAsIntOrDefault("MAX_UPLOAD_MB", 10)) << 20,
		AudioErrorClear:      time.Duration(getEnvAsIntOrDefault("AUDIO_ERROR_CLEAR_SECONDS", 5)) * time.Second,
		AnalyzeRatePerMin:    getEnvAsIntOrDefault("ANALYZE_RATE_LIMIT_PER_MIN", 20),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
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
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
