package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database (optional, lead archive)
	DatabaseURL string

	// Redis
	RedisURL string

	// Session tokens
	SessionSecret string
	SessionTTL    time.Duration

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiTTSModel       string
	GeminiConcurrentReqs int
	GeminiTemperature    float64
	GeminiTopP           float64
	DefaultVoice         string

	// Conversation
	HistoryLimit      int
	NotifyThreshold   int
	ContactPhone      string
	MessagesPerMinute int

	// SMTP
	SMTPHost   string
	SMTPPort   string
	SMTPUser   string
	SMTPPass   string
	SMTPFrom   string
	AdminEmail string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		RedisURL:             mustGetEnv("REDIS_URL"),
		SessionSecret:        mustGetEnv("SESSION_SECRET"),
		SessionTTL:           getEnvAsDurationOrDefault("SESSION_TTL", 30*24*time.Hour),
		GeminiAPIKey:         mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiTTSModel:       getEnvOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GeminiTemperature:    getEnvAsFloatOrDefault("GEMINI_TEMPERATURE", 0.7),
		GeminiTopP:           getEnvAsFloatOrDefault("GEMINI_TOP_P", 0.95),
		DefaultVoice:         getEnvOrDefault("DEFAULT_VOICE", "Kore"),
		HistoryLimit:         getEnvAsIntOrDefault("HISTORY_LIMIT", 20),
		NotifyThreshold:      getEnvAsIntOrDefault("NOTIFY_THRESHOLD", 60),
		ContactPhone:         getEnvOrDefault("CONTACT_PHONE", "6 56 30 48 18"),
		MessagesPerMinute:    getEnvAsIntOrDefault("MESSAGES_PER_MINUTE", 30),
		SMTPHost:             getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:             getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:             getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:             getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:             getEnvOrDefault("SMTP_FROM", "douly@doulia.ai"),
		AdminEmail:           getEnvOrDefault("ADMIN_EMAIL", "contact@doulia.ai"),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// WebSocketOrigin is the only origin allowed to open a websocket. It is empty
// outside production, where any origin may connect.
func (c *Config) WebSocketOrigin() string {
	if c.IsProduction() {
		return c.FrontendURL
	}
	return ""
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

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
