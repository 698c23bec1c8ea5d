package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Inbound dispatch modes for the Telnyx webhook.
const (
	InboundModeInline = "inline"
	InboundModeAsync  = "async"
	InboundModeQueue  = "queue"
)

// Config holds application configuration
type Config struct {
	Port       string
	Env        string
	LogLevel   string
	ClinicName string

	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisTLS        bool
	SessionCacheTTL time.Duration

	// Debounce coordinator
	DebounceQuietWindow time.Duration
	DebounceLockTTL     time.Duration
	LockReaperInterval  time.Duration

	// Scheduling
	SchedulePolicyFile        string
	DefaultAppointmentMinutes int

	// Inbound messaging
	InboundMode              string
	InboundQueueURL          string
	WorkerCount              int
	WebhookRateLimit         float64
	WebhookRateBurst         int
	TelnyxAPIKey             string
	TelnyxWebhookSecret      string
	TelnyxFromNumber         string
	TelnyxMessagingProfileID string

	// Google Calendar
	GoogleCalendarID      string
	GoogleCredentialsJSON string

	// Conversation model
	LLMProvider    string
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AdminJWTSecret string

	// Staff notifications
	NotifyEmailTo     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SESFromEmail      string
}

// LoadDotEnv loads a .env file when present. Missing files are not an error.
func LoadDotEnv(paths ...string) bool {
	return godotenv.Load(paths...) == nil
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:       getEnv("PORT", "8080"),
		Env:        getEnv("ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		ClinicName: getEnv("CLINIC_NAME", "Clínica Dental"),

		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		SessionCacheTTL: getEnvAsDuration("SESSION_CACHE_TTL", 10*time.Minute),

		DebounceQuietWindow: getEnvAsDuration("DEBOUNCE_QUIET_WINDOW", 5*time.Second),
		DebounceLockTTL:     getEnvAsDuration("DEBOUNCE_LOCK_TTL", 30*time.Second),
		LockReaperInterval:  getEnvAsDuration("LOCK_REAPER_INTERVAL", 15*time.Second),

		SchedulePolicyFile:        getEnv("SCHEDULE_POLICY_FILE", ""),
		DefaultAppointmentMinutes: getEnvAsInt("DEFAULT_APPOINTMENT_MINUTES", 30),

		InboundMode:              strings.ToLower(strings.TrimSpace(getEnv("INBOUND_MODE", InboundModeAsync))),
		InboundQueueURL:          getEnv("INBOUND_QUEUE_URL", ""),
		WorkerCount:              getEnvAsInt("WORKER_COUNT", 4),
		WebhookRateLimit:         getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst:         getEnvAsInt("WEBHOOK_RATE_BURST", 40),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxWebhookSecret:      getEnv("TELNYX_WEBHOOK_SECRET", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),

		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		NotifyEmailTo:     getEnv("NOTIFY_EMAIL_TO", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
