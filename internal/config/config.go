// Package config loads the bot configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultETAMessage is sent after every confirmed order unless ORDER_ETA_MESSAGE is set.
const DefaultETAMessage = "Your order {order_id} is on its way! Expect delivery within 45 minutes."

// Config holds everything main needs to wire the service.
type Config struct {
	Port        string
	Environment string

	// Storage
	UseMemoryStore         bool
	DBDriver               string
	DBHost                 string
	DBPort                 int
	DBUser                 string
	DBPass                 string
	DBName                 string
	DBPath                 string
	InstanceConnectionName string

	// Sessions
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Orders
	OrderETAMessage     string
	DeliveryPhoneNumber string
	CurrencySymbol      string

	// Outbound delivery
	OutboundMaxAttempts    int
	OutboundBackoff        time.Duration
	OutboundMaxBackoff     time.Duration
	OutboundSendTimeout    time.Duration
	OutboundMaxConcurrency int

	// Twilio
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioWhatsAppFrom       string
	DisableWebhookValidation bool
	PublicBaseURL            string

	// Admin API
	AdminAPIToken string

	// Nutritionist
	OpenAIAPIKey   string
	NutritionModel string

	// Events
	AMQPURL      string
	AMQPExchange string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads .env (outside Cloud Run) and then the process environment.
func Load() *Config {
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		if err := godotenv.Load(".env"); err != nil {
			_ = godotenv.Load("environments/.env.development")
		}
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		UseMemoryStore:         getEnvBool("USE_MEMORY_STORE", false),
		DBDriver:               getEnv("DB_DRIVER", "postgres"),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnvInt("DB_PORT", 5432),
		DBUser:                 getEnv("DB_USER", "postgres"),
		DBPass:                 os.Getenv("DB_PASS"),
		DBName:                 getEnv("DB_NAME", "foodbot"),
		DBPath:                 getEnv("DB_PATH", "foodbot.db"),
		InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),

		SessionTTL:           time.Duration(getEnvInt("SESSION_TTL_SECONDS", 10800)) * time.Second,
		SessionSweepInterval: time.Duration(getEnvInt("SESSION_SWEEP_INTERVAL_SECONDS", 300)) * time.Second,

		OrderETAMessage:     getEnv("ORDER_ETA_MESSAGE", DefaultETAMessage),
		DeliveryPhoneNumber: os.Getenv("DELIVERY_PHONE_NUMBER"),
		CurrencySymbol:      getEnv("CURRENCY_SYMBOL", "₦"),

		OutboundMaxAttempts:    getEnvInt("OUTBOUND_MAX_ATTEMPTS", 3),
		OutboundBackoff:        time.Duration(getEnvInt("OUTBOUND_BACKOFF_MS", 500)) * time.Millisecond,
		OutboundMaxBackoff:     time.Duration(getEnvInt("OUTBOUND_MAX_BACKOFF_MS", 5000)) * time.Millisecond,
		OutboundSendTimeout:    time.Duration(getEnvInt("OUTBOUND_SEND_TIMEOUT_MS", 10000)) * time.Millisecond,
		OutboundMaxConcurrency: getEnvInt("OUTBOUND_MAX_CONCURRENCY", 64),

		TwilioAccountSID:         os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:          os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppFrom:       os.Getenv("TWILIO_WHATSAPP_FROM"),
		DisableWebhookValidation: getEnvBool("DISABLE_WEBHOOK_VALIDATION", false),
		PublicBaseURL:            strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),

		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		NutritionModel: getEnv("NUTRITION_MODEL", "gpt-4o-mini"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "foodbot_events"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// IsProduction reports whether we are running on Cloud Run.
func (c *Config) IsProduction() bool {
	return c.InstanceConnectionName != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}
