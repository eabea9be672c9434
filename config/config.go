package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MQTT
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// HTTP
	ListenAddr string

	// Application
	LogLevel string

	// Payment compliance threshold, read-only for the control core.
	GracePeriodDays int

	// Device command policy
	CommandExpiry    time.Duration
	CommandMaxRetry  int
	RetryBackoff     time.Duration
	ResponseTimeout  time.Duration

	// Sweep intervals
	ScheduledSweepInterval time.Duration
	ExpirySweepInterval    time.Duration
	RetrySweepInterval     time.Duration
	PaymentSweepInterval   time.Duration
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "solar_control"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "solar-control"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		GracePeriodDays: getEnvInt("GRACE_PERIOD_DAYS", 7),

		CommandExpiry:   getEnvDuration("COMMAND_EXPIRY_HOURS", 24, time.Hour),
		CommandMaxRetry: getEnvInt("COMMAND_MAX_RETRIES", 3),
		RetryBackoff:    getEnvDuration("RETRY_BACKOFF_MINUTES", 5, time.Minute),
		ResponseTimeout: getEnvDuration("RESPONSE_TIMEOUT_MINUTES", 30, time.Minute),

		ScheduledSweepInterval: getEnvDuration("SCHEDULED_SWEEP_SECONDS", 60, time.Second),
		ExpirySweepInterval:    getEnvDuration("EXPIRY_SWEEP_SECONDS", 60, time.Second),
		RetrySweepInterval:     getEnvDuration("RETRY_SWEEP_SECONDS", 120, time.Second),
		PaymentSweepInterval:   getEnvDuration("PAYMENT_SWEEP_SECONDS", 3600, time.Second),
	}
}

// GracePeriod returns the payment grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue int, unit time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * unit
}
