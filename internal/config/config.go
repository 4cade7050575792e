package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string
	Timezone string

	WebhookJWTSecret   string
	AdminJWTSecret     string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	// Case store
	CaseStore            string
	CaseOrigin           string
	DatabaseURL          string
	SalesforceLoginURL   string
	SalesforceAPIVersion string
	SalesforceClientID   string
	SalesforceSecret     string
	SalesforceUsername   string
	SalesforcePassword   string
	SalesforceToken      string
	SalesforceTimeout    time.Duration
	SalesforceMaxRetries int

	// Turn log
	TurnLogStore             string
	TurnLogTable             string
	TurnLogTTL               time.Duration
	TurnLogQueueURL          string
	UseMemoryQueue           bool
	WorkerCount              int
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	RedisAddr                string
	RedisPassword            string
	RedisTLS                 bool
	ResponseCacheTTL         time.Duration
	BackgroundTimeout        time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	TranscriptArchiveBucket string
	ArchiveScrubPII         bool

	// Claims desk notification
	NotifyProvider    string
	ClaimsDeskEmail   string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TIMEZONE", "America/Toronto"),

		WebhookJWTSecret:   getEnv("WEBHOOK_JWT_SECRET", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		CaseStore:            strings.ToLower(strings.TrimSpace(getEnv("CASE_STORE", "memory"))),
		CaseOrigin:           getEnv("CASE_ORIGIN", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		SalesforceLoginURL:   getEnv("SFDC_LOGIN_URL", "https://login.salesforce.com"),
		SalesforceAPIVersion: getEnv("SFDC_API_VERSION", "v59.0"),
		SalesforceClientID:   getEnv("SFDC_CLIENT_ID", ""),
		SalesforceSecret:     getEnv("SFDC_CLIENT_SECRET", ""),
		SalesforceUsername:   getEnv("SFDC_USERNAME", ""),
		SalesforcePassword:   getEnv("SFDC_PASSWORD", ""),
		SalesforceToken:      getEnv("SFDC_SECURITY_TOKEN", ""),
		SalesforceTimeout:    getEnvAsDuration("SFDC_TIMEOUT", 10*time.Second),
		SalesforceMaxRetries: getEnvAsInt("SFDC_MAX_RETRIES", 2),

		TurnLogStore:             strings.ToLower(strings.TrimSpace(getEnv("TURN_LOG_STORE", "memory"))),
		TurnLogTable:             getEnv("TURN_LOG_TABLE", "turn_log"),
		TurnLogTTL:               getEnvAsDuration("TURN_LOG_TTL", 90*24*time.Hour),
		TurnLogQueueURL:          getEnv("TURN_LOG_QUEUE_URL", ""),
		UseMemoryQueue:           getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:              getEnvAsInt("WORKER_COUNT", 2),
		FirestoreProjectID:       getEnv("FIRESTORE_PROJECT_ID", ""),
		FirestoreCredentialsFile: getEnv("FIRESTORE_CREDENTIALS_FILE", ""),
		RedisAddr:                getEnv("REDIS_ADDR", ""),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		RedisTLS:                 getEnvAsBool("REDIS_TLS", false),
		ResponseCacheTTL:         getEnvAsDuration("RESPONSE_CACHE_TTL", 10*time.Minute),
		BackgroundTimeout:        getEnvAsDuration("BACKGROUND_TIMEOUT", 30*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		TranscriptArchiveBucket: getEnv("TRANSCRIPT_ARCHIVE_BUCKET", ""),
		ArchiveScrubPII:         getEnvAsBool("ARCHIVE_SCRUB_PII", true),

		NotifyProvider:    strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_PROVIDER", "none"))),
		ClaimsDeskEmail:   getEnv("CLAIMS_DESK_EMAIL", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Claims Assistant"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Claims Assistant"),
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
