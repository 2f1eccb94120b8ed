/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payroll-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RedisJobLockPrefix   string `mapstructure:"REDIS_JOB_LOCK_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	DisbursementQueue    string `mapstructure:"DISBURSEMENT_QUEUE"`

	ClerkJWKSURL   string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Optional JWT claim enforcement; empty disables the check.
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`

	ContractServiceURL            string `mapstructure:"CONTRACT_SERVICE_URL"`
	ContractServiceInternalAPIKey string `mapstructure:"CONTRACT_SERVICE_INTERNAL_API_KEY"`
	ProfileServiceURL             string `mapstructure:"PROFILE_SERVICE_URL"`
	ProfileServiceInternalAPIKey  string `mapstructure:"PROFILE_SERVICE_INTERNAL_API_KEY"`

	Currency string `mapstructure:"CURRENCY"`

	// MTN Mobile Money credentials.
	MTNAPIBaseURL      string `mapstructure:"MTN_API_BASE_URL"`
	MTNAPIKey          string `mapstructure:"MTN_API_KEY"`
	MTNSubscriptionKey string `mapstructure:"MTN_SUBSCRIPTION_KEY"`
	MTNTargetEnv       string `mapstructure:"MTN_TARGET_ENVIRONMENT"`
	MTNCallbackURL     string `mapstructure:"MTN_CALLBACK_URL"`
	MTNWebhookSecret   string `mapstructure:"MTN_WEBHOOK_SECRET"`

	// Airtel Money credentials.
	AirtelAPIBaseURL    string `mapstructure:"AIRTEL_API_BASE_URL"`
	AirtelClientID      string `mapstructure:"AIRTEL_CLIENT_ID"`
	AirtelClientSecret  string `mapstructure:"AIRTEL_CLIENT_SECRET"`
	AirtelCountry       string `mapstructure:"AIRTEL_COUNTRY"`
	AirtelWebhookSecret string `mapstructure:"AIRTEL_WEBHOOK_SECRET"`

	// Flutterwave credentials.
	FlutterwaveAPIBaseURL  string `mapstructure:"FLUTTERWAVE_API_BASE_URL"`
	FlutterwaveSecretKey   string `mapstructure:"FLUTTERWAVE_SECRET_KEY"`
	FlutterwaveWebhookHash string `mapstructure:"FLUTTERWAVE_WEBHOOK_HASH"`
	FlutterwaveRedirectURL string `mapstructure:"FLUTTERWAVE_REDIRECT_URL"`

	// Job schedules (cron expressions).
	InvoiceGenerationSchedule string `mapstructure:"INVOICE_GENERATION_SCHEDULE"`
	DisbursementSchedule      string `mapstructure:"DISBURSEMENT_SCHEDULE"`
	OverdueSweepSchedule      string `mapstructure:"OVERDUE_SWEEP_SCHEDULE"`
	ReconciliationSchedule    string `mapstructure:"RECONCILIATION_SCHEDULE"`

	InvoiceDueDays           int `mapstructure:"INVOICE_DUE_DAYS"`
	PollIntervalSeconds      int `mapstructure:"POLL_INTERVAL_SECONDS"`
	PollMaxAttempts          int `mapstructure:"POLL_MAX_ATTEMPTS"`
	ReconciliationAgeHours   int `mapstructure:"RECONCILIATION_AGE_HOURS"`
	JobLockTTLMinutes        int `mapstructure:"JOB_LOCK_TTL_MINUTES"`
	WebhookRateLimitPerMin   int `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DISBURSEMENT_QUEUE", "payroll_service.disbursements_due")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "payroll:rate_limit")
	viper.SetDefault("REDIS_JOB_LOCK_PREFIX", "payroll:job")
	viper.SetDefault("CURRENCY", "UGX")
	viper.SetDefault("MTN_TARGET_ENVIRONMENT", "sandbox")
	viper.SetDefault("AIRTEL_COUNTRY", "UG")
	viper.SetDefault("INVOICE_GENERATION_SCHEDULE", "0 6 25 * *")
	viper.SetDefault("DISBURSEMENT_SCHEDULE", "0 8 28 * *")
	viper.SetDefault("OVERDUE_SWEEP_SCHEDULE", "0 9 * * *")
	viper.SetDefault("RECONCILIATION_SCHEDULE", "0 */4 * * *")
	viper.SetDefault("INVOICE_DUE_DAYS", 10)
	viper.SetDefault("POLL_INTERVAL_SECONDS", 30)
	viper.SetDefault("POLL_MAX_ATTEMPTS", 10)
	viper.SetDefault("RECONCILIATION_AGE_HOURS", 6)
	viper.SetDefault("JOB_LOCK_TTL_MINUTES", 10)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYROLL_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("REDIS_JOB_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DISBURSEMENT_QUEUE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYROLL_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("CONTRACT_SERVICE_URL")
	_ = viper.BindEnv("CONTRACT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PROFILE_SERVICE_URL")
	_ = viper.BindEnv("PROFILE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CURRENCY")
	_ = viper.BindEnv("MTN_API_BASE_URL")
	_ = viper.BindEnv("MTN_API_KEY")
	_ = viper.BindEnv("MTN_SUBSCRIPTION_KEY")
	_ = viper.BindEnv("MTN_TARGET_ENVIRONMENT")
	_ = viper.BindEnv("MTN_CALLBACK_URL")
	_ = viper.BindEnv("MTN_WEBHOOK_SECRET")
	_ = viper.BindEnv("AIRTEL_API_BASE_URL")
	_ = viper.BindEnv("AIRTEL_CLIENT_ID")
	_ = viper.BindEnv("AIRTEL_CLIENT_SECRET")
	_ = viper.BindEnv("AIRTEL_COUNTRY")
	_ = viper.BindEnv("AIRTEL_WEBHOOK_SECRET")
	_ = viper.BindEnv("FLUTTERWAVE_API_BASE_URL")
	_ = viper.BindEnv("FLUTTERWAVE_SECRET_KEY")
	_ = viper.BindEnv("FLUTTERWAVE_WEBHOOK_HASH")
	_ = viper.BindEnv("FLUTTERWAVE_REDIRECT_URL")
	_ = viper.BindEnv("INVOICE_GENERATION_SCHEDULE")
	_ = viper.BindEnv("DISBURSEMENT_SCHEDULE")
	_ = viper.BindEnv("OVERDUE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RECONCILIATION_SCHEDULE")
	_ = viper.BindEnv("INVOICE_DUE_DAYS")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("RECONCILIATION_AGE_HOURS")
	_ = viper.BindEnv("JOB_LOCK_TTL_MINUTES")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYROLL_SERVICE_INTERNAL_API_KEY"))
	}
	config.ContractServiceInternalAPIKey = strings.TrimSpace(config.ContractServiceInternalAPIKey)
	if config.ContractServiceInternalAPIKey == "" {
		config.ContractServiceInternalAPIKey = config.InternalAPIKey
	}
	config.ProfileServiceInternalAPIKey = strings.TrimSpace(config.ProfileServiceInternalAPIKey)
	if config.ProfileServiceInternalAPIKey == "" {
		config.ProfileServiceInternalAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "payroll:rate_limit"
	}
	config.RedisJobLockPrefix = strings.TrimSpace(config.RedisJobLockPrefix)
	if config.RedisJobLockPrefix == "" {
		config.RedisJobLockPrefix = "payroll:job"
	}
	config.Currency = strings.ToUpper(strings.TrimSpace(config.Currency))
	if config.Currency == "" {
		config.Currency = "UGX"
	}

	if config.InvoiceDueDays <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive invoice due days; using default\" value=%d", config.InvoiceDueDays)
		config.InvoiceDueDays = 10
	}
	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = 30
	}
	if config.PollMaxAttempts <= 0 {
		config.PollMaxAttempts = 10
	}
	if config.ReconciliationAgeHours <= 0 {
		config.ReconciliationAgeHours = 6
	}
	if config.JobLockTTLMinutes <= 0 {
		config.JobLockTTLMinutes = 10
	}
	if config.WebhookRateLimitPerMin <= 0 {
		config.WebhookRateLimitPerMin = 120
	}

	return config, nil
}
