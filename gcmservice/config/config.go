// --- File: gcmservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"
	ProviderWeb  = "web"

	DefaultRetryTimes = 3
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// ClaimTTL bounds how long an in-flight claim blocks redelivery.
	ClaimTTL time.Duration
	// DispatchedTTL is how long a dispatched message id is remembered.
	DispatchedTTL time.Duration
}

// GCMConfig configures the Dispatcher. APIKey is interpreted by the
// provider: FCM credentials JSON or file path, APNs .p8 contents, or the
// VAPID private key.
type GCMConfig struct {
	Provider       string
	APIKey         string
	RetryTimes     int
	DryRun         bool
	LegacyBatching bool
}

type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

type VapidConfig struct {
	PublicKey       string
	SubscriberEmail string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	GCM        GCMConfig
	APNS       APNSConfig
	Vapid      VapidConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// GCM Overrides
	if val := os.Getenv("GCM_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "GCM_PROVIDER", "source", "env")
		cfg.GCM.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("GCM_API_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "GCM_API_KEY", "source", "env")
		cfg.GCM.APIKey = val
	}
	if val := os.Getenv("GCM_RETRY_TIMES"); val != "" {
		retries, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("GCM_RETRY_TIMES must be an integer: %w", err)
		}
		logger.Debug("Overriding config value", "key", "GCM_RETRY_TIMES", "source", "env")
		cfg.GCM.RetryTimes = retries
	}
	if val := os.Getenv("GCM_DRY_RUN"); val != "" {
		dryRun, _ := strconv.ParseBool(val)
		cfg.GCM.DryRun = dryRun
	}
	if val := os.Getenv("GCM_LEGACY_BATCHING"); val != "" {
		legacy, _ := strconv.ParseBool(val)
		cfg.GCM.LegacyBatching = legacy
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_PRODUCTION"); val != "" {
		production, _ := strconv.ParseBool(val)
		cfg.APNS.Production = production
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if err := validateGCM(cfg); err != nil {
		return nil, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.ClaimTTL <= 0 {
		cfg.Redis.ClaimTTL = 5 * time.Minute
	}
	if cfg.Redis.DispatchedTTL <= 0 {
		cfg.Redis.DispatchedTTL = 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validateGCM(cfg *Config) error {
	if cfg.GCM.Provider == "" {
		cfg.GCM.Provider = ProviderFCM
	}
	if cfg.GCM.APIKey == "" {
		return fmt.Errorf("gcm.api_key is required (set via YAML or GCM_API_KEY env var)")
	}
	if cfg.GCM.RetryTimes < 0 {
		return fmt.Errorf("gcm.retry_times must not be negative, got %d", cfg.GCM.RetryTimes)
	}

	switch cfg.GCM.Provider {
	case ProviderFCM:
	case ProviderAPNS:
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" {
			return fmt.Errorf("apns provider requires key_id, team_id and bundle_id")
		}
	case ProviderWeb:
		if cfg.Vapid.PublicKey == "" {
			return fmt.Errorf("web provider requires vapid.public_key (or VAPID_PUBLIC_KEY env var)")
		}
	default:
		return fmt.Errorf("unknown gcm.provider %q: want %s, %s or %s", cfg.GCM.Provider, ProviderFCM, ProviderAPNS, ProviderWeb)
	}
	return nil
}
