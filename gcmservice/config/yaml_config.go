// --- File: gcmservice/config/yaml_config.go ---
package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr                 string `yaml:"addr"`
	Password             string `yaml:"password"`
	DB                   int    `yaml:"db"`
	Enabled              bool   `yaml:"enabled"`
	ClaimTTLSeconds      int    `yaml:"claim_ttl_seconds"`
	DispatchedTTLSeconds int    `yaml:"dispatched_ttl_seconds"`
}

// YamlGCMConfig uses pointers where an absent key must keep the default.
type YamlGCMConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	RetryTimes     *int   `yaml:"retry_times"`
	DryRun         bool   `yaml:"dry_run"`
	LegacyBatching *bool  `yaml:"legacy_batching"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	Production bool   `yaml:"production"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	GCMConfig              YamlGCMConfig   `yaml:"gcm"`
	APNSConfig             YamlAPNSConfig  `yaml:"apns"`
	VapidConfig            YamlVapidConfig `yaml:"vapid"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	retryTimes := DefaultRetryTimes
	if baseCfg.GCMConfig.RetryTimes != nil {
		retryTimes = *baseCfg.GCMConfig.RetryTimes
	}
	legacyBatching := true
	if baseCfg.GCMConfig.LegacyBatching != nil {
		legacyBatching = *baseCfg.GCMConfig.LegacyBatching
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:          baseCfg.RedisConfig.Addr,
			Password:      baseCfg.RedisConfig.Password,
			DB:            baseCfg.RedisConfig.DB,
			Enabled:       baseCfg.RedisConfig.Enabled,
			ClaimTTL:      time.Duration(baseCfg.RedisConfig.ClaimTTLSeconds) * time.Second,
			DispatchedTTL: time.Duration(baseCfg.RedisConfig.DispatchedTTLSeconds) * time.Second,
		},
		GCM: GCMConfig{
			Provider:       baseCfg.GCMConfig.Provider,
			APIKey:         baseCfg.GCMConfig.APIKey,
			RetryTimes:     retryTimes,
			DryRun:         baseCfg.GCMConfig.DryRun,
			LegacyBatching: legacyBatching,
		},
		APNS: APNSConfig{
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			Production: baseCfg.APNSConfig.Production,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"provider", cfg.GCM.Provider,
	)

	return cfg, nil
}
