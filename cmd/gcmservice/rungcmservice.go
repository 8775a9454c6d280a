// --- File: cmd/gcmservice/rungcmservice.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-gcm-service/gcmservice"
	"github.com/tinywideclouds/go-gcm-service/gcmservice/config"
	"github.com/tinywideclouds/go-gcm-service/internal/pipeline"
	"github.com/tinywideclouds/go-gcm-service/internal/platform/apns"
	"github.com/tinywideclouds/go-gcm-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-gcm-service/internal/platform/web"
	"github.com/tinywideclouds/go-gcm-service/internal/storage/cache"
	"github.com/tinywideclouds/go-gcm-service/pkg/gcm"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-gcm-service")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Redelivery guard ---
	var claims pipeline.Claimer
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis claim store...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		claims = cache.NewClaimStore(redisClient, cfg.Redis.ClaimTTL, cfg.Redis.DispatchedTTL)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Dispatcher ---
	factory, err := transportFactory(ctx, cfg, logger)
	if err != nil {
		logger.Error("Transport selection failed", "err", err)
		os.Exit(1)
	}
	dispatcher, err := gcm.New(cfg.GCM.APIKey, factory, logger,
		gcm.WithRetryTimes(cfg.GCM.RetryTimes),
		gcm.WithDryRun(cfg.GCM.DryRun),
		gcm.WithLegacyBatching(cfg.GCM.LegacyBatching),
	)
	if err != nil {
		logger.Error("Dispatcher creation failed", "err", err)
		os.Exit(1)
	}
	// Build the transport now so bad credentials fail at startup.
	if _, err := dispatcher.Client(); err != nil {
		logger.Error("Transport client failed", "provider", cfg.GCM.Provider, "err", err)
		os.Exit(1)
	}
	logger.Info("Dispatcher ready", "provider", cfg.GCM.Provider, "dry_run", cfg.GCM.DryRun, "retry_times", cfg.GCM.RetryTimes)

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := gcmservice.New(cfg, consumer, gcm.NewSerial(dispatcher), claims, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func transportFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gcm.ClientFactory, error) {
	switch cfg.GCM.Provider {
	case config.ProviderFCM:
		return fcm.Factory(ctx, cfg.ProjectID, logger), nil
	case config.ProviderAPNS:
		return apns.Factory(apns.Config{
			KeyID:      cfg.APNS.KeyID,
			TeamID:     cfg.APNS.TeamID,
			BundleID:   cfg.APNS.BundleID,
			Production: cfg.APNS.Production,
		}, logger), nil
	case config.ProviderWeb:
		return web.Factory(web.Config{
			PublicKey:       cfg.Vapid.PublicKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.GCM.Provider)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 60,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
