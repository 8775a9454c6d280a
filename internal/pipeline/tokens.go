package pipeline

import (
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-gcm-service/internal/platform/web"
)

// TokenSelector picks the tokens the configured provider understands.
type TokenSelector func(req *notification.NotificationRequest) ([]string, error)

// FCMTokens selects the request's device tokens (FCM and APNs providers).
func FCMTokens(req *notification.NotificationRequest) ([]string, error) {
	return req.FCMTokens, nil
}

// WebTokens encodes the request's browser subscriptions as web push tokens.
func WebTokens(req *notification.NotificationRequest) ([]string, error) {
	return web.SubscriptionTokens(req.WebSubscriptions)
}

// SelectorFor returns the selector for a provider name.
func SelectorFor(provider string) TokenSelector {
	if provider == "web" {
		return WebTokens
	}
	return FCMTokens
}
