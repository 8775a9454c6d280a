package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

// NewMessagingClient initialises a Firebase app from the API key and returns
// its messaging client. The key is either service account JSON or a path to
// a credentials file.
func NewMessagingClient(ctx context.Context, projectID, apiKey string) (*messaging.Client, error) {
	var credentials option.ClientOption
	if strings.HasPrefix(strings.TrimSpace(apiKey), "{") {
		credentials = option.WithCredentialsJSON([]byte(apiKey))
	} else {
		credentials = option.WithCredentialsFile(apiKey)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	return client, nil
}

// Factory returns a constructor the Dispatcher calls lazily with its API key.
func Factory(ctx context.Context, projectID string, logger *slog.Logger) func(apiKey string) (dispatch.TransportClient, error) {
	return func(apiKey string) (dispatch.TransportClient, error) {
		client, err := NewMessagingClient(ctx, projectID, apiKey)
		if err != nil {
			return nil, err
		}
		return NewTransport(client, logger), nil
	}
}
