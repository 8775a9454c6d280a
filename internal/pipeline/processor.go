package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
	"github.com/tinywideclouds/go-gcm-service/pkg/gcm"
)

// Sender is the serialised Dispatcher the processor hands requests to.
type Sender interface {
	SendMany(ctx context.Context, tokens []string, content notification.NotificationContent, payloadData map[string]string, args dispatch.Args) gcm.Report
}

// Claimer records which Pub/Sub messages have been dispatched.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id, summary string) error
	Release(ctx context.Context, id string) error
}

// ErrDispatchFailed is returned for a request the Dispatcher could not
// deliver, so the message is nacked and redelivered.
var ErrDispatchFailed = errors.New("dispatch failed")

// NewProcessor creates the stage that sends each request to its tokens with
// a single SendMany. claims may be nil.
func NewProcessor(
	sender Sender,
	selectTokens TokenSelector,
	claims Claimer,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notification.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *notification.NotificationRequest) error {
		procLogger := logger.With(
			"recipient_id", request.RecipientID.String(),
			"pubsub_msg_id", original.ID,
		)

		tokens, err := selectTokens(request)
		if err != nil {
			procLogger.Error("Failed to read device tokens from request", "err", err)
			return err
		}
		if len(tokens) == 0 {
			procLogger.Info("No devices on request; dropping notification.")
			return nil
		}

		// 1. Redelivery guard
		guard := claims
		if original.ID == "" {
			guard = nil
		}
		if guard != nil {
			owned, err := guard.Claim(ctx, original.ID)
			switch {
			case err != nil:
				procLogger.Warn("Claim store unavailable, dispatching unguarded", "err", err)
				guard = nil
			case !owned:
				procLogger.Info("Message already claimed; skipping.")
				return nil
			}
		}

		// 2. Dispatch
		report := sender.SendMany(ctx, tokens, request.Content, request.DataPayload, nil)
		for _, e := range report.Errors {
			procLogger.Warn("Dispatcher reported error", "error", e)
		}

		if !report.Success {
			if guard != nil {
				if err := guard.Release(ctx, original.ID); err != nil {
					procLogger.Warn("Failed to release claim", "err", err)
				}
			}
			procLogger.Error("Dispatch failed", "token_count", len(tokens), "error_count", len(report.Errors))
			return fmt.Errorf("%w for message %s: %d errors", ErrDispatchFailed, original.ID, len(report.Errors))
		}

		summary := fmt.Sprintf("tokens:%d errors:%d", len(tokens), len(report.Errors))
		if guard != nil {
			if err := guard.Complete(ctx, original.ID, summary); err != nil {
				procLogger.Warn("Failed to mark message dispatched", "err", err)
			}
		}
		procLogger.Info("Dispatched", "summary", summary)
		return nil
	}
}
