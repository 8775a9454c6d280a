// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// NotificationRequestTransformer decodes a Pub/Sub payload into the request
// handed to the processor. Undecodable payloads are skipped so the consumer
// can dead-letter them.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.NotificationRequest, bool, error) {
	var nativeReq notification.NotificationRequest

	// UnmarshalJSON on the platform type also validates the recipient URN.
	if err := json.Unmarshal(msg.Payload, &nativeReq); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}
	if len(nativeReq.FCMTokens) == 0 && len(nativeReq.WebSubscriptions) == 0 {
		return nil, true, fmt.Errorf("notification request in message %s carries no device tokens", msg.ID)
	}
	return &nativeReq, false, nil
}
