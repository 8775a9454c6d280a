// --- File: internal/platform/apns/apnsdispatcher.go ---
// Package apns provides the transport for the Apple Push Notification Service.
package apns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-gcm-service/internal/platform/retry"
	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens. The .p8 key
// itself is the Dispatcher's API key.
type Config struct {
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

type Transport struct {
	client      APNSClient
	topic       string // The App Bundle ID (e.g. com.tinywide.messenger)
	retryPolicy retry.Policy
	logger      *slog.Logger
}

func NewTransport(client APNSClient, topic string, logger *slog.Logger) *Transport {
	return &Transport{
		client:      client,
		topic:       topic,
		retryPolicy: retry.Exponential,
		logger:      logger.With("component", "APNSTransport"),
	}
}

// NewClient parses the P8 key and builds a token-authenticated client.
func NewClient(cfg Config, p8Key string) (*apns2.Client, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(p8Key))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

// Factory returns a constructor the Dispatcher calls lazily with its API key.
func Factory(cfg Config, logger *slog.Logger) func(apiKey string) (dispatch.TransportClient, error) {
	return func(apiKey string) (dispatch.TransportClient, error) {
		client, err := NewClient(cfg, apiKey)
		if err != nil {
			return nil, err
		}
		return NewTransport(client, cfg.BundleID, logger), nil
	}
}

// errRetryable marks a response APNs asks us to try again later.
var errRetryable = errors.New("apns temporarily unavailable")

// Send pushes msg to one device token, retrying 429 and 5xx answers.
func (t *Transport) Send(ctx context.Context, msg *dispatch.Message, deviceToken string, retries int) (*dispatch.Result, error) {
	if deviceToken == "" {
		return nil, dispatch.NewInvalidArgument("device token is empty")
	}

	n := t.notification(msg, deviceToken)

	var result *dispatch.Result
	attempt := 0
	err := retry.Do(ctx, t.retryPolicy, retries, func() error {
		attempt++
		res, err := t.client.Push(n)
		if err != nil {
			t.logger.Warn("APNs transport failed", "attempt", attempt, "err", err)
			return err
		}
		result, err = t.handle(res)
		if errors.Is(err, errRetryable) {
			t.logger.Warn("APNs asked to retry", "attempt", attempt, "status", res.StatusCode, "reason", res.Reason)
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		if _, ok := dispatch.AsInvalidRequest(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("apns push failed after %d attempts: %w", attempt, err)
	}
	return result, nil
}

// SendMulticast pushes msg to each token in turn. The APNs HTTP/2 API is
// unary, there is no batch endpoint.
func (t *Transport) SendMulticast(ctx context.Context, msg *dispatch.Message, tokens []string) (*dispatch.MulticastResult, error) {
	if len(tokens) == 0 {
		return nil, dispatch.NewInvalidArgument("registration ids are empty")
	}

	out := &dispatch.MulticastResult{Results: make([]dispatch.Result, 0, len(tokens))}
	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := t.client.Push(t.notification(msg, deviceToken))
		if err != nil {
			t.logger.Error("APNs transport failed", "err", err)
			out.FailureCount++
			out.Results = append(out.Results, dispatch.Result{ErrorCode: "Unavailable"})
			continue
		}

		r, err := t.handle(res)
		switch {
		case err != nil:
			out.FailureCount++
			out.Results = append(out.Results, dispatch.Result{ErrorCode: res.Reason})
		case r.ErrorCode != "":
			out.FailureCount++
			out.Results = append(out.Results, *r)
		default:
			out.SuccessCount++
			out.Results = append(out.Results, *r)
		}
	}

	t.logger.Debug("APNs multicast complete", "success", out.SuccessCount, "failure", out.FailureCount)
	return out, nil
}

// handle maps an APNs response onto a Result or a typed error.
func (t *Transport) handle(res *apns2.Response) (*dispatch.Result, error) {
	if res.Sent() {
		return &dispatch.Result{MessageID: res.ApnsID}, nil
	}

	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return &dispatch.Result{ErrorCode: res.Reason}, nil
	}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return nil, errRetryable
	}
	return nil, &dispatch.InvalidRequestError{Code: res.StatusCode, Message: res.Reason}
}

func (t *Transport) notification(msg *dispatch.Message, deviceToken string) *apns2.Notification {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       t.topic,
		CollapseID:  msg.CollapseKey,
		Payload:     buildPayload(msg),
	}
	switch msg.Priority {
	case "high", "10":
		n.Priority = apns2.PriorityHigh
	case "normal", "5":
		n.Priority = apns2.PriorityLow
	}
	if msg.TimeToLive > 0 {
		n.Expiration = time.Now().Add(msg.TimeToLive)
	}
	if msg.Title == "" && msg.Body == "" && msg.ContentAvailable {
		n.PushType = apns2.PushTypeBackground
	}
	return n
}

func buildPayload(msg *dispatch.Message) *payload.Payload {
	p := payload.NewPayload()
	if msg.Title != "" {
		p.AlertTitle(msg.Title)
	}
	if msg.Body != "" {
		p.AlertBody(msg.Body)
	}
	if msg.Sound != "" {
		p.Sound(msg.Sound)
	}
	if msg.ClickAction != "" {
		p.Category(msg.ClickAction)
	}
	if msg.ContentAvailable {
		p.ContentAvailable()
	}
	for k, v := range msg.Data {
		p.Custom(k, v)
	}
	return p
}
