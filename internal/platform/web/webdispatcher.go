// Package web delivers messages to browser push subscriptions using VAPID.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-gcm-service/internal/platform/retry"
	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

const defaultTTL = 60

// Config holds the public half of the VAPID key pair. The private key is the
// Dispatcher's API key.
type Config struct {
	PublicKey       string
	SubscriberEmail string
}

type Transport struct {
	subscriber  string
	privateKey  string
	publicKey   string
	httpClient  webpush.HTTPClient
	retryPolicy retry.Policy
	logger      *slog.Logger
}

func NewTransport(cfg Config, privateKey string, logger *slog.Logger) *Transport {
	return &Transport{
		privateKey:  privateKey,
		publicKey:   cfg.PublicKey,
		subscriber:  cfg.SubscriberEmail,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryPolicy: retry.Exponential,
		logger:      logger.With("component", "WebPushTransport"),
	}
}

// Factory returns a constructor the Dispatcher calls lazily with its API key.
func Factory(cfg Config, logger *slog.Logger) func(apiKey string) (dispatch.TransportClient, error) {
	return func(apiKey string) (dispatch.TransportClient, error) {
		if cfg.PublicKey == "" {
			return nil, errors.New("web push requires a VAPID public key")
		}
		return NewTransport(cfg, apiKey, logger), nil
	}
}

// SubscriptionTokens encodes subscriptions as the opaque tokens this
// transport accepts.
func SubscriptionTokens(subs []notification.WebPushSubscription) ([]string, error) {
	tokens := make([]string, 0, len(subs))
	for _, sub := range subs {
		b, err := json.Marshal(sub)
		if err != nil {
			return nil, fmt.Errorf("failed to encode subscription %q: %w", sub.Endpoint, err)
		}
		tokens = append(tokens, string(b))
	}
	return tokens, nil
}

var errRetryable = errors.New("push service temporarily unavailable")

// Send delivers msg to the subscription encoded in token.
func (t *Transport) Send(ctx context.Context, msg *dispatch.Message, token string, retries int) (*dispatch.Result, error) {
	sub, err := decodeSubscription(token)
	if err != nil {
		return nil, err
	}
	body, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}

	var result *dispatch.Result
	attempt := 0
	err = retry.Do(ctx, t.retryPolicy, retries, func() error {
		attempt++
		var sendErr error
		result, sendErr = t.push(ctx, body, sub, msg)
		if sendErr == nil {
			return nil
		}
		var reqErr *dispatch.InvalidRequestError
		if errors.As(sendErr, &reqErr) {
			return retry.Permanent(sendErr)
		}
		t.logger.Warn("WebPush send failed, will retry", "attempt", attempt, "err", sendErr)
		return sendErr
	})
	if err != nil {
		if _, ok := dispatch.AsInvalidRequest(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("web push failed after %d attempts: %w", attempt, err)
	}
	return result, nil
}

// SendMulticast sends to each subscription in turn; the Web Push protocol
// has no batch endpoint.
func (t *Transport) SendMulticast(ctx context.Context, msg *dispatch.Message, tokens []string) (*dispatch.MulticastResult, error) {
	if len(tokens) == 0 {
		return nil, dispatch.NewInvalidArgument("registration ids are empty")
	}
	body, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}

	out := &dispatch.MulticastResult{Results: make([]dispatch.Result, 0, len(tokens))}
	for _, token := range tokens {
		sub, err := decodeSubscription(token)
		if err != nil {
			out.FailureCount++
			out.Results = append(out.Results, dispatch.Result{ErrorCode: "InvalidRegistration"})
			continue
		}

		res, err := t.push(ctx, body, sub, msg)
		switch {
		case err != nil:
			// Transport error (DNS, Timeout) or rejection: count it and move on.
			t.logger.Error("WebPush delivery failed", "endpoint", sub.Endpoint, "err", err)
			out.FailureCount++
			out.Results = append(out.Results, dispatch.Result{ErrorCode: "Unavailable"})
		case res.ErrorCode != "":
			out.FailureCount++
			out.Results = append(out.Results, *res)
		default:
			out.SuccessCount++
			out.Results = append(out.Results, *res)
		}
	}

	t.logger.Debug("WebPush multicast complete", "success", out.SuccessCount, "failure", out.FailureCount)
	return out, nil
}

func (t *Transport) push(ctx context.Context, body []byte, sub *webpush.Subscription, msg *dispatch.Message) (*dispatch.Result, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, t.options(msg))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return &dispatch.Result{MessageID: resp.Header.Get("Location")}, nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		// Subscription is dead.
		return &dispatch.Result{ErrorCode: "NotRegistered"}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	default:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &dispatch.InvalidRequestError{Code: resp.StatusCode, Message: strings.TrimSpace(string(text))}
	}
}

func (t *Transport) options(msg *dispatch.Message) *webpush.Options {
	o := &webpush.Options{
		Subscriber:      t.subscriber,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             defaultTTL,
		Topic:           msg.CollapseKey,
		HTTPClient:      t.httpClient,
	}
	if msg.TimeToLive > 0 {
		o.TTL = int(msg.TimeToLive / time.Second)
	}
	switch msg.Priority {
	case "high", "10":
		o.Urgency = webpush.UrgencyHigh
	case "normal", "5":
		o.Urgency = webpush.UrgencyNormal
	}
	return o
}

// decodeSubscription parses a token produced by SubscriptionTokens.
func decodeSubscription(token string) (*webpush.Subscription, error) {
	if token == "" {
		return nil, dispatch.NewInvalidArgument("subscription token is empty")
	}
	var sub notification.WebPushSubscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return nil, &dispatch.InvalidArgumentError{Reason: "subscription token is not valid JSON", Err: err}
	}
	if sub.Endpoint == "" {
		return nil, dispatch.NewInvalidArgument("subscription endpoint is empty")
	}
	return &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			// Encode []byte -> Base64 String for the library
			P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
			Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
		},
	}, nil
}

func encodePayload(msg *dispatch.Message) ([]byte, error) {
	n := map[string]string{}
	if msg.Title != "" {
		n["title"] = msg.Title
	}
	if msg.Body != "" {
		n["body"] = msg.Body
	}
	if msg.Icon != "" {
		n["icon"] = msg.Icon
	}
	if msg.ClickAction != "" {
		n["click_action"] = msg.ClickAction
	}

	body := map[string]any{"data": msg.Data}
	if len(n) > 0 {
		body["notification"] = n
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}
