// --- File: internal/platform/fcm/fcmdispatcher.go ---
// Package fcm delivers messages through Firebase Cloud Messaging, the
// successor of the GCM HTTP service.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-gcm-service/internal/platform/retry"
	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

// multicastLimit is the most tokens FCM accepts in one SendEachForMulticast call.
const multicastLimit = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it; tests substitute a mock.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SendEachForMulticastDryRun(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Transport implements dispatch.TransportClient on top of FCM.
type Transport struct {
	client      MessagingClient
	retryPolicy retry.Policy
	logger      *slog.Logger
}

func NewTransport(client MessagingClient, logger *slog.Logger) *Transport {
	return &Transport{
		client:      client,
		retryPolicy: retry.Exponential,
		logger:      logger.With("component", "FCMTransport"),
	}
}

// Send delivers msg to one token, retrying transient failures with backoff.
func (t *Transport) Send(ctx context.Context, msg *dispatch.Message, token string, retries int) (*dispatch.Result, error) {
	if token == "" {
		return nil, dispatch.NewInvalidArgument("registration token is empty")
	}

	fm := toMessage(msg)
	fm.Token = token

	var result *dispatch.Result
	attempt := 0
	err := retry.Do(ctx, t.retryPolicy, retries, func() error {
		attempt++
		id, err := t.send(ctx, fm, msg.DryRun)
		if err == nil {
			result = &dispatch.Result{MessageID: id}
			return nil
		}
		if code := errorCode(err); code != "" {
			result = &dispatch.Result{ErrorCode: code}
			return nil
		}
		if isTransient(err) {
			t.logger.Warn("FCM send failed, will retry", "attempt", attempt, "err", err)
			return err
		}
		return retry.Permanent(asTransportError(err))
	})
	if err != nil {
		if isClassified(err) {
			return nil, err
		}
		return nil, fmt.Errorf("fcm send failed after %d attempts: %w", attempt, err)
	}
	return result, nil
}

// SendMulticast delivers msg to every token, splitting into FCM-sized calls.
func (t *Transport) SendMulticast(ctx context.Context, msg *dispatch.Message, tokens []string) (*dispatch.MulticastResult, error) {
	if len(tokens) == 0 {
		return nil, dispatch.NewInvalidArgument("registration ids are empty")
	}

	base := toMessage(msg)
	out := &dispatch.MulticastResult{Results: make([]dispatch.Result, 0, len(tokens))}

	for _, chunk := range chunkTokens(tokens, multicastLimit) {
		mm := &messaging.MulticastMessage{
			Tokens:       chunk,
			Data:         base.Data,
			Notification: base.Notification,
			Android:      base.Android,
			APNS:         base.APNS,
			Webpush:      base.Webpush,
		}

		br, err := t.sendMulticast(ctx, mm, msg.DryRun)
		if err != nil {
			if isClassified(asTransportError(err)) {
				return nil, asTransportError(err)
			}
			return nil, fmt.Errorf("fcm multicast failed: %w", err)
		}

		out.SuccessCount += br.SuccessCount
		out.FailureCount += br.FailureCount
		for _, resp := range br.Responses {
			if resp.Success {
				out.Results = append(out.Results, dispatch.Result{MessageID: resp.MessageID})
				continue
			}
			code := errorCode(resp.Error)
			if code == "" && resp.Error != nil {
				code = resp.Error.Error()
			}
			out.Results = append(out.Results, dispatch.Result{ErrorCode: code})
		}
	}

	t.logger.Debug("FCM multicast complete", "success", out.SuccessCount, "failure", out.FailureCount)
	return out, nil
}

func (t *Transport) send(ctx context.Context, fm *messaging.Message, dryRun bool) (string, error) {
	if dryRun {
		return t.client.SendDryRun(ctx, fm)
	}
	return t.client.Send(ctx, fm)
}

func (t *Transport) sendMulticast(ctx context.Context, mm *messaging.MulticastMessage, dryRun bool) (*messaging.BatchResponse, error) {
	if dryRun {
		return t.client.SendEachForMulticastDryRun(ctx, mm)
	}
	return t.client.SendEachForMulticast(ctx, mm)
}

// errorCode maps per-token rejections to the legacy GCM error codes. It
// returns "" for errors that are not about the token.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case messaging.IsUnregistered(err):
		return "NotRegistered"
	case messaging.IsSenderIDMismatch(err):
		return "MismatchSenderId"
	case messaging.IsQuotaExceeded(err):
		return "DeviceMessageRateExceeded"
	case messaging.IsThirdPartyAuthError(err):
		return "InvalidApnsCredential"
	default:
		return ""
	}
}

// isTransient reports whether a retry might succeed. Errors without an HTTP
// response only qualify when they are connection or deadline failures;
// local validation errors never reach the network.
func isTransient(err error) bool {
	if messaging.IsUnavailable(err) || messaging.IsInternal(err) ||
		errorutils.IsUnavailable(err) || errorutils.IsInternal(err) || errorutils.IsDeadlineExceeded(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	resp := errorutils.HTTPResponse(err)
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode >= 500
}

// asTransportError converts a non-transient FCM error into the shared
// dispatch error types.
func asTransportError(err error) error {
	if messaging.IsInvalidArgument(err) {
		return &dispatch.InvalidArgumentError{Reason: "fcm rejected request as invalid argument", Err: err}
	}
	if resp := errorutils.HTTPResponse(err); resp != nil &&
		resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return &dispatch.InvalidRequestError{Code: resp.StatusCode, Message: err.Error(), Err: err}
	}
	return err
}

func isClassified(err error) bool {
	var reqErr *dispatch.InvalidRequestError
	return dispatch.IsInvalidArgument(err) || errors.As(err, &reqErr)
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
