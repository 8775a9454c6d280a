// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
)

// TransportClient defines the contract for a component that delivers a built
// Message to a push platform (e.g., Google's FCM, Apple's APNS).
type TransportClient interface {
	// Send delivers the message to one device token. retries is the number of
	// additional attempts the transport may make on transient failures.
	Send(ctx context.Context, msg *Message, token string, retries int) (*Result, error)

	// SendMulticast delivers the message to a batch of device tokens in one call.
	SendMulticast(ctx context.Context, msg *Message, tokens []string) (*MulticastResult, error)
}

// Result is the structured outcome of a single-token send.
// A non-empty ErrorCode means the platform accepted the request but rejected
// the message for that token (e.g. "NotRegistered").
type Result struct {
	MessageID string `json:"message_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// MulticastResult is the structured outcome of a batch send.
type MulticastResult struct {
	SuccessCount int      `json:"success"`
	FailureCount int      `json:"failure"`
	Results      []Result `json:"results,omitempty"`
}

// Success reports whether at least one token in the batch was delivered.
func (r *MulticastResult) Success() bool {
	return r != nil && r.SuccessCount > 0
}
