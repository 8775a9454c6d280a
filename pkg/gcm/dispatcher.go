// Package gcm sends push notifications through a TransportClient and keeps
// the outcome of the most recent send as state on the Dispatcher.
//
// Send operations never return errors. Callers inspect Success and Errors
// after the call. A Dispatcher must not be used by more than one goroutine at
// a time; wrap it in a Serial when it is shared.
package gcm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const (
	// DefaultRetryTimes is the transport retry count for single-token sends.
	DefaultRetryTimes = 3
	// BatchSize is the maximum number of tokens submitted in one multicast call.
	BatchSize = 1000

	serviceName = "GCM"
)

// ClientFactory builds the transport from the API key. It is called at most
// once per Dispatcher.
type ClientFactory func(apiKey string) (dispatch.TransportClient, error)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryTimes sets the retry count handed to the transport on single sends.
func WithRetryTimes(n int) Option {
	return func(d *Dispatcher) { d.retryTimes = n }
}

// WithDryRun makes every send log its intent instead of contacting the transport.
func WithDryRun(dryRun bool) Option {
	return func(d *Dispatcher) { d.dryRun = dryRun }
}

// WithLegacyBatching selects the historical offset-by-one partition (true,
// the default) or a plain zero-based partition (false).
func WithLegacyBatching(legacy bool) Option {
	return func(d *Dispatcher) { d.legacyBatching = legacy }
}

// Dispatcher builds notification messages and hands them to a lazily created
// TransportClient.
type Dispatcher struct {
	apiKey         string
	retryTimes     int
	dryRun         bool
	legacyBatching bool

	factory    ClientFactory
	clientOnce sync.Once
	client     dispatch.TransportClient
	clientErr  error

	success bool
	errors  []string

	logger *slog.Logger
}

// New validates the configuration and returns a Dispatcher. The transport is
// not built until the first live send.
func New(apiKey string, factory ClientFactory, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Field: "api_key", Err: ErrMissingAPIKey}
	}
	if factory == nil {
		return nil, &ConfigurationError{Field: "client_factory", Err: ErrMissingClientFactory}
	}

	d := &Dispatcher{
		apiKey:         apiKey,
		retryTimes:     DefaultRetryTimes,
		legacyBatching: true,
		factory:        factory,
		logger:         logger.With("component", "GCMDispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.retryTimes < 0 {
		return nil, &ConfigurationError{Field: "retry_times", Err: ErrNegativeRetryTimes}
	}
	return d, nil
}

// Client returns the transport, constructing it on first use. Later calls
// return the same instance, or the same construction error.
func (d *Dispatcher) Client() (dispatch.TransportClient, error) {
	d.clientOnce.Do(func() {
		d.client, d.clientErr = d.factory(d.apiKey)
	})
	return d.client, d.clientErr
}

// Success reports the outcome of the most recent send call.
func (d *Dispatcher) Success() bool { return d.success }

// Errors returns a copy of every error recorded since construction or the
// last ResetErrors.
func (d *Dispatcher) Errors() []string {
	out := make([]string, len(d.errors))
	copy(out, d.errors)
	return out
}

// ResetErrors clears the accumulated error log.
func (d *Dispatcher) ResetErrors() { d.errors = nil }

// RetryTimes is the per-token retry count handed to the transport on SendOne.
func (d *Dispatcher) RetryTimes() int { return d.retryTimes }

// DryRun reports whether sends are logged instead of delivered.
func (d *Dispatcher) DryRun() bool { return d.dryRun }

// SendOne sends text to a single device token. payloadData is merged into
// the message data with "message" set to text; args are applied as builder
// directives first. It returns the built message, or nil in dry-run mode.
func (d *Dispatcher) SendOne(ctx context.Context, token, text string, payloadData map[string]string, args dispatch.Args) *dispatch.Message {
	if d.dryRun {
		d.logDryRun([]string{token}, text, payloadData, args)
		return nil
	}

	msg := dispatch.NewMessage()
	for _, err := range msg.ApplyAll(args) {
		d.record(err.Error())
	}

	payload := copyPayload(payloadData)
	payload["message"] = text
	for k, v := range payload {
		msg.AddData(k, v)
	}

	client, err := d.Client()
	if err != nil {
		d.apply(classify(err), false)
		return msg
	}

	result, err := client.Send(ctx, msg, token, d.retryTimes)
	if err != nil {
		d.apply(classify(err), false)
		return msg
	}
	if result != nil && result.ErrorCode != "" {
		d.success = false
		d.record(result.ErrorCode)
		return msg
	}
	d.success = true
	return msg
}

// SendMany sends content to every token, in batches of at most BatchSize.
// Success afterwards reflects the last batch processed only.
func (d *Dispatcher) SendMany(ctx context.Context, tokens []string, content notification.NotificationContent, payloadData map[string]string, args dispatch.Args) *dispatch.Message {
	if d.dryRun {
		d.logDryRun(tokens, content.Body, payloadData, args)
		d.success = true
		return nil
	}

	payload := copyPayload(payloadData)
	payload["message"] = content.Body
	payload["title"] = content.Title
	options := args.Clone()
	options["data"] = payload

	msg := dispatch.NewMessage()
	msg.Title = content.Title
	msg.Body = content.Body
	msg.Sound = content.Sound
	for _, err := range msg.ApplyAll(options) {
		d.record(err.Error())
	}

	client, err := d.Client()
	if err != nil {
		d.apply(classify(err), true)
		return msg
	}

	for i, batch := range d.partition(tokens) {
		result, err := client.SendMulticast(ctx, msg, batch)
		if err != nil {
			d.logger.Debug("Batch send failed", "batch", i, "size", len(batch), "err", err)
			d.apply(classify(err), true)
			continue
		}
		d.success = result.Success()
		d.logger.Debug("Batch sent", "batch", i, "size", len(batch),
			"success", result.SuccessCount, "failure", result.FailureCount)
	}
	return msg
}

func (d *Dispatcher) partition(tokens []string) [][]string {
	if d.legacyBatching {
		return LegacyBatches(tokens, BatchSize)
	}
	return Batches(tokens, BatchSize)
}

// apply folds a classified failure into the dispatcher state. Multi-send
// failures always clear success. Single sends only clear it for errors the
// transport did not classify.
func (d *Dispatcher) apply(f failure, multi bool) {
	d.record(f.text)
	if multi || f.kind == kindOther {
		d.success = false
	}
}

func (d *Dispatcher) record(text string) {
	d.errors = append(d.errors, text)
}

func copyPayload(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
