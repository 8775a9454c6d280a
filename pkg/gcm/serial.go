package gcm

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Report is a snapshot of one send call taken while the Dispatcher was held.
type Report struct {
	Message *dispatch.Message `json:"message,omitempty"`
	Success bool              `json:"success"`
	Errors  []string          `json:"errors"`
}

// Serial shares one Dispatcher between goroutines by running each send,
// together with the read of its outcome, under a mutex. The errors of each
// call are handed to the caller in the Report and then reset on the
// Dispatcher, so a long-running process does not grow the log without bound.
// The success flag is cleared before each call as well, so a call that leaves
// it untouched (dry-run SendOne, a rejected token or request) reports false,
// exactly as it would on a freshly built Dispatcher.
type Serial struct {
	mu sync.Mutex
	d  *Dispatcher
}

func NewSerial(d *Dispatcher) *Serial {
	return &Serial{d: d}
}

// SendOne runs Dispatcher.SendOne and reports the errors it added.
func (s *Serial) SendOne(ctx context.Context, token, text string, payloadData map[string]string, args dispatch.Args) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.begin()
	msg := s.d.SendOne(ctx, token, text, payloadData, args)
	return s.report(msg, before)
}

// SendMany runs Dispatcher.SendMany and reports the errors it added.
func (s *Serial) SendMany(ctx context.Context, tokens []string, content notification.NotificationContent, payloadData map[string]string, args dispatch.Args) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.begin()
	msg := s.d.SendMany(ctx, tokens, content, payloadData, args)
	return s.report(msg, before)
}

func (s *Serial) begin() int {
	s.d.success = false
	return len(s.d.errors)
}

func (s *Serial) report(msg *dispatch.Message, before int) Report {
	added := make([]string, len(s.d.errors)-before)
	copy(added, s.d.errors[before:])
	s.d.ResetErrors()
	return Report{Message: msg, Success: s.d.success, Errors: added}
}
