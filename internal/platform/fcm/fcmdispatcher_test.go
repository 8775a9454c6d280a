// --- File: internal/platform/fcm/fcmdispatcher_test.go ---
package fcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-gcm-service/internal/platform/retry"
	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
)

func errNetworkDown() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendDryRun(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func (m *MockClient) SendEachForMulticastDryRun(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestTransport(client MessagingClient) *Transport {
	tr := NewTransport(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr.retryPolicy = retry.Immediate
	return tr
}

func successes(n int) *messaging.BatchResponse {
	br := &messaging.BatchResponse{SuccessCount: n}
	for i := 0; i < n; i++ {
		br.Responses = append(br.Responses, &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("msg-%d", i)})
	}
	return br
}

func TestTransport_Send(t *testing.T) {
	ctx := context.Background()
	msg := &dispatch.Message{Title: "Test", Data: map[string]string{"message": "hello"}}

	t.Run("Happy Path", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		mockClient.On("Send", ctx, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Token == "token-1" && m.Data["message"] == "hello" && m.Notification.Title == "Test"
		})).Return("msg-1", nil).Once()

		res, err := tr.Send(ctx, msg, "token-1", 3)

		require.NoError(t, err)
		assert.Equal(t, "msg-1", res.MessageID)
		assert.Empty(t, res.ErrorCode)
		mockClient.AssertExpectations(t)
	})

	t.Run("Empty token is an invalid argument", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		_, err := tr.Send(ctx, msg, "", 3)

		require.Error(t, err)
		assert.True(t, dispatch.IsInvalidArgument(err))
		mockClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Transport failure is retried", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		mockClient.On("Send", ctx, mock.Anything).Return("", errNetworkDown())

		_, err := tr.Send(ctx, msg, "token-1", 2)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fcm send failed after 3 attempts")
		mockClient.AssertNumberOfCalls(t, "Send", 3)
	})

	t.Run("Local validation failure is not retried", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		mockClient.On("Send", ctx, mock.Anything).
			Return("", errors.New("exactly one of token, topic or condition must be specified"))

		_, err := tr.Send(ctx, msg, "token-1", 2)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fcm send failed after 1 attempts")
		mockClient.AssertNumberOfCalls(t, "Send", 1)
	})

	t.Run("Recovers within the retry budget", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		mockClient.On("Send", ctx, mock.Anything).Return("", errNetworkDown()).Once()
		mockClient.On("Send", ctx, mock.Anything).Return("msg-2", nil).Once()

		res, err := tr.Send(ctx, msg, "token-1", 3)

		require.NoError(t, err)
		assert.Equal(t, "msg-2", res.MessageID)
	})

	t.Run("Dry run directive validates only", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)
		dry := &dispatch.Message{Body: "B", DryRun: true}

		mockClient.On("SendDryRun", ctx, mock.Anything).Return("projects/p/messages/fake", nil).Once()

		_, err := tr.Send(ctx, dry, "token-1", 0)

		require.NoError(t, err)
		mockClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		mockClient.AssertExpectations(t)
	})
}

func TestTransport_SendMulticast(t *testing.T) {
	ctx := context.Background()
	msg := &dispatch.Message{Title: "T", Body: "B", Data: map[string]string{"message": "B"}}

	t.Run("Splits into FCM sized calls", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)
		tokens := make([]string, 600)
		for i := range tokens {
			tokens[i] = fmt.Sprintf("token-%d", i)
		}

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 500
		})).Return(successes(500), nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 100 && m.Data["message"] == "B"
		})).Return(successes(100), nil).Once()

		res, err := tr.SendMulticast(ctx, msg, tokens)

		require.NoError(t, err)
		assert.Equal(t, 600, res.SuccessCount)
		assert.Len(t, res.Results, 600)
		assert.True(t, res.Success())
		mockClient.AssertExpectations(t)
	})

	t.Run("Per token failures are reported", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("boom")},
			},
		}, nil)

		res, err := tr.SendMulticast(ctx, msg, []string{"a", "b"})

		require.NoError(t, err)
		assert.Equal(t, 1, res.FailureCount)
		assert.Equal(t, "boom", res.Results[1].ErrorCode)
	})

	t.Run("Empty token list", func(t *testing.T) {
		tr := newTestTransport(new(MockClient))
		_, err := tr.SendMulticast(ctx, msg, nil)
		assert.True(t, dispatch.IsInvalidArgument(err))
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		tr := newTestTransport(mockClient)

		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := tr.SendMulticast(ctx, msg, []string{"a"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "multicast failed")
	})
}

func TestToMessage(t *testing.T) {
	fm := toMessage(&dispatch.Message{
		Title:            "T",
		Body:             "B",
		Data:             map[string]string{"k": "v"},
		Sound:            "ping",
		CollapseKey:      "chat",
		Priority:         "high",
		TimeToLive:       90 * time.Second,
		ContentAvailable: true,
	})

	require.NotNil(t, fm.Notification)
	assert.Equal(t, "T", fm.Notification.Title)
	assert.Equal(t, "chat", fm.Android.CollapseKey)
	assert.Equal(t, "high", fm.Android.Priority)
	require.NotNil(t, fm.Android.TTL)
	assert.Equal(t, 90*time.Second, *fm.Android.TTL)
	assert.Equal(t, "ping", fm.Android.Notification.Sound)
	assert.True(t, fm.APNS.Payload.Aps.ContentAvailable)
	assert.Nil(t, fm.Webpush)

	dataOnly := toMessage(&dispatch.Message{Data: map[string]string{"k": "v"}})
	assert.Nil(t, dataOnly.Notification)
	assert.Nil(t, dataOnly.APNS)
}
