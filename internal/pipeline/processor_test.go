package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-gcm-service/internal/pipeline"
	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
	"github.com/tinywideclouds/go-gcm-service/pkg/gcm"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMany(ctx context.Context, tokens []string, content notification.NotificationContent, payloadData map[string]string, args dispatch.Args) gcm.Report {
	return m.Called(ctx, tokens, content, payloadData, args).Get(0).(gcm.Report)
}

type mockClaimer struct {
	mock.Mock
}

func (m *mockClaimer) Claim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
func (m *mockClaimer) Complete(ctx context.Context, id, summary string) error {
	return m.Called(ctx, id, summary).Error(0)
}
func (m *mockClaimer) Release(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func pubsubMessage(id string) messagepipeline.Message {
	return messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: id}}
}

func TestProcessor_Dispatch(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	testURN, _ := urn.Parse("urn:sm:user:test-processor")

	inboundReq := &notification.NotificationRequest{
		RecipientID: testURN,
		Content:     notification.NotificationContent{Title: "Hello", Body: "World"},
		DataPayload: map[string]string{"chat_id": "c1"},
		FCMTokens:   []string{"fcm-123", "fcm-456"},
	}

	t.Run("Sends to every token in one call", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("SendMany", mock.Anything, []string{"fcm-123", "fcm-456"}, inboundReq.Content, inboundReq.DataPayload, dispatch.Args(nil)).
			Return(gcm.Report{Success: true})

		processor := pipeline.NewProcessor(sender, pipeline.FCMTokens, nil, logger)
		err := processor(ctx, pubsubMessage("m-1"), inboundReq)

		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("Unsuccessful dispatch nacks and releases the claim", func(t *testing.T) {
		sender := new(mockSender)
		claims := new(mockClaimer)

		claims.On("Claim", mock.Anything, "m-2").Return(true, nil)
		sender.On("SendMany", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(gcm.Report{Success: false, Errors: []string{"Received error code 401 from GCM Service"}})
		claims.On("Release", mock.Anything, "m-2").Return(nil)

		processor := pipeline.NewProcessor(sender, pipeline.FCMTokens, claims, logger)
		err := processor(ctx, pubsubMessage("m-2"), inboundReq)

		require.Error(t, err)
		assert.ErrorIs(t, err, pipeline.ErrDispatchFailed)
		claims.AssertExpectations(t)
		claims.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Successful dispatch completes the claim", func(t *testing.T) {
		sender := new(mockSender)
		claims := new(mockClaimer)

		claims.On("Claim", mock.Anything, "m-3").Return(true, nil)
		sender.On("SendMany", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(gcm.Report{Success: true})
		claims.On("Complete", mock.Anything, "m-3", "tokens:2 errors:0").Return(nil)

		processor := pipeline.NewProcessor(sender, pipeline.FCMTokens, claims, logger)
		require.NoError(t, processor(ctx, pubsubMessage("m-3"), inboundReq))
		claims.AssertExpectations(t)
	})

	t.Run("Redelivered message is skipped", func(t *testing.T) {
		sender := new(mockSender)
		claims := new(mockClaimer)

		claims.On("Claim", mock.Anything, "m-4").Return(false, nil)

		processor := pipeline.NewProcessor(sender, pipeline.FCMTokens, claims, logger)
		require.NoError(t, processor(ctx, pubsubMessage("m-4"), inboundReq))
		sender.AssertNotCalled(t, "SendMany", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Claim store outage does not block dispatch", func(t *testing.T) {
		sender := new(mockSender)
		claims := new(mockClaimer)

		claims.On("Claim", mock.Anything, "m-5").Return(false, errors.New("redis down"))
		sender.On("SendMany", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(gcm.Report{Success: true})

		processor := pipeline.NewProcessor(sender, pipeline.FCMTokens, claims, logger)
		require.NoError(t, processor(ctx, pubsubMessage("m-5"), inboundReq))
		sender.AssertExpectations(t)
		claims.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("No tokens for provider", func(t *testing.T) {
		sender := new(mockSender)

		processor := pipeline.NewProcessor(sender, pipeline.WebTokens, nil, logger)
		require.NoError(t, processor(ctx, pubsubMessage("m-6"), inboundReq))
		sender.AssertNotCalled(t, "SendMany", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestWebTokens(t *testing.T) {
	req := &notification.NotificationRequest{
		WebSubscriptions: []notification.WebPushSubscription{
			{Endpoint: "https://web.push/abc"},
		},
	}

	tokens, err := pipeline.SelectorFor("web")(req)

	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Contains(t, tokens[0], "https://web.push/abc")
}
