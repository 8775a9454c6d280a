package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-gcm-service/pkg/dispatch"
	"github.com/tinywideclouds/go-gcm-service/pkg/gcm"
)

// maxTokensPerRequest bounds one /send/many call.
const maxTokensPerRequest = 10000

// Sender is satisfied by *gcm.Serial.
type Sender interface {
	SendOne(ctx context.Context, token, text string, payloadData map[string]string, args dispatch.Args) gcm.Report
	SendMany(ctx context.Context, tokens []string, content notification.NotificationContent, payloadData map[string]string, args dispatch.Args) gcm.Report
}

type SendAPI struct {
	Sender Sender
	Logger *slog.Logger
}

func NewSendAPI(sender Sender, logger *slog.Logger) *SendAPI {
	return &SendAPI{
		Sender: sender,
		Logger: logger.With("component", "SendAPI"),
	}
}

type SendOneRequest struct {
	Token       string            `json:"token"`
	Text        string            `json:"text"`
	PayloadData map[string]string `json:"payload_data,omitempty"`
	Args        dispatch.Args     `json:"args,omitempty"`
}

type SendManyRequest struct {
	Tokens      []string          `json:"tokens"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Sound       string            `json:"sound,omitempty"`
	PayloadData map[string]string `json:"payload_data,omitempty"`
	Args        dispatch.Args     `json:"args,omitempty"`
}

// SendResponse is the Dispatcher's report for one call.
type SendResponse struct {
	RequestID string `json:"request_id"`
	gcm.Report
}

func (api *SendAPI) SendOne(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SendOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	requestID := uuid.NewString()
	logger := api.Logger.With("request_id", requestID, "caller", userID)
	logger.Debug("SendOne requested", "has_token", req.Token != "")

	// An empty token is passed through; the Dispatcher records it as an error.
	report := api.Sender.SendOne(ctx, req.Token, req.Text, req.PayloadData, req.Args)
	logger.Info("SendOne complete", "success", report.Success, "error_count", len(report.Errors))

	api.writeReport(w, requestID, report)
}

func (api *SendAPI) SendMany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SendManyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Tokens) > maxTokensPerRequest {
		response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "too many tokens")
		return
	}

	requestID := uuid.NewString()
	logger := api.Logger.With("request_id", requestID, "caller", userID)
	logger.Debug("SendMany requested", "token_count", len(req.Tokens))

	content := notification.NotificationContent{Title: req.Title, Body: req.Body, Sound: req.Sound}
	report := api.Sender.SendMany(ctx, req.Tokens, content, req.PayloadData, req.Args)
	logger.Info("SendMany complete", "success", report.Success, "error_count", len(report.Errors))

	api.writeReport(w, requestID, report)
}

func (api *SendAPI) writeReport(w http.ResponseWriter, requestID string, report gcm.Report) {
	if report.Errors == nil {
		report.Errors = []string{}
	}
	w.Header().Set("X-Request-ID", requestID)
	response.WriteJSON(w, http.StatusOK, SendResponse{RequestID: requestID, Report: report})
}
