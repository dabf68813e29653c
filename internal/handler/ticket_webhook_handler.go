package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/insait-ai/zendesk-voice-bridge/internal/domain"
	"github.com/insait-ai/zendesk-voice-bridge/internal/services/ticket"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"go.uber.org/zap"
)

// TicketWebhookHandler handles call lifecycle webhooks from the voice platform
type TicketWebhookHandler struct {
	service *ticket.Service
}

// NewTicketWebhookHandler creates a new ticket webhook handler
func NewTicketWebhookHandler(service *ticket.Service) *TicketWebhookHandler {
	return &TicketWebhookHandler{service: service}
}

// SetupTicketRoutes sets up the webhook and health routes
func (h *TicketWebhookHandler) SetupTicketRoutes(router *mux.Router) {
	router.HandleFunc("/create_zendesk_ticket", h.HandleCallEvent).Methods("POST")
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
}

// HandleCallEvent processes a call_started or call_ended webhook delivery.
// Redeliveries of an already-processed event are confirmed, not rejected.
func (h *TicketWebhookHandler) HandleCallEvent(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Base().Error("failed to read webhook body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}
	defer r.Body.Close()

	var req domain.WebhookRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		logger.Base().Warn("failed to parse webhook body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	logger.Base().Info("received call event",
		zap.String("event", req.Event),
		zap.String("call_id", req.Call.CallID),
	)

	result, err := h.service.ProcessEvent(r.Context(), &req)
	if err != nil {
		h.writeProcessError(w, err)
		return
	}

	switch result.Outcome {
	case ticket.OutcomeCreated:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"message":   "Initial ticket created successfully",
			"ticket_id": result.TicketID,
		})
	case ticket.OutcomeUpdated, ticket.OutcomeFallback:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":   "Ticket updated/created successfully",
			"ticket_id": result.TicketID,
		})
	case ticket.OutcomeDuplicate:
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Duplicate event-call pair, ignored",
		})
	default: // OutcomeIgnored
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Not processing events other than call_started or call_ended",
		})
	}
}

// writeProcessError maps engine errors onto HTTP status codes.
func (h *TicketWebhookHandler) writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingCallID),
		errors.Is(err, domain.ErrMissingEvent),
		errors.Is(err, domain.ErrMissingFromNumber),
		errors.Is(err, domain.ErrInvalidPhoneNumber):
		logger.Base().Warn("rejected malformed webhook", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ticket.ErrPhoneNotAllowed):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "Phone number not authorized",
			"message": "This phone number is not authorized to create tickets",
		})
	default:
		logger.Base().Error("failed to process call event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// HandleHealth reports service liveness.
func (h *TicketWebhookHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "zendesk-voice-bridge",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}
