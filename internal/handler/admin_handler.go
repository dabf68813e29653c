package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	httpadapter "github.com/insait-ai/zendesk-voice-bridge/internal/adapters/http"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"go.uber.org/zap"
)

// testPhoneNumber is the fixture caller used by the integration check.
const testPhoneNumber = "+15551234567"

// AdminHandler exposes operator endpoints. Protected by the API key
// middleware when a secret key is configured.
type AdminHandler struct {
	zendesk *httpadapter.ZendeskClient
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(zendesk *httpadapter.ZendeskClient) *AdminHandler {
	return &AdminHandler{zendesk: zendesk}
}

// SetupAdminRoutes sets up admin routes with the API key middleware
func (h *AdminHandler) SetupAdminRoutes(router *mux.Router, secretKey string) {
	router.Handle("/test_zendesk_flow",
		APIKeyMiddleware(secretKey)(http.HandlerFunc(h.HandleTestFlow))).Methods("GET")
}

// HandleTestFlow runs a full round-trip against Zendesk: user search, ticket
// creation and ticket update. Verifies credentials and connectivity without
// touching the correlation state.
func (h *AdminHandler) HandleTestFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.zendesk.SearchUserByPhone(ctx, testPhoneNumber)
	if err != nil {
		logger.Base().Error("zendesk flow test: user search failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Test failed: " + err.Error(),
		})
		return
	}

	ticketID, err := h.zendesk.CreateTicket(ctx,
		"Test Ticket - Voice Integration",
		"This is a test ticket created by the voice integration system.",
		testPhoneNumber,
		[]string{"test", "voice-integration"},
	)
	if err != nil {
		logger.Base().Error("zendesk flow test: ticket creation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Failed to create test ticket",
		})
		return
	}

	updateErr := h.zendesk.UpdateTicket(ctx, ticketID,
		"Test ticket updated successfully.",
		[]string{"test", "voice-integration", "updated"},
		"solved",
	)
	if updateErr != nil {
		logger.Base().Error("zendesk flow test: ticket update failed", zap.Error(updateErr))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"test_results": map[string]interface{}{
			"user_search":    len(users),
			"ticket_created": true,
			"ticket_id":      ticketID,
			"ticket_updated": updateErr == nil,
		},
		"message": "Zendesk integration test completed successfully",
	})
}
