package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/insait-ai/zendesk-voice-bridge/internal/domain"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"go.uber.org/zap"
)

// ErrInvalidStatus is returned when a ticket update carries a status Zendesk
// does not accept.
var ErrInvalidStatus = errors.New("invalid ticket status")

// defaultRequesterName is assigned to callers with no existing Zendesk user.
const defaultRequesterName = "New Caller - Voice AI Agent"

// ZendeskClient handles communication with the Zendesk REST API.
type ZendeskClient struct {
	BaseURL    string
	Email      string
	APIToken   string
	HTTPClient *http.Client
}

// NewZendeskClient creates a new Zendesk API client for the given subdomain.
func NewZendeskClient(domainName, email, apiToken string) *ZendeskClient {
	client := &ZendeskClient{
		BaseURL:  fmt.Sprintf("https://%s/api/v2", domainName),
		Email:    email,
		APIToken: apiToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	logger.Base().Info("initialized Zendesk client", zap.String("domain", domainName))
	return client
}

// ZendeskUser is a user record from the Zendesk search API.
type ZendeskUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// ticketComment is the comment body attached to a ticket create or update.
type ticketComment struct {
	Body   string `json:"body"`
	Public bool   `json:"public"`
}

// ticketRequester is the inline requester used when no existing user matches
// the caller's phone number.
type ticketRequester struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// ticketPayload is the ticket object sent to Zendesk. Optional fields are
// omitted so updates only touch what they carry.
type ticketPayload struct {
	Subject     string           `json:"subject,omitempty"`
	Comment     *ticketComment   `json:"comment,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Status      string           `json:"status,omitempty"`
	RequesterID int64            `json:"requester_id,omitempty"`
	Requester   *ticketRequester `json:"requester,omitempty"`
}

type ticketRequest struct {
	Ticket ticketPayload `json:"ticket"`
}

type ticketResponse struct {
	Ticket struct {
		ID int64 `json:"id"`
	} `json:"ticket"`
}

type searchResponse struct {
	Results []ZendeskUser `json:"results"`
}

// CreateTicket creates a new Zendesk ticket for the caller and returns its ID.
// The caller's phone number is resolved to an existing Zendesk user first; a
// new requester is only attached when no user matches.
func (c *ZendeskClient) CreateTicket(ctx context.Context, subject, description, requesterPhone string, tags []string) (int64, error) {
	logger.Base().Info("creating Zendesk ticket", zap.String("requester", requesterPhone))

	payload := ticketPayload{
		Subject: subject,
		Comment: &ticketComment{Body: description, Public: false},
		Tags:    domain.SanitizeTags(tags),
	}

	if user := c.selectRequester(ctx, requesterPhone); user != nil {
		payload.RequesterID = user.ID
		logger.Base().Info("creating ticket for existing user",
			zap.Int64("user_id", user.ID),
			zap.String("user_name", user.Name),
		)
	} else {
		payload.Requester = &ticketRequester{
			Phone: requesterPhone,
			Name:  defaultRequesterName,
		}
		logger.Base().Info("no existing user found, creating ticket with new requester")
	}

	var response ticketResponse
	if err := c.doJSON(ctx, "POST", c.BaseURL+"/tickets.json", ticketRequest{Ticket: payload}, &response); err != nil {
		return 0, fmt.Errorf("failed to create Zendesk ticket: %w", err)
	}

	logger.Base().Info("created Zendesk ticket", zap.Int64("ticket_id", response.Ticket.ID))
	return response.Ticket.ID, nil
}

// UpdateTicket adds a comment to an existing ticket and optionally replaces
// its tags and status. Valid statuses are open, pending, solved and closed.
func (c *ZendeskClient) UpdateTicket(ctx context.Context, ticketID int64, description string, tags []string, status string) error {
	payload := ticketPayload{
		Tags: domain.SanitizeTags(tags),
	}
	if description != "" {
		payload.Comment = &ticketComment{Body: description, Public: false}
	}
	if status != "" {
		status = strings.ToLower(status)
		switch status {
		case "open", "pending", "solved", "closed":
			payload.Status = status
		default:
			return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
	}

	url := fmt.Sprintf("%s/tickets/%d.json", c.BaseURL, ticketID)
	if err := c.doJSON(ctx, "PUT", url, ticketRequest{Ticket: payload}, nil); err != nil {
		return fmt.Errorf("failed to update Zendesk ticket %d: %w", ticketID, err)
	}

	logger.Base().Info("updated Zendesk ticket", zap.Int64("ticket_id", ticketID))
	return nil
}

// SearchUserByPhone returns the Zendesk users matching the caller's phone
// number. The number is reduced to digits before searching, matching how
// Zendesk normalizes phone identities.
func (c *ZendeskClient) SearchUserByPhone(ctx context.Context, phone string) ([]ZendeskUser, error) {
	cleanPhone := domain.CleanPhoneNumber(phone)
	query := url.Values{}
	query.Set("query", fmt.Sprintf("type:user phone:%s", cleanPhone))

	var response searchResponse
	searchURL := c.BaseURL + "/search.json?" + query.Encode()
	if err := c.doJSON(ctx, "GET", searchURL, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to search Zendesk users: %w", err)
	}

	logger.Base().Info("Zendesk user search completed",
		zap.String("phone", phone),
		zap.Int("matches", len(response.Results)),
	)
	return response.Results, nil
}

// selectRequester picks the Zendesk user the ticket should be filed under.
// Users with a real name win over the "Customer" placeholder. Search failures
// degrade to an inline requester rather than failing the ticket.
func (c *ZendeskClient) selectRequester(ctx context.Context, phone string) *ZendeskUser {
	users, err := c.SearchUserByPhone(ctx, phone)
	if err != nil {
		logger.Base().Warn("user search failed, falling back to inline requester", zap.Error(err))
		return nil
	}
	if len(users) == 0 {
		return nil
	}

	for i := range users {
		if users[i].Name != "" && !strings.EqualFold(users[i].Name, "customer") {
			return &users[i]
		}
	}
	return &users[0]
}

// doJSON sends a JSON request with Zendesk token auth and decodes the
// response into out when provided. Non-2xx responses become errors carrying
// the response body.
func (c *ZendeskClient) doJSON(ctx context.Context, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.Email+"/token", c.APIToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Base().Error("Zendesk API error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", string(bodyBytes)),
		)
		return fmt.Errorf("Zendesk API error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
