// Package ticket contains the call-to-ticket correlation core: the
// deduplication ledger and the correlation engine that turns call lifecycle
// webhooks into Zendesk ticket operations.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/insait-ai/zendesk-voice-bridge/internal/domain"
	"github.com/insait-ai/zendesk-voice-bridge/internal/store"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"go.uber.org/zap"
)

// ErrPhoneNotAllowed is returned when the caller is not on the configured
// allow-list. The event is rejected before any ledger or ticket operation.
var ErrPhoneNotAllowed = errors.New("phone number not authorized")

// TicketAPI is the downstream ticketing backend. Authentication, rate limits
// and transport retries are its implementation's concern.
type TicketAPI interface {
	CreateTicket(ctx context.Context, subject, description, requesterPhone string, tags []string) (int64, error)
	UpdateTicket(ctx context.Context, ticketID int64, description string, tags []string, status string) error
}

// CallRecorder archives processed lifecycle outcomes. Archive failures are
// logged and never fail a request.
type CallRecorder interface {
	Record(ctx context.Context, record *domain.CallRecord) error
}

// Outcome classifies how ProcessEvent resolved a webhook delivery.
type Outcome string

const (
	// OutcomeCreated: call_started created a ticket and stored the active mapping.
	OutcomeCreated Outcome = "created"
	// OutcomeUpdated: call_ended correlated with the open ticket and updated it.
	OutcomeUpdated Outcome = "updated"
	// OutcomeFallback: call_ended found no mapping after retries and created a new ticket.
	OutcomeFallback Outcome = "fallback"
	// OutcomeDuplicate: the (event, call_id) pair was already processed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored: the event type is not part of the call lifecycle.
	OutcomeIgnored Outcome = "ignored"
)

// Result is the resolution of one webhook delivery.
type Result struct {
	Outcome  Outcome
	TicketID int64
}

// ServiceConfig holds the tunables of the correlation engine.
type ServiceConfig struct {
	// AllowedPhoneNumbers restricts processing to listed callers. Empty
	// permits everyone.
	AllowedPhoneNumbers []string

	// LookupAttempts bounds the mapping-lookup retries on call_ended.
	LookupAttempts int
	// LookupDelay is the fixed wait between lookup attempts.
	LookupDelay time.Duration
}

// Service is the call correlation engine. Per-caller state is kept in the
// external store only; the engine itself carries no mutable state, so one
// instance serves all request goroutines.
//
// Known limitation: a second call_started for the same caller before the
// first call's call_ended overwrites the active mapping (last-writer-wins).
// The first ticket is then left in-progress and its call_ended, if it arrives
// at all, correlates to the second ticket.
type Service struct {
	cfg     ServiceConfig
	store   store.Store
	ledger  *Ledger
	tickets TicketAPI
	records CallRecorder

	// sleep waits between lookup attempts; overridden in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService creates the correlation engine. records may be nil when the
// archive database is not configured.
func NewService(cfg ServiceConfig, s store.Store, tickets TicketAPI, records CallRecorder) *Service {
	if cfg.LookupAttempts <= 0 {
		cfg.LookupAttempts = 5
	}
	if cfg.LookupDelay <= 0 {
		cfg.LookupDelay = 10 * time.Second
	}
	return &Service{
		cfg:     cfg,
		store:   s,
		ledger:  NewLedger(s),
		tickets: tickets,
		records: records,
		sleep:   sleepContext,
	}
}

// ProcessEvent resolves one webhook delivery. The pipeline is: validate,
// allow-list, dedup check, then dispatch by event type. The ledger is written
// only after ticket side effects were attempted, so a failed downstream
// mutation stays retryable on redelivery.
func (s *Service) ProcessEvent(ctx context.Context, req *domain.WebhookRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	phone := req.Call.FromNumber
	if !s.phoneAllowed(phone) {
		logger.Base().Warn("caller not on allow-list", zap.String("from_number", phone))
		return nil, ErrPhoneNotAllowed
	}

	key := domain.LedgerKey(req.Event, req.Call.CallID)
	if s.ledger.HasProcessed(ctx, key) {
		logger.Base().Info("duplicate event-call pair, ignoring",
			zap.String("ledger_key", key),
		)
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	switch req.Event {
	case domain.EventCallStarted:
		return s.handleCallStarted(ctx, req)
	case domain.EventCallEnded:
		return s.handleCallEnded(ctx, req)
	default:
		logger.Base().Info("ignoring event outside call lifecycle", zap.String("event", req.Event))
		return &Result{Outcome: OutcomeIgnored}, nil
	}
}

// phoneAllowed checks the caller against the allow-list. An empty list
// permits all callers.
func (s *Service) phoneAllowed(phone string) bool {
	if len(s.cfg.AllowedPhoneNumbers) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedPhoneNumbers {
		if allowed == phone {
			return true
		}
	}
	return false
}

// handleCallStarted creates the initial ticket and stores the active mapping
// for the caller. Ticket creation failures surface to the webhook sender;
// retries are the sender's concern.
func (s *Service) handleCallStarted(ctx context.Context, req *domain.WebhookRequest) (*Result, error) {
	call := &req.Call
	phone := call.FromNumber

	subject := fmt.Sprintf("Ongoing Call with %s", phone)
	description := fmt.Sprintf(
		"Ongoing Call Information:\n"+
			"- Phone: %s\n"+
			"- Call Start Time: %s\n"+
			"- Call Status: In Progress\n"+
			"- Call ID: %s\n\n"+
			"Note: This ticket will be updated with full call details when the call ends.",
		phone, domain.FormatTimestamp(call.StartTimestamp), call.CallID)

	ticketID, err := s.tickets.CreateTicket(ctx, subject, description, phone, tagsInProgress())
	if err != nil {
		return nil, fmt.Errorf("failed to create initial ticket: %w", err)
	}

	if err := s.store.Set(ctx, store.CollectionActiveTickets, phone, strconv.FormatInt(ticketID, 10)); err != nil {
		// The ticket exists but the mapping is lost; the eventual call_ended
		// will take the fallback path. Log loudly, do not fail the request.
		logger.Base().Error("failed to store active ticket mapping",
			zap.String("from_number", phone),
			zap.Int64("ticket_id", ticketID),
			zap.Error(err),
		)
	}

	s.ledger.MarkProcessed(ctx, req.Event, call.CallID)
	s.archive(ctx, call, ticketID, domain.OutcomeCreated)

	logger.Base().Info("created initial ticket",
		zap.Int64("ticket_id", ticketID),
		zap.String("from_number", phone),
	)
	return &Result{Outcome: OutcomeCreated, TicketID: ticketID}, nil
}

// handleCallEnded correlates the event with the caller's open ticket. When
// the mapping has not appeared yet (the call_started delivery may still be in
// flight) the lookup is retried a bounded number of times before degrading to
// a fallback ticket.
func (s *Service) handleCallEnded(ctx context.Context, req *domain.WebhookRequest) (*Result, error) {
	call := &req.Call
	phone := call.FromNumber

	ticketID, found, err := s.lookupActiveTicket(ctx, phone)
	if err != nil {
		return nil, err
	}
	if !found {
		return s.createFallbackTicket(ctx, req)
	}

	logger.Base().Info("found active ticket, updating with call details",
		zap.Int64("ticket_id", ticketID),
		zap.String("from_number", phone),
	)

	description := fmt.Sprintf(
		"Call Completed - Updated Information:\n"+
			"- Call End Time: %s\n"+
			"- Call Duration: %.1f seconds\n"+
			"- Recording URL: %s\n"+
			"- Transcript: %s",
		domain.FormatTimestamp(call.EndTimestamp),
		float64(call.DurationMS)/1000,
		valueOrNotAvailable(call.RecordingURL),
		valueOrNotAvailable(call.Transcript))

	if err := s.tickets.UpdateTicket(ctx, ticketID, description, tagsCompleted(), "open"); err != nil {
		return nil, fmt.Errorf("failed to update ticket %d: %w", ticketID, err)
	}

	// Close the open interval between the two lifecycle events.
	if err := s.store.Delete(ctx, store.CollectionActiveTickets, phone); err != nil {
		logger.Base().Error("failed to remove active ticket mapping",
			zap.String("from_number", phone),
			zap.Error(err),
		)
	}

	s.ledger.MarkProcessed(ctx, req.Event, call.CallID)
	s.archive(ctx, call, ticketID, domain.OutcomeCorrelated)

	return &Result{Outcome: OutcomeUpdated, TicketID: ticketID}, nil
}

// lookupActiveTicket resolves the caller's open ticket, retrying up to
// LookupAttempts times with LookupDelay between attempts. Store errors
// degrade to "not found". A cancelled context aborts the wait.
func (s *Service) lookupActiveTicket(ctx context.Context, phone string) (int64, bool, error) {
	value, ok := s.getMapping(ctx, phone)
	for attempt := 0; !ok && attempt < s.cfg.LookupAttempts; attempt++ {
		logger.Base().Info("no active ticket found, retrying lookup",
			zap.String("from_number", phone),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.cfg.LookupAttempts),
		)
		if err := s.sleep(ctx, s.cfg.LookupDelay); err != nil {
			return 0, false, err
		}
		value, ok = s.getMapping(ctx, phone)
	}
	if !ok {
		return 0, false, nil
	}

	ticketID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logger.Base().Error("corrupt active ticket mapping",
			zap.String("from_number", phone),
			zap.String("value", value),
		)
		return 0, false, nil
	}
	return ticketID, true, nil
}

func (s *Service) getMapping(ctx context.Context, phone string) (string, bool) {
	value, err := s.store.Get(ctx, store.CollectionActiveTickets, phone)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Base().Warn("active ticket store unreachable, treating as not found",
				zap.String("from_number", phone),
				zap.Error(err),
			)
		}
		return "", false
	}
	return value, true
}

// createFallbackTicket is the degraded-but-safe path: a completed call whose
// mapping never appeared still produces a ticket, tagged so operators can
// identify orphaned tickets.
func (s *Service) createFallbackTicket(ctx context.Context, req *domain.WebhookRequest) (*Result, error) {
	call := &req.Call
	phone := call.FromNumber

	logger.Base().Info("no active ticket after retries, creating fallback ticket",
		zap.String("from_number", phone),
		zap.Int("attempts", s.cfg.LookupAttempts),
	)

	subject := fmt.Sprintf("Completed Call with %s", phone)
	description := fmt.Sprintf(
		"Completed Call Information:\n"+
			"- Phone: %s\n"+
			"- Call Start Time: %s\n"+
			"- Call End Time: %s\n"+
			"- Recording URL: %s\n"+
			"- Transcript: %s",
		phone,
		domain.FormatTimestamp(call.StartTimestamp),
		domain.FormatTimestamp(call.EndTimestamp),
		valueOrNotAvailable(call.RecordingURL),
		valueOrNotAvailable(call.Transcript))

	ticketID, err := s.tickets.CreateTicket(ctx, subject, description, phone, tagsFallback())
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback ticket: %w", err)
	}

	s.ledger.MarkProcessed(ctx, req.Event, call.CallID)
	s.archive(ctx, call, ticketID, domain.OutcomeFallback)

	return &Result{Outcome: OutcomeFallback, TicketID: ticketID}, nil
}

// archive persists the outcome when the call-record repository is configured.
func (s *Service) archive(ctx context.Context, call *domain.CallPayload, ticketID int64, outcome domain.TicketOutcome) {
	if s.records == nil {
		return
	}

	record := &domain.CallRecord{
		ID:              uuid.New().String(),
		CallID:          call.CallID,
		FromNumber:      call.FromNumber,
		TicketID:        ticketID,
		Outcome:         outcome,
		StartedAt:       time.UnixMilli(call.StartTimestamp).UTC(),
		DurationSeconds: float64(call.DurationMS) / 1000,
	}
	if call.EndTimestamp > 0 {
		record.EndedAt = time.UnixMilli(call.EndTimestamp).UTC()
	}

	if err := s.records.Record(ctx, record); err != nil {
		logger.Base().Error("failed to archive call record",
			zap.String("call_id", call.CallID),
			zap.Error(err),
		)
	}
}

func tagsInProgress() []string {
	return []string{"call", "voice-ai-agent", "in-progress"}
}

func tagsCompleted() []string {
	return []string{"call", "voice-ai-agent", "completed"}
}

func tagsFallback() []string {
	return []string{"call", "voice-ai-agent", "completed", "uncorrelated"}
}

func valueOrNotAvailable(s string) string {
	if s == "" {
		return "Not available"
	}
	return s
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
