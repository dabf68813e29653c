package ticket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/insait-ai/zendesk-voice-bridge/internal/domain"
	"github.com/insait-ai/zendesk-voice-bridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createCall struct {
	Subject     string
	Description string
	Phone       string
	Tags        []string
}

type updateCall struct {
	TicketID    int64
	Description string
	Tags        []string
	Status      string
}

// fakeTicketAPI records every create/update and hands out sequential IDs.
type fakeTicketAPI struct {
	mu        sync.Mutex
	nextID    int64
	creates   []createCall
	updates   []updateCall
	createErr error
	updateErr error
}

func (f *fakeTicketAPI) CreateTicket(_ context.Context, subject, description, phone string, tags []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	f.creates = append(f.creates, createCall{subject, description, phone, tags})
	return f.nextID, nil
}

func (f *fakeTicketAPI) UpdateTicket(_ context.Context, ticketID int64, description string, tags []string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updateCall{ticketID, description, tags, status})
	return nil
}

type recordedCall struct {
	record *domain.CallRecord
}

type fakeRecorder struct {
	records []recordedCall
}

func (f *fakeRecorder) Record(_ context.Context, record *domain.CallRecord) error {
	f.records = append(f.records, recordedCall{record})
	return nil
}

func newTestService(api *fakeTicketAPI, kv store.Store) (*Service, *int) {
	svc := NewService(ServiceConfig{
		LookupAttempts: 5,
		LookupDelay:    10 * time.Second,
	}, kv, api, nil)

	// Count retry waits instead of sleeping.
	sleeps := 0
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return ctx.Err()
	}
	return svc, &sleeps
}

func startedRequest(callID, phone string) *domain.WebhookRequest {
	return &domain.WebhookRequest{
		Event: domain.EventCallStarted,
		Call: domain.CallPayload{
			CallID:         callID,
			FromNumber:     phone,
			StartTimestamp: 1000000,
		},
	}
}

func endedRequest(callID, phone string) *domain.WebhookRequest {
	return &domain.WebhookRequest{
		Event: domain.EventCallEnded,
		Call: domain.CallPayload{
			CallID:         callID,
			FromNumber:     phone,
			StartTimestamp: 1000000,
			EndTimestamp:   1060000,
			DurationMS:     60000,
			RecordingURL:   "https://recordings.example.com/call-1.wav",
			Transcript:     "Agent: Hello\nCaller: Hi",
		},
	}
}

func TestCallStartedCreatesTicketAndMapping(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc, _ := newTestService(api, kv)

	res, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, int64(1), res.TicketID)

	require.Len(t, api.creates, 1)
	assert.Equal(t, "Ongoing Call with +15551234567", api.creates[0].Subject)
	assert.Contains(t, api.creates[0].Description, "call-1")
	assert.Equal(t, []string{"call", "voice-ai-agent", "in-progress"}, api.creates[0].Tags)

	mapped, err := kv.Get(ctx, store.CollectionActiveTickets, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "1", mapped)

	// Ledger entry written under {event}_{call_id}.
	exists, err := kv.Exists(ctx, store.CollectionProcessedCalls, "call_started_call-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	svc, _ := newTestService(api, store.NewMemoryStore())

	first, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	second, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Len(t, api.creates, 1, "redelivery must not create a second ticket")
}

func TestCallEndedCorrelatesWithOpenTicket(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc, sleeps := newTestService(api, kv)

	_, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)

	res, err := svc.ProcessEvent(ctx, endedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, int64(1), res.TicketID)
	assert.Zero(t, *sleeps, "mapping present, no retries expected")

	require.Len(t, api.updates, 1)
	update := api.updates[0]
	assert.Equal(t, int64(1), update.TicketID)
	assert.Equal(t, "open", update.Status)
	assert.Equal(t, []string{"call", "voice-ai-agent", "completed"}, update.Tags)
	assert.Contains(t, update.Description, "60.0 seconds")
	assert.Contains(t, update.Description, "https://recordings.example.com/call-1.wav")

	// Mapping removed once the interval is closed.
	_, err = kv.Get(ctx, store.CollectionActiveTickets, "+15551234567")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Same caller can start a new call afterwards.
	res, err = svc.ProcessEvent(ctx, startedRequest("call-2", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, int64(2), res.TicketID)
}

func TestCallEndedFallsBackAfterRetries(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	svc, sleeps := newTestService(api, store.NewMemoryStore())

	res, err := svc.ProcessEvent(ctx, endedRequest("call-orphan", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, 5, *sleeps, "each retry must wait once")

	require.Len(t, api.creates, 1)
	create := api.creates[0]
	assert.Equal(t, "Completed Call with +15551234567", create.Subject)
	assert.Contains(t, create.Tags, "uncorrelated")
	assert.Contains(t, create.Description, "Call Start Time")
	assert.Contains(t, create.Description, "Call End Time")
	assert.Empty(t, api.updates)
}

func TestCallEndedRetryPicksUpLateMapping(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc, _ := newTestService(api, kv)

	// Mapping appears after the second wait, as if the call_started delivery
	// was still in flight.
	waits := 0
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		waits++
		if waits == 2 {
			_ = kv.Set(ctx, store.CollectionActiveTickets, "+15551234567", "77")
		}
		return nil
	}

	res, err := svc.ProcessEvent(ctx, endedRequest("call-late", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, int64(77), res.TicketID)
	assert.Equal(t, 2, waits)
	assert.Empty(t, api.creates, "correlated update must not create a ticket")
}

func TestCallEndedAbortsOnCancelledContext(t *testing.T) {
	api := &fakeTicketAPI{}
	svc := NewService(ServiceConfig{LookupAttempts: 5, LookupDelay: 10 * time.Second},
		store.NewMemoryStore(), api, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ProcessEvent(ctx, endedRequest("call-1", "+15551234567"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.creates)
}

func TestAllowListRejectsBeforeSideEffects(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc := NewService(ServiceConfig{
		AllowedPhoneNumbers: []string{"+15551234567"},
		LookupAttempts:      1,
		LookupDelay:         time.Millisecond,
	}, kv, api, nil)

	_, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+19998887777"))
	assert.ErrorIs(t, err, ErrPhoneNotAllowed)
	assert.Empty(t, api.creates)

	exists, err := kv.Exists(ctx, store.CollectionProcessedCalls, "call_started_call-1")
	require.NoError(t, err)
	assert.False(t, exists, "rejected events must not reach the ledger")

	// Listed caller passes.
	res, err := svc.ProcessEvent(ctx, startedRequest("call-2", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestEmptyAllowListPermitsEveryone(t *testing.T) {
	api := &fakeTicketAPI{}
	svc, _ := newTestService(api, store.NewMemoryStore())

	res, err := svc.ProcessEvent(context.Background(), startedRequest("call-1", "+442071234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestUnknownEventIgnoredWithoutLedgerWrite(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc, _ := newTestService(api, kv)

	req := startedRequest("call-1", "+15551234567")
	req.Event = "call_analyzed"

	res, err := svc.ProcessEvent(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, api.creates)

	exists, err := kv.Exists(ctx, store.CollectionProcessedCalls, "call_analyzed_call-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateFailureLeavesEventRetryable(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{createErr: errors.New("zendesk unavailable")}
	kv := store.NewMemoryStore()
	svc, _ := newTestService(api, kv)

	_, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.Error(t, err)

	exists, err := kv.Exists(ctx, store.CollectionProcessedCalls, "call_started_call-1")
	require.NoError(t, err)
	assert.False(t, exists, "failed dispatch must stay retryable on redelivery")

	// Redelivery after the outage succeeds.
	api.createErr = nil
	res, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestOverlappingCallsOverwriteMapping(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc, _ := newTestService(api, kv)

	_, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	_, err = svc.ProcessEvent(ctx, startedRequest("call-2", "+15551234567"))
	require.NoError(t, err)

	// Last writer wins: both calls now point at the second ticket.
	mapped, err := kv.Get(ctx, store.CollectionActiveTickets, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "2", mapped)

	res, err := svc.ProcessEvent(ctx, endedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, int64(2), res.TicketID)
}

func TestCorruptMappingDegradesToFallback(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	kv := store.NewMemoryStore()
	svc, _ := newTestService(api, kv)

	require.NoError(t, kv.Set(ctx, store.CollectionActiveTickets, "+15551234567", "not-a-number"))

	res, err := svc.ProcessEvent(ctx, endedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, res.Outcome)
}

func TestArchiveRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	api := &fakeTicketAPI{}
	recorder := &fakeRecorder{}
	svc := NewService(ServiceConfig{LookupAttempts: 1, LookupDelay: time.Millisecond},
		store.NewMemoryStore(), api, recorder)
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := svc.ProcessEvent(ctx, startedRequest("call-1", "+15551234567"))
	require.NoError(t, err)
	_, err = svc.ProcessEvent(ctx, endedRequest("call-1", "+15551234567"))
	require.NoError(t, err)

	require.Len(t, recorder.records, 2)
	assert.Equal(t, domain.OutcomeCreated, recorder.records[0].record.Outcome)

	ended := recorder.records[1].record
	assert.Equal(t, domain.OutcomeCorrelated, ended.Outcome)
	assert.Equal(t, "call-1", ended.CallID)
	assert.Equal(t, int64(1), ended.TicketID)
	assert.InDelta(t, 60.0, ended.DurationSeconds, 0.001)
}

func TestValidationErrorsSurface(t *testing.T) {
	svc, _ := newTestService(&fakeTicketAPI{}, store.NewMemoryStore())

	req := startedRequest("", "+15551234567")
	_, err := svc.ProcessEvent(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrMissingCallID)
}
