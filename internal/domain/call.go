package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Call lifecycle events delivered by the voice platform webhook.
const (
	EventCallStarted = "call_started"
	EventCallEnded   = "call_ended"
)

var (
	// ErrMissingCallID is returned when a webhook payload has no call identifier.
	ErrMissingCallID = errors.New("missing call_id in request")
	// ErrMissingEvent is returned when a webhook payload has no event type.
	ErrMissingEvent = errors.New("missing event in request")
	// ErrMissingFromNumber is returned when a webhook payload has no caller number.
	ErrMissingFromNumber = errors.New("missing from_number in request")
	// ErrInvalidPhoneNumber is returned when the caller number is not a plausible phone number.
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
)

// WebhookRequest is the call lifecycle event delivered by the voice platform.
type WebhookRequest struct {
	Event string      `json:"event"`
	Call  CallPayload `json:"call"`
}

// CallPayload carries the call metadata of a webhook delivery. End timestamp,
// duration, recording and transcript are only present on call_ended events.
type CallPayload struct {
	CallID         string       `json:"call_id"`
	FromNumber     string       `json:"from_number"`
	CallStatus     string       `json:"call_status,omitempty"`
	StartTimestamp int64        `json:"start_timestamp"`
	EndTimestamp   int64        `json:"end_timestamp,omitempty"`
	DurationMS     int64        `json:"duration_ms,omitempty"`
	RecordingURL   string       `json:"recording_url,omitempty"`
	Transcript     string       `json:"transcript,omitempty"`
	CallAnalysis   CallAnalysis `json:"call_analysis,omitempty"`
}

// CallAnalysis holds post-call analysis attached by the voice platform.
type CallAnalysis struct {
	CallSummary string `json:"call_summary,omitempty"`
}

// Validate checks that the payload carries the fields every lifecycle event
// must have. Rejected payloads cause no side effects downstream.
func (r *WebhookRequest) Validate() error {
	if r.Event == "" {
		return ErrMissingEvent
	}
	if r.Call.CallID == "" {
		return ErrMissingCallID
	}
	if r.Call.FromNumber == "" {
		return ErrMissingFromNumber
	}
	if !ValidatePhoneNumber(r.Call.FromNumber) {
		return ErrInvalidPhoneNumber
	}
	return nil
}

// LedgerKey builds the deduplication key for an event delivery. Dedup is
// scoped per event type, so one call legitimately produces two ledger entries.
func LedgerKey(event, callID string) string {
	return event + "_" + callID
}

var nonDigits = regexp.MustCompile(`\D`)

// CleanPhoneNumber strips everything but digits from a phone number.
func CleanPhoneNumber(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// ValidatePhoneNumber reports whether the number has a plausible digit count
// (7 to 15 digits after cleaning).
func ValidatePhoneNumber(phone string) bool {
	cleaned := CleanPhoneNumber(phone)
	return len(cleaned) >= 7 && len(cleaned) <= 15
}

// FormatTimestamp renders a millisecond epoch timestamp as a UTC string for
// ticket descriptions.
func FormatTimestamp(timestampMS int64) string {
	return time.UnixMilli(timestampMS).UTC().Format("2006-01-02 15:04:05")
}

var tagCleaner = regexp.MustCompile(`[^\w\-_]`)

// SanitizeTags lowercases tags and drops characters Zendesk rejects. Tags
// longer than 50 characters (the Zendesk limit) are discarded.
func SanitizeTags(tags []string) []string {
	sanitized := make([]string, 0, len(tags))
	for _, tag := range tags {
		clean := tagCleaner.ReplaceAllString(strings.ToLower(tag), "")
		if clean != "" && len(clean) <= 50 {
			sanitized = append(sanitized, clean)
		}
	}
	return sanitized
}

// Summary returns a concise description of the call: the analysis summary when
// present, otherwise the head of the transcript. Truncated to 100 characters.
func (c *CallPayload) Summary() string {
	if s := c.CallAnalysis.CallSummary; s != "" {
		return truncate(s, 100)
	}
	if c.Transcript != "" {
		return truncate(c.Transcript, 100)
	}
	return "No summary available"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
