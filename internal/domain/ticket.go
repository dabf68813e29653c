package domain

import (
	"time"
)

// TicketOutcome records how a lifecycle event was resolved against Zendesk.
type TicketOutcome string

const (
	// OutcomeCreated means call_started created a fresh ticket.
	OutcomeCreated TicketOutcome = "created"
	// OutcomeCorrelated means call_ended found the active mapping and updated the open ticket.
	OutcomeCorrelated TicketOutcome = "correlated"
	// OutcomeFallback means call_ended exhausted its lookup retries and created an orphaned ticket.
	OutcomeFallback TicketOutcome = "fallback"
)

// CallRecord is one archived lifecycle outcome. The archive is best-effort
// and never fails a webhook request.
type CallRecord struct {
	ID              string        `json:"id" gorm:"column:id;primaryKey"`
	CallID          string        `json:"call_id" gorm:"column:call_id;index"`
	FromNumber      string        `json:"from_number" gorm:"column:from_number;index"`
	TicketID        int64         `json:"ticket_id" gorm:"column:ticket_id"`
	Outcome         TicketOutcome `json:"outcome" gorm:"column:outcome"`
	StartedAt       time.Time     `json:"started_at" gorm:"column:started_at"`
	EndedAt         time.Time     `json:"ended_at" gorm:"column:ended_at"`
	DurationSeconds float64       `json:"duration_seconds" gorm:"column:duration_seconds"`
	CreatedAt       time.Time     `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"column:updated_at"`
}

func (CallRecord) TableName() string {
	return "call_records"
}
