package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/insait-ai/zendesk-voice-bridge/internal/domain"
	"gorm.io/gorm"
)

// CallRecordRepository handles database operations for archived call records
type CallRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// Record persists one lifecycle outcome.
func (r *CallRecordRepository) Record(ctx context.Context, record *domain.CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}
	return nil
}

// GetByCallID retrieves the archived records of a single call, oldest first.
func (r *CallRecordRepository) GetByCallID(ctx context.Context, callID string) ([]*domain.CallRecord, error) {
	var records []*domain.CallRecord
	err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get call records: %w", err)
	}
	return records, nil
}

// FindByFromNumber retrieves archived records for a caller within a time range.
func (r *CallRecordRepository) FindByFromNumber(ctx context.Context, fromNumber string, start, end time.Time) ([]*domain.CallRecord, error) {
	if fromNumber == "" {
		return nil, fmt.Errorf("from number cannot be empty")
	}

	query := r.db.WithContext(ctx).Where("from_number = ?", fromNumber)
	if !start.IsZero() {
		query = query.Where("created_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("created_at <= ?", end)
	}

	var records []*domain.CallRecord
	if err := query.Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find call records: %w", err)
	}
	return records, nil
}

// CountByOutcome counts archived records with the given outcome. Used by
// operators to watch the rate of uncorrelated fallback tickets.
func (r *CallRecordRepository) CountByOutcome(ctx context.Context, outcome domain.TicketOutcome) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.CallRecord{}).
		Where("outcome = ?", outcome).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count call records: %w", err)
	}
	return count, nil
}

// Ping checks the database connection
func (r *CallRecordRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *CallRecordRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
