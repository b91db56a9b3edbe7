package engine

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/JoshuaRamirez/ACS-sub000/engine/models"
	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Dead letter statuses
const (
	DeadLetterPending   = "pending"
	DeadLetterAbandoned = "abandoned"
)

// DeadLetterStore holds command envelopes whose persistence exhausted
// retries. Pending letters are re-driven by the worker; letters that keep
// failing past the abandon threshold are parked for operator attention.
type DeadLetterStore struct {
	gdb              *gorm.DB
	abandonThreshold int
}

// NewDeadLetterStore creates a dead letter store. abandonThreshold bounds
// re-drive failures per letter; zero or negative means never abandon.
func NewDeadLetterStore(gdb *gorm.DB, abandonThreshold int) *DeadLetterStore {
	return &DeadLetterStore{gdb: gdb, abandonThreshold: abandonThreshold}
}

// Enqueue stores a failed command envelope
func (s *DeadLetterStore) Enqueue(ctx context.Context, cmd *Command, cause error) error {
	payload, err := MarshalEnvelope(cmd)
	if err != nil {
		return err
	}

	row := models.DeadLetter{
		ID:          cmd.ID.String(),
		CommandKind: string(cmd.Kind),
		Payload:     string(payload),
		Actor:       cmd.Actor,
		LastError:   cause.Error(),
		Attempts:    cmd.Attempts,
		Status:      DeadLetterPending,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := s.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to enqueue dead letter %s: %w", cmd.ID, err)
	}

	slogging.Get().Warn("Dead-lettered command %s (%s) after %d attempts: %v", cmd.ID, cmd.Kind, cmd.Attempts, cause)
	return nil
}

// Pending returns up to limit pending letters in enqueue order
func (s *DeadLetterStore) Pending(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	var rows []models.DeadLetter
	err := s.gdb.WithContext(ctx).
		Where("status = ?", DeadLetterPending).
		Order("enqueued_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending dead letters: %w", err)
	}
	return rows, nil
}

// MarkSucceeded removes a letter after a successful re-drive
func (s *DeadLetterStore) MarkSucceeded(ctx context.Context, id string) error {
	if err := s.gdb.WithContext(ctx).Where("id = ?", id).Delete(&models.DeadLetter{}).Error; err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed re-drive and abandons the letter once its
// failure count crosses the threshold
func (s *DeadLetterStore) MarkFailed(ctx context.Context, id string, cause error) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"failure_count": gorm.Expr("failure_count + 1"),
		"last_error":    cause.Error(),
		"last_tried_at": &now,
	}
	if err := s.gdb.WithContext(ctx).Model(&models.DeadLetter{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update dead letter %s: %w", id, err)
	}

	if s.abandonThreshold <= 0 {
		return nil
	}

	res := s.gdb.WithContext(ctx).Model(&models.DeadLetter{}).
		Where("id = ? AND failure_count >= ?", id, s.abandonThreshold).
		Update("status", DeadLetterAbandoned)
	if res.Error != nil {
		return fmt.Errorf("failed to abandon dead letter %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		slogging.Get().Error("Abandoned dead letter %s after %d re-drive failures", id, s.abandonThreshold)
	}
	return nil
}

// Counts returns pending and abandoned letter counts for health reporting
func (s *DeadLetterStore) Counts(ctx context.Context) (pending, abandoned int64, err error) {
	if err = s.gdb.WithContext(ctx).Model(&models.DeadLetter{}).Where("status = ?", DeadLetterPending).Count(&pending).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count pending dead letters: %w", err)
	}
	if err = s.gdb.WithContext(ctx).Model(&models.DeadLetter{}).Where("status = ?", DeadLetterAbandoned).Count(&abandoned).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count abandoned dead letters: %w", err)
	}
	return pending, abandoned, nil
}
