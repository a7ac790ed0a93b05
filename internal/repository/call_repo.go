package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CallRepository persists call records. It is the write-behind for the
// in-memory call state store: the polling reconciler reads through it
// and the manual-termination path marks calls ended through it.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	Update(ctx context.Context, call *domain.Call) error
	Upsert(ctx context.Context, call *domain.Call) (*domain.Call, error)
	GetByID(ctx context.Context, id string) (*domain.Call, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Call, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*domain.Call, error)
	ListActive(ctx context.Context) ([]*domain.Call, error)
	MarkEnded(ctx context.Context, id string, reason domain.EndReason, endedAt time.Time) error
	Hide(ctx context.Context, id string) error
}

// GormCallRepository implements CallRepository using GORM
type GormCallRepository struct {
	db *gorm.DB
}

// NewGormCallRepository creates a new call repository
func NewGormCallRepository(db *gorm.DB) *GormCallRepository {
	return &GormCallRepository{db: db}
}

// Create creates a new call record
func (r *GormCallRepository) Create(ctx context.Context, call *domain.Call) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	call.UpdatedAt = time.Now()
	call.Sanitize()

	if err := r.db.WithContext(ctx).Create(call).Error; err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}
	return nil
}

// Update updates an existing call record
func (r *GormCallRepository) Update(ctx context.Context, call *domain.Call) error {
	call.UpdatedAt = time.Now()
	call.Sanitize()
	if err := r.db.WithContext(ctx).Save(call).Error; err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}
	return nil
}

// Upsert inserts the record on the first event for a new external call
// id, and updates it on every subsequent event. Returns the stored row.
func (r *GormCallRepository) Upsert(ctx context.Context, call *domain.Call) (*domain.Call, error) {
	if call.ExternalCallID == "" {
		return nil, fmt.Errorf("external call ID cannot be empty")
	}

	existing, err := r.GetByExternalID(ctx, call.ExternalCallID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		call.ID = existing.ID
		call.CreatedAt = existing.CreatedAt
		if err := r.Update(ctx, call); err != nil {
			return nil, err
		}
		return call, nil
	}

	if err := r.Create(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

// GetByID retrieves a call by its internal id. Returns nil, nil when not found.
func (r *GormCallRepository) GetByID(ctx context.Context, id string) (*domain.Call, error) {
	var call domain.Call
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&call).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return &call, nil
}

// GetByExternalID retrieves a call by its provider id. Returns nil, nil when not found.
func (r *GormCallRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Call, error) {
	var call domain.Call
	if err := r.db.WithContext(ctx).Where("external_call_id = ?", externalID).First(&call).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call by external id: %w", err)
	}
	return &call, nil
}

// ListRecent returns calls updated since the given time, newest first.
// The reconciler uses this to refetch the window the push channel may
// have missed across a disconnect.
func (r *GormCallRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 200
	}
	var calls []*domain.Call
	err := r.db.WithContext(ctx).
		Where("updated_at >= ?", since).
		Order("updated_at DESC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}
	return calls, nil
}

// ListActive returns all calls in a non-terminal status, newest first.
func (r *GormCallRepository) ListActive(ctx context.Context) ([]*domain.Call, error) {
	statuses := []domain.CallStatus{
		domain.CallStatusRinging,
		domain.CallStatusAnswered,
		domain.CallStatusOnHold,
		domain.CallStatusTransferred,
	}
	var calls []*domain.Call
	err := r.db.WithContext(ctx).
		Where("status IN ? AND hidden = ?", statuses, false).
		Order("started_at DESC").
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active calls: %w", err)
	}
	return calls, nil
}

// MarkEnded force-marks a call completed server-side. Used by the
// manual termination path when the provider's own termination signal is
// lost or delayed.
func (r *GormCallRepository) MarkEnded(ctx context.Context, id string, reason domain.EndReason, endedAt time.Time) error {
	call, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if call == nil {
		return fmt.Errorf("call %s not found", id)
	}
	if call.Status.Terminal() {
		return nil
	}

	call.Status = domain.CallStatusCompleted
	call.EndReason = &reason
	call.EndedAt = &endedAt
	call.DurationSeconds = nil // recomputed by Sanitize from started_at
	return r.Update(ctx, call)
}

// Hide soft-hides a call from operator views. Calls are never hard-deleted.
func (r *GormCallRepository) Hide(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&domain.Call{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"hidden": true, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to hide call: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("call %s not found", id)
	}
	return nil
}
