package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qreahq/qrea-backend/pkg/db/models"
)

// Repository handles stripe event persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Upsert(ctx context.Context, event *models.StripeEvent) (*models.StripeEvent, error)
	FindByEventID(ctx context.Context, eventID string) (*models.StripeEvent, error)
	SetSubscriptionRef(ctx context.Context, eventID string, subscriptionID uuid.UUID) error
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, handlerErr string) error
	ListUnprocessed(ctx context.Context, limit int) ([]models.StripeEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Upsert inserts the event keyed by its provider id. A redelivery refreshes
// the payload columns but never touches processed/processed_at/error, so a
// replay of an already handled event stays handled.
func (r *repository) Upsert(ctx context.Context, event *models.StripeEvent) (*models.StripeEvent, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "payload", "received_at"}),
		}).
		Create(event).Error
	if err != nil {
		return nil, err
	}
	return r.FindByEventID(ctx, event.EventID)
}

func (r *repository) FindByEventID(ctx context.Context, eventID string) (*models.StripeEvent, error) {
	var event models.StripeEvent
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) SetSubscriptionRef(ctx context.Context, eventID string, subscriptionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.StripeEvent{}).
		Where("event_id = ?", eventID).
		Update("subscription_id", subscriptionID).Error
}

func (r *repository) MarkProcessed(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.StripeEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": now,
			"error":        nil,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, eventID string, handlerErr string) error {
	return r.db.WithContext(ctx).
		Model(&models.StripeEvent{}).
		Where("event_id = ?", eventID).
		Update("error", handlerErr).Error
}

func (r *repository) ListUnprocessed(ctx context.Context, limit int) ([]models.StripeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.StripeEvent
	if err := r.db.WithContext(ctx).
		Where("NOT processed").
		Order("received_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
