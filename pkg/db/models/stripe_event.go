package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StripeEvent is the durable record of every webhook delivery. Rows are
// keyed by the provider event id so redeliveries collapse onto one row.
type StripeEvent struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EventID        string          `gorm:"column:event_id;not null;unique"`
	Type           string          `gorm:"column:type;not null;index"`
	Payload        json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	SubscriptionID *uuid.UUID      `gorm:"column:subscription_id;type:uuid;index"`
	Processed      bool            `gorm:"column:processed;not null;default:false"`
	ProcessedAt    *time.Time      `gorm:"column:processed_at"`
	Error          *string         `gorm:"column:error"`
	ReceivedAt     time.Time       `gorm:"column:received_at;not null;autoCreateTime"`
}
