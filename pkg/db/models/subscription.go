package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/qreahq/qrea-backend/pkg/enums"
)

// Subscription persists billing state per profile. StripeCustomerID is
// the join key webhook events resolve against.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID            uuid.UUID                `gorm:"column:profile_id;type:uuid;not null;index"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;not null;unique"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;index"`
	Plan                 enums.Plan               `gorm:"column:plan;not null;default:'free'"`
	Status               enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	PriceID              *string                  `gorm:"column:price_id"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	LastPaymentDate      *time.Time               `gorm:"column:last_payment_date"`
	SuspendedAt          *time.Time               `gorm:"column:suspended_at"`
	SuspensionReason     *string                  `gorm:"column:suspension_reason"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
