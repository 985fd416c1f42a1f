package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the account owner a subscription belongs to.
type Profile struct {
	ID                    uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AuthUserID            string     `gorm:"column:auth_user_id;not null;unique"`
	Email                 string     `gorm:"column:email;not null;index"`
	FirstName             *string    `gorm:"column:first_name"`
	LastName              *string    `gorm:"column:last_name"`
	LastSuspensionEmailAt *time.Time `gorm:"column:last_suspension_email_at"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
