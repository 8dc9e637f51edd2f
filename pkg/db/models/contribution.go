package models

import (
	"time"

	"github.com/google/uuid"
)

// PercentPrecision is the fixed-point scale of Contribution.Percents (100.0000%).
const PercentPrecision = 1_000_000

// Contribution snapshots one user's running balance and pool share.
type Contribution struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	PaymentID   *int64    `gorm:"column:payment_id;index"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	Percents    int64     `gorm:"column:percents;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index"`
}
