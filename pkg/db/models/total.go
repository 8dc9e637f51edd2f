package models

import "time"

// Total snapshots the cumulative pool balance after one payment.
type Total struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PaymentID   int64     `gorm:"column:payment_id;not null;uniqueIndex:ux_totals_payment_id"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime;index"`
}
