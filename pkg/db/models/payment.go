package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/enums"
)

// Payment is a single money movement. Rows are never deleted; only the
// confirmation and cancellation columns change after insert.
type Payment struct {
	ID          int64               `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	VehicleID   *uuid.UUID          `gorm:"column:vehicle_id;type:uuid;index"`
	Operation   enums.OperationType `gorm:"column:operation;type:varchar(16);not null;index"`
	AmountCents int64               `gorm:"column:amount_cents;not null"`
	Confirmed   bool                `gorm:"column:confirmed;not null;default:false"`
	IsCancelled bool                `gorm:"column:is_cancelled;not null;default:false"`
	CancelledAt *time.Time          `gorm:"column:cancelled_at"`
	CancelledBy *uuid.UUID          `gorm:"column:cancelled_by;type:uuid"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
