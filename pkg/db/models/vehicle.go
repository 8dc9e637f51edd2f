package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/pkg/enums"
)

// Vehicle is a car bought by the pool for resale.
type Vehicle struct {
	ID                 uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Brand              string     `gorm:"column:brand;not null"`
	Model              string     `gorm:"column:model;not null"`
	Year               int        `gorm:"column:year;not null"`
	VIN                *string    `gorm:"column:vin"`
	CostCents          int64      `gorm:"column:cost_cents;not null"`
	PlanSaleCents      int64      `gorm:"column:plan_sale_cents;not null"`
	PriceCents         *int64     `gorm:"column:price_cents"`
	ProfitCents        *int64     `gorm:"column:profit_cents"`
	SaleDate           *time.Time `gorm:"column:sale_date;index"`
	SaleDurationDays   *int       `gorm:"column:sale_duration_days"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
	CancellationReason *string    `gorm:"column:cancellation_reason"`
	CancelledBy        *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller did not.
func (v *Vehicle) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// State derives the lifecycle state from the sale and cancellation columns.
func (v Vehicle) State() enums.VehicleState {
	switch {
	case v.SaleDate == nil && v.CancelledAt == nil:
		return enums.VehicleStateForSale
	case v.SaleDate != nil && v.CancelledAt == nil:
		return enums.VehicleStateSold
	case v.SaleDate != nil:
		return enums.VehicleStateCancelled
	default:
		return enums.VehicleStateUnsold
	}
}
