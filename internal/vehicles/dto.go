package vehicles

import (
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

// BuyVehicleInput describes a purchase. At overrides created_at for backfills.
type BuyVehicleInput struct {
	Brand         string
	Model         string
	Year          int
	VIN           *string
	CostCents     int64
	PlanSaleCents int64
	At            *time.Time
}

// BuyResult bundles the stored vehicle and its BUY_CAR payment.
type BuyResult struct {
	Vehicle *models.Vehicle
	Payment *models.Payment
}

type ListParams struct {
	State *enums.VehicleState
	pkgpagination.Params
}

type ListResult struct {
	Items  []VehicleDTO `json:"items"`
	Cursor string       `json:"cursor"`
}

type VehicleDTO struct {
	ID                 uuid.UUID          `json:"id"`
	Brand              string             `json:"brand"`
	Model              string             `json:"model"`
	Year               int                `json:"year"`
	VIN                *string            `json:"vin,omitempty"`
	State              enums.VehicleState `json:"state"`
	CostCents          int64              `json:"cost_cents"`
	PlanSaleCents      int64              `json:"plan_sale_cents"`
	PriceCents         *int64             `json:"price_cents,omitempty"`
	ProfitCents        *int64             `json:"profit_cents,omitempty"`
	SaleDate           *time.Time         `json:"sale_date,omitempty"`
	SaleDurationDays   *int               `json:"sale_duration_days,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	CancellationReason *string            `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID         `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type listQuery struct {
	state  *enums.VehicleState
	limit  int
	cursor *pkgpagination.Cursor
}

// FromModel maps a vehicle to its transport shape.
func FromModel(v *models.Vehicle) *VehicleDTO {
	if v == nil {
		return nil
	}
	return &VehicleDTO{
		ID:                 v.ID,
		Brand:              v.Brand,
		Model:              v.Model,
		Year:               v.Year,
		VIN:                v.VIN,
		State:              v.State(),
		CostCents:          v.CostCents,
		PlanSaleCents:      v.PlanSaleCents,
		PriceCents:         v.PriceCents,
		ProfitCents:        v.ProfitCents,
		SaleDate:           v.SaleDate,
		SaleDurationDays:   v.SaleDurationDays,
		CancelledAt:        v.CancelledAt,
		CancellationReason: v.CancellationReason,
		CancelledBy:        v.CancelledBy,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
}
