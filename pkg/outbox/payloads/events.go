package payloads

import (
	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/enums"
)

// TotalChangedEvent reports a new pool total and the movement that caused it.
type TotalChangedEvent struct {
	NewTotalCents int64                  `json:"new_total_cents"`
	Cause         enums.TotalChangeCause `json:"cause"`
	AmountCents   int64                  `json:"amount_cents"`
	PaymentID     *int64                 `json:"payment_id,omitempty"`
	VehicleID     *uuid.UUID             `json:"vehicle_id,omitempty"`
}

// VehicleBoughtEvent is emitted when the pool purchases a vehicle.
type VehicleBoughtEvent struct {
	VehicleID     uuid.UUID `json:"vehicle_id"`
	CostCents     int64     `json:"cost_cents"`
	PlanSaleCents int64     `json:"plan_sale_cents"`
	PaymentID     int64     `json:"payment_id"`
}
