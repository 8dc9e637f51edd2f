package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

type PaymentDTO struct {
	ID          int64               `json:"id"`
	UserID      uuid.UUID           `json:"user_id"`
	VehicleID   *uuid.UUID          `json:"vehicle_id,omitempty"`
	Operation   enums.OperationType `json:"operation"`
	AmountCents int64               `json:"amount_cents"`
	Confirmed   bool                `json:"confirmed"`
	IsCancelled bool                `json:"is_cancelled"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy *uuid.UUID          `json:"cancelled_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ListParams pages ListPaymentsPage; Filter.AfterID and Filter.Limit are
// derived from the embedded pagination params.
type ListParams struct {
	Filter ledger.PaymentFilter
	pkgpagination.Params
}

type ListResult struct {
	Items  []PaymentDTO `json:"items"`
	Cursor string       `json:"cursor"`
}

func FromModel(p *models.Payment) *PaymentDTO {
	if p == nil {
		return nil
	}
	return &PaymentDTO{
		ID:          p.ID,
		UserID:      p.UserID,
		VehicleID:   p.VehicleID,
		Operation:   p.Operation,
		AmountCents: p.AmountCents,
		Confirmed:   p.Confirmed,
		IsCancelled: p.IsCancelled,
		CancelledAt: p.CancelledAt,
		CancelledBy: p.CancelledBy,
		CreatedAt:   p.CreatedAt,
	}
}

func FromModels(rows []models.Payment) []PaymentDTO {
	out := make([]PaymentDTO, len(rows))
	for i := range rows {
		out[i] = *FromModel(&rows[i])
	}
	return out
}
