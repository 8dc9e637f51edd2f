package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
)

// PaymentInput describes a money movement to record. At defaults to now.
type PaymentInput struct {
	UserID      uuid.UUID
	Operation   enums.OperationType
	AmountCents int64
	Confirmed   bool
	VehicleID   *uuid.UUID
	At          *time.Time
}

func (in PaymentInput) validate() error {
	if in.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user_id is required")
	}
	if !in.Operation.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid operation %q", in.Operation)
	}
	if in.AmountCents == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be zero")
	}
	switch in.Operation {
	case enums.OperationRecalculation:
	case enums.OperationWithdraw:
		if in.AmountCents > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "withdrawals carry a negative amount")
		}
	default:
		if in.AmountCents < 0 {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "%s carries a positive amount", in.Operation)
		}
	}
	return nil
}

func (in PaymentInput) toModel() *models.Payment {
	return &models.Payment{
		UserID:      in.UserID,
		VehicleID:   in.VehicleID,
		Operation:   in.Operation,
		AmountCents: in.AmountCents,
		Confirmed:   in.Confirmed,
		CreatedAt:   resolveTime(in.At),
	}
}

func resolveTime(at *time.Time) time.Time {
	if at == nil || at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}
