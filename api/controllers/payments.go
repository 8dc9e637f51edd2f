package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/api/responses"
	"github.com/evpool/evpool-backend/api/validators"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

type paymentService interface {
	RecordContributingPayment(ctx context.Context, input payments.PaymentInput) (*models.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID int64, at *time.Time) (*models.Payment, error)
	ListPaymentsPage(ctx context.Context, params payments.ListParams) (*payments.ListResult, error)
}

type paymentCreateRequest struct {
	UserID      string     `json:"user_id" validate:"required,uuid"`
	Operation   string     `json:"operation" validate:"required"`
	AmountCents int64      `json:"amount_cents" validate:"ne=0"`
	Confirmed   *bool      `json:"confirmed"`
	VehicleID   *string    `json:"vehicle_id" validate:"omitempty,uuid"`
	At          *time.Time `json:"at"`
}

func (r paymentCreateRequest) toInput() (payments.PaymentInput, error) {
	userID, err := uuid.Parse(r.UserID)
	if err != nil {
		return payments.PaymentInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id")
	}
	op, err := enums.ParseOperationType(strings.ToUpper(strings.TrimSpace(r.Operation)))
	if err != nil {
		return payments.PaymentInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid operation")
	}
	input := payments.PaymentInput{
		UserID:      userID,
		Operation:   op,
		AmountCents: r.AmountCents,
		Confirmed:   true,
		At:          r.At,
	}
	if r.Confirmed != nil {
		input.Confirmed = *r.Confirmed
	}
	if r.VehicleID != nil {
		vehicleID, err := uuid.Parse(*r.VehicleID)
		if err != nil {
			return payments.PaymentInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid vehicle_id")
		}
		input.VehicleID = &vehicleID
	}
	return input, nil
}

type paymentConfirmRequest struct {
	At *time.Time `json:"at"`
}

// PaymentCreate records a contributing payment; confirmed defaults to true.
func PaymentCreate(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paymentCreateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.RecordContributingPayment(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payments.FromModel(payment))
	}
}

func PaymentConfirm(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParsePathInt64(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req paymentConfirmRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.ConfirmPayment(r.Context(), paymentID, req.At)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments.FromModel(payment))
	}
}

// PaymentList filters by user_id, vehicle_id, operation (comma separated),
// confirmed, cancelled and a from/to range, paged by cursor.
func PaymentList(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := parsePaymentListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ListPaymentsPage(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func parsePaymentListParams(r *http.Request) (payments.ListParams, error) {
	var params payments.ListParams
	var err error

	if params.Limit, err = validators.ParseQueryInt(r, "limit", pkgpagination.DefaultLimit, 1, pkgpagination.MaxLimit); err != nil {
		return params, err
	}
	params.Cursor = strings.TrimSpace(r.URL.Query().Get("cursor"))

	filter := &params.Filter
	if filter.UserID, err = validators.ParseQueryUUID(r, "user_id"); err != nil {
		return params, err
	}
	if filter.VehicleID, err = validators.ParseQueryUUID(r, "vehicle_id"); err != nil {
		return params, err
	}
	if filter.Confirmed, err = validators.ParseQueryBool(r, "confirmed"); err != nil {
		return params, err
	}
	if filter.Cancelled, err = validators.ParseQueryBool(r, "cancelled"); err != nil {
		return params, err
	}
	if filter.Range, err = parseDateRange(r); err != nil {
		return params, err
	}
	if filter.Operations, err = parseOperations(r); err != nil {
		return params, err
	}
	return params, nil
}

func parseOperations(r *http.Request) ([]enums.OperationType, error) {
	var ops []enums.OperationType
	for _, raw := range validators.ParseQueryList(r, "operation") {
		op, err := enums.ParseOperationType(strings.ToUpper(raw))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid operation")
		}
		ops = append(ops, op)
	}
	return ops, nil
}
