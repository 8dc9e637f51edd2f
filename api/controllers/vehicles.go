package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/api/middleware"
	"github.com/evpool/evpool-backend/api/responses"
	"github.com/evpool/evpool-backend/api/validators"
	"github.com/evpool/evpool-backend/internal/cancellations"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/internal/sales"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

type vehicleService interface {
	BuyVehicle(ctx context.Context, input vehicles.BuyVehicleInput) (*vehicles.BuyResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, params vehicles.ListParams) (*vehicles.ListResult, error)
}

type saleService interface {
	SellVehicle(ctx context.Context, input sales.SellInput) (*sales.SaleResult, error)
}

type cancellationService interface {
	CancelVehicleSale(ctx context.Context, input cancellations.CancelInput) (*cancellations.Result, error)
	UnsellVehicle(ctx context.Context, input cancellations.CancelInput) (*cancellations.Result, error)
	RestoreVehicleSale(ctx context.Context, input cancellations.RestoreInput) (*cancellations.Result, error)
}

type vehicleBuyRequest struct {
	Brand         string     `json:"brand" validate:"required,max=64"`
	Model         string     `json:"model" validate:"required,max=64"`
	Year          int        `json:"year" validate:"required"`
	VIN           *string    `json:"vin" validate:"omitempty,max=32"`
	CostCents     int64      `json:"cost_cents" validate:"gt=0"`
	PlanSaleCents int64      `json:"plan_sale_cents" validate:"gte=0"`
	At            *time.Time `json:"at"`
}

type vehicleSellRequest struct {
	PriceCents int64      `json:"price_cents" validate:"gte=0"`
	SaleDate   *time.Time `json:"sale_date"`
	Leasing    bool       `json:"leasing"`
}

type vehicleCancelRequest struct {
	Reason string     `json:"reason" validate:"max=500"`
	At     *time.Time `json:"at"`
}

type vehicleRestoreRequest struct {
	At *time.Time `json:"at"`
}

type buyResponse struct {
	Vehicle *vehicles.VehicleDTO `json:"vehicle"`
	Payment *payments.PaymentDTO `json:"payment"`
}

type saleResponse struct {
	Vehicle    *vehicles.VehicleDTO       `json:"vehicle"`
	Commission *payments.PaymentDTO       `json:"commission,omitempty"`
	Incomes    []payments.PaymentDTO      `json:"incomes"`
	Event      payloads.TotalChangedEvent `json:"event"`
}

type reversalResponse struct {
	Vehicle       *vehicles.VehicleDTO        `json:"vehicle"`
	Payments      []payments.PaymentDTO       `json:"payments"`
	Compensations []payments.PaymentDTO       `json:"compensations"`
	Event         *payloads.TotalChangedEvent `json:"event,omitempty"`
}

// VehicleBuy records a purchase and its BUY_CAR payment.
func VehicleBuy(svc vehicleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req vehicleBuyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.BuyVehicle(r.Context(), vehicles.BuyVehicleInput{
			Brand:         validators.SanitizeString(req.Brand, 64),
			Model:         validators.SanitizeString(req.Model, 64),
			Year:          req.Year,
			VIN:           req.VIN,
			CostCents:     req.CostCents,
			PlanSaleCents: req.PlanSaleCents,
			At:            req.At,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, buyResponse{
			Vehicle: vehicles.FromModel(result.Vehicle),
			Payment: payments.FromModel(result.Payment),
		})
	}
}

func VehicleGet(svc vehicleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID, err := validators.ParsePathUUID(r, "vehicleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vehicle, err := svc.Get(r.Context(), vehicleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, vehicles.FromModel(vehicle))
	}
}

// VehicleList pages vehicles, optionally filtered by ?state=.
func VehicleList(svc vehicleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pkgpagination.DefaultLimit, 1, pkgpagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := vehicles.ListParams{
			Params: pkgpagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))},
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
			state, err := enums.ParseVehicleState(strings.ToLower(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid state"))
				return
			}
			params.State = &state
		}
		result, err := svc.ListVehicles(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// VehicleSell sells a vehicle and distributes the profit.
func VehicleSell(svc saleService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID, err := validators.ParsePathUUID(r, "vehicleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req vehicleSellRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.SellVehicle(r.Context(), sales.SellInput{
			VehicleID:  vehicleID,
			PriceCents: req.PriceCents,
			SaleDate:   req.SaleDate,
			Leasing:    req.Leasing,
			Actor:      middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, saleResponse{
			Vehicle:    vehicles.FromModel(result.Vehicle),
			Commission: payments.FromModel(result.Commission),
			Incomes:    payments.FromModels(result.Incomes),
			Event:      result.Event,
		})
	}
}

// VehicleCancel voids a sale without compensating entries.
func VehicleCancel(svc cancellationService, logg *logger.Logger) http.HandlerFunc {
	return reversalHandler(logg, func(ctx context.Context, vehicleID uuid.UUID, req vehicleCancelRequest) (*cancellations.Result, error) {
		return svc.CancelVehicleSale(ctx, cancellations.CancelInput{
			VehicleID: vehicleID,
			Reason:    req.Reason,
			Actor:     middleware.ActorIDFromContext(ctx),
			At:        req.At,
		})
	})
}

// VehicleUnsell reverses a sale with compensating payments.
func VehicleUnsell(svc cancellationService, logg *logger.Logger) http.HandlerFunc {
	return reversalHandler(logg, func(ctx context.Context, vehicleID uuid.UUID, req vehicleCancelRequest) (*cancellations.Result, error) {
		return svc.UnsellVehicle(ctx, cancellations.CancelInput{
			VehicleID: vehicleID,
			Reason:    req.Reason,
			Actor:     middleware.ActorIDFromContext(ctx),
			At:        req.At,
		})
	})
}

func VehicleRestore(svc cancellationService, logg *logger.Logger) http.HandlerFunc {
	return reversalHandler(logg, func(ctx context.Context, vehicleID uuid.UUID, req vehicleRestoreRequest) (*cancellations.Result, error) {
		return svc.RestoreVehicleSale(ctx, cancellations.RestoreInput{VehicleID: vehicleID, At: req.At})
	})
}

func reversalHandler[T any](logg *logger.Logger, run func(context.Context, uuid.UUID, T) (*cancellations.Result, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vehicleID, err := validators.ParsePathUUID(r, "vehicleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req T
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := run(r.Context(), vehicleID, req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reversalResponse{
			Vehicle:       vehicles.FromModel(result.Vehicle),
			Payments:      payments.FromModels(result.Payments),
			Compensations: payments.FromModels(result.Compensations),
			Event:         result.Event,
		})
	}
}
