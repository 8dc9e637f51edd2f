package cancellations

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/metrics"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type compensator interface {
	RecordCompensation(ctx context.Context, tx *gorm.DB, original *models.Payment, at time.Time) (*models.Payment, error)
}

type contributionEngine interface {
	CreateOwnContribution(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Contribution, error)
	RecalculateAllPercentages(ctx context.Context, tx *gorm.DB, paymentID *int64, asOf time.Time) (int64, error)
	RefreshBalances(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) error
}

type totalReader interface {
	CurrentTotal(ctx context.Context, tx *gorm.DB) (int64, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CancelInput identifies the sale to void. At defaults to now.
type CancelInput struct {
	VehicleID uuid.UUID
	Reason    string
	Actor     *uuid.UUID
	At        *time.Time
}

type RestoreInput struct {
	VehicleID uuid.UUID
	At        *time.Time
}

// Result reports the vehicle after the operation and the payments it touched.
type Result struct {
	Vehicle       *models.Vehicle
	Payments      []models.Payment
	Compensations []models.Payment
	Event         *payloads.TotalChangedEvent
}

type ServiceParams struct {
	TxRunner      txRunner
	Vehicles      *vehicles.Repository
	Ledger        ledger.Repository
	Payments      compensator
	Contributions contributionEngine
	Totals        totalReader
	Outbox        eventEmitter
	Logger        *logger.Logger
	Metrics       *metrics.LedgerMetrics
}

// Service voids, reverses and restores vehicle sales.
type Service struct {
	tx            txRunner
	vehicles      *vehicles.Repository
	ledger        ledger.Repository
	payments      compensator
	contributions contributionEngine
	totals        totalReader
	outbox        eventEmitter
	logg          *logger.Logger
	metrics       *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.TxRunner == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Vehicles == nil:
		return nil, fmt.Errorf("vehicles repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger repository required")
	case params.Payments == nil:
		return nil, fmt.Errorf("compensator required")
	case params.Contributions == nil:
		return nil, fmt.Errorf("contribution engine required")
	case params.Totals == nil:
		return nil, fmt.Errorf("total reader required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:            params.TxRunner,
		vehicles:      params.Vehicles,
		ledger:        params.Ledger,
		payments:      params.Payments,
		contributions: params.Contributions,
		totals:        params.Totals,
		outbox:        params.Outbox,
		logg:          params.Logger,
		metrics:       params.Metrics,
	}, nil
}

// CancelVehicleSale voids a sale without compensating entries. The sale
// payments are flagged cancelled and the balance rows they produced are
// deleted. The sale columns stay for audit.
func (s *Service) CancelVehicleSale(ctx context.Context, input CancelInput) (result *Result, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("cancel_sale", started, err) }()

	at := resolveTime(input.At)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		vehicle, err := s.lockVehicle(ctx, tx, input.VehicleID, enums.VehicleStateSold)
		if err != nil {
			return err
		}
		repo := s.ledger.WithTx(tx)
		sale, err := repo.ListVehiclePayments(ctx, vehicle.ID, enums.SaleOperations(), false)
		if err != nil {
			return pkgerrors.WrapStore(err, "load sale payments")
		}

		ids, userIDs := paymentRefs(sale)
		if len(ids) > 0 {
			if _, err := repo.DeleteContributionsByPayments(ctx, ids); err != nil {
				return pkgerrors.WrapStore(err, "delete sale contributions")
			}
			if err := repo.MarkPaymentsCancelled(ctx, ids, at, input.Actor); err != nil {
				return pkgerrors.WrapStore(err, "cancel sale payments")
			}
			if err := s.contributions.RefreshBalances(ctx, tx, userIDs); err != nil {
				return err
			}
			if _, err := s.contributions.RecalculateAllPercentages(ctx, tx, nil, at); err != nil {
				return err
			}
		}

		markCancelled(vehicle, input, at)
		if err := s.vehicles.WithTx(tx).Save(ctx, vehicle); err != nil {
			return pkgerrors.WrapStore(err, "save vehicle")
		}
		result = &Result{Vehicle: vehicle, Payments: sale}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, result, "vehicle sale cancelled")
	return result, nil
}

// UnsellVehicle reverses a sale with compensating RECULC payments and lists
// the vehicle for sale again.
func (s *Service) UnsellVehicle(ctx context.Context, input CancelInput) (result *Result, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("unsell_vehicle", started, err) }()

	at := resolveTime(input.At)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		vehicle, err := s.lockVehicle(ctx, tx, input.VehicleID, enums.VehicleStateSold)
		if err != nil {
			return err
		}
		repo := s.ledger.WithTx(tx)
		sale, err := repo.ListVehiclePayments(ctx, vehicle.ID, enums.SaleOperations(), false)
		if err != nil {
			return pkgerrors.WrapStore(err, "load sale payments")
		}

		result = &Result{Vehicle: vehicle, Payments: sale}
		ids, _ := paymentRefs(sale)
		var reversed int64
		if len(ids) > 0 {
			if err := repo.MarkPaymentsCancelled(ctx, ids, at, input.Actor); err != nil {
				return pkgerrors.WrapStore(err, "cancel sale payments")
			}
			for i := range sale {
				compensation, err := s.payments.RecordCompensation(ctx, tx, &sale[i], at)
				if err != nil {
					return err
				}
				reversed += sale[i].AmountCents
				result.Compensations = append(result.Compensations, *compensation)
			}
			anchor := result.Compensations[0].ID
			if _, err := s.contributions.RecalculateAllPercentages(ctx, tx, &anchor, at); err != nil {
				return err
			}
		}

		vehicle.SaleDate = nil
		vehicle.PriceCents = nil
		vehicle.ProfitCents = nil
		vehicle.SaleDurationDays = nil
		markCancelled(vehicle, input, at)
		if err := s.vehicles.WithTx(tx).Save(ctx, vehicle); err != nil {
			return pkgerrors.WrapStore(err, "save vehicle")
		}

		newTotal, err := s.totals.CurrentTotal(ctx, tx)
		if err != nil {
			return err
		}
		vehicleID := vehicle.ID
		result.Event = &payloads.TotalChangedEvent{
			NewTotalCents: newTotal,
			Cause:         enums.CauseVehicleSaleReversed,
			AmountCents:   -reversed,
			VehicleID:     &vehicleID,
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTotalChanged,
			AggregateType: enums.AggregateVehicle,
			AggregateID:   vehicle.ID.String(),
			Actor:         outbox.ActorFromID(input.Actor),
			Data:          result.Event,
			OccurredAt:    at,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, result, "vehicle sale reversed")
	return result, nil
}

// RestoreVehicleSale undoes CancelVehicleSale: the payments it voided become
// live again and their balance rows are re-appended.
func (s *Service) RestoreVehicleSale(ctx context.Context, input RestoreInput) (result *Result, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("restore_sale", started, err) }()

	at := resolveTime(input.At)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		vehicle, err := s.lockVehicle(ctx, tx, input.VehicleID, enums.VehicleStateCancelled)
		if err != nil {
			return err
		}
		repo := s.ledger.WithTx(tx)
		cancelled, err := repo.ListVehiclePayments(ctx, vehicle.ID, enums.SaleOperations(), true)
		if err != nil {
			return pkgerrors.WrapStore(err, "load cancelled sale payments")
		}
		// Only the payments voided together with the vehicle belong to this sale.
		sale := make([]models.Payment, 0, len(cancelled))
		for _, p := range cancelled {
			if p.CancelledAt != nil && vehicle.CancelledAt != nil && p.CancelledAt.Equal(*vehicle.CancelledAt) {
				sale = append(sale, p)
			}
		}

		ids, _ := paymentRefs(sale)
		if len(ids) > 0 {
			if err := repo.RestorePayments(ctx, ids); err != nil {
				return pkgerrors.WrapStore(err, "restore sale payments")
			}
			for i := range sale {
				sale[i].IsCancelled = false
				sale[i].CancelledAt = nil
				sale[i].CancelledBy = nil
				if !sale[i].Confirmed || !sale[i].Operation.AffectsContributions() {
					continue
				}
				if _, err := s.contributions.CreateOwnContribution(ctx, tx, &sale[i]); err != nil {
					return err
				}
			}
			anchor := ids[0]
			if _, err := s.contributions.RecalculateAllPercentages(ctx, tx, &anchor, at); err != nil {
				return err
			}
		}

		vehicle.CancelledAt = nil
		vehicle.CancellationReason = nil
		vehicle.CancelledBy = nil
		if err := s.vehicles.WithTx(tx).Save(ctx, vehicle); err != nil {
			return pkgerrors.WrapStore(err, "save vehicle")
		}
		result = &Result{Vehicle: vehicle, Payments: sale}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logDone(ctx, result, "vehicle sale restored")
	return result, nil
}

func (s *Service) lockVehicle(ctx context.Context, tx *gorm.DB, id uuid.UUID, want enums.VehicleState) (*models.Vehicle, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vehicle_id is required")
	}
	vehicle, err := s.vehicles.WithTx(tx).FindByID(ctx, id, true)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "vehicle not found")
	}
	if state := vehicle.State(); state != want {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "vehicle is %s, expected %s", state, want).
			WithDetails(map[string]any{"state": state})
	}
	return vehicle, nil
}

func (s *Service) logDone(ctx context.Context, result *Result, msg string) {
	logCtx := s.logg.WithVehicleID(ctx, result.Vehicle.ID.String())
	if result.Event != nil {
		logCtx = s.logg.WithMovement(logCtx, result.Event.AmountCents, result.Event.NewTotalCents)
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"payments":      len(result.Payments),
		"compensations": len(result.Compensations),
	})
	s.logg.Info(logCtx, msg)
}

func markCancelled(vehicle *models.Vehicle, input CancelInput, at time.Time) {
	vehicle.CancelledAt = &at
	vehicle.CancelledBy = input.Actor
	vehicle.CancellationReason = nil
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		vehicle.CancellationReason = &reason
	}
}

// paymentRefs returns the ids in ascending order and the distinct payers.
func paymentRefs(rows []models.Payment) ([]int64, []uuid.UUID) {
	ids := make([]int64, 0, len(rows))
	seen := make(map[uuid.UUID]struct{}, len(rows))
	users := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		if _, ok := seen[row.UserID]; !ok {
			seen[row.UserID] = struct{}{}
			users = append(users, row.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, users
}

func resolveTime(at *time.Time) time.Time {
	if at == nil || at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}
