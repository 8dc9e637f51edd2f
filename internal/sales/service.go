package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/config"
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

type companyResolver interface {
	CompanyUser(ctx context.Context, tx *gorm.DB) (*models.User, error)
}

type incomeRecorder interface {
	RecordBatchedIncomePayment(ctx context.Context, tx *gorm.DB, input payments.PaymentInput) (*models.Payment, error)
}

type shareCalculator interface {
	RecalculateAllPercentages(ctx context.Context, tx *gorm.DB, paymentID *int64, asOf time.Time) (int64, error)
}

type totalEngine interface {
	CreateTotal(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Total, error)
	CurrentTotal(ctx context.Context, tx *gorm.DB) (int64, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SellInput describes a sale. SaleDate defaults to now.
type SellInput struct {
	VehicleID  uuid.UUID
	PriceCents int64
	SaleDate   *time.Time
	Leasing    bool
	Actor      *uuid.UUID
}

// SaleResult reports what a sale wrote.
type SaleResult struct {
	Vehicle    *models.Vehicle
	Commission *models.Payment
	Incomes    []models.Payment
	Event      payloads.TotalChangedEvent
}

type ServiceParams struct {
	TxRunner      txRunner
	Vehicles      *vehicles.Repository
	Ledger        ledger.Repository
	Company       companyResolver
	Payments      incomeRecorder
	Contributions shareCalculator
	Totals        totalEngine
	Outbox        eventEmitter
	Config        config.LedgerConfig
	Logger        *logger.Logger
	Metrics       *metrics.LedgerMetrics
}

// Service sells vehicles and distributes the profit.
type Service struct {
	tx             txRunner
	vehicles       *vehicles.Repository
	ledger         ledger.Repository
	company        companyResolver
	payments       incomeRecorder
	contributions  shareCalculator
	totals         totalEngine
	outbox         eventEmitter
	commissionRate decimal.Decimal
	minIncome      int64
	logg           *logger.Logger
	metrics        *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.TxRunner == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Vehicles == nil:
		return nil, fmt.Errorf("vehicles repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger repository required")
	case params.Company == nil:
		return nil, fmt.Errorf("company resolver required")
	case params.Payments == nil:
		return nil, fmt.Errorf("income recorder required")
	case params.Contributions == nil:
		return nil, fmt.Errorf("contribution engine required")
	case params.Totals == nil:
		return nil, fmt.Errorf("total engine required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:             params.TxRunner,
		vehicles:       params.Vehicles,
		ledger:         params.Ledger,
		company:        params.Company,
		payments:       params.Payments,
		contributions:  params.Contributions,
		totals:         params.Totals,
		outbox:         params.Outbox,
		commissionRate: params.Config.CommissionRate,
		minIncome:      params.Config.MinIncomeCents,
		logg:           params.Logger,
		metrics:        params.Metrics,
	}, nil
}

// SellVehicle records the sale, pays the company commission and every
// investor's income, then recalculates shares once.
func (s *Service) SellVehicle(ctx context.Context, input SellInput) (result *SaleResult, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("sell_vehicle", started, err) }()

	if input.VehicleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vehicle_id is required")
	}
	if input.PriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	saleDate := time.Now().UTC()
	if input.SaleDate != nil && !input.SaleDate.IsZero() {
		saleDate = input.SaleDate.UTC()
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		vehicle, err := s.vehicles.WithTx(tx).FindByID(ctx, input.VehicleID, true)
		if err != nil {
			return pkgerrors.WrapStore(err, "vehicle not found")
		}
		if state := vehicle.State(); !state.Sellable() {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "vehicle is %s", state).
				WithDetails(map[string]any{"state": state})
		}
		if saleDate.Before(vehicle.CreatedAt) {
			return pkgerrors.New(pkgerrors.CodeValidation, "sale date precedes purchase")
		}
		company, err := s.company.CompanyUser(ctx, tx)
		if err != nil {
			return err
		}

		price := input.PriceCents
		profit := price - vehicle.CostCents
		days := int(saleDate.Sub(vehicle.CreatedAt).Hours() / 24)
		vehicle.SaleDate = &saleDate
		vehicle.PriceCents = &price
		vehicle.ProfitCents = &profit
		vehicle.SaleDurationDays = &days
		vehicle.CancelledAt = nil
		vehicle.CancellationReason = nil
		vehicle.CancelledBy = nil
		if err := s.vehicles.WithTx(tx).Save(ctx, vehicle); err != nil {
			return pkgerrors.WrapStore(err, "save vehicle")
		}

		result = &SaleResult{Vehicle: vehicle}
		if profit > 0 {
			if err := s.distribute(ctx, tx, company, vehicle, input.Leasing, saleDate, result); err != nil {
				return err
			}
		}

		newTotal, err := s.totals.CurrentTotal(ctx, tx)
		if err != nil {
			return err
		}
		// a loss or break-even sale leaves the pool untouched
		eventAmount := profit
		if profit <= 0 {
			eventAmount = 0
		}
		vehicleID := vehicle.ID
		result.Event = payloads.TotalChangedEvent{
			NewTotalCents: newTotal,
			Cause:         enums.CauseVehicleSold,
			AmountCents:   eventAmount,
			VehicleID:     &vehicleID,
		}
		if result.Commission != nil {
			commissionID := result.Commission.ID
			result.Event.PaymentID = &commissionID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTotalChanged,
			AggregateType: enums.AggregateVehicle,
			AggregateID:   vehicle.ID.String(),
			Actor:         outbox.ActorFromID(input.Actor),
			Data:          result.Event,
			OccurredAt:    saleDate,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithVehicleID(ctx, result.Vehicle.ID.String())
	logCtx = s.logg.WithOperation(logCtx, string(enums.OperationSellCar))
	logCtx = s.logg.WithMovement(logCtx, result.Event.AmountCents, result.Event.NewTotalCents)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"price_cents":  input.PriceCents,
		"profit_cents": *result.Vehicle.ProfitCents,
		"incomes":      len(result.Incomes),
		"leasing":      input.Leasing,
	})
	s.logg.Info(logCtx, "vehicle sold")
	return result, nil
}

// distribute pays the commission, then the investors pro-rata to their share
// before the sale, and recalculates once.
func (s *Service) distribute(ctx context.Context, tx *gorm.DB, company *models.User, vehicle *models.Vehicle, leasing bool, at time.Time, result *SaleResult) error {
	profit := *vehicle.ProfitCents
	vehicleID := vehicle.ID
	commissionOp, incomeOp := enums.OperationRevenue, enums.OperationIncome
	if leasing {
		commissionOp, incomeOp = enums.OperationCompanyLeasing, enums.OperationInvestorLeasing
	}

	shares, err := s.ledger.WithTx(tx).LatestContributions(ctx)
	if err != nil {
		return pkgerrors.WrapStore(err, "load latest contributions")
	}

	if amount := Commission(profit, s.commissionRate); amount > 0 {
		commission, err := s.payments.RecordBatchedIncomePayment(ctx, tx, payments.PaymentInput{
			UserID:      company.ID,
			Operation:   commissionOp,
			AmountCents: amount,
			Confirmed:   true,
			VehicleID:   &vehicleID,
			At:          &at,
		})
		if err != nil {
			return err
		}
		if _, err := s.totals.CreateTotal(ctx, tx, commission); err != nil {
			return err
		}
		result.Commission = commission
	}

	for _, share := range shares {
		if share.Percents <= 0 {
			continue
		}
		income := InvestorIncome(profit, s.commissionRate, share.Percents)
		if income < s.minIncome || income <= 0 {
			continue
		}
		payment, err := s.payments.RecordBatchedIncomePayment(ctx, tx, payments.PaymentInput{
			UserID:      share.UserID,
			Operation:   incomeOp,
			AmountCents: income,
			Confirmed:   true,
			VehicleID:   &vehicleID,
			At:          &at,
		})
		if err != nil {
			return err
		}
		result.Incomes = append(result.Incomes, *payment)
	}

	anchor := s.recalcAnchor(result)
	if anchor == nil {
		return nil
	}
	_, err = s.contributions.RecalculateAllPercentages(ctx, tx, anchor, at)
	return err
}

// recalcAnchor picks the sale payment the recalculated rows point at, so a
// cancellation that deletes rows by sale payment removes them too.
func (s *Service) recalcAnchor(result *SaleResult) *int64 {
	switch {
	case result.Commission != nil:
		id := result.Commission.ID
		return &id
	case len(result.Incomes) > 0:
		id := result.Incomes[0].ID
		return &id
	}
	return nil
}
