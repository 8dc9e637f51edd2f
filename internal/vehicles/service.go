package vehicles

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/metrics"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type companyResolver interface {
	CompanyUser(ctx context.Context, tx *gorm.DB) (*models.User, error)
}

type paymentRecorder interface {
	RecordContributingPaymentTx(ctx context.Context, tx *gorm.DB, input payments.PaymentInput) (*models.Payment, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	TxRunner txRunner
	Repo     *Repository
	Company  companyResolver
	Payments paymentRecorder
	Outbox   eventEmitter
	Logger   *logger.Logger
	Metrics  *metrics.LedgerMetrics
}

// Service buys and lists vehicles.
type Service struct {
	tx       txRunner
	repo     *Repository
	company  companyResolver
	payments paymentRecorder
	outbox   eventEmitter
	logg     *logger.Logger
	metrics  *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.TxRunner == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("vehicles repository required")
	case params.Company == nil:
		return nil, fmt.Errorf("company resolver required")
	case params.Payments == nil:
		return nil, fmt.Errorf("payment recorder required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:       params.TxRunner,
		repo:     params.Repo,
		company:  params.Company,
		payments: params.Payments,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
	}, nil
}

// BuyVehicle stores a purchased vehicle together with the company's BUY_CAR
// payment. Purchases do not move balances or the pool total.
func (s *Service) BuyVehicle(ctx context.Context, input BuyVehicleInput) (result *BuyResult, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("buy_vehicle", started, err) }()

	if err := validateBuy(input); err != nil {
		return nil, err
	}
	createdAt := time.Now().UTC()
	if input.At != nil && !input.At.IsZero() {
		createdAt = input.At.UTC()
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		company, err := s.company.CompanyUser(ctx, tx)
		if err != nil {
			return err
		}

		vehicle := &models.Vehicle{
			Brand:         strings.TrimSpace(input.Brand),
			Model:         strings.TrimSpace(input.Model),
			Year:          input.Year,
			VIN:           input.VIN,
			CostCents:     input.CostCents,
			PlanSaleCents: input.PlanSaleCents,
			CreatedAt:     createdAt,
			UpdatedAt:     createdAt,
		}
		if err := s.repo.WithTx(tx).Create(ctx, vehicle); err != nil {
			return pkgerrors.WrapStore(err, "create vehicle")
		}

		vehicleID := vehicle.ID
		payment, err := s.payments.RecordContributingPaymentTx(ctx, tx, payments.PaymentInput{
			UserID:      company.ID,
			Operation:   enums.OperationBuyCar,
			AmountCents: vehicle.CostCents,
			Confirmed:   true,
			VehicleID:   &vehicleID,
			At:          &createdAt,
		})
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVehicleBought,
			AggregateType: enums.AggregateVehicle,
			AggregateID:   vehicle.ID.String(),
			Actor:         &outbox.ActorRef{UserID: company.ID, Role: string(company.Role)},
			Data: payloads.VehicleBoughtEvent{
				VehicleID:     vehicle.ID,
				CostCents:     vehicle.CostCents,
				PlanSaleCents: vehicle.PlanSaleCents,
				PaymentID:     payment.ID,
			},
			OccurredAt: createdAt,
		}); err != nil {
			return err
		}

		result = &BuyResult{Vehicle: vehicle, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithVehicleID(ctx, result.Vehicle.ID.String())
	logCtx = s.logg.WithOperation(logCtx, string(enums.OperationBuyCar))
	logCtx = s.logg.WithMovement(logCtx, result.Vehicle.CostCents, -1)
	s.logg.Info(logCtx, "vehicle bought")
	return result, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	vehicle, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "vehicle not found")
	}
	return vehicle, nil
}

// ListVehicles pages through vehicles, optionally narrowed to one state.
func (s *Service) ListVehicles(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.State != nil && !params.State.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid state %q", *params.State)
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	query := listQuery{
		state: params.State,
		limit: pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vehicles")
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		nextCursor = pkgpagination.EncodeCursor(pkgpagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	items := make([]VehicleDTO, len(rows))
	for i := range rows {
		items[i] = *FromModel(&rows[i])
	}
	return &ListResult{Items: items, Cursor: nextCursor}, nil
}

func validateBuy(input BuyVehicleInput) error {
	switch {
	case strings.TrimSpace(input.Brand) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "brand is required")
	case strings.TrimSpace(input.Model) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "model is required")
	case input.Year < 1900 || input.Year > 2100:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "year %d out of range", input.Year)
	case input.CostCents <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "cost must be positive")
	case input.PlanSaleCents < 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "planned sale price must not be negative")
	}
	return nil
}
