package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/users"
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

type contributionEngine interface {
	CreateOwnContribution(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Contribution, error)
	RecalculateAllPercentages(ctx context.Context, tx *gorm.DB, paymentID *int64, asOf time.Time) (int64, error)
}

type totalEngine interface {
	CreateTotal(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Total, error)
	CurrentTotal(ctx context.Context, tx *gorm.DB) (int64, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams groups the collaborators of the payment orchestrator.
type ServiceParams struct {
	TxRunner      txRunner
	Ledger        ledger.Repository
	Users         *users.Repository
	Contributions contributionEngine
	Totals        totalEngine
	Outbox        eventEmitter
	Logger        *logger.Logger
	Metrics       *metrics.LedgerMetrics
}

// Service records payments and keeps balances, shares and totals in step.
type Service struct {
	tx            txRunner
	ledger        ledger.Repository
	users         *users.Repository
	contributions contributionEngine
	totals        totalEngine
	outbox        eventEmitter
	logg          *logger.Logger
	metrics       *metrics.LedgerMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.TxRunner == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger repository required")
	case params.Users == nil:
		return nil, fmt.Errorf("users repository required")
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
		tx:            params.TxRunner,
		ledger:        params.Ledger,
		users:         params.Users,
		contributions: params.Contributions,
		totals:        params.Totals,
		outbox:        params.Outbox,
		logg:          params.Logger,
		metrics:       params.Metrics,
	}, nil
}

// RecordContributingPayment persists a payment in its own transaction and, when
// confirmed, moves the payer's balance and recalculates every share.
func (s *Service) RecordContributingPayment(ctx context.Context, input PaymentInput) (payment *models.Payment, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("record_payment", started, err) }()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		payment, txErr = s.RecordContributingPaymentTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.paymentCtx(ctx, payment), "payment recorded")
	return payment, nil
}

// RecordContributingPaymentTx is RecordContributingPayment on the caller's transaction.
func (s *Service) RecordContributingPaymentTx(ctx context.Context, tx *gorm.DB, input PaymentInput) (*models.Payment, error) {
	return s.createPayment(ctx, tx, input, false)
}

// RecordBatchedIncomePayment persists one payment of a batch. Shares are not
// recalculated; the batch owner does that once at the end.
func (s *Service) RecordBatchedIncomePayment(ctx context.Context, tx *gorm.DB, input PaymentInput) (*models.Payment, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	return s.createPayment(ctx, tx, input, true)
}

// ConfirmPayment confirms a pending payment and applies its ledger effects.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID int64, at *time.Time) (payment *models.Payment, err error) {
	started := time.Now()
	defer func() { s.metrics.Observe("confirm_payment", started, err) }()

	confirmedAt := resolveTime(at)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledger.WithTx(tx)
		found, err := repo.FindPayment(ctx, paymentID, true)
		if err != nil {
			return pkgerrors.WrapStore(err, "payment not found")
		}
		if found.IsCancelled {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment %d is cancelled", paymentID)
		}
		if found.Confirmed {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment %d is already confirmed", paymentID)
		}
		if err := repo.MarkPaymentConfirmed(ctx, paymentID, confirmedAt); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment %d is already confirmed", paymentID)
			}
			return pkgerrors.WrapStore(err, "confirm payment")
		}
		found.Confirmed = true
		found.UpdatedAt = confirmedAt
		if err := s.applyEffects(ctx, tx, found, false); err != nil {
			return err
		}
		payment = found
		if found.Operation.AffectsTotal() {
			return nil
		}
		// vehicle payments leave the pool as is; subscribers still see the confirmation
		current, err := s.totals.CurrentTotal(ctx, tx)
		if err != nil {
			return err
		}
		return s.emitTotalChanged(ctx, tx, found, current)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.paymentCtx(ctx, payment), "payment confirmed")
	return payment, nil
}

// RecordCompensation appends a RECULC payment that reverses original. Balances
// move only when the original moved them; shares are left to the caller.
func (s *Service) RecordCompensation(ctx context.Context, tx *gorm.DB, original *models.Payment, at time.Time) (*models.Payment, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if original == nil || original.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "persisted payment required")
	}
	input := PaymentInput{
		UserID:      original.UserID,
		Operation:   enums.OperationRecalculation,
		AmountCents: -original.AmountCents,
		Confirmed:   true,
		VehicleID:   original.VehicleID,
		At:          &at,
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	compensation := input.toModel()
	if err := s.ledger.WithTx(tx).CreatePayment(ctx, compensation); err != nil {
		return nil, pkgerrors.WrapStore(err, "create compensation")
	}
	if original.Operation.AffectsContributions() {
		if _, err := s.contributions.CreateOwnContribution(ctx, tx, compensation); err != nil {
			return nil, err
		}
	}
	if _, err := s.totals.CreateTotal(ctx, tx, compensation); err != nil {
		return nil, err
	}
	return compensation, nil
}

// ListPayments returns payments matching filter in id order.
func (s *Service) ListPayments(ctx context.Context, filter ledger.PaymentFilter) ([]models.Payment, error) {
	rows, err := s.ledger.ListPayments(ctx, filter)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "list payments")
	}
	return rows, nil
}

// ListPaymentsPage pages through payments in id order using an opaque id cursor.
func (s *Service) ListPaymentsPage(ctx context.Context, params ListParams) (*ListResult, error) {
	for _, op := range params.Filter.Operations {
		if !op.IsValid() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid operation %q", op)
		}
	}
	afterID, err := pkgpagination.ParseIDCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pkgpagination.NormalizeLimit(params.Limit)
	filter := params.Filter
	filter.AfterID = afterID
	filter.Limit = pkgpagination.LimitWithBuffer(params.Limit)

	rows, err := s.ListPayments(ctx, filter)
	if err != nil {
		return nil, err
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		nextCursor = pkgpagination.EncodeIDCursor(rows[limit-1].ID)
	}
	return &ListResult{Items: FromModels(rows), Cursor: nextCursor}, nil
}

func (s *Service) createPayment(ctx context.Context, tx *gorm.DB, input PaymentInput, batched bool) (*models.Payment, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	if _, err := s.users.WithTx(tx).FindByID(ctx, input.UserID); err != nil {
		return nil, pkgerrors.WrapStore(err, "user not found")
	}

	payment := input.toModel()
	if err := s.ledger.WithTx(tx).CreatePayment(ctx, payment); err != nil {
		return nil, pkgerrors.WrapStore(err, "create payment")
	}
	if !payment.Confirmed {
		return payment, nil
	}
	if err := s.applyEffects(ctx, tx, payment, batched); err != nil {
		return nil, err
	}
	return payment, nil
}

// applyEffects runs the balance, share and total updates of a confirmed payment.
func (s *Service) applyEffects(ctx context.Context, tx *gorm.DB, payment *models.Payment, batched bool) error {
	if payment.Operation == enums.OperationWithdraw {
		if err := s.checkWithdrawal(ctx, tx, payment); err != nil {
			return err
		}
	}
	if payment.Operation != enums.OperationRevenue {
		if err := s.manageContributions(ctx, tx, payment, batched); err != nil {
			return err
		}
	}
	if !payment.Operation.AffectsTotal() {
		return nil
	}
	total, err := s.totals.CreateTotal(ctx, tx, payment)
	if err != nil {
		return err
	}
	if batched {
		return nil
	}
	return s.emitTotalChanged(ctx, tx, payment, total.AmountCents)
}

func (s *Service) emitTotalChanged(ctx context.Context, tx *gorm.DB, payment *models.Payment, newTotal int64) error {
	amount := payment.AmountCents
	if !payment.Operation.AffectsTotal() {
		amount = 0
	}
	paymentID := payment.ID
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventTotalChanged,
		AggregateType: enums.AggregatePayment,
		AggregateID:   strconv.FormatInt(payment.ID, 10),
		Data: payloads.TotalChangedEvent{
			NewTotalCents: newTotal,
			Cause:         enums.CausePaymentConfirmed,
			AmountCents:   amount,
			PaymentID:     &paymentID,
			VehicleID:     payment.VehicleID,
		},
		OccurredAt: payment.CreatedAt,
	})
}

// checkWithdrawal refuses a withdrawal larger than the payer's balance. The
// ledger lock keeps a concurrent withdrawal from reading the same balance.
func (s *Service) checkWithdrawal(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	repo := s.ledger.WithTx(tx)
	if err := repo.LockLedger(ctx); err != nil {
		return pkgerrors.WrapStore(err, "lock ledger")
	}
	latest, err := repo.LatestContribution(ctx, payment.UserID)
	if err != nil {
		return pkgerrors.WrapStore(err, "load balance")
	}
	var balance int64
	if latest != nil {
		balance = latest.AmountCents
	}
	if balance+payment.AmountCents < 0 {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "withdrawal of %d exceeds balance of %d", -payment.AmountCents, balance).
			WithDetails(map[string]any{"balance_cents": balance, "amount_cents": payment.AmountCents})
	}
	return nil
}

func (s *Service) manageContributions(ctx context.Context, tx *gorm.DB, payment *models.Payment, batched bool) error {
	if !payment.Confirmed || !payment.Operation.AffectsContributions() {
		return nil
	}
	if _, err := s.contributions.CreateOwnContribution(ctx, tx, payment); err != nil {
		return err
	}
	if batched {
		return nil
	}
	paymentID := payment.ID
	_, err := s.contributions.RecalculateAllPercentages(ctx, tx, &paymentID, payment.CreatedAt)
	return err
}

func (s *Service) paymentCtx(ctx context.Context, payment *models.Payment) context.Context {
	ctx = s.logg.WithPaymentID(ctx, payment.ID)
	ctx = s.logg.WithOperation(ctx, string(payment.Operation))
	ctx = s.logg.WithMovement(ctx, payment.AmountCents, -1)
	return s.logg.WithField(ctx, "confirmed", payment.Confirmed)
}
