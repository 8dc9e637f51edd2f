package totals

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/db/models"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/metrics"
)

const (
	uniqueConstraint = "ux_totals_payment_id"
	uniqueColumn     = "totals.payment_id"
	savepointName    = "totals_append"
)

// Service maintains the cumulative pool total, one row per payment.
type Service struct {
	ledger  ledger.Repository
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
}

func NewService(ledgerRepo ledger.Repository, logg *logger.Logger, m *metrics.LedgerMetrics) (*Service, error) {
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{ledger: ledgerRepo, logg: logg, metrics: m}, nil
}

// CreateTotal appends the pool total that follows payment. Calling it again
// for the same payment returns the existing row.
func (s *Service) CreateTotal(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Total, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if payment == nil || payment.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "persisted payment required")
	}
	repo := s.ledger.WithTx(tx)

	existing, err := repo.FindTotalByPayment(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load total")
	}
	if existing != nil {
		return existing, nil
	}

	if err := repo.LockLedger(ctx); err != nil {
		return nil, pkgerrors.WrapStore(err, "lock ledger")
	}
	latest, err := repo.LatestTotal(ctx, true)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load latest total")
	}

	row := &models.Total{
		PaymentID:   payment.ID,
		AmountCents: payment.AmountCents,
		CreatedAt:   payment.CreatedAt,
	}
	if latest != nil {
		row.AmountCents += latest.AmountCents
	}

	if err := s.insert(ctx, tx, repo, row); err != nil {
		if !isDuplicateTotal(err) {
			return nil, pkgerrors.WrapStore(err, "create total")
		}
		existing, findErr := repo.FindTotalByPayment(ctx, payment.ID)
		if findErr != nil || existing == nil {
			return nil, pkgerrors.WrapStore(err, "create total")
		}
		s.logg.Warn(s.totalCtx(ctx, payment, existing.AmountCents), "total already recorded by a concurrent writer")
		return existing, nil
	}

	s.metrics.SetPoolTotal(row.AmountCents)
	s.logg.Debug(s.totalCtx(ctx, payment, row.AmountCents), "pool total appended")
	return row, nil
}

func (s *Service) totalCtx(ctx context.Context, payment *models.Payment, poolTotal int64) context.Context {
	ctx = s.logg.WithPaymentID(ctx, payment.ID)
	ctx = s.logg.WithOperation(ctx, string(payment.Operation))
	return s.logg.WithMovement(ctx, payment.AmountCents, poolTotal)
}

// CurrentTotal returns the latest pool amount, or 0 before the first payment.
func (s *Service) CurrentTotal(ctx context.Context, tx *gorm.DB) (int64, error) {
	latest, err := s.ledger.WithTx(tx).LatestTotal(ctx, false)
	if err != nil {
		return 0, pkgerrors.WrapStore(err, "load latest total")
	}
	if latest == nil {
		return 0, nil
	}
	return latest.AmountCents, nil
}

// insert guards the append with a savepoint on Postgres so a unique violation
// leaves the enclosing transaction usable for the re-read.
func (s *Service) insert(ctx context.Context, tx *gorm.DB, repo ledger.Repository, row *models.Total) error {
	if tx.Dialector.Name() != "postgres" {
		return repo.CreateTotal(ctx, row)
	}
	if err := tx.SavePoint(savepointName).Error; err != nil {
		return err
	}
	if err := repo.CreateTotal(ctx, row); err != nil {
		if rbErr := tx.RollbackTo(savepointName).Error; rbErr != nil {
			return rbErr
		}
		return err
	}
	return nil
}

func isDuplicateTotal(err error) bool {
	return db.IsUniqueViolation(err, uniqueConstraint) || db.IsUniqueViolation(err, uniqueColumn)
}
