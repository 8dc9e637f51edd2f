package contributions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/users"
	"github.com/evpool/evpool-backend/pkg/db/models"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/logger"
)

// Service appends contribution snapshots. Every method runs on the caller's
// transaction.
type Service struct {
	ledger ledger.Repository
	users  *users.Repository
	logg   *logger.Logger
}

func NewService(ledgerRepo ledger.Repository, usersRepo *users.Repository, logg *logger.Logger) (*Service, error) {
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if usersRepo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{ledger: ledgerRepo, users: usersRepo, logg: logg}, nil
}

// CreateOwnContribution moves the payer's running balance by the payment
// amount. The previous share is carried until the next recalculation.
func (s *Service) CreateOwnContribution(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Contribution, error) {
	if payment == nil || payment.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "persisted payment required")
	}
	if !payment.Confirmed {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "payment %d is not confirmed", payment.ID)
	}
	if !payment.Operation.AffectsContributions() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "operation %s does not affect contributions", payment.Operation)
	}

	repo := s.ledger.WithTx(tx)
	previous, err := repo.LatestContribution(ctx, payment.UserID)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load latest contribution")
	}

	paymentID := payment.ID
	row := &models.Contribution{
		UserID:      payment.UserID,
		PaymentID:   &paymentID,
		AmountCents: payment.AmountCents,
		CreatedAt:   payment.CreatedAt,
	}
	if previous != nil {
		row.AmountCents += previous.AmountCents
		row.Percents = previous.Percents
	}
	if err := repo.CreateContribution(ctx, row); err != nil {
		return nil, pkgerrors.WrapStore(err, "create contribution")
	}
	if err := s.users.WithTx(tx).SetActualContribution(ctx, payment.UserID, row.AmountCents); err != nil {
		return nil, pkgerrors.WrapStore(err, "update contribution cache")
	}
	return row, nil
}

// RecalculateAllPercentages appends a fresh share row for every user that has
// a balance history and returns the pool amount the shares were computed on.
// A non-positive pool leaves the ledger untouched.
func (s *Service) RecalculateAllPercentages(ctx context.Context, tx *gorm.DB, paymentID *int64, asOf time.Time) (int64, error) {
	repo := s.ledger.WithTx(tx)
	if err := repo.LockLedger(ctx); err != nil {
		return 0, pkgerrors.WrapStore(err, "lock ledger")
	}

	latest, err := repo.LatestContributions(ctx)
	if err != nil {
		return 0, pkgerrors.WrapStore(err, "load latest contributions")
	}
	total := PoolBalance(latest)
	if total <= 0 {
		return 0, nil
	}

	if asOf.IsZero() {
		asOf = time.Now()
	}
	rows := make([]models.Contribution, 0, len(latest))
	for _, current := range latest {
		var ref *int64
		if paymentID != nil {
			id := *paymentID
			ref = &id
		}
		rows = append(rows, models.Contribution{
			UserID:      current.UserID,
			PaymentID:   ref,
			AmountCents: current.AmountCents,
			Percents:    Share(current.AmountCents, total),
			CreatedAt:   asOf.UTC(),
		})
	}
	if err := repo.CreateContributions(ctx, rows); err != nil {
		return 0, pkgerrors.WrapStore(err, "append recalculated shares")
	}

	fields := map[string]any{"pool_cents": total, "users": len(rows)}
	if paymentID != nil {
		fields["payment_id"] = *paymentID
	}
	s.logg.Debug(s.logg.WithFields(ctx, fields), "percentages recalculated")
	return total, nil
}

// RefreshBalances rewrites the cached balance of each user from their latest
// snapshot. Used after snapshot rows are deleted.
func (s *Service) RefreshBalances(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) error {
	repo := s.ledger.WithTx(tx)
	usersRepo := s.users.WithTx(tx)
	seen := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		latest, err := repo.LatestContribution(ctx, id)
		if err != nil {
			return pkgerrors.WrapStore(err, "load latest contribution")
		}
		var balance int64
		if latest != nil {
			balance = latest.AmountCents
		}
		if err := usersRepo.SetActualContribution(ctx, id, balance); err != nil {
			return pkgerrors.WrapStore(err, "update contribution cache")
		}
	}
	return nil
}
