package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
)

// ContributionDTO is the public shape of a contribution snapshot.
type ContributionDTO struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	PaymentID   *int64    `json:"payment_id,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	Percents    int64     `json:"percents"`
	CreatedAt   time.Time `json:"created_at"`
}

// PoolTotal is the latest running total of the pool.
type PoolTotal struct {
	AmountCents int64      `json:"amount_cents"`
	PaymentID   *int64     `json:"payment_id,omitempty"`
	At          *time.Time `json:"at,omitempty"`
}

// Service answers read-only questions about the ledger.
type Service struct {
	repo Repository
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) CurrentTotal(ctx context.Context) (*PoolTotal, error) {
	latest, err := s.repo.LatestTotal(ctx, false)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load pool total")
	}
	if latest == nil {
		return &PoolTotal{}, nil
	}
	at := latest.CreatedAt
	paymentID := latest.PaymentID
	return &PoolTotal{AmountCents: latest.AmountCents, PaymentID: &paymentID, At: &at}, nil
}

// LatestShares returns the newest snapshot of every user, in append order.
func (s *Service) LatestShares(ctx context.Context) ([]ContributionDTO, error) {
	rows, err := s.repo.LatestContributions(ctx)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load latest contributions")
	}
	return contributionDTOs(rows), nil
}

func (s *Service) UserBalanceHistory(ctx context.Context, userID uuid.UUID, rng DateRange) ([]BalancePoint, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := rng.validate(); err != nil {
		return nil, err
	}
	points, err := s.repo.UserBalanceHistory(ctx, userID, rng)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load balance history")
	}
	return points, nil
}

func (s *Service) DailyTotals(ctx context.Context, rng DateRange) ([]DailyTotal, error) {
	if err := rng.validate(); err != nil {
		return nil, err
	}
	totals, err := s.repo.DailyTotals(ctx, rng)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load daily totals")
	}
	return totals, nil
}

func (s *Service) DailyPaymentSums(ctx context.Context, rng DateRange, ops []enums.OperationType) ([]DailyPaymentSum, error) {
	if err := rng.validate(); err != nil {
		return nil, err
	}
	for _, op := range ops {
		if !op.IsValid() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid operation %q", op)
		}
	}
	sums, err := s.repo.DailyPaymentSums(ctx, rng, ops)
	if err != nil {
		return nil, pkgerrors.WrapStore(err, "load daily payment sums")
	}
	return sums, nil
}

func (r DateRange) validate() error {
	if r.From != nil && r.To != nil && !r.From.Before(*r.To) {
		return pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	return nil
}

func contributionDTOs(rows []models.Contribution) []ContributionDTO {
	out := make([]ContributionDTO, len(rows))
	for i, row := range rows {
		out[i] = ContributionDTO{
			ID:          row.ID,
			UserID:      row.UserID,
			PaymentID:   row.PaymentID,
			AmountCents: row.AmountCents,
			Percents:    row.Percents,
			CreatedAt:   row.CreatedAt,
		}
	}
	return out
}
