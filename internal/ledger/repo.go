package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/repo"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
)

// ledgerLockKey identifies the pool ledger in pg_advisory_xact_lock.
const ledgerLockKey int64 = 0x65767030

// Repository stores payments, contribution snapshots and pool totals. It never
// opens its own transaction; bind it to the caller's with WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockLedger(ctx context.Context) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPayment(ctx context.Context, id int64, lock bool) (*models.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]models.Payment, error)
	ListVehiclePayments(ctx context.Context, vehicleID uuid.UUID, ops []enums.OperationType, cancelled bool) ([]models.Payment, error)
	MarkPaymentConfirmed(ctx context.Context, id int64, at time.Time) error
	MarkPaymentsCancelled(ctx context.Context, ids []int64, at time.Time, actor *uuid.UUID) error
	RestorePayments(ctx context.Context, ids []int64) error

	LatestContribution(ctx context.Context, userID uuid.UUID) (*models.Contribution, error)
	LatestContributions(ctx context.Context) ([]models.Contribution, error)
	CreateContribution(ctx context.Context, contribution *models.Contribution) error
	CreateContributions(ctx context.Context, contributions []models.Contribution) error
	DeleteContributionsByPayments(ctx context.Context, paymentIDs []int64) (int64, error)
	ListContributions(ctx context.Context, userID uuid.UUID, rng DateRange) ([]models.Contribution, error)

	LatestTotal(ctx context.Context, lock bool) (*models.Total, error)
	FindTotalByPayment(ctx context.Context, paymentID int64) (*models.Total, error)
	CreateTotal(ctx context.Context, total *models.Total) error
	ListTotals(ctx context.Context, rng DateRange) ([]models.Total, error)

	DailyTotals(ctx context.Context, rng DateRange) ([]DailyTotal, error)
	DailyPaymentSums(ctx context.Context, rng DateRange, ops []enums.OperationType) ([]DailyPaymentSum, error)
	UserBalanceHistory(ctx context.Context, userID uuid.UUID, rng DateRange) ([]BalancePoint, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// LockLedger serializes read-then-append sections on Postgres until the
// enclosing transaction ends. SQLite has a single writer and needs nothing.
func (r *repository) LockLedger(ctx context.Context) error {
	if r.Dialect() != "postgres" {
		return nil
	}
	return r.DB(ctx).Exec("SELECT pg_advisory_xact_lock(?)", ledgerLockKey).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.DB(ctx).Create(payment).Error
}

func (r *repository) FindPayment(ctx context.Context, id int64, lock bool) (*models.Payment, error) {
	var payment models.Payment
	if err := r.Query(ctx, lock).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]models.Payment, error) {
	query := applyRange(r.DB(ctx).Model(&models.Payment{}), filter.Range)
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.VehicleID != nil {
		query = query.Where("vehicle_id = ?", *filter.VehicleID)
	}
	if len(filter.Operations) > 0 {
		query = query.Where("operation IN ?", filter.Operations)
	}
	if filter.Cancelled != nil {
		query = query.Where("is_cancelled = ?", *filter.Cancelled)
	}
	if filter.Confirmed != nil {
		query = query.Where("confirmed = ?", *filter.Confirmed)
	}
	if filter.AfterID > 0 {
		query = query.Where("id > ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var payments []models.Payment
	if err := query.Order("id ASC").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) ListVehiclePayments(ctx context.Context, vehicleID uuid.UUID, ops []enums.OperationType, cancelled bool) ([]models.Payment, error) {
	return r.ListPayments(ctx, PaymentFilter{
		VehicleID:  &vehicleID,
		Operations: ops,
		Cancelled:  &cancelled,
	})
}

func (r *repository) MarkPaymentConfirmed(ctx context.Context, id int64, at time.Time) error {
	res := r.DB(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND confirmed = ?", id, false).
		Updates(map[string]any{"confirmed": true, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) MarkPaymentsCancelled(ctx context.Context, ids []int64, at time.Time, actor *uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.DB(ctx).
		Model(&models.Payment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"is_cancelled": true,
			"cancelled_at": at,
			"cancelled_by": actor,
			"updated_at":   at,
		}).Error
}

func (r *repository) RestorePayments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.DB(ctx).
		Model(&models.Payment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"is_cancelled": false,
			"cancelled_at": nil,
			"cancelled_by": nil,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// LatestContribution returns nil without error when the user has no rows.
func (r *repository) LatestContribution(ctx context.Context, userID uuid.UUID) (*models.Contribution, error) {
	return repo.TakeOptional[models.Contribution](r.DB(ctx).
		Where("user_id = ?", userID).
		Order("id DESC"))
}

func (r *repository) LatestContributions(ctx context.Context) ([]models.Contribution, error) {
	latestIDs := r.Conn().Model(&models.Contribution{}).
		Select("MAX(id)").
		Group("user_id")

	var rows []models.Contribution
	if err := r.DB(ctx).
		Where("id IN (?)", latestIDs).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateContribution(ctx context.Context, contribution *models.Contribution) error {
	return r.DB(ctx).Create(contribution).Error
}

func (r *repository) CreateContributions(ctx context.Context, contributions []models.Contribution) error {
	if len(contributions) == 0 {
		return nil
	}
	return r.DB(ctx).Create(&contributions).Error
}

func (r *repository) DeleteContributionsByPayments(ctx context.Context, paymentIDs []int64) (int64, error) {
	if len(paymentIDs) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).
		Where("payment_id IN ?", paymentIDs).
		Delete(&models.Contribution{})
	return res.RowsAffected, res.Error
}

func (r *repository) ListContributions(ctx context.Context, userID uuid.UUID, rng DateRange) ([]models.Contribution, error) {
	var rows []models.Contribution
	if err := applyRange(r.DB(ctx), rng).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestTotal returns nil without error while the pool has no totals.
func (r *repository) LatestTotal(ctx context.Context, lock bool) (*models.Total, error) {
	return repo.TakeOptional[models.Total](r.Query(ctx, lock).Order("id DESC"))
}

// FindTotalByPayment returns nil without error when the payment has no total.
func (r *repository) FindTotalByPayment(ctx context.Context, paymentID int64) (*models.Total, error) {
	return repo.TakeOptional[models.Total](r.DB(ctx).Where("payment_id = ?", paymentID))
}

func (r *repository) CreateTotal(ctx context.Context, total *models.Total) error {
	return r.DB(ctx).Create(total).Error
}

func (r *repository) ListTotals(ctx context.Context, rng DateRange) ([]models.Total, error) {
	var rows []models.Total
	if err := applyRange(r.DB(ctx), rng).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func applyRange(query *gorm.DB, rng DateRange) *gorm.DB {
	if rng.From != nil {
		query = query.Where("created_at >= ?", rng.From.UTC())
	}
	if rng.To != nil {
		query = query.Where("created_at < ?", rng.To.UTC())
	}
	return query
}
