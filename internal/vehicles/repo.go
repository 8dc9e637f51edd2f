package vehicles

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/repo"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
)

// Repository persists vehicles.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a copy bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Bind(tx)}
}

func (r *Repository) Create(ctx context.Context, vehicle *models.Vehicle) error {
	return r.DB(ctx).Create(vehicle).Error
}

// FindByID loads a vehicle, optionally locking the row for the enclosing transaction.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	if err := r.Query(ctx, lock).First(&vehicle, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &vehicle, nil
}

// Save writes every column, including cleared sale and cancellation fields.
func (r *Repository) Save(ctx context.Context, vehicle *models.Vehicle) error {
	return r.DB(ctx).Save(vehicle).Error
}

// List returns vehicles newest first using cursor pagination.
func (r *Repository) List(ctx context.Context, opts listQuery) ([]models.Vehicle, error) {
	query := r.DB(ctx).Model(&models.Vehicle{})
	if opts.state != nil {
		scoped, err := stateScope(query, *opts.state)
		if err != nil {
			return nil, err
		}
		query = scoped
	}
	if opts.cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", opts.cursor.CreatedAt, opts.cursor.CreatedAt, opts.cursor.ID)
	}

	var rows []models.Vehicle
	if err := query.Order("created_at DESC").Order("id DESC").Limit(opts.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// stateScope filters by derived state. for_sale also lists unsold vehicles.
func stateScope(query *gorm.DB, state enums.VehicleState) (*gorm.DB, error) {
	switch state {
	case enums.VehicleStateForSale:
		return query.Where("sale_date IS NULL"), nil
	case enums.VehicleStateSold:
		return query.Where("sale_date IS NOT NULL AND cancelled_at IS NULL"), nil
	case enums.VehicleStateCancelled:
		return query.Where("sale_date IS NOT NULL AND cancelled_at IS NOT NULL"), nil
	case enums.VehicleStateUnsold:
		return query.Where("sale_date IS NULL AND cancelled_at IS NOT NULL"), nil
	}
	return nil, fmt.Errorf("unknown vehicle state %q", state)
}
