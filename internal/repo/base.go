package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base is embedded by the domain repositories. It holds either the root
// connection or the transaction handed in through Bind.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Bind returns a copy writing through tx. A nil tx keeps the current handle.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// Conn returns the bound handle without a context, for subqueries.
func (b Base) Conn() *gorm.DB {
	return b.db
}

// DB returns the bound handle carrying ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.db.WithContext(ctx)
}

// Query is DB with an optional FOR UPDATE. The sqlite dialect drops the
// clause; its single writer already serializes.
func (b Base) Query(ctx context.Context, lock bool) *gorm.DB {
	query := b.DB(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

// Dialect reports the dialector name ("postgres" or "sqlite").
func (b Base) Dialect() string {
	return b.db.Dialector.Name()
}

// TakeOptional runs Take on query and maps a missing row to (nil, nil).
func TakeOptional[T any](query *gorm.DB) (*T, error) {
	var row T
	err := query.Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
