package contributions

import (
	"github.com/shopspring/decimal"

	"github.com/evpool/evpool-backend/pkg/db/models"
)

var precision = decimal.NewFromInt(models.PercentPrecision)

// Share returns balance/total in fixed-point percents, rounded half away from
// zero. A non-positive balance or total yields 0, so every share stays within
// [0, PercentPrecision].
func Share(balanceCents, totalCents int64) int64 {
	if totalCents <= 0 || balanceCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(balanceCents).
		Mul(precision).
		DivRound(decimal.NewFromInt(totalCents), 0).
		IntPart()
}

// PoolBalance adds the positive running balances of the given snapshot rows.
// A balance pushed below zero by a sale reversal owns no part of the pool.
func PoolBalance(rows []models.Contribution) int64 {
	var total int64
	for _, row := range rows {
		if row.AmountCents > 0 {
			total += row.AmountCents
		}
	}
	return total
}
