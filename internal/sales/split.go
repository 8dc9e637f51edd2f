package sales

import (
	"github.com/shopspring/decimal"

	"github.com/evpool/evpool-backend/pkg/db/models"
)

var percentScale = decimal.NewFromInt(models.PercentPrecision)

// Commission is the company's rounded cut of profit.
func Commission(profitCents int64, rate decimal.Decimal) int64 {
	if profitCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(profitCents).Mul(rate).Round(0).IntPart()
}

// InvestorIncome is one investor's rounded cut of the shared profit.
func InvestorIncome(profitCents int64, rate decimal.Decimal, percents int64) int64 {
	if profitCents <= 0 || percents <= 0 {
		return 0
	}
	return decimal.NewFromInt(profitCents).
		Mul(rate).
		Mul(decimal.NewFromInt(percents)).
		Div(percentScale).
		Round(0).
		IntPart()
}
