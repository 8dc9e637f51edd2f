package enums

import "fmt"

// OperationType maps to the payment_operation column of payments.
type OperationType string

const (
	OperationFirst           OperationType = "FIRST"
	OperationBuyCar          OperationType = "BUY_CAR"
	OperationSellCar         OperationType = "SELL_CAR"
	OperationContrib         OperationType = "CONTRIB"
	OperationWithdraw        OperationType = "WITHDRAW"
	OperationIncome          OperationType = "INCOME"
	OperationRevenue         OperationType = "REVENUE"
	OperationCompanyLeasing  OperationType = "C_LEASING"
	OperationInvestorLeasing OperationType = "I_LEASING"
	OperationRecalculation   OperationType = "RECULC"
)

var validOperationTypes = []OperationType{
	OperationFirst,
	OperationBuyCar,
	OperationSellCar,
	OperationContrib,
	OperationWithdraw,
	OperationIncome,
	OperationRevenue,
	OperationCompanyLeasing,
	OperationInvestorLeasing,
	OperationRecalculation,
}

// IsValid reports whether the value matches the canonical operation set.
func (o OperationType) IsValid() bool {
	for _, candidate := range validOperationTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// AffectsContributions reports whether a confirmed payment of this type moves
// the payer's running balance and takes part in share recalculation.
func (o OperationType) AffectsContributions() bool {
	switch o {
	case OperationBuyCar, OperationSellCar, OperationRevenue:
		return false
	}
	return o.IsValid()
}

// AffectsTotal reports whether a confirmed payment of this type moves the pool total.
// Vehicle purchases and sales are accounted on the vehicle itself.
func (o OperationType) AffectsTotal() bool {
	switch o {
	case OperationBuyCar, OperationSellCar:
		return false
	}
	return o.IsValid()
}

// IsCommission reports whether the operation is the company half of a sale.
func (o OperationType) IsCommission() bool {
	return o == OperationRevenue || o == OperationCompanyLeasing
}

// IsInvestorIncome reports whether the operation is an investor profit share.
func (o OperationType) IsInvestorIncome() bool {
	return o == OperationIncome || o == OperationInvestorLeasing
}

// SaleOperations lists the payment types a vehicle sale produces.
func SaleOperations() []OperationType {
	return []OperationType{
		OperationRevenue,
		OperationIncome,
		OperationCompanyLeasing,
		OperationInvestorLeasing,
	}
}

// ParseOperationType converts raw input into OperationType.
func ParseOperationType(value string) (OperationType, error) {
	for _, candidate := range validOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation type %q", value)
}
