package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/pkg/enums"
)

// DateRange bounds a query on created_at. Nil ends are open; To is exclusive.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// PaymentFilter narrows ListPayments. Zero values mean "any".
type PaymentFilter struct {
	UserID     *uuid.UUID
	VehicleID  *uuid.UUID
	Operations []enums.OperationType
	Range      DateRange
	Cancelled  *bool
	Confirmed  *bool
	// AfterID and Limit page through results ordered by id.
	AfterID int64
	Limit   int
}

// DailyTotal is the last pool total recorded on a calendar day (UTC).
type DailyTotal struct {
	Day         time.Time `json:"day"`
	AmountCents int64     `json:"amount_cents"`
}

// DailyPaymentSum aggregates confirmed, live payments per day and operation.
type DailyPaymentSum struct {
	Day         time.Time           `json:"day"`
	Operation   enums.OperationType `json:"operation"`
	AmountCents int64               `json:"amount_cents"`
	Count       int                 `json:"count"`
}

// BalancePoint is one step of a user's running balance.
type BalancePoint struct {
	At          time.Time `json:"at"`
	AmountCents int64     `json:"amount_cents"`
	Percents    int64     `json:"percents"`
	PaymentID   *int64    `json:"payment_id,omitempty"`
}
