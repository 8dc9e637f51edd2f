// Package apptest builds fully wired services on an in-memory database for
// cross-package ledger tests.
package apptest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/evpool/evpool-backend/internal/app"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/internal/testsupport"
	"github.com/evpool/evpool-backend/internal/users"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
)

// Epoch is the default clock of fixtures.
var Epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type Fixture struct {
	T       *testing.T
	Client  *db.Client
	Svc     *app.Services
	Company uuid.UUID
}

// DefaultLedgerConfig is a 50/50 split with a one cent income floor.
func DefaultLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{CommissionRate: decimal.RequireFromString("0.5"), MinIncomeCents: 1}
}

// New wires the services and creates the company user.
func New(t *testing.T) *Fixture {
	return NewWithConfig(t, DefaultLedgerConfig())
}

func NewWithConfig(t *testing.T, cfg config.LedgerConfig) *Fixture {
	t.Helper()
	client := testsupport.NewDB(t)
	svc, err := app.NewServices(client, cfg, testsupport.NewLogger(), nil)
	require.NoError(t, err)
	f := &Fixture{T: t, Client: client, Svc: svc}
	f.Company = f.User("EV Pool", enums.UserRoleCompany)
	return f
}

// At returns a pointer to Epoch shifted by d.
func At(d time.Duration) *time.Time {
	ts := Epoch.Add(d)
	return &ts
}

func (f *Fixture) User(name string, role enums.UserRole) uuid.UUID {
	f.T.Helper()
	user, err := f.Svc.Users.Create(context.Background(), users.CreateUserDTO{
		Name:  name,
		Email: uuid.NewString() + "@evpool.test",
		Role:  role,
	})
	require.NoError(f.T, err)
	return user.ID
}

// Pay records a confirmed contributing payment.
func (f *Fixture) Pay(userID uuid.UUID, op enums.OperationType, amount int64, at *time.Time) *models.Payment {
	f.T.Helper()
	p, err := f.Svc.Payments.RecordContributingPayment(context.Background(), payments.PaymentInput{
		UserID:      userID,
		Operation:   op,
		AmountCents: amount,
		Confirmed:   true,
		At:          at,
	})
	require.NoError(f.T, err)
	return p
}

func (f *Fixture) Buy(cost int64, at *time.Time) *models.Vehicle {
	f.T.Helper()
	res, err := f.Svc.Vehicles.BuyVehicle(context.Background(), vehicles.BuyVehicleInput{
		Brand:         "Tesla",
		Model:         "Model 3",
		Year:          2022,
		CostCents:     cost,
		PlanSaleCents: cost + cost/5,
		At:            at,
	})
	require.NoError(f.T, err)
	return res.Vehicle
}

// Total is the latest pool total.
func (f *Fixture) Total() int64 {
	f.T.Helper()
	total, err := f.Svc.Totals.CurrentTotal(context.Background(), nil)
	require.NoError(f.T, err)
	return total
}

// Shares maps each user to their latest contribution row.
func (f *Fixture) Shares() map[uuid.UUID]models.Contribution {
	f.T.Helper()
	rows, err := f.Svc.Ledger.LatestContributions(context.Background())
	require.NoError(f.T, err)
	out := make(map[uuid.UUID]models.Contribution, len(rows))
	for _, row := range rows {
		out[row.UserID] = row
	}
	return out
}

// PercentSum adds the latest shares.
func (f *Fixture) PercentSum() int64 {
	var sum int64
	for _, row := range f.Shares() {
		sum += row.Percents
	}
	return sum
}

// ConfirmedPoolSum adds every confirmed payment that moves the pool total.
func (f *Fixture) ConfirmedPoolSum() int64 {
	f.T.Helper()
	var rows []models.Payment
	require.NoError(f.T, f.Client.DB().Where("confirmed = ?", true).Find(&rows).Error)
	var sum int64
	for _, p := range rows {
		if p.Operation.AffectsTotal() {
			sum += p.AmountCents
		}
	}
	return sum
}

// OutboxEvents returns queued events in insert order.
func (f *Fixture) OutboxEvents() []models.OutboxEvent {
	f.T.Helper()
	var rows []models.OutboxEvent
	require.NoError(f.T, f.Client.DB().Order("created_at ASC").Find(&rows).Error)
	return rows
}
