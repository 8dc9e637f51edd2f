package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/testsupport"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
)

var day0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (ledger.Repository, *gorm.DB) {
	t.Helper()
	client := testsupport.NewDB(t)
	return ledger.NewRepository(client.DB()), client.DB()
}

func createUser(t *testing.T, db *gorm.DB, role enums.UserRole) uuid.UUID {
	t.Helper()
	user := &models.User{Name: "u", Email: uuid.NewString() + "@evpool.test", Role: role}
	require.NoError(t, db.Create(user).Error)
	return user.ID
}

func payment(userID uuid.UUID, op enums.OperationType, amount int64, at time.Time) *models.Payment {
	return &models.Payment{UserID: userID, Operation: op, AmountCents: amount, Confirmed: true, CreatedAt: at}
}

func TestLatestContributionPerUser(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()
	a := createUser(t, db, enums.UserRoleInvestor)
	b := createUser(t, db, enums.UserRoleInvestor)
	c := createUser(t, db, enums.UserRoleInvestor)

	latest, err := repo.LatestContribution(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, repo.CreateContributions(ctx, []models.Contribution{
		{UserID: a, AmountCents: 100, CreatedAt: day0},
		{UserID: b, AmountCents: 50, CreatedAt: day0},
		{UserID: a, AmountCents: 150, Percents: 750000, CreatedAt: day0},
	}))

	latest, err = repo.LatestContribution(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.EqualValues(t, 150, latest.AmountCents)

	rows, err := repo.LatestContributions(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	byUser := map[uuid.UUID]int64{}
	for _, row := range rows {
		byUser[row.UserID] = row.AmountCents
	}
	assert.Equal(t, map[uuid.UUID]int64{a: 150, b: 50}, byUser)
	_, hasC := byUser[c]
	assert.False(t, hasC)
}

func TestDeleteContributionsByPayments(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()
	a := createUser(t, db, enums.UserRoleInvestor)

	p1 := payment(a, enums.OperationFirst, 100, day0)
	p2 := payment(a, enums.OperationIncome, 10, day0)
	require.NoError(t, repo.CreatePayment(ctx, p1))
	require.NoError(t, repo.CreatePayment(ctx, p2))
	require.NoError(t, repo.CreateContribution(ctx, &models.Contribution{UserID: a, PaymentID: &p1.ID, AmountCents: 100}))
	require.NoError(t, repo.CreateContribution(ctx, &models.Contribution{UserID: a, PaymentID: &p2.ID, AmountCents: 110}))

	deleted, err := repo.DeleteContributionsByPayments(ctx, []int64{p2.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	latest, err := repo.LatestContribution(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 100, latest.AmountCents)

	deleted, err = repo.DeleteContributionsByPayments(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestListPaymentsFilters(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()
	a := createUser(t, db, enums.UserRoleInvestor)
	company := createUser(t, db, enums.UserRoleCompany)
	vehicle := &models.Vehicle{Brand: "Tesla", Model: "3", Year: 2022, CostCents: 500000, PlanSaleCents: 600000}
	require.NoError(t, db.Create(vehicle).Error)

	first := payment(a, enums.OperationFirst, 100000, day0)
	pending := payment(a, enums.OperationContrib, 5000, day0.Add(24*time.Hour))
	pending.Confirmed = false
	revenue := payment(company, enums.OperationRevenue, 50000, day0.Add(48*time.Hour))
	revenue.VehicleID = &vehicle.ID
	income := payment(a, enums.OperationIncome, 33333, day0.Add(48*time.Hour))
	income.VehicleID = &vehicle.ID
	for _, p := range []*models.Payment{first, pending, revenue, income} {
		require.NoError(t, repo.CreatePayment(ctx, p))
	}
	require.NoError(t, repo.MarkPaymentsCancelled(ctx, []int64{income.ID}, day0.Add(72*time.Hour), &company))

	confirmed := true
	rows, err := repo.ListPayments(ctx, ledger.PaymentFilter{UserID: &a, Confirmed: &confirmed})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	from := day0.Add(24 * time.Hour)
	rows, err = repo.ListPayments(ctx, ledger.PaymentFilter{Range: ledger.DateRange{From: &from}})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	live, err := repo.ListVehiclePayments(ctx, vehicle.ID, []enums.OperationType{enums.OperationRevenue, enums.OperationIncome}, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, revenue.ID, live[0].ID)

	cancelled, err := repo.ListVehiclePayments(ctx, vehicle.ID, enums.SaleOperations(), true)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, income.ID, cancelled[0].ID)
	assert.NotNil(t, cancelled[0].CancelledAt)
	assert.Equal(t, company, *cancelled[0].CancelledBy)

	require.NoError(t, repo.RestorePayments(ctx, []int64{income.ID}))
	restored, err := repo.FindPayment(ctx, income.ID, false)
	require.NoError(t, err)
	assert.False(t, restored.IsCancelled)
	assert.Nil(t, restored.CancelledAt)

	page, err := repo.ListPayments(ctx, ledger.PaymentFilter{AfterID: first.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, pending.ID, page[0].ID)
}

func TestMarkPaymentConfirmedOnlyOnce(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()
	a := createUser(t, db, enums.UserRoleInvestor)

	p := payment(a, enums.OperationContrib, 100, day0)
	p.Confirmed = false
	require.NoError(t, repo.CreatePayment(ctx, p))

	require.NoError(t, repo.MarkPaymentConfirmed(ctx, p.ID, day0))
	require.ErrorIs(t, repo.MarkPaymentConfirmed(ctx, p.ID, day0), gorm.ErrRecordNotFound)
}

func TestTotalsAndReports(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()
	a := createUser(t, db, enums.UserRoleInvestor)

	latest, err := repo.LatestTotal(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, latest)

	amounts := []int64{100, 50, -30}
	times := []time.Time{day0, day0.Add(2 * time.Hour), day0.Add(26 * time.Hour)}
	running := int64(0)
	for i, amount := range amounts {
		p := payment(a, enums.OperationContrib, amount, times[i])
		require.NoError(t, repo.CreatePayment(ctx, p))
		running += amount
		require.NoError(t, repo.CreateTotal(ctx, &models.Total{PaymentID: p.ID, AmountCents: running, CreatedAt: times[i]}))
		require.NoError(t, repo.CreateContribution(ctx, &models.Contribution{UserID: a, PaymentID: &p.ID, AmountCents: running, CreatedAt: times[i]}))
	}

	latest, err = repo.LatestTotal(ctx, true)
	require.NoError(t, err)
	assert.EqualValues(t, 120, latest.AmountCents)

	found, err := repo.FindTotalByPayment(ctx, latest.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, found.ID)
	missing, err := repo.FindTotalByPayment(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	daily, err := repo.DailyTotals(ctx, ledger.DateRange{})
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.EqualValues(t, 150, daily[0].AmountCents)
	assert.EqualValues(t, 120, daily[1].AmountCents)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), daily[1].Day)

	sums, err := repo.DailyPaymentSums(ctx, ledger.DateRange{}, []enums.OperationType{enums.OperationContrib})
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.EqualValues(t, 150, sums[0].AmountCents)
	assert.Equal(t, 2, sums[0].Count)
	assert.EqualValues(t, -30, sums[1].AmountCents)

	to := day0.Add(24 * time.Hour)
	history, err := repo.UserBalanceHistory(ctx, a, ledger.DateRange{To: &to})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.EqualValues(t, 150, history[1].AmountCents)
}

func TestLockLedgerIsNoopOnSQLite(t *testing.T) {
	repo, db := newRepo(t)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.WithTx(tx).LockLedger(context.Background())
	}))
}
