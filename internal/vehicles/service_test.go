package vehicles_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evpool/evpool-backend/internal/app/apptest"
	"github.com/evpool/evpool-backend/internal/cancellations"
	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/sales"
	"github.com/evpool/evpool-backend/internal/testsupport"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/enums"
	pkgerrors "github.com/evpool/evpool-backend/pkg/errors"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
	pkgpagination "github.com/evpool/evpool-backend/pkg/pagination"
)

func TestBuyVehicleRecordsPurchaseOnly(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	a := f.User("A", enums.UserRoleInvestor)
	f.Pay(a, enums.OperationFirst, 1000000, apptest.At(0))

	res, err := f.Svc.Vehicles.BuyVehicle(ctx, vehicles.BuyVehicleInput{
		Brand: "Nissan", Model: "Leaf", Year: 2021, CostCents: 500000, PlanSaleCents: 600000, At: apptest.At(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.VehicleStateForSale, res.Vehicle.State())
	assert.Equal(t, enums.OperationBuyCar, res.Payment.Operation)
	assert.Equal(t, f.Company, res.Payment.UserID)
	require.NotNil(t, res.Payment.VehicleID)
	assert.Equal(t, res.Vehicle.ID, *res.Payment.VehicleID)
	assert.True(t, res.Vehicle.CreatedAt.Equal(*apptest.At(time.Hour)))

	assert.EqualValues(t, 1000000, f.Total())
	assert.NotContains(t, f.Shares(), f.Company)

	events := f.OutboxEvents()
	require.Len(t, events, 2)
	last := events[len(events)-1]
	assert.Equal(t, enums.EventVehicleBought, last.EventType)
	assert.Equal(t, res.Vehicle.ID.String(), last.AggregateID)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(last.Payload, &envelope))
	var data payloads.VehicleBoughtEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, res.Payment.ID, data.PaymentID)
	assert.EqualValues(t, 500000, data.CostCents)
}

func TestBuyVehicleValidation(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()

	cases := []vehicles.BuyVehicleInput{
		{Brand: "", Model: "Leaf", Year: 2021, CostCents: 1},
		{Brand: "Nissan", Model: " ", Year: 2021, CostCents: 1},
		{Brand: "Nissan", Model: "Leaf", Year: 1800, CostCents: 1},
		{Brand: "Nissan", Model: "Leaf", Year: 2021, CostCents: 0},
		{Brand: "Nissan", Model: "Leaf", Year: 2021, CostCents: 1, PlanSaleCents: -1},
	}
	for _, in := range cases {
		_, err := f.Svc.Vehicles.BuyVehicle(ctx, in)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v", in)
	}
}

func TestBuyVehicleRequiresCompanyUser(t *testing.T) {
	client := testsupport.NewDB(t)
	svc, err := newServicesWithoutCompany(client)
	require.NoError(t, err)

	_, err = svc.Vehicles.BuyVehicle(context.Background(), vehicles.BuyVehicleInput{
		Brand: "Nissan", Model: "Leaf", Year: 2021, CostCents: 100,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	payments, err := svc.Ledger.ListPayments(context.Background(), ledger.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestListVehiclesByState(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	a := f.User("A", enums.UserRoleInvestor)
	f.Pay(a, enums.OperationFirst, 10000000, apptest.At(0))

	forSale := f.Buy(100000, apptest.At(time.Hour))
	sold := f.Buy(100000, apptest.At(2*time.Hour))
	cancelled := f.Buy(100000, apptest.At(3*time.Hour))
	resold := f.Buy(100000, apptest.At(4*time.Hour))

	sell := func(id uuid.UUID, d time.Duration) {
		_, err := f.Svc.Sales.SellVehicle(ctx, sales.SellInput{VehicleID: id, PriceCents: 120000, SaleDate: apptest.At(d)})
		require.NoError(t, err)
	}
	sell(sold.ID, 48*time.Hour)
	sell(cancelled.ID, 48*time.Hour)
	_, err := f.Svc.Cancellations.CancelVehicleSale(ctx, cancellations.CancelInput{VehicleID: cancelled.ID, Reason: "buyer backed out", At: apptest.At(49 * time.Hour)})
	require.NoError(t, err)

	sell(resold.ID, 48*time.Hour)
	_, err = f.Svc.Cancellations.UnsellVehicle(ctx, cancellations.CancelInput{VehicleID: resold.ID, At: apptest.At(50 * time.Hour)})
	require.NoError(t, err)

	unsold := listIDs(t, f, enums.VehicleStateUnsold)
	assert.Equal(t, []uuid.UUID{resold.ID}, unsold)
	assert.ElementsMatch(t, []uuid.UUID{forSale.ID, resold.ID}, listIDs(t, f, enums.VehicleStateForSale))

	sell(resold.ID, 72*time.Hour)

	assert.ElementsMatch(t, []uuid.UUID{sold.ID, resold.ID}, listIDs(t, f, enums.VehicleStateSold))
	assert.Equal(t, []uuid.UUID{cancelled.ID}, listIDs(t, f, enums.VehicleStateCancelled))
	assert.Equal(t, []uuid.UUID{forSale.ID}, listIDs(t, f, enums.VehicleStateForSale))
	assert.Empty(t, listIDs(t, f, enums.VehicleStateUnsold))
}

func TestListVehiclesPaginates(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.Buy(1000, apptest.At(time.Duration(i)*time.Hour))
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	pages := 0
	for {
		res, err := f.Svc.Vehicles.ListVehicles(ctx, vehicles.ListParams{Params: pkgpagination.Params{Limit: 2, Cursor: cursor}})
		require.NoError(t, err)
		pages++
		for _, item := range res.Items {
			assert.False(t, seen[item.ID], "duplicate %s", item.ID)
			seen[item.ID] = true
		}
		if res.Cursor == "" {
			break
		}
		cursor = res.Cursor
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)

	bad := enums.VehicleState("parked")
	_, err := f.Svc.Vehicles.ListVehicles(ctx, vehicles.ListParams{State: &bad})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func listIDs(t *testing.T, f *apptest.Fixture, state enums.VehicleState) []uuid.UUID {
	t.Helper()
	res, err := f.Svc.Vehicles.ListVehicles(context.Background(), vehicles.ListParams{State: &state})
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(res.Items))
	for _, item := range res.Items {
		ids = append(ids, item.ID)
		if state != enums.VehicleStateForSale {
			assert.Equal(t, state, item.State)
		}
	}
	return ids
}
