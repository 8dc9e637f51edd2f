// Package seed replays a historical backfill file through the ledger services,
// so every row it writes passes the same rules as live traffic.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evpool/evpool-backend/internal/app"
	"github.com/evpool/evpool-backend/internal/cancellations"
	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/internal/sales"
	"github.com/evpool/evpool-backend/internal/users"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	"github.com/evpool/evpool-backend/pkg/logger"
)

type userCreator interface {
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

type totalReader interface {
	CurrentTotal(ctx context.Context) (*ledger.PoolTotal, error)
}

type paymentRecorder interface {
	RecordContributingPayment(ctx context.Context, input payments.PaymentInput) (*models.Payment, error)
}

type vehicleBuyer interface {
	BuyVehicle(ctx context.Context, input vehicles.BuyVehicleInput) (*vehicles.BuyResult, error)
}

type vehicleSeller interface {
	SellVehicle(ctx context.Context, input sales.SellInput) (*sales.SaleResult, error)
}

type saleReverser interface {
	CancelVehicleSale(ctx context.Context, input cancellations.CancelInput) (*cancellations.Result, error)
	UnsellVehicle(ctx context.Context, input cancellations.CancelInput) (*cancellations.Result, error)
	RestoreVehicleSale(ctx context.Context, input cancellations.RestoreInput) (*cancellations.Result, error)
}

// Deps are the services the seeder drives.
type Deps struct {
	Users         userCreator
	Ledger        totalReader
	Payments      paymentRecorder
	Vehicles      vehicleBuyer
	Sales         vehicleSeller
	Cancellations saleReverser
}

// DepsFromServices adapts the shared service set.
func DepsFromServices(svc *app.Services) Deps {
	return Deps{
		Users:         svc.Users,
		Ledger:        svc.Reports,
		Payments:      svc.Payments,
		Vehicles:      svc.Vehicles,
		Sales:         svc.Sales,
		Cancellations: svc.Cancellations,
	}
}

type Options struct {
	// AllowNonEmpty lets the seeder append to a ledger that already has totals.
	AllowNonEmpty bool
	// Actor is recorded as cancelled_by on reversals.
	Actor *uuid.UUID
}

// Report counts what a run wrote.
type Report struct {
	Users     int `json:"users"`
	Payments  int `json:"payments"`
	Vehicles  int `json:"vehicles"`
	Sales     int `json:"sales"`
	Reversals int `json:"reversals"`
}

type Seeder struct {
	deps Deps
	logg *logger.Logger
	opts Options
}

func New(deps Deps, logg *logger.Logger, opts Options) (*Seeder, error) {
	switch {
	case deps.Users == nil:
		return nil, fmt.Errorf("users service required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger reader required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("payments service required")
	case deps.Vehicles == nil:
		return nil, fmt.Errorf("vehicles service required")
	case deps.Sales == nil:
		return nil, fmt.Errorf("sales service required")
	case deps.Cancellations == nil:
		return nil, fmt.Errorf("cancellations service required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Seeder{deps: deps, logg: logg, opts: opts}, nil
}

// Run creates the users and replays the events in time order. It stops at the
// first failing event: later events depend on the ledger state it would have written.
func (s *Seeder) Run(ctx context.Context, file *File) (*Report, error) {
	if err := file.Validate(); err != nil {
		return nil, err
	}
	if !s.opts.AllowNonEmpty {
		total, err := s.deps.Ledger.CurrentTotal(ctx)
		if err != nil {
			return nil, err
		}
		if total.PaymentID != nil {
			return nil, fmt.Errorf("ledger already has totals; refusing to seed")
		}
	}

	report := &Report{}
	userIDs := make(map[string]uuid.UUID, len(file.Users))
	for _, rec := range file.Users {
		role, _ := enums.ParseUserRole(rec.Role)
		user, err := s.deps.Users.Create(ctx, users.CreateUserDTO{
			Name:      rec.Name,
			Email:     rec.Email,
			Role:      role,
			CreatedAt: rec.CreatedAt,
		})
		if err != nil {
			return report, fmt.Errorf("user %q: %w", rec.Key, err)
		}
		userIDs[rec.Key] = user.ID
		report.Users++
	}

	vehicleIDs := map[string]uuid.UUID{}
	for i, event := range file.ordered() {
		if err := s.apply(ctx, event, userIDs, vehicleIDs, report); err != nil {
			return report, fmt.Errorf("event %d (%s at %s): %w", i, event.Type, event.At.Format(time.RFC3339), err)
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"users":     report.Users,
		"payments":  report.Payments,
		"vehicles":  report.Vehicles,
		"sales":     report.Sales,
		"reversals": report.Reversals,
	})
	s.logg.Info(logCtx, "seed completed")
	return report, nil
}

func (s *Seeder) apply(ctx context.Context, e EventRecord, userIDs, vehicleIDs map[string]uuid.UUID, report *Report) error {
	at := e.At.UTC()
	switch e.Type {
	case EventPayment:
		op, _ := enums.ParseOperationType(e.Operation)
		if _, err := s.deps.Payments.RecordContributingPayment(ctx, payments.PaymentInput{
			UserID:      userIDs[e.User],
			Operation:   op,
			AmountCents: e.AmountCents,
			Confirmed:   !e.Pending,
			At:          &at,
		}); err != nil {
			return err
		}
		report.Payments++

	case EventBuy:
		if _, dup := vehicleIDs[e.Vehicle]; dup {
			return fmt.Errorf("vehicle %q bought twice", e.Vehicle)
		}
		res, err := s.deps.Vehicles.BuyVehicle(ctx, vehicles.BuyVehicleInput{
			Brand:         e.Brand,
			Model:         e.Model,
			Year:          e.Year,
			VIN:           e.VIN,
			CostCents:     e.CostCents,
			PlanSaleCents: e.PlanSaleCents,
			At:            &at,
		})
		if err != nil {
			return err
		}
		vehicleIDs[e.Vehicle] = res.Vehicle.ID
		report.Vehicles++

	case EventSell:
		vehicleID, err := lookupVehicle(vehicleIDs, e.Vehicle)
		if err != nil {
			return err
		}
		if _, err := s.deps.Sales.SellVehicle(ctx, sales.SellInput{
			VehicleID:  vehicleID,
			PriceCents: e.PriceCents,
			SaleDate:   &at,
			Leasing:    e.Leasing,
			Actor:      s.opts.Actor,
		}); err != nil {
			return err
		}
		report.Sales++

	case EventCancel, EventUnsell:
		vehicleID, err := lookupVehicle(vehicleIDs, e.Vehicle)
		if err != nil {
			return err
		}
		input := cancellations.CancelInput{VehicleID: vehicleID, Reason: e.Reason, Actor: s.opts.Actor, At: &at}
		if e.Type == EventCancel {
			_, err = s.deps.Cancellations.CancelVehicleSale(ctx, input)
		} else {
			_, err = s.deps.Cancellations.UnsellVehicle(ctx, input)
		}
		if err != nil {
			return err
		}
		report.Reversals++

	case EventRestore:
		vehicleID, err := lookupVehicle(vehicleIDs, e.Vehicle)
		if err != nil {
			return err
		}
		if _, err := s.deps.Cancellations.RestoreVehicleSale(ctx, cancellations.RestoreInput{VehicleID: vehicleID, At: &at}); err != nil {
			return err
		}
		report.Reversals++
	}

	s.logg.Debug(s.logg.WithField(ctx, "event", e.Type), "seed event applied")
	return nil
}

func lookupVehicle(ids map[string]uuid.UUID, key string) (uuid.UUID, error) {
	id, ok := ids[key]
	if !ok {
		return uuid.Nil, fmt.Errorf("vehicle %q is not bought yet", key)
	}
	return id, nil
}
