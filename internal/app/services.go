// Package app wires the ledger services on top of one database client.
package app

import (
	"github.com/evpool/evpool-backend/internal/cancellations"
	"github.com/evpool/evpool-backend/internal/contributions"
	"github.com/evpool/evpool-backend/internal/ledger"
	"github.com/evpool/evpool-backend/internal/payments"
	"github.com/evpool/evpool-backend/internal/sales"
	"github.com/evpool/evpool-backend/internal/totals"
	"github.com/evpool/evpool-backend/internal/users"
	"github.com/evpool/evpool-backend/internal/vehicles"
	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/metrics"
	"github.com/evpool/evpool-backend/pkg/outbox"
)

// Services is the set of ledger services shared by the API and the seeder.
type Services struct {
	Ledger        ledger.Repository
	Reports       *ledger.Service
	Users         *users.Service
	Contributions *contributions.Service
	Totals        *totals.Service
	Payments      *payments.Service
	Vehicles      *vehicles.Service
	Sales         *sales.Service
	Cancellations *cancellations.Service
	Outbox        *outbox.Service
}

// NewServices builds every service. m may be nil.
func NewServices(client *db.Client, cfg config.LedgerConfig, logg *logger.Logger, m *metrics.LedgerMetrics) (*Services, error) {
	conn := client.DB()
	ledgerRepo := ledger.NewRepository(conn)
	usersRepo := users.NewRepository(conn)
	vehiclesRepo := vehicles.NewRepository(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	reportsSvc, err := ledger.NewService(ledgerRepo)
	if err != nil {
		return nil, err
	}
	usersSvc, err := users.NewService(usersRepo, logg, cfg.CompanyUser())
	if err != nil {
		return nil, err
	}
	contributionsSvc, err := contributions.NewService(ledgerRepo, usersRepo, logg)
	if err != nil {
		return nil, err
	}
	totalsSvc, err := totals.NewService(ledgerRepo, logg, m)
	if err != nil {
		return nil, err
	}
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		TxRunner:      client,
		Ledger:        ledgerRepo,
		Users:         usersRepo,
		Contributions: contributionsSvc,
		Totals:        totalsSvc,
		Outbox:        outboxSvc,
		Logger:        logg,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}
	vehiclesSvc, err := vehicles.NewService(vehicles.ServiceParams{
		TxRunner: client,
		Repo:     vehiclesRepo,
		Company:  usersSvc,
		Payments: paymentsSvc,
		Outbox:   outboxSvc,
		Logger:   logg,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}
	salesSvc, err := sales.NewService(sales.ServiceParams{
		TxRunner:      client,
		Vehicles:      vehiclesRepo,
		Ledger:        ledgerRepo,
		Company:       usersSvc,
		Payments:      paymentsSvc,
		Contributions: contributionsSvc,
		Totals:        totalsSvc,
		Outbox:        outboxSvc,
		Config:        cfg,
		Logger:        logg,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}
	cancellationsSvc, err := cancellations.NewService(cancellations.ServiceParams{
		TxRunner:      client,
		Vehicles:      vehiclesRepo,
		Ledger:        ledgerRepo,
		Payments:      paymentsSvc,
		Contributions: contributionsSvc,
		Totals:        totalsSvc,
		Outbox:        outboxSvc,
		Logger:        logg,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Ledger:        ledgerRepo,
		Reports:       reportsSvc,
		Users:         usersSvc,
		Contributions: contributionsSvc,
		Totals:        totalsSvc,
		Payments:      paymentsSvc,
		Vehicles:      vehiclesSvc,
		Sales:         salesSvc,
		Cancellations: cancellationsSvc,
		Outbox:        outboxSvc,
	}, nil
}
