package vehicles_test

import (
	"github.com/evpool/evpool-backend/internal/app"
	"github.com/evpool/evpool-backend/internal/app/apptest"
	"github.com/evpool/evpool-backend/internal/testsupport"
	"github.com/evpool/evpool-backend/pkg/db"
)

func newServicesWithoutCompany(client *db.Client) (*app.Services, error) {
	return app.NewServices(client, apptest.DefaultLedgerConfig(), testsupport.NewLogger(), nil)
}
