// Package testsupport builds throwaway SQLite databases and quiet loggers for
// package tests.
package testsupport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evpool/evpool-backend/pkg/db"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/migrate"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with every model migrated.
func NewDB(t *testing.T) *db.Client {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	client, err := db.NewSQLite(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, migrate.AutoMigrate(context.Background(), client))
	return client
}

// NewLogger returns a logger that discards output.
func NewLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}
