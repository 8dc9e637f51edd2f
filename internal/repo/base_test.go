package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type widget struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&widget{}))
	return conn
}

func TestBaseDBBindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "value")
	withCtx := base.DB(ctx)

	require.NotNil(t, withCtx.Statement)
	assert.Equal(t, ctx, withCtx.Statement.Context)
	assert.Same(t, db, base.Conn())
	assert.Equal(t, "sqlite", base.Dialect())
}

func TestBindUsesTransaction(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	assert.Same(t, db, base.Bind(nil).Conn())

	err := db.Transaction(func(tx *gorm.DB) error {
		bound := base.Bind(tx)
		assert.Same(t, tx, bound.Conn())
		return bound.DB(context.Background()).Create(&widget{Name: "inside"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTakeOptional(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	missing, err := TakeOptional[widget](base.Query(context.Background(), true).Where("name = ?", "nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.Create(&widget{Name: "found"}).Error)
	found, err := TakeOptional[widget](base.Query(context.Background(), false).Where("name = ?", "found"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "found", found.Name)
}
