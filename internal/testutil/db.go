// Package testutil wires in-memory infrastructure for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"corracoins/internal/infrastructure/database"
	"corracoins/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory SQLite database with the ledger schema.
// A single connection serializes transactions the way row locks would.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         database.NewGormLogger("silent"),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func SeedUser(t *testing.T, db *gorm.DB, id int64) *model.User {
	t.Helper()
	user := &model.User{ID: id, Mobile: fmt.Sprintf("90000%05d", id), Name: fmt.Sprintf("user-%d", id)}
	require.NoError(t, db.Create(user).Error)
	return user
}

// BrandOption customizes a seeded brand.
type BrandOption func(*model.Brand)

func WithRedemption(percentage int64) BrandOption {
	return func(b *model.Brand) { b.RedemptionPercentage = decimal.NewFromInt(percentage) }
}

func WithRedemptionRange(min, max int64) BrandOption {
	return func(b *model.Brand) {
		b.MinRedemptionAmount = &min
		b.MaxRedemptionAmount = &max
	}
}

func WithMaxRedemptionPerTransaction(limit int64) BrandOption {
	return func(b *model.Brand) { b.MaxRedemptionPerTransaction = &limit }
}

func WithMaxEarningPerTransaction(limit int64) BrandOption {
	return func(b *model.Brand) { b.MaxEarningPerTransaction = &limit }
}

func Inactive() BrandOption {
	return func(b *model.Brand) { b.IsActive = false }
}

// SeedBrand creates an active brand earning earningPct percent, with 100%
// redemption and no limits unless overridden.
func SeedBrand(t *testing.T, db *gorm.DB, id int64, earningPct int64, opts ...BrandOption) *model.Brand {
	t.Helper()
	brand := &model.Brand{
		ID:                   id,
		Name:                 fmt.Sprintf("brand-%d", id),
		EarningPercentage:    decimal.NewFromInt(earningPct),
		RedemptionPercentage: decimal.NewFromInt(100),
		IsActive:             true,
	}
	for _, opt := range opts {
		opt(brand)
	}
	require.NoError(t, db.Create(brand).Error)
	return brand
}

// SeedBalance writes balance/earned/redeemed directly for userID.
func SeedBalance(t *testing.T, db *gorm.DB, userID int64, balance, earned, redeemed int64) {
	t.Helper()
	row := model.NewCoinBalance(userID)
	row.Balance = decimal.NewFromInt(balance)
	row.TotalEarned = decimal.NewFromInt(earned)
	row.TotalRedeemed = decimal.NewFromInt(redeemed)
	require.NoError(t, db.Create(row).Error)
}
