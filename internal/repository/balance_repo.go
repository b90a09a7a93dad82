package repository

import (
	"context"
	"errors"

	"corracoins/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound = errors.New("coin balance not found")
	ErrOptimisticLock  = errors.New("coin balance changed concurrently, retry")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.CoinBalance, error) {
	var balance model.CoinBalance
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate lazily creates the zero balance row for userID.
func (r *BalanceRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*model.CoinBalance, error) {
	balance, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	if err := r.insertIgnore(ctx, tx, userID); err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, tx, userID)
}

// GetForUpdate loads (creating if absent) and row-locks the balance of userID.
// Must be called inside a transaction; the lock is held until it ends.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.CoinBalance, error) {
	if err := r.insertIgnore(ctx, tx, userID); err != nil {
		return nil, err
	}

	var balance model.CoinBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

func (r *BalanceRepository) insertIgnore(ctx context.Context, tx *gorm.DB, userID int64) error {
	return r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(model.NewCoinBalance(userID)).Error
}

// Save writes balance and totals back, guarded by the version read with the row.
func (r *BalanceRepository) Save(ctx context.Context, tx *gorm.DB, balance *model.CoinBalance) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.CoinBalance{}).
		Where("id = ? AND version = ?", balance.ID, balance.Version).
		Updates(map[string]interface{}{
			"balance":        balance.Balance,
			"total_earned":   balance.TotalEarned,
			"total_redeemed": balance.TotalRedeemed,
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	balance.Version++
	return nil
}
