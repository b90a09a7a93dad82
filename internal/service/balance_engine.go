package service

import (
	"context"
	"errors"
	"fmt"

	"corracoins/internal/model"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceChange is a balance row before and after one mutation.
type BalanceChange struct {
	Before *model.CoinBalance
	After  *model.CoinBalance
}

// BalanceEngine owns every write to coin_balances. All mutators run inside
// the caller's transaction and row-lock the balance first.
type BalanceEngine struct {
	balances *repository.BalanceRepository
	metrics  monitoring.Recorder
}

func NewBalanceEngine(db *gorm.DB, metrics monitoring.Recorder) *BalanceEngine {
	return &BalanceEngine{
		balances: repository.NewBalanceRepository(db),
		metrics:  metrics,
	}
}

// ApplyEarnAndRedeem credits earned and debits redeemed coins.
func (e *BalanceEngine) ApplyEarnAndRedeem(ctx context.Context, tx *gorm.DB, userID, coinsEarned, coinsRedeemed int64) (*BalanceChange, error) {
	if coinsEarned < 0 || coinsRedeemed < 0 {
		return nil, fmt.Errorf("apply earn %d redeem %d: negative component", coinsEarned, coinsRedeemed)
	}

	current, err := e.balances.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	before := current.Clone()

	earned := decimal.NewFromInt(coinsEarned)
	redeemed := decimal.NewFromInt(coinsRedeemed)
	next := current.Balance.Add(earned).Sub(redeemed)
	if next.IsNegative() {
		return nil, badRequest(CodeInsufficientBalance,
			"insufficient coin balance: you have %s coins, this change needs %d", current.Balance.String(), coinsRedeemed-coinsEarned)
	}

	current.Balance = next
	if coinsEarned > 0 {
		current.TotalEarned = current.TotalEarned.Add(earned)
	}
	if coinsRedeemed > 0 {
		current.TotalRedeemed = current.TotalRedeemed.Add(redeemed)
	}

	if err := e.save(ctx, tx, current); err != nil {
		return nil, err
	}
	e.metrics.RecordBalanceMutation("apply", coinsEarned-coinsRedeemed)
	return &BalanceChange{Before: before, After: current}, nil
}

// RevertForTransaction removes the effect of an applied transaction: its
// earned coins leave the balance and its redeemed coins come back. Totals are
// floored at zero and the balance is rederived from them.
func (e *BalanceEngine) RevertForTransaction(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction) (*BalanceChange, error) {
	if !trans.Owned() {
		return nil, badRequest(CodeNoOwner, "transaction %s has no owner", trans.TransactionNo)
	}

	current, err := e.balances.GetForUpdate(ctx, tx, *trans.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	before := current.Clone()

	totalEarned := decimal.Max(decimal.Zero, current.TotalEarned.Sub(decimal.NewFromInt(trans.CoinsEarned)))
	totalRedeemed := decimal.Max(decimal.Zero, current.TotalRedeemed.Sub(decimal.NewFromInt(trans.CoinsRedeemed)))
	next := totalEarned.Sub(totalRedeemed)
	if next.IsNegative() {
		return nil, badRequest(CodeNegativeBalance,
			"cannot revert %s: the earned coins were already spent (balance %s)", trans.TransactionNo, current.Balance.String())
	}

	current.Balance = next
	current.TotalEarned = totalEarned
	current.TotalRedeemed = totalRedeemed

	if err := e.save(ctx, tx, current); err != nil {
		return nil, err
	}
	e.metrics.RecordBalanceMutation("revert", trans.CoinsRedeemed-trans.CoinsEarned)
	return &BalanceChange{Before: before, After: current}, nil
}

// ApplyAdjustment applies a signed manual correction. Credits count as
// earned, debits as redeemed.
func (e *BalanceEngine) ApplyAdjustment(ctx context.Context, tx *gorm.DB, userID, delta int64) (*BalanceChange, error) {
	if delta >= 0 {
		return e.ApplyEarnAndRedeem(ctx, tx, userID, delta, 0)
	}
	return e.ApplyEarnAndRedeem(ctx, tx, userID, 0, -delta)
}

// GetOptimisticBalance projects the persisted balance as if pending were
// already approved. Nothing is written.
func (e *BalanceEngine) GetOptimisticBalance(ctx context.Context, userID int64, pending *model.CoinTransaction) (decimal.Decimal, error) {
	current, err := e.balances.GetByUserID(ctx, nil, userID)
	switch {
	case errors.Is(err, repository.ErrBalanceNotFound):
		current = model.NewCoinBalance(userID)
	case err != nil:
		return decimal.Zero, err
	}
	return ProjectBalance(current.Balance, pending), nil
}

// ProjectBalance adds the delta of pending to balance unless it is no longer
// waiting for approval or has already been applied.
func ProjectBalance(balance decimal.Decimal, pending ...*model.CoinTransaction) decimal.Decimal {
	for _, t := range pending {
		if t == nil || t.Status != model.StatusPending || t.BalanceApplied {
			continue
		}
		balance = balance.Add(decimal.NewFromInt(t.CoinsEarned - t.CoinsRedeemed))
	}
	return balance
}

func (e *BalanceEngine) save(ctx context.Context, tx *gorm.DB, balance *model.CoinBalance) error {
	if !balance.Consistent() {
		return fmt.Errorf("balance of user %d would become inconsistent: %s != %s - %s",
			balance.UserID, balance.Balance, balance.TotalEarned, balance.TotalRedeemed)
	}
	if err := e.balances.Save(ctx, tx, balance); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}
