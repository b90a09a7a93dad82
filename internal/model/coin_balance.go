package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CoinBalance is the per-user coin account. Amounts are whole coins stored as
// decimal(38,0) so they never overflow a fixed-width integer.
//
// Invariant: Balance == TotalEarned - TotalRedeemed and Balance >= 0.
type CoinBalance struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance       decimal.Decimal `gorm:"type:decimal(38,0);not null" json:"balance"`
	TotalEarned   decimal.Decimal `gorm:"type:decimal(38,0);not null" json:"total_earned"`
	TotalRedeemed decimal.Decimal `gorm:"type:decimal(38,0);not null" json:"total_redeemed"`
	Version       int             `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CoinBalance) TableName() string {
	return "coin_balances"
}

// NewCoinBalance returns an all-zero balance for userID.
func NewCoinBalance(userID int64) *CoinBalance {
	return &CoinBalance{
		UserID:        userID,
		Balance:       decimal.Zero,
		TotalEarned:   decimal.Zero,
		TotalRedeemed: decimal.Zero,
	}
}

// Consistent reports whether the balance matches its earned/redeemed components
// and is not negative.
func (b *CoinBalance) Consistent() bool {
	return b.Balance.Equal(b.TotalEarned.Sub(b.TotalRedeemed)) && !b.Balance.IsNegative()
}

// Clone returns a detached copy, used to keep a pre-mutation snapshot.
func (b *CoinBalance) Clone() *CoinBalance {
	c := *b
	return &c
}
