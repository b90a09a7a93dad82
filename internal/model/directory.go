package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the read-only view of the user directory the ledger consults.
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Mobile    string    `gorm:"type:varchar(20);uniqueIndex" json:"mobile"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	Status    string    `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Brand carries the earning and redemption rules of a partner brand.
// A nil limit means the brand does not configure it.
type Brand struct {
	ID                          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                        string          `gorm:"type:varchar(128);not null" json:"name"`
	EarningPercentage           decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"earning_percentage"`
	RedemptionPercentage        decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"redemption_percentage"`
	MinRedemptionAmount         *int64          `json:"min_redemption_amount"`
	MaxRedemptionAmount         *int64          `json:"max_redemption_amount"`
	MaxEarningPerTransaction    *int64          `json:"max_earning_per_transaction"`
	MaxRedemptionPerTransaction *int64          `json:"max_redemption_per_transaction"`
	IsActive                    bool            `gorm:"not null" json:"is_active"`
	CreatedAt                   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Brand) TableName() string {
	return "brands"
}
