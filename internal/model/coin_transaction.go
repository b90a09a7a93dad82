package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionTypeRewardRequest TransactionType = "REWARD_REQUEST"
	TransactionTypeEarn          TransactionType = "EARN"
	TransactionTypeRedeem        TransactionType = "REDEEM"
	TransactionTypeWelcomeBonus  TransactionType = "WELCOME_BONUS"
	TransactionTypeAdjustment    TransactionType = "ADJUSTMENT"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeRewardRequest, TransactionTypeEarn, TransactionTypeRedeem,
		TransactionTypeWelcomeBonus, TransactionTypeAdjustment:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusApproved  TransactionStatus = "APPROVED"
	StatusRejected  TransactionStatus = "REJECTED"
	StatusUnpaid    TransactionStatus = "UNPAID"
	StatusPaid      TransactionStatus = "PAID"
	StatusProcessed TransactionStatus = "PROCESSED"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusUnpaid,
		StatusPaid, StatusProcessed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no lifecycle transition may leave s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusRejected, StatusFailed, StatusCompleted, StatusProcessed:
		return true
	case StatusPending, StatusApproved, StatusUnpaid:
		return false
	}
	return false
}

// validStatusTransitions is the reward request lifecycle. Adjustments and
// welcome bonuses are written as COMPLETED and never transition.
var validStatusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:  {StatusPaid, StatusUnpaid, StatusApproved, StatusRejected},
	StatusApproved: {StatusPaid},
	StatusUnpaid:   {StatusPaid, StatusFailed},
}

func CanTransitionTo(current, target TransactionStatus) bool {
	for _, s := range validStatusTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// CoinTransaction is one reward, earn, redeem, bonus or adjustment event.
//
// UserID is nil while the request belongs to a not-yet-authenticated session
// (SessionID). PendingKey is set only while the row is PENDING and backs the
// duplicate-submission guard with a unique index.
type CoinTransaction struct {
	ID                 int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo      string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID             *int64              `gorm:"index:idx_coin_tx_user_status" json:"user_id"`
	SessionID          string              `gorm:"type:varchar(64);index" json:"session_id,omitempty"`
	BrandID            *int64              `gorm:"index" json:"brand_id"`
	Type               TransactionType     `gorm:"type:varchar(32);not null" json:"type"`
	Status             TransactionStatus   `gorm:"type:varchar(20);index:idx_coin_tx_user_status;not null" json:"status"`
	Amount             int64               `gorm:"not null" json:"amount"`
	BillAmount         int64               `gorm:"not null;default:0" json:"bill_amount"`
	CoinsEarned        int64               `gorm:"not null;default:0" json:"coins_earned"`
	CoinsRedeemed      int64               `gorm:"not null;default:0" json:"coins_redeemed"`
	BillDate           *time.Time          `gorm:"type:date" json:"bill_date,omitempty"`
	ReceiptURL         string              `gorm:"type:varchar(512)" json:"receipt_url,omitempty"`
	UPIID              string              `gorm:"column:upi_id;type:varchar(64)" json:"upi_id,omitempty"`
	PendingKey         *string             `gorm:"type:varchar(191);uniqueIndex" json:"-"`
	PreviousBalance    decimal.NullDecimal `gorm:"type:decimal(38,0)" json:"previous_balance"`
	BalanceApplied     bool                `gorm:"not null;default:false" json:"balance_applied"`
	AdminNotes         string              `gorm:"type:varchar(512)" json:"admin_notes,omitempty"`
	ProcessedBy        *int64              `json:"processed_by,omitempty"`
	ProcessedAt        *time.Time          `json:"processed_at,omitempty"`
	StatusUpdatedAt    *time.Time          `json:"status_updated_at,omitempty"`
	PaymentReference   string              `gorm:"type:varchar(128)" json:"payment_reference,omitempty"`
	PaymentProcessedAt *time.Time          `json:"payment_processed_at,omitempty"`
	CreatedAt          time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CoinTransaction) TableName() string {
	return "coin_transactions"
}

// BeforeSave keeps Amount derived from the coin components.
func (t *CoinTransaction) BeforeSave(tx *gorm.DB) error {
	t.RecomputeAmount()
	return nil
}

func (t *CoinTransaction) RecomputeAmount() {
	t.Amount = t.CoinsEarned - t.CoinsRedeemed
}

// Owned reports whether the transaction is linked to a user account.
func (t *CoinTransaction) Owned() bool {
	return t.UserID != nil
}
