package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Ledger event types carried in OutboxMessage.EventType.
const (
	EventRewardRequested    = "reward.requested"
	EventRewardApproved     = "reward.approved"
	EventRewardRejected     = "reward.rejected"
	EventRewardPaid         = "reward.paid"
	EventRewardPayoutFailed = "reward.payout_failed"
	EventRewardClaimed      = "reward.claimed"
	EventBalanceAdjusted    = "balance.adjusted"
	EventWelcomeBonus       = "balance.welcome_bonus"
)

// OutboxMessage is written in the same database transaction as the ledger
// change it describes and relayed to Kafka by job.OutboxSender.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
