package service

import (
	"context"
	"fmt"
	"time"

	"corracoins/internal/model"
	"corracoins/internal/repository"

	"gorm.io/gorm"
)

// LedgerEvent is the payload of every ledger outbox message.
type LedgerEvent struct {
	EventType     string                  `json:"event_type"`
	TransactionNo string                  `json:"transaction_no"`
	UserID        *int64                  `json:"user_id,omitempty"`
	SessionID     string                  `json:"session_id,omitempty"`
	BrandID       *int64                  `json:"brand_id,omitempty"`
	Type          model.TransactionType   `json:"type"`
	Status        model.TransactionStatus `json:"status"`
	CoinsEarned   int64                   `json:"coins_earned"`
	CoinsRedeemed int64                   `json:"coins_redeemed"`
	Amount        int64                   `json:"amount"`
	Balance       string                  `json:"balance,omitempty"`
	Notes         string                  `json:"notes,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

type eventWriter struct {
	outbox *repository.OutboxRepository
	topic  string
}

// write enqueues an event for trans in tx. balance may be nil when the
// event does not touch the balance.
func (w *eventWriter) write(ctx context.Context, tx *gorm.DB, eventType string, trans *model.CoinTransaction, balance *model.CoinBalance, at time.Time) error {
	event := LedgerEvent{
		EventType:     eventType,
		TransactionNo: trans.TransactionNo,
		UserID:        trans.UserID,
		SessionID:     trans.SessionID,
		BrandID:       trans.BrandID,
		Type:          trans.Type,
		Status:        trans.Status,
		CoinsEarned:   trans.CoinsEarned,
		CoinsRedeemed: trans.CoinsRedeemed,
		Amount:        trans.CoinsEarned - trans.CoinsRedeemed,
		Notes:         trans.AdminNotes,
		OccurredAt:    at,
	}
	if balance != nil {
		event.Balance = balance.Balance.String()
	}
	if err := w.outbox.Enqueue(ctx, tx, w.topic, trans.TransactionNo, eventType, event); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
