package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"corracoins/internal/config"
	"corracoins/internal/infrastructure/lock"
	"corracoins/internal/model"
	"corracoins/internal/monitoring"
	"corracoins/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ApprovalService moves reward transactions through their review and payout
// lifecycle. Every transition holds the owner's ledger lock and runs the
// status change and any balance change in one database transaction.
type ApprovalService struct {
	db        *gorm.DB
	transRepo *repository.TransactionRepository
	engine    *BalanceEngine
	events    *eventWriter
	locker    lock.Locker
	metrics   monitoring.Recorder
	now       func() time.Time
}

func NewApprovalService(db *gorm.DB, locker lock.Locker, engine *BalanceEngine, cfg *config.Config, metrics monitoring.Recorder) *ApprovalService {
	return &ApprovalService{
		db:        db,
		transRepo: repository.NewTransactionRepository(db),
		engine:    engine,
		events: &eventWriter{
			outbox: repository.NewOutboxRepository(db),
			topic:  cfg.Kafka.Topic.LedgerEvents,
		},
		locker:  locker,
		metrics: metrics,
		now:     time.Now,
	}
}

// Approve credits the transaction's coins. Redemptions still owe the user a
// payout and land in UNPAID; pure earns are settled and land in PAID.
func (s *ApprovalService) Approve(ctx context.Context, transactionID, adminID int64, notes string) (*model.CoinTransaction, error) {
	var applied *BalanceChange
	trans, err := s.lockedTransition(ctx, "approve", transactionID, func(tx *gorm.DB, trans *model.CoinTransaction) error {
		if err := s.requireReviewable(ctx, tx, trans); err != nil {
			return err
		}

		target := model.StatusPaid
		if trans.CoinsRedeemed > 0 {
			target = model.StatusUnpaid
		}

		now := s.now()
		updates := map[string]interface{}{
			"processed_by":      adminID,
			"processed_at":      now,
			"status_updated_at": now,
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			updates["admin_notes"] = notes
			trans.AdminNotes = notes
		}

		if trans.CoinsEarned > 0 || trans.CoinsRedeemed > 0 {
			change, err := s.engine.ApplyEarnAndRedeem(ctx, tx, *trans.UserID, trans.CoinsEarned, trans.CoinsRedeemed)
			if err != nil {
				return err
			}
			applied = change
			updates["previous_balance"] = decimal.NewNullDecimal(change.Before.Balance)
			updates["balance_applied"] = true
		}

		if err := s.transRepo.UpdateStatus(ctx, tx, trans, model.StatusPending, target, updates); err != nil {
			return err
		}
		trans.Status = target
		return s.events.write(ctx, tx, model.EventRewardApproved, trans, after(applied), now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(model.StatusPending), string(trans.Status))
	logrus.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        *trans.UserID,
		"status":         trans.Status,
		"admin_id":       adminID,
	}).Info("reward transaction approved")
	return trans, nil
}

// Reject closes a pending transaction. The reason is shown to the user.
func (s *ApprovalService) Reject(ctx context.Context, transactionID, adminID int64, reason string) (*model.CoinTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.refuse("reject", transactionID, badRequest(CodeReasonRequired, "a rejection reason is required"))
	}

	trans, err := s.lockedTransition(ctx, "reject", transactionID, func(tx *gorm.DB, trans *model.CoinTransaction) error {
		if err := s.requireReviewable(ctx, tx, trans); err != nil {
			return err
		}

		now := s.now()
		updates := map[string]interface{}{
			"admin_notes":       reason,
			"processed_by":      adminID,
			"processed_at":      now,
			"status_updated_at": now,
		}

		var reverted *BalanceChange
		if trans.BalanceApplied {
			change, err := s.engine.RevertForTransaction(ctx, tx, trans)
			if err != nil {
				return err
			}
			reverted = change
			updates["balance_applied"] = false
		}

		if err := s.transRepo.UpdateStatus(ctx, tx, trans, model.StatusPending, model.StatusRejected, updates); err != nil {
			return err
		}
		trans.Status = model.StatusRejected
		trans.AdminNotes = reason
		return s.events.write(ctx, tx, model.EventRewardRejected, trans, after(reverted), now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(model.StatusPending), string(model.StatusRejected))
	logrus.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        *trans.UserID,
		"admin_id":       adminID,
		"reason":         reason,
	}).Info("reward transaction rejected")
	return trans, nil
}

// MarkAsPaid records the external payout of an approved transaction. A PAID
// transaction without a payment reference only gets the reference filled in.
func (s *ApprovalService) MarkAsPaid(ctx context.Context, transactionID, adminID int64, paymentReference, notes string) (*model.CoinTransaction, error) {
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return nil, s.refuse("mark_paid", transactionID, badRequest(CodeReferenceRequired, "a payment reference is required"))
	}

	var from model.TransactionStatus
	trans, err := s.lockedTransition(ctx, "mark_paid", transactionID, func(tx *gorm.DB, trans *model.CoinTransaction) error {
		from = trans.Status
		now := s.now()

		switch trans.Status {
		case model.StatusPaid:
			if trans.PaymentReference != "" {
				return badRequest(CodeAlreadyPaid,
					"transaction %s is already paid (reference %s)", trans.TransactionNo, trans.PaymentReference)
			}
			return s.transRepo.BackfillPaymentReference(ctx, tx, trans.ID, paymentReference, now)

		case model.StatusApproved, model.StatusUnpaid:
			updates := map[string]interface{}{
				"payment_reference":    paymentReference,
				"payment_processed_at": now,
				"status_updated_at":    now,
			}
			if notes = strings.TrimSpace(notes); notes != "" {
				updates["admin_notes"] = notes
				trans.AdminNotes = notes
			}
			if err := s.transRepo.UpdateStatus(ctx, tx, trans, trans.Status, model.StatusPaid, updates); err != nil {
				return err
			}
			trans.Status = model.StatusPaid
			return s.events.write(ctx, tx, model.EventRewardPaid, trans, nil, now)

		default:
			return badRequest(CodeInvalidStatus,
				"only APPROVED or UNPAID transactions can be marked paid (transaction %s is %s)", trans.TransactionNo, trans.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	if from != model.StatusPaid {
		s.metrics.RecordTransition(string(from), string(model.StatusPaid))
	}
	logrus.WithFields(logrus.Fields{
		"transaction_no":    trans.TransactionNo,
		"payment_reference": paymentReference,
		"backfill":          from == model.StatusPaid,
		"admin_id":          adminID,
	}).Info("reward transaction marked paid")
	return trans, nil
}

// MarkPayoutFailed closes an UNPAID transaction whose payout could not be
// made and gives the user back the coins it redeemed.
func (s *ApprovalService) MarkPayoutFailed(ctx context.Context, transactionID, adminID int64, reason string) (*model.CoinTransaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.refuse("payout_failed", transactionID, badRequest(CodeReasonRequired, "a failure reason is required"))
	}

	trans, err := s.lockedTransition(ctx, "payout_failed", transactionID, func(tx *gorm.DB, trans *model.CoinTransaction) error {
		if trans.Status != model.StatusUnpaid {
			return badRequest(CodeInvalidStatus,
				"only UNPAID transactions can fail payout (transaction %s is %s)", trans.TransactionNo, trans.Status)
		}

		now := s.now()
		updates := map[string]interface{}{
			"admin_notes":       reason,
			"processed_by":      adminID,
			"status_updated_at": now,
		}

		var reverted *BalanceChange
		if trans.BalanceApplied {
			change, err := s.engine.RevertForTransaction(ctx, tx, trans)
			if err != nil {
				return err
			}
			reverted = change
			updates["balance_applied"] = false
		}

		if err := s.transRepo.UpdateStatus(ctx, tx, trans, model.StatusUnpaid, model.StatusFailed, updates); err != nil {
			return err
		}
		trans.Status = model.StatusFailed
		trans.AdminNotes = reason
		return s.events.write(ctx, tx, model.EventRewardPayoutFailed, trans, after(reverted), now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(string(model.StatusUnpaid), string(model.StatusFailed))
	logrus.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"admin_id":       adminID,
		"reason":         reason,
	}).Warn("reward payout failed, coins returned")
	return trans, nil
}

// RejectAbandoned rejects a pending request nobody claimed. Claimed requests
// go through Reject instead.
func (s *ApprovalService) RejectAbandoned(ctx context.Context, transactionID int64, reason string) (*model.CoinTransaction, error) {
	trans, err := s.lockedTransition(ctx, "reject_abandoned", transactionID, func(tx *gorm.DB, trans *model.CoinTransaction) error {
		if trans.Status != model.StatusPending {
			return badRequest(CodeNotPending, "transaction %s is not pending (status %s)", trans.TransactionNo, trans.Status)
		}
		if trans.Owned() {
			return badRequest(CodeInvalidStatus, "transaction %s has been claimed", trans.TransactionNo)
		}

		now := s.now()
		updates := map[string]interface{}{
			"admin_notes":       reason,
			"processed_at":      now,
			"status_updated_at": now,
		}
		if err := s.transRepo.UpdateStatus(ctx, tx, trans, model.StatusPending, model.StatusRejected, updates); err != nil {
			return err
		}
		trans.Status = model.StatusRejected
		trans.AdminNotes = reason
		return s.events.write(ctx, tx, model.EventRewardRejected, trans, nil, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(model.StatusPending), string(model.StatusRejected))
	return trans, nil
}

// requireReviewable is the precondition of Approve and Reject: the
// transaction is PENDING, owned, and the oldest pending one of its user.
func (s *ApprovalService) requireReviewable(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction) error {
	if trans.Status != model.StatusPending {
		return badRequest(CodeNotPending, "transaction %s is not pending (status %s)", trans.TransactionNo, trans.Status)
	}
	if !trans.Owned() {
		return badRequest(CodeNoOwner, "transaction %s has no owner yet and cannot be reviewed", trans.TransactionNo)
	}
	return s.ensureOldestPending(ctx, tx, trans)
}

// ensureOldestPending keeps balance changes in submission order per user.
func (s *ApprovalService) ensureOldestPending(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction) error {
	oldest, err := s.transRepo.FindOldestPendingForUser(ctx, tx, *trans.UserID)
	if err != nil {
		return fmt.Errorf("find oldest pending: %w", err)
	}
	if oldest != nil && oldest.ID != trans.ID {
		return badRequest(CodeOutOfOrder,
			"process older pending transactions of this user first: %s is waiting before %s", oldest.TransactionNo, trans.TransactionNo)
	}
	return nil
}

// lockedTransition runs fn on the row-locked transaction under its owner's
// ledger lock and returns the row as committed.
func (s *ApprovalService) lockedTransition(ctx context.Context, op string, transactionID int64, fn func(tx *gorm.DB, trans *model.CoinTransaction) error) (*model.CoinTransaction, error) {
	snapshot, err := s.transRepo.GetByID(ctx, nil, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, s.refuse(op, transactionID, notFound(CodeTransactionNotFound, "transaction %d not found", transactionID))
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	release, err := acquireLedger(ctx, s.locker, ownerOf(snapshot))
	if err != nil {
		return nil, s.refuse(op, transactionID, err)
	}
	defer release()

	var result *model.CoinTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if !sameOwner(snapshot, trans) {
			return conflict(CodeLedgerBusy, "transaction %s changed owner, please retry", trans.TransactionNo)
		}
		if err := fn(tx, trans); err != nil {
			return err
		}
		result, err = s.transRepo.GetByID(ctx, tx, transactionID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			err = badRequest(CodeNotPending, "transaction %s was processed concurrently", snapshot.TransactionNo)
		}
		return nil, s.refuse(op, transactionID, err)
	}
	return result, nil
}

// refuse records a business rejection and passes err through.
func (s *ApprovalService) refuse(op string, transactionID int64, err error) error {
	if le, ok := AsLedgerError(err); ok {
		s.metrics.RecordRejection(op, le.Code)
		logrus.WithFields(logrus.Fields{
			"operation":      op,
			"transaction_id": transactionID,
			"rule":           le.Code,
		}).Info(le.Message)
	}
	return err
}

func ownerOf(trans *model.CoinTransaction) Owner {
	if trans.UserID != nil {
		return UserOwner(*trans.UserID)
	}
	return SessionOwner(trans.SessionID)
}

func sameOwner(a, b *model.CoinTransaction) bool {
	if a.UserID == nil || b.UserID == nil {
		return a.UserID == nil && b.UserID == nil
	}
	return *a.UserID == *b.UserID
}

func after(change *BalanceChange) *model.CoinBalance {
	if change == nil {
		return nil
	}
	return change.After
}
