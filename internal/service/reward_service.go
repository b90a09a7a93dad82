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
	"corracoins/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RewardService accepts receipt submissions and serves the read side of the
// reward lifecycle.
type RewardService struct {
	db        *gorm.DB
	transRepo *repository.TransactionRepository
	balances  *repository.BalanceRepository
	users     UserDirectory
	validator *Validator
	events    *eventWriter
	locker    lock.Locker
	metrics   monitoring.Recorder
	now       func() time.Time
}

func NewRewardService(db *gorm.DB, locker lock.Locker, validator *Validator, users UserDirectory, cfg *config.Config, metrics monitoring.Recorder) *RewardService {
	return &RewardService{
		db:        db,
		transRepo: repository.NewTransactionRepository(db),
		balances:  repository.NewBalanceRepository(db),
		users:     users,
		validator: validator,
		events: &eventWriter{
			outbox: repository.NewOutboxRepository(db),
			topic:  cfg.Kafka.Topic.LedgerEvents,
		},
		locker:  locker,
		metrics: metrics,
		now:     time.Now,
	}
}

// RewardResult is a created request and the balance the user can expect
// once it is approved.
type RewardResult struct {
	Transaction *model.CoinTransaction `json:"transaction"`
	NewBalance  decimal.Decimal        `json:"new_balance"`
}

// CreateRewardRequest validates and records a PENDING reward request. No
// balance changes until an admin approves it.
func (s *RewardService) CreateRewardRequest(ctx context.Context, owner Owner, req RewardRequest) (*RewardResult, error) {
	result, err := s.createRewardRequest(ctx, owner, req)
	if err != nil {
		s.metrics.RecordSubmission("rejected")
		if le, ok := AsLedgerError(err); ok {
			s.metrics.RecordRejection("submit", le.Code)
			logrus.WithFields(logrus.Fields{
				"owner":    owner.key(),
				"brand_id": req.BrandID,
				"rule":     le.Code,
			}).Info(le.Message)
		}
		return nil, err
	}

	s.metrics.RecordSubmission("accepted")
	logrus.WithFields(logrus.Fields{
		"transaction_no": result.Transaction.TransactionNo,
		"owner":          owner.key(),
		"coins_earned":   result.Transaction.CoinsEarned,
		"coins_redeemed": result.Transaction.CoinsRedeemed,
	}).Info("reward request created")
	return result, nil
}

func (s *RewardService) createRewardRequest(ctx context.Context, owner Owner, req RewardRequest) (*RewardResult, error) {
	if !owner.valid() {
		return nil, badRequest(CodeInvalidRequest, "a signed-in user or a session is required")
	}

	brand, err := s.validator.ResolveDirectory(ctx, owner, req.BrandID)
	if err != nil {
		return nil, err
	}

	release, err := acquireLedger(ctx, s.locker, owner)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *RewardResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := model.NewCoinBalance(0)
		if owner.Authenticated() {
			locked, err := s.balances.GetForUpdate(ctx, tx, *owner.UserID)
			if err != nil {
				return fmt.Errorf("lock balance: %w", err)
			}
			current = locked
		}

		validated, err := s.validator.CheckRequest(ctx, tx, owner, brand, req, current.Balance)
		if err != nil {
			return err
		}

		now := s.now()
		billDate := validated.BillDate
		pendingKey := validated.PendingKey
		trans := &model.CoinTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(idgen.PrefixReward),
			UserID:          owner.UserID,
			SessionID:       owner.SessionID,
			BrandID:         &brand.ID,
			Type:            model.TransactionTypeRewardRequest,
			Status:          model.StatusPending,
			BillAmount:      req.BillAmount,
			CoinsEarned:     validated.Calculation.CoinsEarned,
			CoinsRedeemed:   validated.Calculation.CoinsToRedeem,
			BillDate:        &billDate,
			ReceiptURL:      req.ReceiptURL,
			UPIID:           strings.TrimSpace(req.UPIID),
			PendingKey:      &pendingKey,
			StatusUpdatedAt: &now,
		}
		if err := s.transRepo.Create(ctx, tx, trans); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return badRequest(CodeDuplicateRequest, "a pending request for this bill already exists")
			}
			return fmt.Errorf("create reward transaction: %w", err)
		}

		if err := s.events.write(ctx, tx, model.EventRewardRequested, trans, nil, now); err != nil {
			return err
		}

		result = &RewardResult{
			Transaction: trans,
			NewBalance:  ProjectBalance(current.Balance, trans),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PreviewRewardRequest runs the full validation without recording anything.
func (s *RewardService) PreviewRewardRequest(ctx context.Context, owner Owner, req RewardRequest) (*ValidatedReward, error) {
	if !owner.valid() {
		return nil, badRequest(CodeInvalidRequest, "a signed-in user or a session is required")
	}
	return s.validator.ValidateRewardRequest(ctx, nil, owner, req)
}

// ClaimResult reports what ClaimSessionTransactions did.
type ClaimResult struct {
	Claimed    int64    `json:"claimed"`
	Duplicates []string `json:"duplicates,omitempty"`
}

// ClaimSessionTransactions links the requests a session submitted before
// signing in to userID. A pending request that duplicates one the user
// already has pending is rejected instead of kept twice.
func (s *RewardService) ClaimSessionTransactions(ctx context.Context, sessionID string, userID int64) (*ClaimResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, badRequest(CodeInvalidRequest, "session id is required")
	}
	if _, err := s.users.FindUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, notFound(CodeUserNotFound, "user %d not found", userID)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	releaseUser, err := acquireLedger(ctx, s.locker, UserOwner(userID))
	if err != nil {
		return nil, err
	}
	defer releaseUser()
	releaseSession, err := acquireLedger(ctx, s.locker, SessionOwner(sessionID))
	if err != nil {
		return nil, err
	}
	defer releaseSession()

	result := &ClaimResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.transRepo.ListUnownedBySession(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("list session transactions: %w", err)
		}

		now := s.now()
		owner := UserOwner(userID)
		var kept []*model.CoinTransaction
		for _, trans := range rows {
			if trans.Status != model.StatusPending || trans.BrandID == nil || trans.BillDate == nil {
				kept = append(kept, trans)
				continue
			}

			key := PendingKey(owner, *trans.BrandID, trans.BillAmount, *trans.BillDate)
			existing, err := s.transRepo.FindByPendingKey(ctx, tx, key)
			if err != nil {
				return fmt.Errorf("check duplicate: %w", err)
			}
			if existing != nil {
				notes := fmt.Sprintf("duplicate of pending request %s", existing.TransactionNo)
				err := s.transRepo.UpdateStatus(ctx, tx, trans, model.StatusPending, model.StatusRejected, map[string]interface{}{
					"admin_notes":       notes,
					"status_updated_at": now,
				})
				if err != nil {
					return err
				}
				trans.Status = model.StatusRejected
				trans.AdminNotes = notes
				if err := s.events.write(ctx, tx, model.EventRewardRejected, trans, nil, now); err != nil {
					return err
				}
				result.Duplicates = append(result.Duplicates, trans.TransactionNo)
				continue
			}

			if err := s.transRepo.RekeyPending(ctx, tx, trans.ID, key); err != nil {
				return fmt.Errorf("rekey %s: %w", trans.TransactionNo, err)
			}
			kept = append(kept, trans)
		}

		claimed, err := s.transRepo.AssignOwner(ctx, tx, sessionID, userID)
		if err != nil {
			return fmt.Errorf("assign owner: %w", err)
		}
		result.Claimed = claimed

		for _, trans := range kept {
			trans.UserID = &userID
			if err := s.events.write(ctx, tx, model.EventRewardClaimed, trans, nil, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
		"claimed":    result.Claimed,
		"duplicates": len(result.Duplicates),
	}).Info("session transactions claimed")
	return result, nil
}

func (s *RewardService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]*model.CoinTransaction, int64, error) {
	return s.transRepo.List(ctx, filter)
}

func (s *RewardService) ListUserTransactions(ctx context.Context, userID int64, filter repository.TransactionFilter) ([]*model.CoinTransaction, int64, error) {
	filter.UserID = &userID
	return s.transRepo.List(ctx, filter)
}

// PendingSummary is what a user is still waiting on.
type PendingSummary struct {
	UserID            int64                    `json:"user_id"`
	PendingCount      int                      `json:"pending_count"`
	PendingEarned     int64                    `json:"pending_earned"`
	PendingRedeemed   int64                    `json:"pending_redeemed"`
	Balance           decimal.Decimal          `json:"balance"`
	OptimisticBalance decimal.Decimal          `json:"optimistic_balance"`
	Pending           []*model.CoinTransaction `json:"pending"`
}

// GetPendingSummary lists the user's pending requests oldest first and the
// balance expected once all of them are approved.
func (s *RewardService) GetPendingSummary(ctx context.Context, userID int64) (*PendingSummary, error) {
	if _, err := s.users.FindUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, notFound(CodeUserNotFound, "user %d not found", userID)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	pending, err := s.transRepo.ListPendingForUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	balance := decimal.Zero
	current, err := s.balances.GetByUserID(ctx, nil, userID)
	switch {
	case err == nil:
		balance = current.Balance
	case !errors.Is(err, repository.ErrBalanceNotFound):
		return nil, fmt.Errorf("load balance: %w", err)
	}

	summary := &PendingSummary{
		UserID:            userID,
		PendingCount:      len(pending),
		Balance:           balance,
		OptimisticBalance: ProjectBalance(balance, pending...),
		Pending:           pending,
	}
	for _, t := range pending {
		summary.PendingEarned += t.CoinsEarned
		summary.PendingRedeemed += t.CoinsRedeemed
	}
	return summary, nil
}
