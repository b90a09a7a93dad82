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
	"corracoins/internal/repository"
	"corracoins/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type BalanceService struct {
	db           *gorm.DB
	balances     *repository.BalanceRepository
	transRepo    *repository.TransactionRepository
	users        UserDirectory
	engine       *BalanceEngine
	events       *eventWriter
	locker       lock.Locker
	welcomeBonus int64
	now          func() time.Time
}

func NewBalanceService(db *gorm.DB, locker lock.Locker, engine *BalanceEngine, users UserDirectory, cfg *config.Config) *BalanceService {
	return &BalanceService{
		db:        db,
		balances:  repository.NewBalanceRepository(db),
		transRepo: repository.NewTransactionRepository(db),
		users:     users,
		engine:    engine,
		events: &eventWriter{
			outbox: repository.NewOutboxRepository(db),
			topic:  cfg.Kafka.Topic.LedgerEvents,
		},
		locker:       locker,
		welcomeBonus: cfg.Ledger.WelcomeBonusCoins,
		now:          time.Now,
	}
}

type BalanceView struct {
	UserID        int64           `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
	TotalRedeemed decimal.Decimal `json:"total_redeemed"`
}

func newBalanceView(b *model.CoinBalance) *BalanceView {
	return &BalanceView{
		UserID:        b.UserID,
		Balance:       b.Balance,
		TotalEarned:   b.TotalEarned,
		TotalRedeemed: b.TotalRedeemed,
	}
}

// GetBalance returns the user's balance, creating the zero row on first access.
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (*BalanceView, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	balance, err := s.balances.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return newBalanceView(balance), nil
}

// AdjustBalance applies a manual signed correction outside the review flow.
func (s *BalanceService) AdjustBalance(ctx context.Context, userID, adminID, delta int64, reason string) (*model.CoinTransaction, error) {
	if delta == 0 {
		return nil, badRequest(CodeZeroAdjustment, "adjustment amount must not be zero")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual adjustment"
	}

	earned, redeemed := delta, int64(0)
	if delta < 0 {
		earned, redeemed = 0, -delta
	}
	trans, err := s.recordCompleted(ctx, userID, &adminID, completedEntry{
		prefix:    idgen.PrefixAdjustment,
		txType:    model.TransactionTypeAdjustment,
		eventType: model.EventBalanceAdjusted,
		earned:    earned,
		redeemed:  redeemed,
		notes:     reason,
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        userID,
		"admin_id":       adminID,
		"delta":          delta,
	}).Info("balance adjusted")
	return trans, nil
}

// GrantWelcomeBonus credits the configured welcome coins once per user.
func (s *BalanceService) GrantWelcomeBonus(ctx context.Context, userID int64) (*model.CoinTransaction, error) {
	if s.welcomeBonus <= 0 {
		return nil, badRequest(CodeInvalidRequest, "welcome bonus is disabled")
	}

	trans, err := s.recordCompleted(ctx, userID, nil, completedEntry{
		prefix:    idgen.PrefixWelcomeBonus,
		txType:    model.TransactionTypeWelcomeBonus,
		eventType: model.EventWelcomeBonus,
		earned:    s.welcomeBonus,
		notes:     "welcome bonus",
		once:      true,
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_no": trans.TransactionNo,
		"user_id":        userID,
		"coins":          s.welcomeBonus,
	}).Info("welcome bonus granted")
	return trans, nil
}

type completedEntry struct {
	prefix    string
	txType    model.TransactionType
	eventType string
	earned    int64
	redeemed  int64
	notes     string
	once      bool
}

// recordCompleted applies entry to the balance and writes it as a COMPLETED
// transaction in one unit of work.
func (s *BalanceService) recordCompleted(ctx context.Context, userID int64, adminID *int64, entry completedEntry) (*model.CoinTransaction, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	release, err := acquireLedger(ctx, s.locker, UserOwner(userID))
	if err != nil {
		return nil, err
	}
	defer release()

	var trans *model.CoinTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.once {
			exists, err := s.transRepo.ExistsForUserByType(ctx, tx, userID, entry.txType)
			if err != nil {
				return fmt.Errorf("check %s: %w", entry.txType, err)
			}
			if exists {
				return badRequest(CodeAlreadyGranted, "user %d already received a %s", userID, strings.ToLower(string(entry.txType)))
			}
		}

		change, err := s.engine.ApplyEarnAndRedeem(ctx, tx, userID, entry.earned, entry.redeemed)
		if err != nil {
			return err
		}

		now := s.now()
		trans = &model.CoinTransaction{
			TransactionNo:   idgen.GenerateTransactionNo(entry.prefix),
			UserID:          &userID,
			Type:            entry.txType,
			Status:          model.StatusCompleted,
			CoinsEarned:     entry.earned,
			CoinsRedeemed:   entry.redeemed,
			PreviousBalance: decimal.NewNullDecimal(change.Before.Balance),
			BalanceApplied:  true,
			AdminNotes:      entry.notes,
			ProcessedBy:     adminID,
			ProcessedAt:     &now,
			StatusUpdatedAt: &now,
		}
		if err := s.transRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("create %s transaction: %w", entry.txType, err)
		}
		return s.events.write(ctx, tx, entry.eventType, trans, change.After, now)
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

func (s *BalanceService) requireUser(ctx context.Context, userID int64) error {
	if _, err := s.users.FindUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return notFound(CodeUserNotFound, "user %d not found", userID)
		}
		return fmt.Errorf("find user: %w", err)
	}
	return nil
}
