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

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UserDirectory resolves the users a request may be submitted for.
type UserDirectory interface {
	FindUser(ctx context.Context, id int64) (*model.User, error)
}

// BrandDirectory resolves active partner brands.
type BrandDirectory interface {
	FindActiveBrand(ctx context.Context, id int64) (*model.Brand, error)
}

// Owner is who a reward request belongs to: a user, or an unauthenticated
// session until it is claimed.
type Owner struct {
	UserID    *int64
	SessionID string
}

func UserOwner(userID int64) Owner {
	return Owner{UserID: &userID}
}

func SessionOwner(sessionID string) Owner {
	return Owner{SessionID: sessionID}
}

func (o Owner) Authenticated() bool {
	return o.UserID != nil
}

func (o Owner) valid() bool {
	return o.UserID != nil || strings.TrimSpace(o.SessionID) != ""
}

func (o Owner) key() string {
	if o.UserID != nil {
		return fmt.Sprintf("u%d", *o.UserID)
	}
	return "s" + o.SessionID
}

func (o Owner) lockKey() string {
	if o.UserID != nil {
		return lock.UserLedgerKey(*o.UserID)
	}
	return lock.SessionLedgerKey(o.SessionID)
}

// RewardRequest is a receipt submission.
type RewardRequest struct {
	BrandID       int64
	BillAmount    int64
	BillDate      time.Time
	ReceiptURL    string
	CoinsToRedeem int64
	UPIID         string
}

// ValidatedReward is what a successful validation resolved.
type ValidatedReward struct {
	Brand       *model.Brand
	Calculation CoinCalculation
	BillDate    time.Time
	PendingKey  string
}

// Validator checks reward requests against live brand, balance and
// transaction data.
type Validator struct {
	users     UserDirectory
	brands    BrandDirectory
	balances  *repository.BalanceRepository
	transRepo *repository.TransactionRepository
	limits    config.LedgerConfig
	now       func() time.Time
}

func NewValidator(db *gorm.DB, users UserDirectory, brands BrandDirectory, limits config.LedgerConfig) *Validator {
	return &Validator{
		users:     users,
		brands:    brands,
		balances:  repository.NewBalanceRepository(db),
		transRepo: repository.NewTransactionRepository(db),
		limits:    limits,
		now:       time.Now,
	}
}

// ValidateRewardRequest runs every rule in order against the current balance.
// With a nil tx it reads outside any transaction and is only advisory.
func (v *Validator) ValidateRewardRequest(ctx context.Context, tx *gorm.DB, owner Owner, req RewardRequest) (*ValidatedReward, error) {
	brand, err := v.ResolveDirectory(ctx, owner, req.BrandID)
	if err != nil {
		return nil, err
	}

	balance := decimal.Zero
	if owner.Authenticated() {
		current, err := v.balances.GetByUserID(ctx, tx, *owner.UserID)
		switch {
		case err == nil:
			balance = current.Balance
		case !errors.Is(err, repository.ErrBalanceNotFound):
			return nil, fmt.Errorf("load balance: %w", err)
		}
	}
	return v.CheckRequest(ctx, tx, owner, brand, req, balance)
}

// ResolveDirectory applies the user and brand rules and returns the brand.
func (v *Validator) ResolveDirectory(ctx context.Context, owner Owner, brandID int64) (*model.Brand, error) {
	if owner.Authenticated() {
		if _, err := v.users.FindUser(ctx, *owner.UserID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, notFound(CodeUserNotFound, "user %d not found", *owner.UserID)
			}
			return nil, fmt.Errorf("find user: %w", err)
		}
	}

	brand, err := v.brands.FindActiveBrand(ctx, brandID)
	if err != nil {
		if errors.Is(err, repository.ErrBrandNotFound) {
			return nil, notFound(CodeBrandNotFound, "brand %d not found or inactive", brandID)
		}
		return nil, fmt.Errorf("find brand: %w", err)
	}
	return brand, nil
}

// CheckRequest applies the bill, duplicate, redemption, earning and
// projected-balance rules. balance must be read under the same lock that
// guards the insert that follows.
func (v *Validator) CheckRequest(ctx context.Context, tx *gorm.DB, owner Owner, brand *model.Brand, req RewardRequest, balance decimal.Decimal) (*ValidatedReward, error) {
	if req.BillAmount < v.limits.MinBillAmount || req.BillAmount > v.limits.MaxBillAmount {
		return nil, badRequest(CodeInvalidBillAmount,
			"bill amount must be a whole number between %d and %d", v.limits.MinBillAmount, v.limits.MaxBillAmount)
	}

	billDate, err := v.checkBillDate(req.BillDate)
	if err != nil {
		return nil, err
	}

	pendingKey := PendingKey(owner, brand.ID, req.BillAmount, billDate)
	existing, err := v.transRepo.FindByPendingKey(ctx, tx, pendingKey)
	if err != nil {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}
	if existing != nil {
		return nil, badRequest(CodeDuplicateRequest,
			"a pending request for this bill already exists (%s)", existing.TransactionNo)
	}

	if req.CoinsToRedeem < 0 {
		return nil, badRequest(CodeInvalidRequest, "coins to redeem must not be negative")
	}
	if req.CoinsToRedeem > 0 {
		if err := v.checkRedemption(owner, brand, req, balance); err != nil {
			return nil, err
		}
	}

	calc, err := CalculateCoins(req.BillAmount, req.CoinsToRedeem, brand.EarningPercentage)
	if err != nil {
		return nil, err
	}
	if brand.MaxEarningPerTransaction != nil && calc.CoinsEarned > *brand.MaxEarningPerTransaction {
		return nil, badRequest(CodeEarningLimit,
			"coins earned (%d) exceed the brand's limit of %d per transaction", calc.CoinsEarned, *brand.MaxEarningPerTransaction)
	}

	projected := balance.Add(decimal.NewFromInt(calc.Amount()))
	if projected.IsNegative() {
		return nil, badRequest(CodeNegativeBalance,
			"this request would leave a negative balance (%s)", projected.String())
	}

	return &ValidatedReward{
		Brand:       brand,
		Calculation: calc,
		BillDate:    billDate,
		PendingKey:  pendingKey,
	}, nil
}

// checkBillDate compares calendar days in UTC: today and the day exactly
// BillDateWindowDays ago are both accepted.
func (v *Validator) checkBillDate(billDate time.Time) (time.Time, error) {
	if billDate.IsZero() {
		return time.Time{}, badRequest(CodeInvalidBillDate, "bill date is required")
	}
	day := truncateDay(billDate)
	today := truncateDay(v.now())

	if day.After(today) {
		return time.Time{}, badRequest(CodeInvalidBillDate, "bill date cannot be in the future")
	}
	if day.Before(today.AddDate(0, 0, -v.limits.BillDateWindowDays)) {
		return time.Time{}, badRequest(CodeInvalidBillDate,
			"bill date must be within the last %d days", v.limits.BillDateWindowDays)
	}
	return day, nil
}

func (v *Validator) checkRedemption(owner Owner, brand *model.Brand, req RewardRequest, balance decimal.Decimal) error {
	coins := req.CoinsToRedeem
	if !owner.Authenticated() {
		return badRequest(CodeSignInToRedeem, "sign in to redeem coins")
	}

	if balance.LessThan(decimal.NewFromInt(coins)) {
		return badRequest(CodeInsufficientBalance,
			"insufficient coin balance: you have %s coins, requested %d", balance.String(), coins)
	}

	pctLimit := brand.RedemptionPercentage.Mul(decimal.NewFromInt(req.BillAmount)).Div(hundred).Floor().IntPart()
	if coins > pctLimit {
		return badRequest(CodeBrandLimit,
			"redemption exceeds the brand's %s%% limit: at most %d coins on this bill", brand.RedemptionPercentage.String(), pctLimit)
	}
	if brand.MaxRedemptionPerTransaction != nil && coins > *brand.MaxRedemptionPerTransaction {
		return badRequest(CodeBrandLimit,
			"redemption exceeds the brand's per-transaction limit of %d coins", *brand.MaxRedemptionPerTransaction)
	}
	if brand.MinRedemptionAmount != nil && coins < *brand.MinRedemptionAmount {
		return badRequest(CodeBrandLimit,
			"redemption is below the brand's minimum of %d coins", *brand.MinRedemptionAmount)
	}
	if brand.MaxRedemptionAmount != nil && coins > *brand.MaxRedemptionAmount {
		return badRequest(CodeBrandLimit,
			"redemption exceeds the brand's maximum of %d coins", *brand.MaxRedemptionAmount)
	}

	return validatePayoutID(req.UPIID)
}

// PendingKey identifies a bill for the duplicate-submission guard.
func PendingKey(owner Owner, brandID, billAmount int64, billDate time.Time) string {
	return fmt.Sprintf("%s:%d:%d:%s", owner.key(), brandID, billAmount, billDate.Format("2006-01-02"))
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
