package repository

import (
	"context"
	"errors"
	"time"

	"corracoins/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTransactionNotFound = errors.New("coin transaction not found")
	ErrInvalidTransition   = errors.New("coin transaction status transition not allowed")
	ErrStatusChanged       = errors.New("coin transaction status changed concurrently")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction) error {
	return r.conn(tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.CoinTransaction, error) {
	var trans model.CoinTransaction
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.CoinTransaction, error) {
	var trans model.CoinTransaction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.CoinTransaction, error) {
	var trans model.CoinTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// FindByPendingKey returns the PENDING transaction holding key, or nil.
func (r *TransactionRepository) FindByPendingKey(ctx context.Context, tx *gorm.DB, key string) (*model.CoinTransaction, error) {
	var trans model.CoinTransaction
	err := r.conn(tx).WithContext(ctx).
		Where("pending_key = ? AND status = ?", key, model.StatusPending).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// FindOldestPendingForUser returns the user's earliest PENDING transaction, or nil.
func (r *TransactionRepository) FindOldestPendingForUser(ctx context.Context, tx *gorm.DB, userID int64) (*model.CoinTransaction, error) {
	var trans model.CoinTransaction
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusPending).
		Order("created_at ASC").
		Order("id ASC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListPendingForUser(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.CoinTransaction, error) {
	var transactions []*model.CoinTransaction
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) ExistsForUserByType(ctx context.Context, tx *gorm.DB, userID int64, txType model.TransactionType) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Where("user_id = ? AND type = ?", userID, txType).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatus moves trans from `from` to `to` and applies the extra column
// updates in one conditional UPDATE. Zero affected rows means another writer
// already moved the row out of `from`.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction, from, to model.TransactionStatus, updates map[string]interface{}) error {
	if !model.CanTransitionTo(from, to) {
		return ErrInvalidTransition
	}

	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	if from == model.StatusPending {
		values["pending_key"] = nil
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Where("id = ? AND status = ?", trans.ID, from).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// BackfillPaymentReference sets the payment reference of a PAID row that has none.
func (r *TransactionRepository) BackfillPaymentReference(ctx context.Context, tx *gorm.DB, id int64, reference string, at time.Time) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Where("id = ? AND status = ? AND (payment_reference = '' OR payment_reference IS NULL)", id, model.StatusPaid).
		Updates(map[string]interface{}{
			"payment_reference":    reference,
			"payment_processed_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// AssignOwner links every unowned transaction of sessionID to userID.
func (r *TransactionRepository) AssignOwner(ctx context.Context, tx *gorm.DB, sessionID string, userID int64) (int64, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Where("session_id = ? AND user_id IS NULL", sessionID).
		Update("user_id", userID)
	return result.RowsAffected, result.Error
}

// RekeyPending replaces the duplicate-guard key of a PENDING row.
func (r *TransactionRepository) RekeyPending(ctx context.Context, tx *gorm.DB, id int64, key string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Update("pending_key", key).Error
}

func (r *TransactionRepository) ListUnownedBySession(ctx context.Context, tx *gorm.DB, sessionID string) ([]*model.CoinTransaction, error) {
	var transactions []*model.CoinTransaction
	err := r.conn(tx).WithContext(ctx).
		Where("session_id = ? AND user_id IS NULL", sessionID).
		Order("created_at ASC").
		Find(&transactions).Error
	return transactions, err
}

// ListStaleUnowned returns unowned PENDING requests created before `before`.
func (r *TransactionRepository) ListStaleUnowned(ctx context.Context, before time.Time, limit int) ([]*model.CoinTransaction, error) {
	var transactions []*model.CoinTransaction
	err := r.db.WithContext(ctx).
		Where("user_id IS NULL AND status = ? AND created_at < ?", model.StatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

type TransactionFilter struct {
	Status   model.TransactionStatus
	Type     model.TransactionType
	UserID   *int64
	BrandID  *int64
	Search   string
	Page     int
	PageSize int
}

func (f *TransactionFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*model.CoinTransaction, int64, error) {
	filter.normalize()

	var transactions []*model.CoinTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CoinTransaction{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.BrandID != nil {
		query = query.Where("brand_id = ?", *filter.BrandID)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("(transaction_no LIKE ? OR admin_notes LIKE ? OR upi_id LIKE ? OR payment_reference LIKE ?)",
			like, like, like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&transactions).Error

	return transactions, total, err
}
