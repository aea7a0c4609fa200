package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/angelmondragon/loyalty-ledger/pkg/db"
	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/pagination"
)

// Repository is the ledger store. Account mutations only happen through
// RunAtomic so the balance row and its transaction rows commit together.
type Repository interface {
	GetAccount(ctx context.Context, customerID string) (*models.LoyaltyAccount, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error)
	CreateAccount(ctx context.Context, customerID string, tier enums.LoyaltyTier) (*models.LoyaltyAccount, error)
	RunAtomic(ctx context.Context, fn func(tx AtomicRepository) error) error
	ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]models.LoyaltyTransaction, int64, error)
	ListExpiringEarnTransactions(ctx context.Context, before time.Time) ([]models.LoyaltyTransaction, error)
}

// AtomicRepository is the handle available inside RunAtomic.
type AtomicRepository interface {
	LockAccount(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error)
	LockAccountByCustomer(ctx context.Context, customerID string) (*models.LoyaltyAccount, error)
	InsertTransaction(ctx context.Context, txn *models.LoyaltyTransaction) error
	UpdateAccount(ctx context.Context, account *models.LoyaltyAccount) error
	ClaimEarnTransactions(ctx context.Context, accountID uuid.UUID, earnIDs []uuid.UUID, expireTxID *uuid.UUID) error
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	Type  *enums.LoyaltyTransactionType
	From  *time.Time
	To    *time.Time
	Page  int
	Limit int
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetAccount(ctx context.Context, customerID string) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := r.db.WithContext(ctx).Where("customer_id = ?", customerID).First(&account).Error
	if err != nil {
		return nil, classify(err, "loyalty account not found", "load loyalty account")
	}
	return &account, nil
}

func (r *repository) GetAccountByID(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, classify(err, "loyalty account not found", "load loyalty account")
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, customerID string, tier enums.LoyaltyTier) (*models.LoyaltyAccount, error) {
	account := &models.LoyaltyAccount{
		CustomerID: customerID,
		Tier:       tier,
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "loyalty account already exists")
		}
		return nil, classify(err, "", "create loyalty account")
	}
	return account, nil
}

func (r *repository) RunAtomic(ctx context.Context, fn func(tx AtomicRepository) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&atomicRepository{db: tx})
	})
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return classify(err, "", "commit ledger transaction")
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, filter TransactionFilter) ([]models.LoyaltyTransaction, int64, error) {
	page := pagination.Params{Page: filter.Page, Limit: filter.Limit}.Normalize()

	query := r.db.WithContext(ctx).Model(&models.LoyaltyTransaction{}).Where("account_id = ?", accountID)
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", filter.To.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify(err, "", "count loyalty transactions")
	}

	var rows []models.LoyaltyTransaction
	if total > 0 {
		err := query.
			Order("created_at DESC").
			Order("id DESC").
			Offset(page.Offset()).
			Limit(page.Limit).
			Find(&rows).Error
		if err != nil {
			return nil, 0, classify(err, "", "list loyalty transactions")
		}
	}
	return rows, total, nil
}

func (r *repository) ListExpiringEarnTransactions(ctx context.Context, before time.Time) ([]models.LoyaltyTransaction, error) {
	var rows []models.LoyaltyTransaction
	err := r.db.WithContext(ctx).
		Where("type = ?", enums.LoyaltyTransactionEarn).
		Where("expires_at IS NOT NULL AND expires_at <= ?", before.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM loyalty_expiry_claims c WHERE c.earn_transaction_id = loyalty_transactions.id)").
		Order("account_id ASC").
		Order("expires_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify(err, "", "list expiring earn transactions")
	}
	return rows, nil
}

type atomicRepository struct {
	db *gorm.DB
}

func (a *atomicRepository) LockAccount(ctx context.Context, id uuid.UUID) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := a.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error
	if err != nil {
		return nil, classify(err, "loyalty account not found", "lock loyalty account")
	}
	return &account, nil
}

func (a *atomicRepository) LockAccountByCustomer(ctx context.Context, customerID string) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := a.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).
		First(&account).Error
	if err != nil {
		return nil, classify(err, "loyalty account not found", "lock loyalty account")
	}
	return &account, nil
}

func (a *atomicRepository) InsertTransaction(ctx context.Context, txn *models.LoyaltyTransaction) error {
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction is required")
	}
	if err := a.db.WithContext(ctx).Create(txn).Error; err != nil {
		return classify(err, "", "insert loyalty transaction")
	}
	return nil
}

func (a *atomicRepository) UpdateAccount(ctx context.Context, account *models.LoyaltyAccount) error {
	if account == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "account is required")
	}
	res := a.db.WithContext(ctx).
		Model(&models.LoyaltyAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"points_balance":  account.PointsBalance,
			"points_earned":   account.PointsEarned,
			"points_redeemed": account.PointsRedeemed,
			"tier":            account.Tier,
			"updated_at":      account.UpdatedAt,
		})
	if res.Error != nil {
		return classify(res.Error, "", "update loyalty account")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "loyalty account not found")
	}
	return nil
}

func (a *atomicRepository) ClaimEarnTransactions(ctx context.Context, accountID uuid.UUID, earnIDs []uuid.UUID, expireTxID *uuid.UUID) error {
	if len(earnIDs) == 0 {
		return nil
	}
	ids := uniqueIDs(earnIDs)

	// every source must be an EARN row of this account
	var owned int64
	err := a.db.WithContext(ctx).
		Model(&models.LoyaltyTransaction{}).
		Where("id IN ? AND account_id = ? AND type = ?", ids, accountID, enums.LoyaltyTransactionEarn).
		Count(&owned).Error
	if err != nil {
		return classify(err, "", "check expiring earn transactions")
	}
	if owned != int64(len(ids)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "source transactions must be EARN rows of the account").
			WithDetails(map[string]any{"account_id": accountID, "requested": len(ids), "matched": owned})
	}

	claims := make([]models.LoyaltyExpiryClaim, 0, len(ids))
	for _, id := range ids {
		claims = append(claims, models.LoyaltyExpiryClaim{
			EarnTransactionID:   id,
			ExpireTransactionID: expireTxID,
			AccountID:           accountID,
		})
	}
	if err := a.db.WithContext(ctx).Create(&claims).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "earn transaction already claimed by an expiry")
		}
		return classify(err, "", "claim expired earn transactions")
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// classify maps storage errors onto the ledger's error codes.
func classify(err error, notFoundMsg, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound) && notFoundMsg != "":
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, notFoundMsg)
	case dbpkg.IsTransient(err):
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("%s: transient storage failure", op))
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op)
	}
}
