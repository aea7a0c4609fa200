package loyalty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/metrics"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/payloads"
	"github.com/angelmondragon/loyalty-ledger/pkg/pagination"
)

// DefaultTxTimeout bounds a single ledger mutation when none is configured.
const DefaultTxTimeout = 15 * time.Second

const (
	opGetOrCreate      = "get_or_create_account"
	opGetAccount       = "get_account"
	opEarn             = "earn"
	opRedeem           = "redeem"
	opAdjust           = "adjust"
	opExpire           = "expire"
	opListTransactions = "list_transactions"
)

// Service is the ledger engine. Every mutation locks the account row, appends
// one transaction and updates the totals in a single atomic unit.
type Service interface {
	GetOrCreateAccount(ctx context.Context, customerID string) (*models.LoyaltyAccount, error)
	GetAccount(ctx context.Context, customerID string) (*models.LoyaltyAccount, error)
	EarnPoints(ctx context.Context, input EarnInput) (*Result, error)
	RedeemPoints(ctx context.Context, input RedeemInput) (*Result, error)
	AdjustPoints(ctx context.Context, input AdjustInput) (*Result, error)
	ExpirePoints(ctx context.Context, input ExpireInput) (*Result, error)
	ListTransactions(ctx context.Context, input ListTransactionsInput) (*TransactionPage, error)
}

// EarnInput credits points to a customer, creating the account if needed.
type EarnInput struct {
	CustomerID  string
	Points      int64
	Description string
	Reference   *string
	// ExpiresAt must be after the current time. Nil stamps the configured
	// default horizon, or no expiry when none is configured.
	ExpiresAt *time.Time
}

type RedeemInput struct {
	CustomerID  string
	Points      int64
	Description string
	Reference   *string
}

// AdjustInput carries a signed manual correction. Negative adjustments are
// not floored at zero.
type AdjustInput struct {
	CustomerID  string
	Points      int64
	Description string
	Reference   *string
}

// ExpireInput removes points from an account and claims the EARN rows they
// came from.
type ExpireInput struct {
	AccountID            uuid.UUID
	Points               int64
	Description          string
	SourceTransactionIDs []uuid.UUID
}

type ListTransactionsInput struct {
	CustomerID string
	Page       int
	Limit      int
	Type       *enums.LoyaltyTransactionType
	From       *time.Time
	To         *time.Time
}

// Result is returned by every mutation.
type Result struct {
	Account      *models.LoyaltyAccount
	Transaction  *models.LoyaltyTransaction
	TierChanged  bool
	PreviousTier enums.LoyaltyTier
}

type TransactionPage struct {
	Items      []models.LoyaltyTransaction
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

// ServiceParams wires the engine.
type ServiceParams struct {
	Repository Repository
	TierPolicy *TierPolicy
	Notifier   Notifier
	Logger     *logger.Logger
	Metrics    *metrics.LedgerMetrics
	TxTimeout  time.Duration
	// EarnExpiry stamps ExpiresAt on EARN rows that arrive without one. Zero
	// leaves them without expiry.
	EarnExpiry time.Duration
	Clock      func() time.Time
}

type service struct {
	repo       Repository
	policy     *TierPolicy
	notifier   Notifier
	logg       *logger.Logger
	metrics    *metrics.LedgerMetrics
	txTimeout  time.Duration
	earnExpiry time.Duration
	now        func() time.Time
}

// NewService builds the ledger engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("loyalty repository required")
	}
	policy := params.TierPolicy
	if policy == nil {
		policy = DefaultTierPolicy()
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.New(logger.Options{ServiceName: "loyalty", Output: io.Discard})
	}
	timeout := params.TxTimeout
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:       params.Repository,
		policy:     policy,
		notifier:   params.Notifier,
		logg:       logg,
		metrics:    params.Metrics,
		txTimeout:  timeout,
		earnExpiry: params.EarnExpiry,
		now:        clock,
	}, nil
}

func (s *service) GetOrCreateAccount(ctx context.Context, customerID string) (account *models.LoyaltyAccount, err error) {
	defer s.observe(opGetOrCreate, time.Now(), &err)

	customerID, err = normalizeCustomerID(customerID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	account, err = s.getOrCreate(ctx, customerID)
	return account, s.deadline(ctx, err)
}

func (s *service) getOrCreate(ctx context.Context, customerID string) (*models.LoyaltyAccount, error) {
	account, err := s.repo.GetAccount(ctx, customerID)
	if err == nil {
		return account, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}

	account, err = s.repo.CreateAccount(ctx, customerID, s.policy.Lowest())
	if err == nil {
		s.logg.Info(s.logg.WithCustomerID(ctx, customerID), "loyalty account created")
		return account, nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		// lost the create race
		return s.repo.GetAccount(ctx, customerID)
	}
	return nil, err
}

func (s *service) GetAccount(ctx context.Context, customerID string) (account *models.LoyaltyAccount, err error) {
	defer s.observe(opGetAccount, time.Now(), &err)

	customerID, err = normalizeCustomerID(customerID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	account, err = s.repo.GetAccount(ctx, customerID)
	return account, s.deadline(ctx, err)
}

func (s *service) EarnPoints(ctx context.Context, input EarnInput) (result *Result, err error) {
	defer s.observe(opEarn, time.Now(), &err)

	customerID, err := normalizeCustomerID(input.CustomerID)
	if err != nil {
		return nil, err
	}
	if input.Points <= 0 {
		return nil, invalidAmount("points must be positive")
	}
	description, err := normalizeDescription(input.Description)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiresAt, err := s.earnExpiresAt(input.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	account, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	err = s.repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		locked, err := tx.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		balance, err := addPoints("points_balance", locked.PointsBalance, input.Points)
		if err != nil {
			return err
		}
		earned, err := addPoints("points_earned", locked.PointsEarned, input.Points)
		if err != nil {
			return err
		}
		txn := &models.LoyaltyTransaction{
			AccountID:   locked.ID,
			Type:        enums.LoyaltyTransactionEarn,
			Points:      input.Points,
			Description: description,
			Reference:   input.Reference,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		previous := locked.Tier
		locked.PointsBalance = balance
		locked.PointsEarned = earned
		locked.Tier = s.policy.TierFor(earned)
		locked.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, locked); err != nil {
			return err
		}
		result = newResult(locked, txn, previous)
		return nil
	})
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	s.committed(parent, enums.EventPointsEarned, result)
	return result, nil
}

func (s *service) RedeemPoints(ctx context.Context, input RedeemInput) (result *Result, err error) {
	defer s.observe(opRedeem, time.Now(), &err)

	customerID, err := normalizeCustomerID(input.CustomerID)
	if err != nil {
		return nil, err
	}
	if input.Points <= 0 {
		return nil, invalidAmount("points must be positive")
	}
	description, err := normalizeDescription(input.Description)
	if err != nil {
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	now := s.now().UTC()
	err = s.repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		locked, err := tx.LockAccountByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if locked.PointsBalance < input.Points {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient points balance").
				WithDetails(map[string]any{
					"balance":   locked.PointsBalance,
					"requested": input.Points,
				})
		}
		redeemed, err := addPoints("points_redeemed", locked.PointsRedeemed, input.Points)
		if err != nil {
			return err
		}
		txn := &models.LoyaltyTransaction{
			AccountID:   locked.ID,
			Type:        enums.LoyaltyTransactionRedeem,
			Points:      -input.Points,
			Description: description,
			Reference:   input.Reference,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		previous := locked.Tier
		locked.PointsBalance -= input.Points
		locked.PointsRedeemed = redeemed
		locked.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, locked); err != nil {
			return err
		}
		result = newResult(locked, txn, previous)
		return nil
	})
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	s.committed(parent, enums.EventPointsRedeemed, result)
	return result, nil
}

func (s *service) AdjustPoints(ctx context.Context, input AdjustInput) (result *Result, err error) {
	defer s.observe(opAdjust, time.Now(), &err)

	customerID, err := normalizeCustomerID(input.CustomerID)
	if err != nil {
		return nil, err
	}
	if input.Points == 0 {
		return nil, invalidAmount("points must be non-zero")
	}
	description, err := normalizeDescription(input.Description)
	if err != nil {
		return nil, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	account, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	now := s.now().UTC()
	err = s.repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		locked, err := tx.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		balance, err := addPoints("points_balance", locked.PointsBalance, input.Points)
		if err != nil {
			return err
		}
		earned := locked.PointsEarned
		// only positive corrections count toward lifetime earned
		if input.Points > 0 {
			if earned, err = addPoints("points_earned", earned, input.Points); err != nil {
				return err
			}
		}
		txn := &models.LoyaltyTransaction{
			AccountID:   locked.ID,
			Type:        enums.LoyaltyTransactionAdjust,
			Points:      input.Points,
			Description: description,
			Reference:   input.Reference,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		previous := locked.Tier
		locked.PointsBalance = balance
		if earned != locked.PointsEarned {
			locked.PointsEarned = earned
			locked.Tier = s.policy.TierFor(earned)
		}
		locked.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, locked); err != nil {
			return err
		}
		result = newResult(locked, txn, previous)
		return nil
	})
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	s.committed(parent, enums.EventPointsAdjusted, result)
	return result, nil
}

func (s *service) ExpirePoints(ctx context.Context, input ExpireInput) (result *Result, err error) {
	defer s.observe(opExpire, time.Now(), &err)

	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if input.Points <= 0 {
		return nil, invalidAmount("points must be positive")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = fmt.Sprintf("%d points expired", input.Points)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	now := s.now().UTC()
	err = s.repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		locked, err := tx.LockAccount(ctx, input.AccountID)
		if err != nil {
			return err
		}
		if locked.PointsBalance < input.Points {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "expiry exceeds points balance").
				WithDetails(map[string]any{
					"balance":   locked.PointsBalance,
					"requested": input.Points,
				})
		}
		txn := &models.LoyaltyTransaction{
			AccountID:   locked.ID,
			Type:        enums.LoyaltyTransactionExpire,
			Points:      -input.Points,
			Description: description,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if err := tx.ClaimEarnTransactions(ctx, locked.ID, input.SourceTransactionIDs, &txn.ID); err != nil {
			return err
		}

		previous := locked.Tier
		locked.PointsBalance -= input.Points
		locked.UpdatedAt = now
		if err := tx.UpdateAccount(ctx, locked); err != nil {
			return err
		}
		result = newResult(locked, txn, previous)
		return nil
	})
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	s.committed(parent, enums.EventPointsExpired, result)
	return result, nil
}

func (s *service) ListTransactions(ctx context.Context, input ListTransactionsInput) (page *TransactionPage, err error) {
	defer s.observe(opListTransactions, time.Now(), &err)

	customerID, err := normalizeCustomerID(input.CustomerID)
	if err != nil {
		return nil, err
	}
	if input.Type != nil && !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", *input.Type))
	}
	if input.From != nil && input.To != nil && input.From.After(*input.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	account, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		return nil, s.deadline(ctx, err)
	}

	params := pagination.Params{Page: input.Page, Limit: input.Limit}.Normalize()
	items, total, err := s.repo.ListTransactions(ctx, account.ID, TransactionFilter{
		Type:  input.Type,
		From:  input.From,
		To:    input.To,
		Page:  params.Page,
		Limit: params.Limit,
	})
	if err != nil {
		return nil, s.deadline(ctx, err)
	}
	if items == nil {
		items = []models.LoyaltyTransaction{}
	}

	return &TransactionPage{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		Limit:      params.Limit,
		TotalPages: pagination.TotalPages(total, params.Limit),
	}, nil
}

// committed records metrics and dispatches notifications for a mutation that
// has already been committed. Nothing here can fail the caller.
func (s *service) committed(ctx context.Context, event enums.OutboxEventType, result *Result) {
	account := result.Account
	txn := result.Transaction

	s.metrics.AddPoints(string(txn.Type), txn.Points)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"customer_id":    account.CustomerID,
		"account_id":     account.ID.String(),
		"transaction_id": txn.ID.String(),
		"event":          string(event),
		"points":         txn.Points,
		"balance":        account.PointsBalance,
	})
	s.logg.Info(logCtx, "loyalty transaction committed")

	s.notify(logCtx, Notification{
		EventType:  event,
		AccountID:  account.ID,
		OccurredAt: txn.CreatedAt,
		Payload: payloads.PointsChangedEvent{
			AccountID:     account.ID,
			CustomerID:    account.CustomerID,
			TransactionID: txn.ID,
			Type:          txn.Type,
			Points:        txn.Points,
			Balance:       account.PointsBalance,
			Tier:          account.Tier,
			Reference:     txn.Reference,
			OccurredAt:    txn.CreatedAt,
		},
	})

	if !result.TierChanged {
		return
	}
	s.metrics.IncTierChange(string(account.Tier))
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"previous_tier": string(result.PreviousTier),
		"tier":          string(account.Tier),
	}), "loyalty tier changed")
	if account.Tier.Rank() <= result.PreviousTier.Rank() {
		return
	}
	s.notify(logCtx, Notification{
		EventType:  enums.EventTierUpgraded,
		AccountID:  account.ID,
		OccurredAt: txn.CreatedAt,
		Payload: payloads.TierUpgradedEvent{
			AccountID:    account.ID,
			CustomerID:   account.CustomerID,
			PreviousTier: result.PreviousTier,
			NewTier:      account.Tier,
			PointsEarned: account.PointsEarned,
			OccurredAt:   txn.CreatedAt,
		},
	})
}

func (s *service) notify(ctx context.Context, note Notification) {
	if s.notifier == nil {
		return
	}
	// the caller's deadline may already be spent; the commit is not.
	if err := s.notifier.Notify(context.WithoutCancel(ctx), note); err != nil {
		s.metrics.IncNotificationFailure(string(note.EventType))
		s.logg.Error(ctx, "loyalty notification failed", err)
	}
}

func (s *service) observe(op string, started time.Time, errp *error) {
	result := "ok"
	if errp != nil && *errp != nil {
		if typed := pkgerrors.As(*errp); typed != nil {
			result = string(typed.Code())
		} else {
			result = string(pkgerrors.CodeInternal)
		}
	}
	s.metrics.ObserveOperation(op, result, time.Since(started))
}

// deadline turns an expired mutation budget into a retryable failure.
func (s *service) deadline(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if pkgerrors.IsCode(err, pkgerrors.CodeTransient) {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "ledger operation timed out")
	}
	if pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ledger operation failed")
	}
	return err
}

func newResult(account *models.LoyaltyAccount, txn *models.LoyaltyTransaction, previous enums.LoyaltyTier) *Result {
	snapshot := *account
	return &Result{
		Account:      &snapshot,
		Transaction:  txn,
		TierChanged:  previous != account.Tier,
		PreviousTier: previous,
	}
}

func normalizeCustomerID(customerID string) (string, error) {
	trimmed := strings.TrimSpace(customerID)
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	return trimmed, nil
}

func normalizeDescription(description string) (string, error) {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "description is required")
	}
	return trimmed, nil
}

// earnExpiresAt resolves the expiry stamped on an EARN row: the caller's value
// in UTC, which must lie after now, or the configured default horizon.
func (s *service) earnExpiresAt(requested *time.Time, now time.Time) (*time.Time, error) {
	if requested == nil {
		if s.earnExpiry <= 0 {
			return nil, nil
		}
		at := now.Add(s.earnExpiry)
		return &at, nil
	}
	at := requested.UTC()
	if !at.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future").
			WithDetails(map[string]string{"expires_at": at.Format(time.RFC3339)})
	}
	return &at, nil
}

func invalidAmount(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}

// addPoints returns current+delta, rejecting results outside int64 so a
// running total can never wrap.
func addPoints(field string, current, delta int64) (int64, error) {
	sum := current + delta
	if (delta > 0 && sum < current) || (delta < 0 && sum > current) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "points would overflow "+field).
			WithDetails(map[string]any{field: current, "points": delta})
	}
	return sum, nil
}
