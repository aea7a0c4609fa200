package loyalty

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/payloads"
)

func TestNewServiceRequiresRepository(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected error without repository")
	}
}

func TestGetOrCreateAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	first, err := l.svc.GetOrCreateAccount(ctx, "  cust-1 ")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", first.CustomerID)
	assert.Equal(t, enums.LoyaltyTierBronze, first.Tier)

	second, err := l.svc.GetOrCreateAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	a, err := l.svc.GetAccount(ctx, "cust-1")
	require.NoError(t, err)
	b, err := l.svc.GetAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = l.svc.GetAccount(ctx, "nobody")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = l.svc.GetOrCreateAccount(ctx, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEarnPointsNewCustomerReachesSilverAtThreshold(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	res, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-a", Points: 500, Description: "order-1"})
	require.NoError(t, err)

	assert.EqualValues(t, 500, res.Account.PointsBalance)
	assert.EqualValues(t, 500, res.Account.PointsEarned)
	assert.Equal(t, enums.LoyaltyTierSilver, res.Account.Tier)
	assert.True(t, res.TierChanged)
	assert.Equal(t, enums.LoyaltyTierBronze, res.PreviousTier)
	assert.Equal(t, enums.LoyaltyTransactionEarn, res.Transaction.Type)
	assert.EqualValues(t, 500, res.Transaction.Points)
	assert.Nil(t, res.Transaction.ExpiresAt)

	assert.Equal(t, []string{"points_earned", "tier_upgraded"}, l.notifier.events())
	upgrade, ok := l.notifier.notes[1].Payload.(payloads.TierUpgradedEvent)
	require.True(t, ok)
	assert.Equal(t, enums.LoyaltyTierSilver, upgrade.NewTier)

	stored, err := l.svc.GetAccount(ctx, "cust-a")
	require.NoError(t, err)
	assert.EqualValues(t, 500, stored.PointsBalance)
	assert.Equal(t, enums.LoyaltyTierSilver, stored.Tier)
}

func TestEarnPointsWithinSilverBand(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-b", Points: 900, Description: "order-1"})
	require.NoError(t, err)

	res, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-b", Points: 200, Description: "order-2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1100, res.Account.PointsEarned)
	assert.Equal(t, enums.LoyaltyTierSilver, res.Account.Tier)
	assert.False(t, res.TierChanged)
}

func TestEarnPointsStampsDefaultExpiry(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 365*24*time.Hour)

	res, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 10, Description: "order"})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction.ExpiresAt)
	assert.True(t, res.Transaction.ExpiresAt.Equal(testNow.Add(365*24*time.Hour)))

	explicit := testNow.Add(48 * time.Hour)
	res, err = l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 10, Description: "promo", ExpiresAt: &explicit, Reference: strPtr("promo-1")})
	require.NoError(t, err)
	assert.True(t, res.Transaction.ExpiresAt.Equal(explicit))
	assert.Equal(t, "promo-1", *res.Transaction.Reference)
}

func TestEarnPointsValidation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	for _, points := range []int64{0, -5} {
		_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: points, Description: "x"})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "points %d: %v", points, err)
	}
	_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 5})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = l.svc.GetAccount(ctx, "cust-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "rejected earn must not create the account")
}

func TestRedeemPoints(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-c", Points: 1050, Description: "orders"})
	require.NoError(t, err)

	res, err := l.svc.RedeemPoints(ctx, RedeemInput{CustomerID: "cust-c", Points: 200, Description: "discount"})
	require.NoError(t, err)
	assert.EqualValues(t, 850, res.Account.PointsBalance)
	assert.EqualValues(t, 200, res.Account.PointsRedeemed)
	assert.EqualValues(t, 1050, res.Account.PointsEarned)
	assert.Equal(t, enums.LoyaltyTierSilver, res.Account.Tier)
	assert.False(t, res.TierChanged)
	assert.EqualValues(t, -200, res.Transaction.Points)

	_, err = l.svc.RedeemPoints(ctx, RedeemInput{CustomerID: "cust-c", Points: 99999, Description: "too-much"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	stored, err := l.svc.GetAccount(ctx, "cust-c")
	require.NoError(t, err)
	assert.EqualValues(t, 850, stored.PointsBalance)
	assert.EqualValues(t, 850, sumPoints(t, l.db, stored.ID))
}

func TestRedeemPointsUnknownCustomer(t *testing.T) {
	l := newTestLedger(t, 0)

	_, err := l.svc.RedeemPoints(context.Background(), RedeemInput{CustomerID: "ghost", Points: 1, Description: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, l.notifier.events())
}

func TestAdjustPoints(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-e", Points: 1000, Description: "orders"})
	require.NoError(t, err)

	res, err := l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-e", Points: -50, Description: "correction"})
	require.NoError(t, err)
	assert.EqualValues(t, 950, res.Account.PointsBalance)
	assert.EqualValues(t, 1000, res.Account.PointsEarned)
	assert.Equal(t, enums.LoyaltyTierSilver, res.Account.Tier)

	res, err = l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-e", Points: 600, Description: "goodwill"})
	require.NoError(t, err)
	assert.EqualValues(t, 1550, res.Account.PointsBalance)
	assert.EqualValues(t, 1600, res.Account.PointsEarned)
	assert.Equal(t, enums.LoyaltyTierGold, res.Account.Tier)
	assert.True(t, res.TierChanged)

	// no floor on manual corrections
	res, err = l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-e", Points: -2000, Description: "clawback"})
	require.NoError(t, err)
	assert.EqualValues(t, -450, res.Account.PointsBalance)
	assert.Equal(t, enums.LoyaltyTierGold, res.Account.Tier)
	assert.EqualValues(t, -450, sumPoints(t, l.db, res.Account.ID))

	_, err = l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-e", Points: 0, Description: "noop"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdjustPointsCreatesAccount(t *testing.T) {
	l := newTestLedger(t, 0)

	res, err := l.svc.AdjustPoints(context.Background(), AdjustInput{CustomerID: "fresh", Points: 25, Description: "welcome"})
	require.NoError(t, err)
	assert.EqualValues(t, 25, res.Account.PointsBalance)
	assert.Equal(t, []string{"points_adjusted"}, l.notifier.events())
}

func TestExpirePoints(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	earned, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 300, Description: "order"})
	require.NoError(t, err)
	accountID := earned.Account.ID

	_, err = l.svc.ExpirePoints(ctx, ExpireInput{AccountID: accountID, Points: 301})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	res, err := l.svc.ExpirePoints(ctx, ExpireInput{
		AccountID:            accountID,
		Points:               120,
		SourceTransactionIDs: []uuid.UUID{earned.Transaction.ID},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 180, res.Account.PointsBalance)
	assert.EqualValues(t, 300, res.Account.PointsEarned)
	assert.Equal(t, "120 points expired", res.Transaction.Description)
	assert.Equal(t, enums.LoyaltyTransactionExpire, res.Transaction.Type)

	var claim models.LoyaltyExpiryClaim
	require.NoError(t, l.db.Where("earn_transaction_id = ?", earned.Transaction.ID).First(&claim).Error)
	require.NotNil(t, claim.ExpireTransactionID)
	assert.Equal(t, res.Transaction.ID, *claim.ExpireTransactionID)

	// a second expiry of the same source is refused and rolled back
	_, err = l.svc.ExpirePoints(ctx, ExpireInput{
		AccountID:            accountID,
		Points:               10,
		SourceTransactionIDs: []uuid.UUID{earned.Transaction.ID},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.EqualValues(t, 180, sumPoints(t, l.db, accountID))

	_, err = l.svc.ExpirePoints(ctx, ExpireInput{AccountID: uuid.New(), Points: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)
	l.notifier.err = errors.New("outbox unavailable")

	res, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 40, Description: "order"})
	require.NoError(t, err)
	assert.EqualValues(t, 40, res.Account.PointsBalance)

	stored, err := l.svc.GetAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.EqualValues(t, 40, stored.PointsBalance)
	assert.Len(t, l.notifier.events(), 1)
}

func TestBalanceInvariantUnderConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 100, Description: "seed"})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		redeemed int
		rejected int
		failures []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.svc.RedeemPoints(ctx, RedeemInput{CustomerID: "cust-1", Points: 30, Description: "redeem"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				redeemed++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance):
				rejected++
			default:
				failures = append(failures, err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 5, Description: "earn"}); err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Empty(t, failures)
	assert.Equal(t, 8, redeemed+rejected)

	account, err := l.svc.GetAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, account.PointsBalance, int64(0))
	assert.Equal(t, sumPoints(t, l.db, account.ID), account.PointsBalance)
	assert.EqualValues(t, 100+8*5-30*redeemed, account.PointsBalance)
	assert.EqualValues(t, 30*redeemed, account.PointsRedeemed)
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	for i := 0; i < 3; i++ {
		_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 10, Description: "order"})
		require.NoError(t, err)
		l.clock.Advance(time.Minute)
	}
	_, err := l.svc.RedeemPoints(ctx, RedeemInput{CustomerID: "cust-1", Points: 5, Description: "coffee"})
	require.NoError(t, err)

	page, err := l.svc.ListTransactions(ctx, ListTransactionsInput{CustomerID: "cust-1", Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 3, page.Limit)
	require.Len(t, page.Items, 3)
	assert.Equal(t, enums.LoyaltyTransactionRedeem, page.Items[0].Type)

	defaults, err := l.svc.ListTransactions(ctx, ListTransactionsInput{CustomerID: "cust-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.Page)
	assert.Equal(t, 20, defaults.Limit)

	earn := enums.LoyaltyTransactionEarn
	filtered, err := l.svc.ListTransactions(ctx, ListTransactionsInput{CustomerID: "cust-1", Type: &earn})
	require.NoError(t, err)
	assert.EqualValues(t, 3, filtered.Total)

	bogus := enums.LoyaltyTransactionType("GIFT")
	_, err = l.svc.ListTransactions(ctx, ListTransactionsInput{CustomerID: "cust-1", Type: &bogus})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = l.svc.ListTransactions(ctx, ListTransactionsInput{CustomerID: "cust-1", From: timePtr(testNow.Add(time.Hour)), To: timePtr(testNow)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = l.svc.ListTransactions(ctx, ListTransactionsInput{CustomerID: "ghost"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type blockingRepository struct {
	Repository
}

func (b blockingRepository) GetAccount(ctx context.Context, customerID string) (*models.LoyaltyAccount, error) {
	return &models.LoyaltyAccount{ID: uuid.New(), CustomerID: customerID, Tier: enums.LoyaltyTierBronze}, nil
}

func (b blockingRepository) RunAtomic(ctx context.Context, _ func(tx AtomicRepository) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMutationTimeoutIsTransient(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Repository: blockingRepository{},
		TxTimeout:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = svc.EarnPoints(context.Background(), EarnInput{CustomerID: "cust-1", Points: 1, Description: "slow"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeTransient, typed.Code())
	assert.True(t, typed.Retryable())
}

func TestEarnPointsRejectsOverflowingTotals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	top, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-max", Points: math.MaxInt64, Description: "everything"})
	require.NoError(t, err)
	assert.Equal(t, enums.LoyaltyTierPlatinum, top.Account.Tier)

	_, err = l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-max", Points: 1, Description: "one more"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	account, err := l.svc.GetAccount(ctx, "cust-max")
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), account.PointsBalance)
	assert.EqualValues(t, int64(math.MaxInt64), account.PointsEarned)
	assert.Equal(t, enums.LoyaltyTierPlatinum, account.Tier)
	assert.EqualValues(t, int64(math.MaxInt64), sumPoints(t, l.db, account.ID))

	// the account keeps working after the rejection
	res, err := l.svc.RedeemPoints(ctx, RedeemInput{CustomerID: "cust-max", Points: 10, Description: "discount"})
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64-10), res.Account.PointsBalance)
}

func TestAdjustPointsRejectsOverflowingTotals(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	first, err := l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-adj", Points: -math.MaxInt64, Description: "clawback"})
	require.NoError(t, err)
	assert.EqualValues(t, int64(-math.MaxInt64), first.Account.PointsBalance)

	_, err = l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-adj", Points: -math.MaxInt64, Description: "clawback again"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	account, err := l.svc.GetAccount(ctx, "cust-adj")
	require.NoError(t, err)
	assert.EqualValues(t, int64(-math.MaxInt64), account.PointsBalance)
	assert.Equal(t, account.PointsBalance, sumPoints(t, l.db, account.ID))

	_, err = l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-big", Points: math.MaxInt64 - 5, Description: "order"})
	require.NoError(t, err)
	_, err = l.svc.AdjustPoints(ctx, AdjustInput{CustomerID: "cust-big", Points: 6, Description: "goodwill"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestEarnPointsRejectsPastExpiry(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	for _, at := range []time.Time{testNow.Add(-time.Minute), testNow} {
		_, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 10, Description: "order", ExpiresAt: timePtr(at)})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "expires_at %s: %v", at, err)
	}
	_, err := l.svc.GetAccount(ctx, "cust-1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "rejected earn must not create the account")
}

func TestExpirePointsRejectsForeignSources(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 0)

	mine, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-1", Points: 100, Description: "order"})
	require.NoError(t, err)
	theirs, err := l.svc.EarnPoints(ctx, EarnInput{CustomerID: "cust-2", Points: 100, Description: "order"})
	require.NoError(t, err)

	_, err = l.svc.ExpirePoints(ctx, ExpireInput{
		AccountID:            mine.Account.ID,
		Points:               50,
		SourceTransactionIDs: []uuid.UUID{theirs.Transaction.ID},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	account, err := l.svc.GetAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, account.PointsBalance)
	assert.EqualValues(t, 100, sumPoints(t, l.db, account.ID))

	var claims int64
	require.NoError(t, l.db.Model(&models.LoyaltyExpiryClaim{}).Count(&claims).Error)
	assert.Zero(t, claims)
}
