package loyalty

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
)

func TestRepositoryCreateAndGetAccount(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	created, err := repo.CreateAccount(ctx, "cust-1", enums.LoyaltyTierBronze)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)

	byCustomer, err := repo.GetAccount(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCustomer.ID)
	assert.Equal(t, enums.LoyaltyTierBronze, byCustomer.Tier)
	assert.Zero(t, byCustomer.PointsBalance)

	byID, err := repo.GetAccountByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", byID.CustomerID)

	_, err = repo.CreateAccount(ctx, "cust-1", enums.LoyaltyTierBronze)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	_, err = repo.GetAccount(ctx, "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = repo.GetAccountByID(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestRepositoryRunAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRepository(db)
	account, err := repo.CreateAccount(ctx, "cust-1", enums.LoyaltyTierBronze)
	require.NoError(t, err)

	err = repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		locked, err := tx.LockAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &models.LoyaltyTransaction{
			AccountID:   locked.ID,
			Type:        enums.LoyaltyTransactionEarn,
			Points:      100,
			Description: "first",
			CreatedAt:   testNow,
		}); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "boom")
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))
	assert.Zero(t, sumPoints(t, db, account.ID))
}

func TestRepositoryUpdateAccountMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))

	err := repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		return tx.UpdateAccount(ctx, &models.LoyaltyAccount{ID: uuid.New(), Tier: enums.LoyaltyTierBronze, UpdatedAt: testNow})
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func seedTransactions(t *testing.T, repo Repository, accountID uuid.UUID, rows ...models.LoyaltyTransaction) []models.LoyaltyTransaction {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		for i := range rows {
			rows[i].AccountID = accountID
			if err := tx.InsertTransaction(ctx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	}))
	return rows
}

func TestRepositoryListTransactions(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))
	account, err := repo.CreateAccount(ctx, "cust-1", enums.LoyaltyTierBronze)
	require.NoError(t, err)

	rows := seedTransactions(t, repo, account.ID,
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 100, Description: "a", CreatedAt: testNow},
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionRedeem, Points: -40, Description: "b", CreatedAt: testNow.Add(time.Hour)},
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 60, Description: "c", CreatedAt: testNow.Add(2 * time.Hour)},
	)

	items, total, err := repo.ListTransactions(ctx, account.ID, TransactionFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, rows[2].ID, items[0].ID)
	assert.Equal(t, rows[1].ID, items[1].ID)

	items, _, err = repo.ListTransactions(ctx, account.ID, TransactionFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, rows[0].ID, items[0].ID)

	earn := enums.LoyaltyTransactionEarn
	items, total, err = repo.ListTransactions(ctx, account.ID, TransactionFilter{Type: &earn})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, item := range items {
		assert.Equal(t, enums.LoyaltyTransactionEarn, item.Type)
	}

	from := testNow.Add(30 * time.Minute)
	to := testNow.Add(90 * time.Minute)
	items, total, err = repo.ListTransactions(ctx, account.ID, TransactionFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, rows[1].ID, items[0].ID)

	items, total, err = repo.ListTransactions(ctx, uuid.New(), TransactionFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestRepositoryListExpiringEarnTransactions(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(newTestDB(t))
	account, err := repo.CreateAccount(ctx, "cust-1", enums.LoyaltyTierBronze)
	require.NoError(t, err)

	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)
	rows := seedTransactions(t, repo, account.ID,
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 100, Description: "due", ExpiresAt: &past, CreatedAt: testNow},
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 50, Description: "later", ExpiresAt: &future, CreatedAt: testNow},
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 70, Description: "forever", CreatedAt: testNow},
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 30, Description: "due too", ExpiresAt: &past, CreatedAt: testNow},
	)

	due, err := repo.ListExpiringEarnTransactions(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 2)

	require.NoError(t, repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		return tx.ClaimEarnTransactions(ctx, account.ID, []uuid.UUID{rows[0].ID}, nil)
	}))

	due, err = repo.ListExpiringEarnTransactions(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, rows[3].ID, due[0].ID)

	err = repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		return tx.ClaimEarnTransactions(ctx, account.ID, []uuid.UUID{rows[0].ID}, nil)
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestRepositoryClaimRequiresOwnEarnRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRepository(db)
	owner, err := repo.CreateAccount(ctx, "cust-owner", enums.LoyaltyTierBronze)
	require.NoError(t, err)
	other, err := repo.CreateAccount(ctx, "cust-other", enums.LoyaltyTierBronze)
	require.NoError(t, err)

	mine := seedTransactions(t, repo, owner.ID,
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 40, Description: "order", CreatedAt: testNow},
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionRedeem, Points: -10, Description: "spent", CreatedAt: testNow},
	)
	theirs := seedTransactions(t, repo, other.ID,
		models.LoyaltyTransaction{Type: enums.LoyaltyTransactionEarn, Points: 25, Description: "order", CreatedAt: testNow},
	)

	for name, ids := range map[string][]uuid.UUID{
		"other account": {mine[0].ID, theirs[0].ID},
		"not an earn":   {mine[1].ID},
		"unknown id":    {uuid.New()},
	} {
		err := repo.RunAtomic(ctx, func(tx AtomicRepository) error {
			return tx.ClaimEarnTransactions(ctx, owner.ID, ids, nil)
		})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%s: %v", name, err)
	}

	var claims int64
	require.NoError(t, db.Model(&models.LoyaltyExpiryClaim{}).Count(&claims).Error)
	assert.Zero(t, claims, "rejected claims must not be written")

	// repeated ids collapse to one claim
	require.NoError(t, repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		return tx.ClaimEarnTransactions(ctx, owner.ID, []uuid.UUID{mine[0].ID, mine[0].ID}, nil)
	}))
	require.NoError(t, db.Model(&models.LoyaltyExpiryClaim{}).Count(&claims).Error)
	assert.EqualValues(t, 1, claims)
}
