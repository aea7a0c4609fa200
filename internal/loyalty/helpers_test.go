package loyalty

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestDB returns an isolated in-memory database. A single connection keeps
// concurrent transactions serialized the way row locks would on Postgres.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(
		&models.LoyaltyAccount{},
		&models.LoyaltyTransaction{},
		&models.LoyaltyExpiryClaim{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	))
	return conn
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, note Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return r.err
}

func (r *recordingNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, string(n.EventType))
	}
	return out
}

type testLedger struct {
	db       *gorm.DB
	repo     Repository
	svc      Service
	notifier *recordingNotifier
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger(t *testing.T, earnExpiry time.Duration) *testLedger {
	t.Helper()
	db := newTestDB(t)
	repo := NewRepository(db)
	notifier := &recordingNotifier{}
	clock := &testClock{now: testNow}
	svc, err := NewService(ServiceParams{
		Repository: repo,
		TierPolicy: DefaultTierPolicy(),
		Notifier:   notifier,
		EarnExpiry: earnExpiry,
		Clock:      clock.Now,
	})
	require.NoError(t, err)
	return &testLedger{db: db, repo: repo, svc: svc, notifier: notifier, clock: clock}
}

// sumPoints returns the ledger total for an account straight from the table.
func sumPoints(t *testing.T, db *gorm.DB, accountID uuid.UUID) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&models.LoyaltyTransaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error)
	return total
}

func strPtr(v string) *string { return &v }

func timePtr(v time.Time) *time.Time { return &v }
