package loyalty

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
	"github.com/angelmondragon/loyalty-ledger/pkg/metrics"
)

const (
	sweepOutcomeExpired = "expired"
	sweepOutcomeClaimed = "claimed"
	sweepOutcomeError   = "error"
)

// SweepResult summarises one expiry sweep. Processed counts every account
// visited, Expired those that received an EXPIRE row and Errors those that
// failed and will be retried by the next sweep.
type SweepResult struct {
	Processed     int   `json:"processed"`
	Expired       int   `json:"expired"`
	Errors        int   `json:"errors"`
	PointsExpired int64 `json:"points_expired"`
}

type SweeperParams struct {
	Repository  Repository
	Service     Service
	Logger      *logger.Logger
	Metrics     *metrics.LedgerMetrics
	Concurrency int
}

// Sweeper expires EARN transactions whose expires_at has passed.
type Sweeper struct {
	repo        Repository
	svc         Service
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
	concurrency int

	mu      sync.Mutex
	running map[chan struct{}]struct{}
	// stopPending holds a Stop that arrived while no sweep was running; the
	// next sweep to start consumes it and schedules nothing.
	stopPending bool
}

type expiringAccount struct {
	accountID uuid.UUID
	earnIDs   []uuid.UUID
	total     int64
}

type accountOutcome struct {
	outcome string
	points  int64
	err     error
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("loyalty repository required")
	}
	if params.Service == nil {
		return nil, fmt.Errorf("loyalty service required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.New(logger.Options{ServiceName: "loyalty-expiry", Output: io.Discard})
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		repo:        params.Repository,
		svc:         params.Service,
		logg:        logg,
		metrics:     params.Metrics,
		concurrency: concurrency,
	}, nil
}

// Stop asks every running sweep to stop scheduling accounts. Accounts already
// in flight finish. With no sweep running, the next one to start is stopped
// before it schedules anything.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) == 0 {
		s.stopPending = true
		return
	}
	for stop := range s.running {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}

// RunExpirySweep expires every unclaimed EARN transaction due at or before
// now. Per-account failures are counted in the result and do not fail the
// sweep; the returned error is reserved for failing to list the work.
func (s *Sweeper) RunExpirySweep(ctx context.Context, now time.Time) (SweepResult, error) {
	stop := s.begin()
	defer s.end(stop)

	rows, err := s.repo.ListExpiringEarnTransactions(ctx, now)
	if err != nil {
		return SweepResult{}, err
	}
	accounts := groupByAccount(rows)
	if len(accounts) == 0 {
		s.logg.Debug(ctx, "expiry sweep found nothing to expire")
		return SweepResult{}, nil
	}

	var (
		result SweepResult
		errs   error
		mu     sync.Mutex
		wg     sync.WaitGroup
	)
	work := make(chan expiringAccount)

	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for acct := range work {
				if halted(ctx, stop) {
					continue
				}
				out := s.expireAccount(ctx, acct)
				s.metrics.IncSweepAccount(out.outcome)

				mu.Lock()
				result.Processed++
				switch out.outcome {
				case sweepOutcomeExpired:
					result.Expired++
					result.PointsExpired += out.points
				case sweepOutcomeError:
					result.Errors++
					errs = multierr.Append(errs, fmt.Errorf("account %s: %w", acct.accountID, out.err))
				}
				mu.Unlock()
			}
		}()
	}

schedule:
	for _, acct := range accounts {
		if halted(ctx, stop) {
			break
		}
		select {
		case <-ctx.Done():
			break schedule
		case <-stop:
			break schedule
		case work <- acct:
		}
	}
	close(work)
	wg.Wait()

	s.metrics.AddSweepPointsExpired(result.PointsExpired)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"accounts_due":   len(accounts),
		"processed":      result.Processed,
		"expired":        result.Expired,
		"errors":         result.Errors,
		"points_expired": result.PointsExpired,
		"stopped":        halted(ctx, stop),
	})
	if errs != nil {
		s.logg.Error(logCtx, "expiry sweep completed with errors", errs)
	} else {
		s.logg.Info(logCtx, "expiry sweep completed")
	}
	return result, nil
}

func (s *Sweeper) expireAccount(ctx context.Context, acct expiringAccount) accountOutcome {
	logCtx := s.logg.WithAccountID(ctx, acct.accountID.String())

	account, err := s.repo.GetAccountByID(ctx, acct.accountID)
	if err != nil {
		s.logg.Error(logCtx, "expiry sweep failed to load account", err)
		return accountOutcome{outcome: sweepOutcomeError, err: err}
	}

	toExpire := acct.total
	if account.PointsBalance < toExpire {
		toExpire = account.PointsBalance
	}

	if toExpire > 0 {
		_, err := s.svc.ExpirePoints(ctx, ExpireInput{
			AccountID:            acct.accountID,
			Points:               toExpire,
			Description:          fmt.Sprintf("%d points expired", toExpire),
			SourceTransactionIDs: acct.earnIDs,
		})
		if err != nil {
			s.logg.Error(logCtx, "expiry sweep failed to expire points", err)
			return accountOutcome{outcome: sweepOutcomeError, err: err}
		}
		return accountOutcome{outcome: sweepOutcomeExpired, points: toExpire}
	}

	// Nothing left to expire; claim the rows so they are not selected again.
	err = s.repo.RunAtomic(ctx, func(tx AtomicRepository) error {
		locked, err := tx.LockAccount(ctx, acct.accountID)
		if err != nil {
			return err
		}
		if locked.PointsBalance > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "balance changed during expiry sweep")
		}
		return tx.ClaimEarnTransactions(ctx, acct.accountID, acct.earnIDs, nil)
	})
	if err != nil {
		s.logg.Error(logCtx, "expiry sweep failed to claim earn transactions", err)
		return accountOutcome{outcome: sweepOutcomeError, err: err}
	}
	s.logg.Debug(logCtx, "expiry sweep claimed earn transactions without balance")
	return accountOutcome{outcome: sweepOutcomeClaimed}
}

func halted(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func (s *Sweeper) begin() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop := make(chan struct{})
	if s.stopPending {
		s.stopPending = false
		close(stop)
	}
	if s.running == nil {
		s.running = make(map[chan struct{}]struct{})
	}
	s.running[stop] = struct{}{}
	return stop
}

func (s *Sweeper) end(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, stop)
}

// groupByAccount keeps the repository order, which is account_id then
// expires_at.
func groupByAccount(rows []models.LoyaltyTransaction) []expiringAccount {
	var out []expiringAccount
	index := make(map[uuid.UUID]int)
	for _, row := range rows {
		i, ok := index[row.AccountID]
		if !ok {
			i = len(out)
			index[row.AccountID] = i
			out = append(out, expiringAccount{accountID: row.AccountID})
		}
		points := row.Points
		if points < 0 {
			points = -points
		}
		out[i].total += points
		out[i].earnIDs = append(out[i].earnIDs, row.ID)
	}
	return out
}
