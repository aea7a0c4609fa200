package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/loyalty-ledger/internal/loyalty"
	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
)

// LoyaltyExpiryJobName identifies the expiry sweep in logs, metrics and the
// registry.
const LoyaltyExpiryJobName = "loyalty-expiry"

type expirySweeper interface {
	RunExpirySweep(ctx context.Context, now time.Time) (loyalty.SweepResult, error)
	Stop()
}

type LoyaltyExpiryJobParams struct {
	Logger  *logger.Logger
	Sweeper expirySweeper
}

type loyaltyExpiryJob struct {
	logg    *logger.Logger
	sweeper expirySweeper
	now     func() time.Time
}

func NewLoyaltyExpiryJob(params LoyaltyExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("expiry sweeper required")
	}
	return &loyaltyExpiryJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		now:     time.Now,
	}, nil
}

func (j *loyaltyExpiryJob) Name() string { return LoyaltyExpiryJobName }

// Stop lets the sweep finish the accounts it has started.
func (j *loyaltyExpiryJob) Stop() { j.sweeper.Stop() }

func (j *loyaltyExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	result, err := j.sweeper.RunExpirySweep(ctx, now)
	if err != nil {
		return fmt.Errorf("loyalty expiry sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"sweep_at":       now,
		"processed":      result.Processed,
		"expired":        result.Expired,
		"errors":         result.Errors,
		"points_expired": result.PointsExpired,
	})
	if result.Errors > 0 {
		j.logg.Warn(logCtx, "loyalty expiry sweep finished with account failures")
		return nil
	}
	j.logg.Info(logCtx, "loyalty expiry sweep finished")
	return nil
}
