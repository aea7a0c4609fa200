package cron

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-ledger/pkg/logger"
)

// OutboxRetentionJobName prunes published loyalty events and old DLQ rows.
const OutboxRetentionJobName = "outbox-retention"

const defaultOutboxRetention = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type dlqRetentionRepo interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams wires the retention job. Unpublished outbox rows
// are never deleted regardless of age. DLQ is optional.
type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	DLQ        dlqRetentionRepo
	Retention  time.Duration
}

// pruneStep deletes one table's rows older than cutoff.
type pruneStep struct {
	field  string
	delete func(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	steps     []pruneStep
	retention time.Duration
	now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}

	steps := []pruneStep{{field: "published_deleted", delete: params.Repository.DeletePublishedBefore}}
	if params.DLQ != nil {
		steps = append(steps, pruneStep{field: "dlq_deleted", delete: params.DLQ.DeleteFailedBefore})
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		steps:     steps,
		retention: cmp.Or(max(params.Retention, 0), defaultOutboxRetention),
		now:       time.Now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

// Run deletes every table's expired rows in one transaction so a failure
// leaves all of them untouched.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	fields := map[string]any{"cutoff": cutoff}

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, step := range j.steps {
			n, err := step.delete(tx, cutoff)
			if err != nil {
				return fmt.Errorf("%s: %w", step.field, err)
			}
			fields[step.field] = n
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return nil
}
