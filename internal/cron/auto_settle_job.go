package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

const autoSettleBatchSize = 100

type autoSettler interface {
	ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	AutoSettle(ctx context.Context, jobID uuid.UUID) error
}

// AutoSettleJobParams configure the idle-confirmation settlement sweep.
type AutoSettleJobParams struct {
	Logger    *logger.Logger
	Escrow    autoSettler
	GraceDays int
	BatchSize int
}

// NewAutoSettleJob builds the job that releases escrows the giver never
// confirmed. Work submitted and then ignored for the grace window pays out
// to the installer.
func NewAutoSettleJob(params AutoSettleJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if params.GraceDays <= 0 {
		return nil, fmt.Errorf("grace days must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = autoSettleBatchSize
	}
	return &autoSettleJob{
		logg:      params.Logger,
		escrow:    params.Escrow,
		graceDays: params.GraceDays,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type autoSettleJob struct {
	logg      *logger.Logger
	escrow    autoSettler
	graceDays int
	batch     int
	now       func() time.Time
}

func (j *autoSettleJob) Name() string { return "auto-settle" }

func (j *autoSettleJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.graceDays) * 24 * time.Hour)
	jobs, err := j.escrow.ListSettleableJobs(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list settleable jobs: %w", err)
	}

	var errs error
	settled := 0
	for _, job := range jobs {
		if err := j.escrow.AutoSettle(ctx, job.ID); err != nil {
			jobCtx := j.logg.WithJobID(ctx, job.ID.String())
			j.logg.Error(jobCtx, "auto settle failed", err)
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		settled++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(jobs), "settled": settled})
	j.logg.Info(logCtx, "auto settle sweep complete")
	return errs
}
