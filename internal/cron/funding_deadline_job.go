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

const fundingSweepBatchSize = 100

type lapsedFundingReader interface {
	ListFundingLapsedJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
}

type fundingSweeper interface {
	SweepFundingDeadline(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// FundingDeadlineJobParams configure the funding-window sweep.
type FundingDeadlineJobParams struct {
	Logger    *logger.Logger
	Reader    lapsedFundingReader
	Jobs      fundingSweeper
	BatchSize int
}

// NewFundingDeadlineJob builds the job that cancels accepted jobs whose
// giver never funded the escrow inside the window.
func NewFundingDeadlineJob(params FundingDeadlineJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("jobs reader required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("jobs service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = fundingSweepBatchSize
	}
	return &fundingDeadlineJob{
		logg:   params.Logger,
		reader: params.Reader,
		jobs:   params.Jobs,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type fundingDeadlineJob struct {
	logg   *logger.Logger
	reader lapsedFundingReader
	jobs   fundingSweeper
	batch  int
	now    func() time.Time
}

func (j *fundingDeadlineJob) Name() string { return "funding-deadline" }

func (j *fundingDeadlineJob) Run(ctx context.Context) error {
	lapsed, err := j.reader.ListFundingLapsedJobs(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("list lapsed funding jobs: %w", err)
	}

	var errs error
	cancelled := 0
	for _, job := range lapsed {
		applied, err := j.jobs.SweepFundingDeadline(ctx, job.ID)
		if err != nil {
			jobCtx := j.logg.WithJobID(ctx, job.ID.String())
			j.logg.Error(jobCtx, "funding deadline sweep failed", err)
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		if applied {
			cancelled++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(lapsed), "cancelled": cancelled})
	j.logg.Info(logCtx, "funding deadline sweep complete")
	return errs
}
