package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

func TestAutoSettleJobSettlesEachCandidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	settler := &fakeAutoSettler{jobs: []models.Job{{ID: uuid.New()}, {ID: uuid.New()}}}
	job := newAutoSettleJob(t, settler, 5)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-5 * 24 * time.Hour)
	if !settler.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, settler.lastCutoff)
	}
	if settler.lastLimit != autoSettleBatchSize {
		t.Fatalf("expected batch %d, got %d", autoSettleBatchSize, settler.lastLimit)
	}
	if len(settler.settled) != 2 {
		t.Fatalf("expected 2 settlements, got %d", len(settler.settled))
	}
}

func TestAutoSettleJobContinuesPastFailures(t *testing.T) {
	failing := uuid.New()
	settler := &fakeAutoSettler{
		jobs:    []models.Job{{ID: failing}, {ID: uuid.New()}},
		failFor: failing,
	}
	job := newAutoSettleJob(t, settler, 5)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !strings.Contains(err.Error(), failing.String()) {
		t.Fatalf("expected error to name the failed job, got %v", err)
	}
	if len(settler.settled) != 1 {
		t.Fatalf("expected the second job to settle, got %d", len(settler.settled))
	}
}

func TestNewAutoSettleJobRequiresGraceDays(t *testing.T) {
	_, err := NewAutoSettleJob(AutoSettleJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Escrow: &fakeAutoSettler{},
	})
	if err == nil {
		t.Fatal("expected error for missing grace days")
	}
}

func newAutoSettleJob(t *testing.T, settler *fakeAutoSettler, graceDays int) *autoSettleJob {
	t.Helper()
	jobIface, err := NewAutoSettleJob(AutoSettleJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Escrow:    settler,
		GraceDays: graceDays,
	})
	if err != nil {
		t.Fatalf("NewAutoSettleJob: %v", err)
	}
	job, ok := jobIface.(*autoSettleJob)
	if !ok {
		t.Fatalf("expected autoSettleJob, got %T", jobIface)
	}
	return job
}

type fakeAutoSettler struct {
	jobs       []models.Job
	failFor    uuid.UUID
	settled    []uuid.UUID
	lastCutoff time.Time
	lastLimit  int
}

func (f *fakeAutoSettler) ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	f.lastCutoff = cutoff
	f.lastLimit = limit
	return f.jobs, nil
}

func (f *fakeAutoSettler) AutoSettle(ctx context.Context, jobID uuid.UUID) error {
	if jobID == f.failFor {
		return errors.New("settle failed")
	}
	f.settled = append(f.settled, jobID)
	return nil
}
