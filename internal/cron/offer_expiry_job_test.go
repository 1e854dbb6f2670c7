package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/installconnect/escrow-backend/pkg/logger"
)

func TestOfferExpiryJobSweepsWithDefaultBatch(t *testing.T) {
	bids := &fakeOfferExpirer{expired: 3}
	job, err := NewOfferExpiryJob(OfferExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Bids:   bids,
	})
	if err != nil {
		t.Fatalf("NewOfferExpiryJob: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bids.lastLimit != offerExpiryBatchSize {
		t.Fatalf("expected batch %d, got %d", offerExpiryBatchSize, bids.lastLimit)
	}
}

func TestOfferExpiryJobPropagatesError(t *testing.T) {
	job, err := NewOfferExpiryJob(OfferExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Bids:   &fakeOfferExpirer{err: errors.New("boom")},
	})
	if err != nil {
		t.Fatalf("NewOfferExpiryJob: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeOfferExpirer struct {
	expired   int
	err       error
	lastLimit int
}

func (f *fakeOfferExpirer) ExpireLapsedOffers(ctx context.Context, limit int) (int, error) {
	f.lastLimit = limit
	if f.err != nil {
		return 0, f.err
	}
	return f.expired, nil
}
