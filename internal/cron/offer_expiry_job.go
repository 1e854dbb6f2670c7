package cron

import (
	"context"
	"fmt"

	"github.com/installconnect/escrow-backend/pkg/logger"
)

const offerExpiryBatchSize = 100

type offerExpirer interface {
	ExpireLapsedOffers(ctx context.Context, limit int) (int, error)
}

// OfferExpiryJobParams configure the acceptance-window sweep.
type OfferExpiryJobParams struct {
	Logger    *logger.Logger
	Bids      offerExpirer
	BatchSize int
}

// NewOfferExpiryJob builds the job that expires extended offers whose
// acceptance window lapsed and re-targets each job to its next ranked
// candidate.
func NewOfferExpiryJob(params OfferExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Bids == nil {
		return nil, fmt.Errorf("bids service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = offerExpiryBatchSize
	}
	return &offerExpiryJob{
		logg:  params.Logger,
		bids:  params.Bids,
		batch: batch,
	}, nil
}

type offerExpiryJob struct {
	logg  *logger.Logger
	bids  offerExpirer
	batch int
}

func (j *offerExpiryJob) Name() string { return "offer-expiry" }

func (j *offerExpiryJob) Run(ctx context.Context) error {
	expired, err := j.bids.ExpireLapsedOffers(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired})
	j.logg.Info(logCtx, "offer expiry sweep complete")
	return err
}
