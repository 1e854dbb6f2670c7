package bids

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Repository defines persistence operations for bids and the ranked offer
// queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateBid(ctx context.Context, bid *models.Bid) (*models.Bid, error)
	FindBidByID(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Bid, error)
	HasBidFromInstaller(ctx context.Context, jobID, installerID uuid.UUID) (bool, error)

	CreateOffers(ctx context.Context, offers []models.JobOffer) error
	FindOfferByJobAndInstaller(ctx context.Context, jobID, installerID uuid.UUID) (*models.JobOffer, error)
	FindExtendedOffer(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error)
	NextQueuedOffer(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error)

	// TransitionOffer is a status-guarded conditional update on one offer.
	TransitionOffer(ctx context.Context, offerID uuid.UUID, from enums.OfferStatus, updates map[string]any) (int64, error)

	// ListLapsedExtendedOffers returns extended offers whose acceptance
	// window closed before the cutoff.
	ListLapsedExtendedOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.JobOffer, error)
}
