package bids

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a bids repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBid(ctx context.Context, bid *models.Bid) (*models.Bid, error) {
	if err := r.db.WithContext(ctx).Create(bid).Error; err != nil {
		return nil, err
	}
	return bid, nil
}

func (r *repository) FindBidByID(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&bid).Error
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repository) ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Bid, error) {
	var list []models.Bid
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("amount ASC, created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) HasBidFromInstaller(ctx context.Context, jobID, installerID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Bid{}).
		Where("job_id = ? AND installer_id = ?", jobID, installerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateOffers(ctx context.Context, offers []models.JobOffer) error {
	if len(offers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&offers).Error
}

func (r *repository) FindOfferByJobAndInstaller(ctx context.Context, jobID, installerID uuid.UUID) (*models.JobOffer, error) {
	var offer models.JobOffer
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND installer_id = ?", jobID, installerID).
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *repository) FindExtendedOffer(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error) {
	var offer models.JobOffer
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, enums.OfferStatusExtended).
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *repository) NextQueuedOffer(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error) {
	var offer models.JobOffer
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, enums.OfferStatusQueued).
		Order("rank ASC").
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (r *repository) TransitionOffer(ctx context.Context, offerID uuid.UUID, from enums.OfferStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.JobOffer{}).
		Where("id = ? AND status = ?", offerID, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) ListLapsedExtendedOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.JobOffer, error) {
	var list []models.JobOffer
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", enums.OfferStatusExtended, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}
