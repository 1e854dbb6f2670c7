package disputes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	"github.com/installconnect/escrow-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a disputes repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateDispute(ctx context.Context, dispute *models.Dispute) (*models.Dispute, error) {
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		return nil, err
	}
	return dispute, nil
}

func (r *repository) FindDisputeByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&dispute).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) FindOpenDisputeByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, enums.DisputeStatusOpen).
		First(&dispute).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) ListDisputes(ctx context.Context, filter ListDisputesFilter) ([]models.Dispute, error) {
	query := r.db.WithContext(ctx).Model(&models.Dispute{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.JobID != nil {
		query = query.Where("job_id = ?", *filter.JobID)
	}
	query = query.Limit(pagination.NormalizeLimit(filter.Limit))

	var disputes []models.Dispute
	if err := query.Order("created_at ASC").Find(&disputes).Error; err != nil {
		return nil, err
	}
	return disputes, nil
}

func (r *repository) TransitionDispute(ctx context.Context, disputeID uuid.UUID, from enums.DisputeStatus, updates map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", disputeID, from).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
