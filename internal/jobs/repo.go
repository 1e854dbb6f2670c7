package jobs

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

// NewRepository builds a jobs repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repository) FindJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) ListJobsByGiver(ctx context.Context, giverID uuid.UUID) ([]models.Job, error) {
	var jobsList []models.Job
	err := r.db.WithContext(ctx).
		Where("job_giver_id = ?", giverID).
		Order("created_at DESC").
		Find(&jobsList).Error
	if err != nil {
		return nil, err
	}
	return jobsList, nil
}

func (r *repository) ListJobsByInstaller(ctx context.Context, installerID uuid.UUID) ([]models.Job, error) {
	var jobsList []models.Job
	err := r.db.WithContext(ctx).
		Where("awarded_installer_id = ?", installerID).
		Order("created_at DESC").
		Find(&jobsList).Error
	if err != nil {
		return nil, err
	}
	return jobsList, nil
}

func (r *repository) ListFundingLapsedJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	var jobsList []models.Job
	query := r.db.WithContext(ctx).
		Where("status = ? AND funding_deadline IS NOT NULL AND funding_deadline < ?", enums.JobStatusPendingFunding, cutoff).
		Order("funding_deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobsList).Error; err != nil {
		return nil, err
	}
	return jobsList, nil
}

func (r *repository) TransitionJob(ctx context.Context, jobID uuid.UUID, from enums.JobStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) ConsumeStartCode(ctx context.Context, jobID uuid.UUID, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ? AND start_otp IS NOT NULL", jobID, enums.JobStatusInProgress).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) UpdateJob(ctx context.Context, jobID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}
