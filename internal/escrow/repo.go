package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an escrow repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *repository) FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", orderID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransactionByTransferID(ctx context.Context, transferID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("payout_transfer_id = ?", transferID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListTransactionsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error) {
	var list []models.Transaction
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *repository) FindOpenJobTransaction(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND kind = ? AND status IN ?", jobID, enums.TransactionKindJob,
			[]enums.TransactionStatus{enums.TransactionStatusPending, enums.TransactionStatusFunded}).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindFundedJobTransaction(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND kind = ? AND status = ?", jobID, enums.TransactionKindJob, enums.TransactionStatusFunded).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) TransitionTransaction(ctx context.Context, txnID uuid.UUID, from enums.TransactionStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", txnID, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, txnID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", txnID).
		Updates(updates).Error
}

func (r *repository) FindPayoutProfile(ctx context.Context, installerID uuid.UUID) (*models.PayoutProfile, error) {
	var profile models.PayoutProfile
	err := r.db.WithContext(ctx).
		Where("installer_id = ?", installerID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) UpsertPayoutProfile(ctx context.Context, profile *models.PayoutProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "installer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"beneficiary_id", "updated_at"}),
		}).
		Create(profile).Error
}

func (r *repository) CurrentPlatformSettings(ctx context.Context) (*models.PlatformSettings, error) {
	var settings models.PlatformSettings
	err := r.db.WithContext(ctx).
		Order("version DESC").
		First(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *repository) CreateMilestone(ctx context.Context, m *models.Milestone) (*models.Milestone, error) {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (r *repository) FindMilestoneByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	var m models.Milestone
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) SumMilestoneAmounts(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Milestone{}).
		Where("job_id = ?", jobID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) TransitionMilestone(ctx context.Context, milestoneID uuid.UUID, from enums.MilestoneStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Milestone{}).
		Where("id = ? AND status = ?", milestoneID, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) FindMilestoneTransaction(ctx context.Context, milestoneID uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Where("milestone_id = ? AND status = ?", milestoneID, status).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) CreateTask(ctx context.Context, task *models.AdditionalTask) (*models.AdditionalTask, error) {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *repository) FindTaskByID(ctx context.Context, id uuid.UUID) (*models.AdditionalTask, error) {
	var task models.AdditionalTask
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) TransitionTask(ctx context.Context, taskID uuid.UUID, from enums.TaskStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AdditionalTask{}).
		Where("id = ? AND status = ?", taskID, from).
		Updates(updates)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	var list []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND work_submitted_at IS NOT NULL AND work_submitted_at < ?",
			enums.JobStatusPendingConfirmation, cutoff).
		Order("work_submitted_at ASC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}
