package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Repository defines persistence operations for the escrow ledger:
// transactions, milestones, variation orders, payout profiles and the
// platform fee settings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTransaction(ctx context.Context, txn *models.Transaction) (*models.Transaction, error)
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindTransactionByGatewayOrderID(ctx context.Context, orderID string) (*models.Transaction, error)
	FindTransactionByTransferID(ctx context.Context, transferID string) (*models.Transaction, error)
	ListTransactionsByJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error)

	// FindOpenJobTransaction returns the pending or funded job-kind
	// transaction for a job, if one exists.
	FindOpenJobTransaction(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error)

	// FindFundedJobTransaction returns the funded job-kind transaction.
	FindFundedJobTransaction(ctx context.Context, jobID uuid.UUID) (*models.Transaction, error)

	// TransitionTransaction is a status-guarded conditional update.
	TransitionTransaction(ctx context.Context, txnID uuid.UUID, from enums.TransactionStatus, updates map[string]any) (int64, error)

	UpdateTransaction(ctx context.Context, txnID uuid.UUID, updates map[string]any) error

	FindPayoutProfile(ctx context.Context, installerID uuid.UUID) (*models.PayoutProfile, error)
	UpsertPayoutProfile(ctx context.Context, profile *models.PayoutProfile) error
	CurrentPlatformSettings(ctx context.Context) (*models.PlatformSettings, error)

	CreateMilestone(ctx context.Context, m *models.Milestone) (*models.Milestone, error)
	FindMilestoneByID(ctx context.Context, id uuid.UUID) (*models.Milestone, error)
	SumMilestoneAmounts(ctx context.Context, jobID uuid.UUID) (int64, error)
	TransitionMilestone(ctx context.Context, milestoneID uuid.UUID, from enums.MilestoneStatus, updates map[string]any) (int64, error)
	FindMilestoneTransaction(ctx context.Context, milestoneID uuid.UUID, status enums.TransactionStatus) (*models.Transaction, error)

	CreateTask(ctx context.Context, task *models.AdditionalTask) (*models.AdditionalTask, error)
	FindTaskByID(ctx context.Context, id uuid.UUID) (*models.AdditionalTask, error)
	TransitionTask(ctx context.Context, taskID uuid.UUID, from enums.TaskStatus, updates map[string]any) (int64, error)

	// ListSettleableJobs returns pending-confirmation jobs whose work was
	// submitted before the cutoff. Used by the auto-settle scheduler.
	ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
}
