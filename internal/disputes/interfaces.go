package disputes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Repository defines persistence operations for disputes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateDispute(ctx context.Context, dispute *models.Dispute) (*models.Dispute, error)
	FindDisputeByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)

	// FindOpenDisputeByJob returns the open dispute for a job. At most one
	// can exist; a partial unique index enforces it.
	FindOpenDisputeByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)

	ListDisputes(ctx context.Context, filter ListDisputesFilter) ([]models.Dispute, error)

	// TransitionDispute is a status-guarded conditional update.
	TransitionDispute(ctx context.Context, disputeID uuid.UUID, from enums.DisputeStatus, updates map[string]any) (int64, error)
}
