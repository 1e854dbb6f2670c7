package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
)

// Repository defines persistence operations for the jobs table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	FindJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByGiver(ctx context.Context, giverID uuid.UUID) ([]models.Job, error)
	ListJobsByInstaller(ctx context.Context, installerID uuid.UUID) ([]models.Job, error)

	// ListFundingLapsedJobs returns pending-funding jobs whose funding
	// deadline passed before the cutoff. Used by the deadline sweep.
	ListFundingLapsedJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)

	// TransitionJob performs a status-guarded conditional update and reports
	// how many rows it touched. Zero rows means the guard did not match.
	TransitionJob(ctx context.Context, jobID uuid.UUID, from enums.JobStatus, updates map[string]any) (int64, error)

	// ConsumeStartCode clears the start code for an in-progress job. The
	// guard on the code column keeps the code single-use under races.
	ConsumeStartCode(ctx context.Context, jobID uuid.UUID, updates map[string]any) (int64, error)

	// UpdateJob writes non-lifecycle columns without a status guard.
	UpdateJob(ctx context.Context, jobID uuid.UUID, updates map[string]any) error
}
