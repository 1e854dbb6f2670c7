package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
)

// Milestones can be defined any time between award and work, but fund only
// once work is in progress.
var milestoneAddableStatuses = map[enums.JobStatus]bool{
	enums.JobStatusAwarded:        true,
	enums.JobStatusPendingFunding: true,
	enums.JobStatusInProgress:     true,
}

func (s *service) AddMilestone(ctx context.Context, input AddMilestoneInput) (*models.Milestone, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "milestone title required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "milestone amount must be positive")
	}

	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != input.GiverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	if !milestoneAddableStatuses[job.Status] {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, cannot add milestones", job.Status))
	}

	existing, err := s.repo.SumMilestoneAmounts(ctx, job.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum milestone amounts")
	}
	if existing+input.Amount > job.BudgetMax {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			"milestone amounts would exceed the job budget")
	}

	m, err := s.repo.CreateMilestone(ctx, &models.Milestone{
		JobID:  job.ID,
		Title:  strings.TrimSpace(input.Title),
		Amount: input.Amount,
		Status: enums.MilestoneStatusPending,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create milestone")
	}
	return m, nil
}

func (s *service) FundMilestone(ctx context.Context, input FundMilestoneInput) (*FundingSession, error) {
	m, err := s.loadMilestone(ctx, input.MilestoneID)
	if err != nil {
		return nil, err
	}
	if m.Status != enums.MilestoneStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("milestone is %s, not fundable", m.Status))
	}

	job, err := s.loadJob(ctx, m.JobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != input.GiverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	if job.Status != enums.JobStatusInProgress {
		if job.Status == enums.JobStatusDisputed {
			return nil, pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, milestones fund during work", job.Status))
	}

	milestoneID := m.ID
	return s.openFundingCycle(ctx, job, enums.TransactionKindMilestone, m.Amount, nil, &milestoneID, input.ReturnURL)
}

func (s *service) ReleaseMilestone(ctx context.Context, input ReleaseMilestoneInput) (*models.Milestone, error) {
	m, err := s.loadMilestone(ctx, input.MilestoneID)
	if err != nil {
		return nil, err
	}
	if m.Status != enums.MilestoneStatusFunded {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("milestone is %s, not releasable", m.Status))
	}

	job, err := s.loadJob(ctx, m.JobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != input.GiverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	if job.Status == enums.JobStatusDisputed {
		return nil, pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
	}
	if job.AwardedInstallerID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job has no awarded installer")
	}

	txn, err := s.repo.FindMilestoneTransaction(ctx, m.ID, enums.TransactionStatusFunded)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "milestone has no funded escrow")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load milestone transaction")
	}

	profile, err := s.repo.FindPayoutProfile(ctx, *job.AwardedInstallerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodePayoutConfig, "installer has no payout destination configured")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout profile")
	}

	now := time.Now().UTC()
	transferID := "PAYOUT-" + txn.ID.String()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		rows, err := repo.TransitionMilestone(ctx, m.ID, enums.MilestoneStatusFunded, map[string]any{
			"status":      enums.MilestoneStatusReleased,
			"released_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release milestone")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "milestone changed underneath this request, refresh and retry")
		}

		rows, err = repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusFunded, map[string]any{
			"status":             enums.TransactionStatusReleased,
			"released_at":        now,
			"payout_transfer_id": transferID,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release milestone transaction")
		}
		if rows == 0 {
			return s.lostTxnTransition(ctx, repo, txn.ID, enums.TransactionStatusReleased)
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutReleased,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: input.GiverID, Role: enums.RoleJobGiver},
			Data: payloads.PayoutReleasedEvent{
				JobID:         job.ID,
				TransactionID: txn.ID,
				TransferID:    transferID,
				Amount:        txn.PayoutToInstaller,
				ReleasedAt:    now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReleased("milestone")
	s.initiateTransfer(ctx, job, txn, profile, transferID, "milestone")
	return s.loadMilestone(ctx, m.ID)
}

func (s *service) ProposeTask(ctx context.Context, input ProposeTaskInput) (*models.AdditionalTask, error) {
	if strings.TrimSpace(input.Description) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task description required")
	}

	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != enums.JobStatusInProgress {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, variation orders are raised during work", job.Status))
	}
	isGiver := job.JobGiverID == input.CreatedBy
	isInstaller := job.AwardedInstallerID != nil && *job.AwardedInstallerID == input.CreatedBy
	if !isGiver && !isInstaller {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller is not a party to this job")
	}

	var task *models.AdditionalTask
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		created, err := repo.CreateTask(ctx, &models.AdditionalTask{
			JobID:         job.ID,
			Description:   strings.TrimSpace(input.Description),
			CreatedBy:     input.CreatedBy,
			CreatedByRole: input.Role,
			Status:        enums.TaskStatusPendingQuote,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create task")
		}
		task = created
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTaskProposed,
			AggregateType: enums.AggregateTask,
			AggregateID:   task.ID,
			Actor:         &outbox.ActorRef{UserID: input.CreatedBy, Role: input.Role},
			Data: payloads.TaskProposedEvent{
				TaskID:        task.ID,
				JobID:         job.ID,
				CreatedBy:     input.CreatedBy,
				CreatedByRole: input.Role,
				Description:   task.Description,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *service) QuoteTask(ctx context.Context, input QuoteTaskInput) (*models.AdditionalTask, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote amount must be positive")
	}

	task, err := s.loadTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	job, err := s.loadJob(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	if job.AwardedInstallerID == nil || *job.AwardedInstallerID != input.InstallerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the assigned installer quotes tasks")
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionTask(ctx, task.ID, enums.TaskStatusPendingQuote, map[string]any{
			"status":        enums.TaskStatusQuoted,
			"quoted_amount": input.Amount,
			"quoted_at":     now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "quote task")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "task is not awaiting a quote")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTaskQuoted,
			AggregateType: enums.AggregateTask,
			AggregateID:   task.ID,
			Actor:         &outbox.ActorRef{UserID: input.InstallerID, Role: enums.RoleInstaller},
			Data: payloads.TaskQuotedEvent{
				TaskID:       task.ID,
				JobID:        task.JobID,
				QuotedAmount: input.Amount,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.loadTask(ctx, task.ID)
}

func (s *service) DeclineTask(ctx context.Context, input DeclineTaskInput) (*models.AdditionalTask, error) {
	task, err := s.loadTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	job, err := s.loadJob(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	isGiver := job.JobGiverID == input.ActorID
	isInstaller := job.AwardedInstallerID != nil && *job.AwardedInstallerID == input.ActorID
	if !isGiver && !isInstaller {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller is not a party to this job")
	}
	if task.Status != enums.TaskStatusPendingQuote && task.Status != enums.TaskStatusQuoted {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("task is %s, cannot decline", task.Status))
	}

	rows, err := s.repo.TransitionTask(ctx, task.ID, task.Status, map[string]any{
		"status": enums.TaskStatusDeclined,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decline task")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "task changed underneath this request, refresh and retry")
	}
	return s.loadTask(ctx, task.ID)
}

func (s *service) FundTask(ctx context.Context, input FundTaskInput) (*FundingSession, error) {
	task, err := s.loadTask(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	if task.JobID != input.JobID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task belongs to another job")
	}
	if task.Status != enums.TaskStatusQuoted || task.QuotedAmount == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("task is %s, only quoted tasks fund", task.Status))
	}

	job, err := s.loadJob(ctx, task.JobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != input.GiverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	if job.Status != enums.JobStatusInProgress {
		if job.Status == enums.JobStatusDisputed {
			return nil, pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, add-on funding happens during work", job.Status))
	}

	taskID := task.ID
	return s.openFundingCycle(ctx, job, enums.TransactionKindAddOn, *task.QuotedAmount, &taskID, nil, input.ReturnURL)
}

func (s *service) loadMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	m, err := s.repo.FindMilestoneByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "milestone not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load milestone")
	}
	return m, nil
}

func (s *service) loadTask(ctx context.Context, id uuid.UUID) (*models.AdditionalTask, error) {
	task, err := s.repo.FindTaskByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load task")
	}
	return task, nil
}
