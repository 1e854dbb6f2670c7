package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	dbtypes "github.com/installconnect/escrow-backend/pkg/db/types"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
	"github.com/installconnect/escrow-backend/pkg/security"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type codeLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	OTPAttemptScope(jobID, userID string) string
}

// FundingCanceller unwinds any open escrow cycle when a job is cancelled.
// It returns the cancellation fee withheld from the refund, zero when no
// funds were captured.
type FundingCanceller interface {
	CancelFunding(ctx context.Context, tx *gorm.DB, job *models.Job, cancelledBy uuid.UUID) (int64, error)
}

// Notifier hands proof-of-presence codes to the delivery channel. Calls are
// fire-and-forget; a delivery failure never rolls back a transition.
type Notifier interface {
	CompletionCodeIssued(ctx context.Context, jobID, giverID uuid.UUID, code string)
}

// Service defines job lifecycle operations outside the bidding and escrow
// flows.
type Service interface {
	CreateDraft(ctx context.Context, input CreateJobInput) (*models.Job, error)
	Publish(ctx context.Context, input PublishJobInput) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByGiver(ctx context.Context, giverID uuid.UUID) ([]models.Job, error)
	ListByInstaller(ctx context.Context, installerID uuid.UUID) ([]models.Job, error)
	StartWork(ctx context.Context, input StartWorkInput) (*models.Job, error)
	SubmitWork(ctx context.Context, input SubmitWorkInput) (*models.Job, error)
	Cancel(ctx context.Context, input CancelJobInput) (*models.Job, error)
	SweepFundingDeadline(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	limiter   codeLimiter
	canceller FundingCanceller
	notifier  Notifier
	escrowCfg config.EscrowConfig
	otpCfg    config.OTPRateLimitConfig
}

// NewService builds a jobs service with the required dependencies.
func NewService(
	repo Repository,
	tx txRunner,
	outboxSvc outboxPublisher,
	limiter codeLimiter,
	canceller FundingCanceller,
	notifier Notifier,
	escrowCfg config.EscrowConfig,
	otpCfg config.OTPRateLimitConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("code limiter required")
	}
	if canceller == nil {
		return nil, fmt.Errorf("funding canceller required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		outbox:    outboxSvc,
		limiter:   limiter,
		canceller: canceller,
		notifier:  notifier,
		escrowCfg: escrowCfg,
		otpCfg:    otpCfg,
	}, nil
}

// noShowReasons are cancellation reasons that must go through the dispute
// path so an admin can waive the fee after review, never self-service.
var noShowReasons = map[string]bool{
	"installer no-show": true,
	"installer no show": true,
	"installer_no_show": true,
}

func (s *service) CreateDraft(ctx context.Context, input CreateJobInput) (*models.Job, error) {
	if input.GiverID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job giver id required")
	}
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.Description) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title and description required")
	}
	if input.BudgetMin < 0 || input.BudgetMax < input.BudgetMin {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "budget range invalid")
	}

	job := &models.Job{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Location:    strings.TrimSpace(input.Location),
		SkillTags:   dbtypes.StringArray(input.SkillTags),
		JobGiverID:  input.GiverID,
		BudgetMin:   input.BudgetMin,
		BudgetMax:   input.BudgetMax,
		Status:      enums.JobStatusDraft,
	}
	created, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create job draft")
	}
	return created, nil
}

func (s *service) Publish(ctx context.Context, input PublishJobInput) (*models.Job, error) {
	job, err := s.loadOwnedJob(ctx, input.JobID, input.GiverID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(job.Category) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category required before publishing")
	}
	if strings.TrimSpace(job.Location) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location required before publishing")
	}
	if input.BiddingDeadline != nil && !input.BiddingDeadline.After(time.Now().UTC()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bidding deadline must be in the future")
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionJob(ctx, job.ID, enums.JobStatusDraft, map[string]any{
			"status":           enums.JobStatusOpen,
			"posted_at":        now,
			"bidding_deadline": input.BiddingDeadline,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "publish job")
		}
		if rows == 0 {
			return s.lostTransition(ctx, repo, job.ID, enums.JobStatusOpen)
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobPublished,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.GiverID, Role: enums.RoleJobGiver},
			Data: payloads.JobPublishedEvent{
				JobID:           job.ID,
				JobGiverID:      job.JobGiverID,
				Category:        job.Category,
				BudgetMin:       job.BudgetMin,
				BudgetMax:       job.BudgetMax,
				BiddingDeadline: input.BiddingDeadline,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindJobByID(ctx, job.ID)
}

func (s *service) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.repo.FindJobByID(ctx, jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load job")
	}
	return job, nil
}

func (s *service) ListByGiver(ctx context.Context, giverID uuid.UUID) ([]models.Job, error) {
	list, err := s.repo.ListJobsByGiver(ctx, giverID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list giver jobs")
	}
	return list, nil
}

func (s *service) ListByInstaller(ctx context.Context, installerID uuid.UUID) ([]models.Job, error) {
	list, err := s.repo.ListJobsByInstaller(ctx, installerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list installer jobs")
	}
	return list, nil
}

func (s *service) StartWork(ctx context.Context, input StartWorkInput) (*models.Job, error) {
	job, err := s.Get(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.AwardedInstallerID == nil || *job.AwardedInstallerID != input.InstallerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job is not assigned to this installer")
	}
	if job.Status != enums.JobStatusInProgress {
		return nil, s.lostTransitionFrom(job, enums.JobStatusInProgress)
	}
	if job.WorkStartedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "work already started")
	}
	if job.StartOTP == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "no start code issued for this job")
	}

	if err := s.allowCodeAttempt(ctx, job.ID, input.InstallerID); err != nil {
		return nil, err
	}
	ok, err := security.VerifyOTP(input.Code, *job.StartOTP)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify start code")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "start code incorrect")
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.ConsumeStartCode(ctx, job.ID, map[string]any{
			"start_otp":       nil,
			"work_started_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume start code")
		}
		if rows == 0 {
			// Code already used or the job moved. Either way the caller
			// cannot proceed.
			return pkgerrors.New(pkgerrors.CodeConflict, "start code no longer valid")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWorkStarted,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.InstallerID, Role: enums.RoleInstaller},
			Data: payloads.WorkStartedEvent{
				JobID:       job.ID,
				InstallerID: input.InstallerID,
				StartedAt:   now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindJobByID(ctx, job.ID)
}

func (s *service) SubmitWork(ctx context.Context, input SubmitWorkInput) (*models.Job, error) {
	job, err := s.Get(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.AwardedInstallerID == nil || *job.AwardedInstallerID != input.InstallerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job is not assigned to this installer")
	}
	if job.Status != enums.JobStatusInProgress {
		return nil, s.lostTransitionFrom(job, enums.JobStatusPendingConfirmation)
	}
	if job.WorkStartedAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "work has not been started")
	}

	code, err := security.GenerateOTP()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate completion code")
	}
	hashed, err := security.HashOTP(code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash completion code")
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionJob(ctx, job.ID, enums.JobStatusInProgress, map[string]any{
			"status":            enums.JobStatusPendingConfirmation,
			"completion_otp":    hashed,
			"work_submitted_at": now,
			"attachments":       dbtypes.StringArray(input.Attachments),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "submit work")
		}
		if rows == 0 {
			return s.lostTransition(ctx, repo, job.ID, enums.JobStatusPendingConfirmation)
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWorkSubmitted,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.InstallerID, Role: enums.RoleInstaller},
			Data: payloads.WorkSubmittedEvent{
				JobID:       job.ID,
				InstallerID: input.InstallerID,
				SubmittedAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	// Delivery happens outside the transaction; the giver learns the code
	// through the notification channel, never through the installer response.
	s.notifier.CompletionCodeIssued(ctx, job.ID, job.JobGiverID, code)

	return s.repo.FindJobByID(ctx, job.ID)
}

// cancellableStatuses are the pre-work states a giver may cancel from.
var cancellableStatuses = map[enums.JobStatus]bool{
	enums.JobStatusDraft:          true,
	enums.JobStatusOpen:           true,
	enums.JobStatusBiddingClosed:  true,
	enums.JobStatusAwarded:        true,
	enums.JobStatusPendingFunding: true,
}

func (s *service) Cancel(ctx context.Context, input CancelJobInput) (*models.Job, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}
	if noShowReasons[strings.ToLower(reason)] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			"installer no-show must be raised as a dispute for a fee-free refund")
	}

	job, err := s.loadOwnedJob(ctx, input.JobID, input.CancelledBy)
	if err != nil {
		return nil, err
	}
	if !cancellableStatuses[job.Status] {
		return nil, s.lostTransitionFrom(job, enums.JobStatusCancelled)
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		fee, err := s.canceller.CancelFunding(ctx, tx, job, input.CancelledBy)
		if err != nil {
			return err
		}

		rows, err := repo.TransitionJob(ctx, job.ID, job.Status, map[string]any{
			"status":              enums.JobStatusCancelled,
			"cancelled_at":        now,
			"cancellation_reason": reason,
			"cancellation_fee":    fee,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel job")
		}
		if rows == 0 {
			return s.lostTransition(ctx, repo, job.ID, enums.JobStatusCancelled)
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobCancelled,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.CancelledBy, Role: enums.RoleJobGiver},
			Data: payloads.JobCancelledEvent{
				JobID:           job.ID,
				CancelledBy:     input.CancelledBy,
				Reason:          reason,
				CancellationFee: fee,
				CancelledAt:     now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindJobByID(ctx, job.ID)
}

// SweepFundingDeadline cancels a pending-funding job whose funding window
// lapsed. The scheduler calls it on its own cadence; the funding read path
// applies the same CAS transition itself before rejecting. Returns true
// when the sweep applied a transition.
func (s *service) SweepFundingDeadline(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != enums.JobStatusPendingFunding || job.FundingDeadline == nil {
		return false, nil
	}
	if time.Now().UTC().Before(*job.FundingDeadline) {
		return false, nil
	}

	now := time.Now().UTC()
	reason := "funding deadline lapsed"
	swept := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		fee, err := s.canceller.CancelFunding(ctx, tx, job, job.JobGiverID)
		if err != nil {
			return err
		}

		rows, err := repo.TransitionJob(ctx, job.ID, enums.JobStatusPendingFunding, map[string]any{
			"status":              enums.JobStatusCancelled,
			"cancelled_at":        now,
			"cancellation_reason": reason,
			"cancellation_fee":    fee,
			"audit_note":          "[system] cancelled on funding deadline expiry",
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sweep funding deadline")
		}
		if rows == 0 {
			// Someone funded or cancelled in the meantime; nothing to sweep.
			return nil
		}
		swept = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobCancelled,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Data: payloads.JobCancelledEvent{
				JobID:           job.ID,
				CancelledBy:     job.JobGiverID,
				Reason:          reason,
				CancellationFee: fee,
				CancelledAt:     now,
			},
		})
	})
	if err != nil {
		return false, err
	}
	return swept, nil
}

func (s *service) loadOwnedJob(ctx context.Context, jobID, giverID uuid.UUID) (*models.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != giverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	return job, nil
}

func (s *service) allowCodeAttempt(ctx context.Context, jobID, userID uuid.UUID) error {
	scope := s.limiter.OTPAttemptScope(jobID.String(), userID.String())
	allowed, _, err := s.limiter.FixedWindowAllow(ctx, scope, int64(s.otpCfg.VerifyAttempts), s.otpCfg.VerifyWindow)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "code attempt limiter")
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many code attempts, retry later")
	}
	return nil
}

// lostTransition re-reads after a zero-row conditional update and classifies
// the failure for the caller: retry after refresh, or give up.
func (s *service) lostTransition(ctx context.Context, repo Repository, jobID uuid.UUID, to enums.JobStatus) error {
	job, err := repo.FindJobByID(ctx, jobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read job after lost write")
	}
	return s.lostTransitionFrom(job, to)
}

func (s *service) lostTransitionFrom(job *models.Job, to enums.JobStatus) error {
	if job.Status == enums.JobStatusDisputed {
		return pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
	}
	if job.Status.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition,
		fmt.Sprintf("job is %s, cannot move to %s", job.Status, to))
}
