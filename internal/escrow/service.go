package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/internal/fees"
	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	dbtypes "github.com/installconnect/escrow-backend/pkg/db/types"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/gateway"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/metrics"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
	"github.com/installconnect/escrow-backend/pkg/security"
)

const currency = "INR"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	CreateOrder(ctx context.Context, params gateway.OrderCreateParams) (*gateway.Order, error)
	InitiateTransfer(ctx context.Context, params gateway.TransferParams) (*gateway.Transfer, error)
	CreateRefund(ctx context.Context, params gateway.RefundParams) (*gateway.Refund, error)
}

type codeLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	OTPAttemptScope(jobID, userID string) string
}

// Notifier hands the on-site start code to the delivery channel once funds
// capture. Fire-and-forget.
type Notifier interface {
	StartCodeIssued(ctx context.Context, jobID, giverID uuid.UUID, code string)
}

// Service owns the money side of the lifecycle: funding cycles, release,
// refunds, and the reconciliation entry points the webhook handler drives.
type Service interface {
	Fund(ctx context.Context, input FundJobInput) (*FundingSession, error)
	Complete(ctx context.Context, input CompleteJobInput) (*models.Job, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListTransactionsForJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error)
	SetPayoutProfile(ctx context.Context, installerID uuid.UUID, beneficiaryID string) error

	// Reconciliation hooks. Each returns whether the event changed state;
	// unknown or stale correlations return (false, nil) so the caller can
	// acknowledge without retries.
	ApplyCaptureSuccess(ctx context.Context, orderID string, occurredAt time.Time) (bool, error)
	ApplyCaptureFailure(ctx context.Context, orderID, reason string, occurredAt time.Time) (bool, error)
	ApplyPayoutSuccess(ctx context.Context, transferID string, occurredAt time.Time) (bool, error)
	ApplyPayoutFailure(ctx context.Context, transferID, reason string, occurredAt time.Time) (bool, error)

	// Scheduler entry points.
	ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	AutoSettle(ctx context.Context, jobID uuid.UUID) error

	// CancelFunding unwinds the open funding cycle during a job
	// cancellation, inside the caller's transaction.
	CancelFunding(ctx context.Context, tx *gorm.DB, job *models.Job, cancelledBy uuid.UUID) (int64, error)

	// Milestone and variation-order flows.
	AddMilestone(ctx context.Context, input AddMilestoneInput) (*models.Milestone, error)
	FundMilestone(ctx context.Context, input FundMilestoneInput) (*FundingSession, error)
	ReleaseMilestone(ctx context.Context, input ReleaseMilestoneInput) (*models.Milestone, error)
	ProposeTask(ctx context.Context, input ProposeTaskInput) (*models.AdditionalTask, error)
	QuoteTask(ctx context.Context, input QuoteTaskInput) (*models.AdditionalTask, error)
	DeclineTask(ctx context.Context, input DeclineTaskInput) (*models.AdditionalTask, error)
	FundTask(ctx context.Context, input FundTaskInput) (*FundingSession, error)
}

type service struct {
	repo      Repository
	jobsRepo  jobs.Repository
	tx        txRunner
	gw        gatewayClient
	outbox    outboxPublisher
	limiter   codeLimiter
	notifier  Notifier
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	escrowCfg config.EscrowConfig
	otpCfg    config.OTPRateLimitConfig
}

// NewService builds the escrow service with the required dependencies.
func NewService(
	repo Repository,
	jobsRepo jobs.Repository,
	tx txRunner,
	gw gatewayClient,
	outboxSvc outboxPublisher,
	limiter codeLimiter,
	notifier Notifier,
	settlementMetrics *metrics.SettlementMetrics,
	logg *logger.Logger,
	escrowCfg config.EscrowConfig,
	otpCfg config.OTPRateLimitConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if jobsRepo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("code limiter required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		jobsRepo:  jobsRepo,
		tx:        tx,
		gw:        gw,
		outbox:    outboxSvc,
		limiter:   limiter,
		notifier:  notifier,
		metrics:   settlementMetrics,
		logg:      logg,
		escrowCfg: escrowCfg,
		otpCfg:    otpCfg,
	}, nil
}

func (s *service) Fund(ctx context.Context, input FundJobInput) (*FundingSession, error) {
	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != input.GiverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	if job.Status != enums.JobStatusPendingFunding {
		if job.Status == enums.JobStatusDisputed {
			return nil, pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, not awaiting funding", job.Status))
	}
	if job.FundingDeadline != nil && time.Now().UTC().After(*job.FundingDeadline) {
		// Lazy sweep: cancel the lapsed job before rejecting so the stored
		// status catches up with the deadline.
		if err := s.cancelLapsedFunding(ctx, job); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "funding window has closed")
	}
	if job.AgreedAmount == nil || *job.AgreedAmount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job has no agreed amount")
	}
	if job.AwardedInstallerID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "job has no awarded installer")
	}

	// A retry against an existing pending cycle returns the same checkout
	// session instead of opening a second order.
	existing, err := s.repo.FindOpenJobTransaction(ctx, job.ID)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load open transaction")
	}
	if existing != nil {
		if existing.Status == enums.TransactionStatusFunded {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "job is already funded")
		}
		if existing.GatewayOrderID != nil && existing.GatewaySessionID != nil {
			return &FundingSession{
				TransactionID:    existing.ID,
				GatewayOrderID:   *existing.GatewayOrderID,
				GatewaySessionID: *existing.GatewaySessionID,
				Amount:           existing.Amount,
				JobGiverFee:      existing.JobGiverFee,
				TotalPayable:     existing.TotalPaidByGiver,
			}, nil
		}
	}

	return s.openFundingCycle(ctx, job, enums.TransactionKindJob, *job.AgreedAmount, nil, nil, input.ReturnURL)
}

// openFundingCycle snapshots the current platform rates, creates the ledger
// row and the gateway order. The gateway call happens before the row is
// written, so an order that fails to open leaves no ledger trace.
func (s *service) openFundingCycle(
	ctx context.Context,
	job *models.Job,
	kind enums.TransactionKind,
	amount int64,
	taskID, milestoneID *uuid.UUID,
	returnURL string,
) (*FundingSession, error) {
	settings, err := s.repo.CurrentPlatformSettings(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load platform settings")
	}
	split, err := fees.ComputeSplit(amount, settings.JobGiverFeeRate, settings.CommissionRate)
	if err != nil {
		return nil, err
	}

	txnID := uuid.New()
	orderID := "ORDER-" + txnID.String()

	order, err := s.gw.CreateOrder(ctx, gateway.OrderCreateParams{
		OrderID:    orderID,
		Amount:     split.TotalPaidByGiver,
		Currency:   currency,
		CustomerID: job.JobGiverID.String(),
		ReturnURL:  returnURL,
		Note:       "escrow for job " + job.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:                txnID,
		JobID:             job.ID,
		Kind:              kind,
		Status:            enums.TransactionStatusPending,
		PayerID:           job.JobGiverID,
		PayeeID:           job.AwardedInstallerID,
		TaskID:            taskID,
		MilestoneID:       milestoneID,
		Amount:            split.Amount,
		JobGiverFee:       split.JobGiverFee,
		Commission:        split.Commission,
		TotalPaidByGiver:  split.TotalPaidByGiver,
		PayoutToInstaller: split.PayoutToInstaller,
		JobGiverFeeRate:   split.JobGiverFeeRate,
		CommissionRate:    split.CommissionRate,
		GatewayOrderID:    &order.OrderID,
		GatewaySessionID:  &order.SessionID,
	}
	if _, err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create transaction")
	}

	return &FundingSession{
		TransactionID:    txn.ID,
		GatewayOrderID:   order.OrderID,
		GatewaySessionID: order.SessionID,
		Amount:           split.Amount,
		JobGiverFee:      split.JobGiverFee,
		TotalPayable:     split.TotalPaidByGiver,
	}, nil
}

func (s *service) Complete(ctx context.Context, input CompleteJobInput) (*models.Job, error) {
	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != enums.JobStatusPendingConfirmation {
		if job.Status == enums.JobStatusDisputed {
			return nil, pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, not awaiting confirmation", job.Status))
	}
	if job.CompletionOTP == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "no completion code issued for this job")
	}
	isParty := job.JobGiverID == input.ActorID ||
		(job.AwardedInstallerID != nil && *job.AwardedInstallerID == input.ActorID)
	if !isParty {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller is not a party to this job")
	}

	if err := s.allowCodeAttempt(ctx, job.ID, input.ActorID); err != nil {
		return nil, err
	}
	ok, err := security.VerifyOTP(input.Code, *job.CompletionOTP)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify completion code")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "completion code incorrect")
	}

	txn, err := s.fundedTransactionFor(ctx, job)
	if err != nil {
		return nil, err
	}

	attachments := append([]string(nil), job.Attachments...)
	attachments = append(attachments, input.Attachments...)

	err = s.releaseEscrow(ctx, job, txn, releaseParams{
		reason:       enums.SettlementReasonOtp,
		transferID:   "PAYOUT-" + txn.ID.String(),
		jobUpdates:   map[string]any{"attachments": dbtypes.StringArray(attachments), "completion_otp": nil},
		actor:        &outbox.ActorRef{UserID: input.ActorID, Role: enums.RoleInstaller},
		metricsLabel: "otp",
	})
	if err != nil {
		return nil, err
	}
	return s.loadJob(ctx, job.ID)
}

type releaseParams struct {
	reason       enums.SettlementReason
	transferID   string
	auditNote    *string
	jobUpdates   map[string]any
	actor        *outbox.ActorRef
	metricsLabel string
	autoSettled  bool
	graceDays    int
}

// releaseEscrow is the single release path: OTP confirmation and the
// auto-settle scheduler both come through here. The job and transaction
// transitions plus the outbox records commit in one transaction; the payout
// transfer is initiated after commit with the transfer ID as the gateway
// idempotency key.
func (s *service) releaseEscrow(ctx context.Context, job *models.Job, txn *models.Transaction, params releaseParams) error {
	if job.AwardedInstallerID == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "job has no awarded installer")
	}
	profile, err := s.repo.FindPayoutProfile(ctx, *job.AwardedInstallerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodePayoutConfig, "installer has no payout destination configured")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout profile")
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)

		jobUpdates := map[string]any{
			"status":       enums.JobStatusCompleted,
			"completed_at": now,
			"settled_by":   params.reason,
		}
		if params.auditNote != nil {
			jobUpdates["audit_note"] = *params.auditNote
		}
		for k, v := range params.jobUpdates {
			jobUpdates[k] = v
		}
		rows, err := jobsRepo.TransitionJob(ctx, job.ID, job.Status, jobUpdates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete job")
		}
		if rows == 0 {
			return s.lostJobTransition(ctx, jobsRepo, job.ID, enums.JobStatusCompleted)
		}

		rows, err = repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusFunded, map[string]any{
			"status":             enums.TransactionStatusReleased,
			"released_at":        now,
			"payout_transfer_id": params.transferID,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release transaction")
		}
		if rows == 0 {
			return s.lostTxnTransition(ctx, repo, txn.ID, enums.TransactionStatusReleased)
		}

		if params.autoSettled {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventJobAutoSettled,
				AggregateType: enums.AggregateJob,
				AggregateID:   job.ID,
				Data: payloads.JobAutoSettledEvent{
					JobID:         job.ID,
					TransactionID: txn.ID,
					GraceDays:     params.graceDays,
					SettledAt:     now,
				},
			}); err != nil {
				return err
			}
		} else {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventJobCompleted,
				AggregateType: enums.AggregateJob,
				AggregateID:   job.ID,
				Actor:         params.actor,
				Data: payloads.JobCompletedEvent{
					JobID:         job.ID,
					TransactionID: txn.ID,
					CompletedAt:   now,
				},
			}); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutReleased,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.PayoutReleasedEvent{
				JobID:         job.ID,
				TransactionID: txn.ID,
				TransferID:    params.transferID,
				Amount:        txn.PayoutToInstaller,
				ReleasedAt:    now,
			},
		})
	})
	if err != nil {
		return err
	}

	s.metrics.IncReleased(params.metricsLabel)
	s.initiateTransfer(ctx, job, txn, profile, params.transferID, params.metricsLabel)
	return nil
}

// initiateTransfer fires the payout after the ledger committed. Failures are
// recorded for remediation but never unwind the release: the transfer ID is
// globally unique, so a retried or webhook-confirmed transfer cannot pay
// twice.
func (s *service) initiateTransfer(ctx context.Context, job *models.Job, txn *models.Transaction, profile *models.PayoutProfile, transferID, path string) {
	ctx = s.logg.WithTransactionID(s.logg.WithJobID(ctx, job.ID.String()), txn.ID.String())
	_, err := s.gw.InitiateTransfer(ctx, gateway.TransferParams{
		TransferID:    transferID,
		BeneficiaryID: profile.BeneficiaryID,
		Amount:        txn.PayoutToInstaller,
		Remarks:       "payout for job " + job.ID.String(),
	})
	if err != nil {
		s.logg.Error(ctx, "payout transfer initiation failed", err)
		s.metrics.IncPayoutFailure(path)
		reason := err.Error()
		if updateErr := s.repo.UpdateTransaction(ctx, txn.ID, map[string]any{
			"failure_reason": reason,
		}); updateErr != nil {
			s.logg.Error(ctx, "record payout failure reason", updateErr)
		}
		return
	}
	s.logg.Info(ctx, "payout transfer initiated")
}

func (s *service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

func (s *service) ListTransactionsForJob(ctx context.Context, jobID uuid.UUID) ([]models.Transaction, error) {
	list, err := s.repo.ListTransactionsByJob(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list job transactions")
	}
	return list, nil
}

func (s *service) SetPayoutProfile(ctx context.Context, installerID uuid.UUID, beneficiaryID string) error {
	if beneficiaryID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "beneficiary id required")
	}
	err := s.repo.UpsertPayoutProfile(ctx, &models.PayoutProfile{
		InstallerID:   installerID,
		BeneficiaryID: beneficiaryID,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save payout profile")
	}
	return nil
}

func (s *service) ListSettleableJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	list, err := s.repo.ListSettleableJobs(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list settleable jobs")
	}
	return list, nil
}

// AutoSettle releases one idle pending-confirmation job without a code. The
// grace window is enforced by the caller's query; the funded-transaction
// check here re-validates that a dispute did not land in the meantime.
func (s *service) AutoSettle(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != enums.JobStatusPendingConfirmation {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, not awaiting confirmation", job.Status))
	}

	txn, err := s.fundedTransactionFor(ctx, job)
	if err != nil {
		return err
	}

	graceDays := s.escrowCfg.AutoSettleGraceDays
	note := fmt.Sprintf("[system] auto-settled after %d days of inactivity", graceDays)
	return s.releaseEscrow(ctx, job, txn, releaseParams{
		reason:       enums.SettlementReasonAuto,
		transferID:   "AUTOSETTLE-" + txn.ID.String(),
		auditNote:    &note,
		jobUpdates:   map[string]any{"completion_otp": nil},
		metricsLabel: "auto",
		autoSettled:  true,
		graceDays:    graceDays,
	})
}

// CancelFunding runs inside the jobs service's cancellation transaction. A
// pending cycle is marked failed; a captured cycle is refunded minus the
// cancellation fee, with the gateway refund confirmed before the ledger
// writes.
func (s *service) CancelFunding(ctx context.Context, tx *gorm.DB, job *models.Job, cancelledBy uuid.UUID) (int64, error) {
	repo := s.repo.WithTx(tx)

	txn, err := repo.FindOpenJobTransaction(ctx, job.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load open transaction")
	}

	now := time.Now().UTC()
	switch txn.Status {
	case enums.TransactionStatusPending:
		rows, err := repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusPending, map[string]any{
			"status":         enums.TransactionStatusFailed,
			"failed_at":      now,
			"failure_reason": "cancelled before capture",
		})
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail pending transaction")
		}
		if rows == 0 {
			return 0, pkgerrors.New(pkgerrors.CodeConflict, "transaction changed underneath this request")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFundingFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.FundingFailedEvent{
				JobID:         job.ID,
				TransactionID: txn.ID,
				Reason:        "cancelled before capture",
			},
		}); err != nil {
			return 0, err
		}
		return 0, nil

	case enums.TransactionStatusFunded:
		rate, err := fees.ParseRate(s.escrowCfg.CancellationFeePercent)
		if err != nil {
			return 0, err
		}
		fee := fees.CancellationFee(txn.TotalPaidByGiver, rate)
		refundAmount := txn.TotalPaidByGiver - fee
		refundID := "CANCEL-" + txn.ID.String()

		if txn.GatewayOrderID == nil {
			return 0, pkgerrors.New(pkgerrors.CodeInternal, "funded transaction has no gateway order")
		}
		if _, err := s.gw.CreateRefund(ctx, gateway.RefundParams{
			OrderID:  *txn.GatewayOrderID,
			RefundID: refundID,
			Amount:   refundAmount,
			Note:     "job cancelled by giver",
		}); err != nil {
			return 0, err
		}

		rows, err := repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusFunded, map[string]any{
			"status":      enums.TransactionStatusRefunded,
			"refunded_at": now,
			"refund_id":   refundID,
		})
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refund funded transaction")
		}
		if rows == 0 {
			return 0, pkgerrors.New(pkgerrors.CodeConflict, "transaction changed underneath this request")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundIssued,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: cancelledBy, Role: enums.RoleJobGiver},
			Data: payloads.RefundIssuedEvent{
				JobID:         job.ID,
				TransactionID: txn.ID,
				RefundID:      refundID,
				Amount:        refundAmount,
			},
		}); err != nil {
			return 0, err
		}
		return fee, nil

	default:
		return 0, nil
	}
}

// cancelLapsedFunding applies the funding-deadline expiry on the read path,
// mirroring the scheduled sweep, so a stale pending_funding job cannot
// accept money after its window closed.
func (s *service) cancelLapsedFunding(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	reason := "funding deadline lapsed"
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		fee, err := s.CancelFunding(ctx, tx, job, job.JobGiverID)
		if err != nil {
			return err
		}

		rows, err := s.jobsRepo.WithTx(tx).TransitionJob(ctx, job.ID, enums.JobStatusPendingFunding, map[string]any{
			"status":              enums.JobStatusCancelled,
			"cancelled_at":        now,
			"cancellation_reason": reason,
			"cancellation_fee":    fee,
			"audit_note":          "[system] cancelled on funding deadline expiry",
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel lapsed funding")
		}
		if rows == 0 {
			// A rival request or the scheduler already moved the job on.
			return nil
		}
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
}

func (s *service) fundedTransactionFor(ctx context.Context, job *models.Job) (*models.Transaction, error) {
	txn, err := s.repo.FindFundedJobTransaction(ctx, job.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "job has no funded escrow")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load funded transaction")
	}
	return txn, nil
}

func (s *service) loadJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.jobsRepo.FindJobByID(ctx, jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load job")
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

func (s *service) lostJobTransition(ctx context.Context, repo jobs.Repository, jobID uuid.UUID, to enums.JobStatus) error {
	job, err := repo.FindJobByID(ctx, jobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read job after lost write")
	}
	if job.Status == enums.JobStatusDisputed {
		return pkgerrors.New(pkgerrors.CodeDisputeFrozen, "job is frozen pending dispute resolution")
	}
	if job.Status.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition,
		fmt.Sprintf("job is %s, cannot move to %s", job.Status, to))
}

func (s *service) lostTxnTransition(ctx context.Context, repo Repository, txnID uuid.UUID, to enums.TransactionStatus) error {
	txn, err := repo.FindTransactionByID(ctx, txnID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read transaction after lost write")
	}
	if txn.Status == enums.TransactionStatusDisputed {
		return pkgerrors.New(pkgerrors.CodeDisputeFrozen, "transaction is frozen pending dispute resolution")
	}
	if txn.Status.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeConflict, "transaction changed underneath this request, refresh and retry")
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition,
		fmt.Sprintf("transaction is %s, cannot move to %s", txn.Status, to))
}
