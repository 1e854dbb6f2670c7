package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/internal/escrow"
	"github.com/installconnect/escrow-backend/internal/fees"
	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/gateway"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/metrics"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	InitiateTransfer(ctx context.Context, params gateway.TransferParams) (*gateway.Transfer, error)
	CreateRefund(ctx context.Context, params gateway.RefundParams) (*gateway.Refund, error)
}

// Service freezes funded escrows behind a dispute and settles them on an
// admin verdict. While a dispute is open every money-moving operation on the
// job is rejected.
type Service interface {
	Raise(ctx context.Context, input RaiseDisputeInput) (*models.Dispute, error)
	Resolve(ctx context.Context, input ResolveDisputeInput) (*models.Dispute, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	List(ctx context.Context, filter ListDisputesFilter) ([]models.Dispute, error)
}

type service struct {
	repo     Repository
	jobsRepo jobs.Repository
	ledger   escrow.Repository
	tx       txRunner
	gw       gatewayClient
	outbox   outboxPublisher
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
}

// NewService builds the disputes service with the required dependencies.
func NewService(
	repo Repository,
	jobsRepo jobs.Repository,
	ledger escrow.Repository,
	tx txRunner,
	gw gatewayClient,
	outboxSvc outboxPublisher,
	settlementMetrics *metrics.SettlementMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("disputes repository required")
	}
	if jobsRepo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("escrow repository required")
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
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		jobsRepo: jobsRepo,
		ledger:   ledger,
		tx:       tx,
		gw:       gw,
		outbox:   outboxSvc,
		metrics:  settlementMetrics,
		logg:     logg,
	}, nil
}

// Raise freezes the job and its funded escrow in one transaction. The escrow
// must be captured: an uncaptured cycle has nothing to freeze, the giver
// simply cancels instead.
func (s *service) Raise(ctx context.Context, input RaiseDisputeInput) (*models.Dispute, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason required")
	}

	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if err := s.checkParty(job, input.RaisedBy, input.Role); err != nil {
		return nil, err
	}
	if !job.Status.CanTransitionTo(enums.JobStatusDisputed) {
		if job.Status == enums.JobStatusDisputed {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a dispute is already open for this job")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, cannot be disputed", job.Status))
	}

	txn, err := s.ledger.FindFundedJobTransaction(ctx, job.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "job has no funded escrow to dispute")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load funded transaction")
	}

	if _, err := s.repo.FindOpenDisputeByJob(ctx, job.ID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a dispute is already open for this job")
	} else if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check open dispute")
	}

	var dispute *models.Dispute
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)
		ledger := s.ledger.WithTx(tx)

		rows, err := jobsRepo.TransitionJob(ctx, job.ID, job.Status, map[string]any{
			"status": enums.JobStatusDisputed,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "freeze job")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
		}

		rows, err = ledger.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusFunded, map[string]any{
			"status": enums.TransactionStatusDisputed,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "freeze transaction")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "escrow changed underneath this request, refresh and retry")
		}

		created, err := repo.CreateDispute(ctx, &models.Dispute{
			JobID:         job.ID,
			TransactionID: txn.ID,
			RaisedBy:      input.RaisedBy,
			RaisedByRole:  input.Role,
			Reason:        strings.TrimSpace(input.Reason),
			Description:   input.Description,
			Status:        enums.DisputeStatusOpen,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create dispute")
		}
		dispute = created

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeRaised,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.RaisedBy, Role: input.Role},
			Data: payloads.DisputeRaisedEvent{
				DisputeID:     dispute.ID,
				JobID:         job.ID,
				TransactionID: txn.ID,
				RaisedBy:      input.RaisedBy,
				RaisedByRole:  input.Role,
				Reason:        dispute.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

// Resolve settles an open dispute with an admin verdict. The refund leg, if
// any, is confirmed with the gateway before the ledger writes; the payout
// leg is initiated after commit like every other release.
func (s *service) Resolve(ctx context.Context, input ResolveDisputeInput) (*models.Dispute, error) {
	dispute, err := s.Get(ctx, input.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != enums.DisputeStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "dispute is already resolved")
	}
	if !input.Verdict.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown verdict")
	}

	job, err := s.loadJob(ctx, dispute.JobID)
	if err != nil {
		return nil, err
	}
	txn, err := s.ledger.FindTransactionByID(ctx, dispute.TransactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load disputed transaction")
	}
	if txn.Status != enums.TransactionStatusDisputed {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("transaction is %s, not frozen", txn.Status))
	}

	payout, refund, err := verdictAmounts(txn, input.Verdict, input.SplitPercent)
	if err != nil {
		return nil, err
	}

	var profile *models.PayoutProfile
	if payout > 0 {
		if job.AwardedInstallerID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "job has no awarded installer")
		}
		profile, err = s.ledger.FindPayoutProfile(ctx, *job.AwardedInstallerID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, pkgerrors.New(pkgerrors.CodePayoutConfig, "installer has no payout destination configured")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout profile")
		}
	}

	transferID := "DISPUTE-" + txn.ID.String()
	refundID := "REFUND-" + txn.ID.String()
	if refund > 0 {
		if txn.GatewayOrderID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "disputed transaction has no gateway order")
		}
		if _, err := s.gw.CreateRefund(ctx, gateway.RefundParams{
			OrderID:  *txn.GatewayOrderID,
			RefundID: refundID,
			Amount:   refund,
			Note:     "dispute resolution",
		}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)
		ledger := s.ledger.WithTx(tx)

		rows, err := repo.TransitionDispute(ctx, dispute.ID, enums.DisputeStatusOpen, map[string]any{
			"status":        enums.DisputeStatusResolved,
			"verdict":       input.Verdict,
			"split_percent": input.SplitPercent,
			"resolved_by":   input.AdminID,
			"resolved_at":   now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve dispute")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute changed underneath this request, refresh and retry")
		}

		jobStatus := enums.JobStatusCompleted
		if input.Verdict == enums.DisputeVerdictRefund {
			jobStatus = enums.JobStatusCancelled
		}
		note := fmt.Sprintf("dispute resolved: %s", input.Verdict)
		if input.Note != nil && strings.TrimSpace(*input.Note) != "" {
			note = strings.TrimSpace(*input.Note)
		}
		jobUpdates := map[string]any{
			"status":     jobStatus,
			"settled_by": enums.SettlementReasonAdmin,
			"audit_note": note,
		}
		if jobStatus == enums.JobStatusCompleted {
			jobUpdates["completed_at"] = now
		}
		rows, err = jobsRepo.TransitionJob(ctx, job.ID, enums.JobStatusDisputed, jobUpdates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unfreeze job")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
		}

		txnStatus := enums.TransactionStatusReleased
		txnUpdates := map[string]any{"released_at": now, "payout_transfer_id": transferID}
		if payout == 0 {
			txnStatus = enums.TransactionStatusRefunded
			txnUpdates = map[string]any{"refunded_at": now}
		}
		txnUpdates["status"] = txnStatus
		if refund > 0 {
			txnUpdates["refund_id"] = refundID
		}
		rows, err = ledger.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusDisputed, txnUpdates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle disputed transaction")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "escrow changed underneath this request, refresh and retry")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: enums.RoleAdmin},
			Data: payloads.DisputeResolvedEvent{
				DisputeID:     dispute.ID,
				JobID:         job.ID,
				TransactionID: txn.ID,
				Verdict:       input.Verdict,
				SplitPercent:  input.SplitPercent,
				PayoutAmount:  payout,
				RefundAmount:  refund,
			},
		}); err != nil {
			return err
		}

		if payout > 0 {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayoutReleased,
				AggregateType: enums.AggregateTransaction,
				AggregateID:   txn.ID,
				Data: payloads.PayoutReleasedEvent{
					JobID:         job.ID,
					TransactionID: txn.ID,
					TransferID:    transferID,
					Amount:        payout,
					ReleasedAt:    now,
				},
			}); err != nil {
				return err
			}
		}
		if refund > 0 {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRefundIssued,
				AggregateType: enums.AggregateTransaction,
				AggregateID:   txn.ID,
				Data: payloads.RefundIssuedEvent{
					JobID:         job.ID,
					TransactionID: txn.ID,
					RefundID:      refundID,
					Amount:        refund,
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payout > 0 {
		s.metrics.IncReleased("dispute")
		s.initiateTransfer(ctx, job, txn, profile, transferID, payout)
	}
	return s.Get(ctx, dispute.ID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.FindDisputeByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load dispute")
	}
	return dispute, nil
}

func (s *service) List(ctx context.Context, filter ListDisputesFilter) ([]models.Dispute, error) {
	disputes, err := s.repo.ListDisputes(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list disputes")
	}
	return disputes, nil
}

// verdictAmounts maps a verdict to the payout and refund legs. A full refund
// returns the complete capture including fees: the giver walks away whole.
// The split divides the escrowed amount; the platform keeps its fees.
func verdictAmounts(txn *models.Transaction, verdict enums.DisputeVerdict, splitPercent *int) (payout, refund int64, err error) {
	switch verdict {
	case enums.DisputeVerdictRelease:
		return txn.PayoutToInstaller, 0, nil
	case enums.DisputeVerdictRefund:
		return 0, txn.TotalPaidByGiver, nil
	case enums.DisputeVerdictSplit:
		if splitPercent == nil {
			return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "split verdict requires a split percent")
		}
		toInstaller, toGiver, err := fees.DisputeSplit(txn.Amount, *splitPercent)
		if err != nil {
			return 0, 0, err
		}
		return toInstaller, toGiver, nil
	default:
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "unknown verdict")
	}
}

func (s *service) initiateTransfer(ctx context.Context, job *models.Job, txn *models.Transaction, profile *models.PayoutProfile, transferID string, amount int64) {
	ctx = s.logg.WithTransactionID(s.logg.WithJobID(ctx, job.ID.String()), txn.ID.String())
	_, err := s.gw.InitiateTransfer(ctx, gateway.TransferParams{
		TransferID:    transferID,
		BeneficiaryID: profile.BeneficiaryID,
		Amount:        amount,
		Remarks:       "dispute resolution for job " + job.ID.String(),
	})
	if err != nil {
		s.logg.Error(ctx, "dispute payout transfer initiation failed", err)
		s.metrics.IncPayoutFailure("dispute")
		if updateErr := s.ledger.UpdateTransaction(ctx, txn.ID, map[string]any{
			"failure_reason": err.Error(),
		}); updateErr != nil {
			s.logg.Error(ctx, "record payout failure reason", updateErr)
		}
		return
	}
	s.logg.Info(ctx, "dispute payout transfer initiated")
}

func (s *service) checkParty(job *models.Job, actorID uuid.UUID, role enums.Role) error {
	switch role {
	case enums.RoleJobGiver:
		if job.JobGiverID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
		}
	case enums.RoleInstaller:
		if job.AwardedInstallerID == nil || *job.AwardedInstallerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "caller is not the awarded installer")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the job parties raise disputes")
	}
	return nil
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
