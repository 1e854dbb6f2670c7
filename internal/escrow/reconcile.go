package escrow

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/gateway"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
	"github.com/installconnect/escrow-backend/pkg/security"
)

// ApplyCaptureSuccess marks a pending transaction funded and advances the
// job that was waiting on it. Capture confirmation is ledger truth: the job
// never reaches in_progress any other way.
func (s *service) ApplyCaptureSuccess(ctx context.Context, orderID string, occurredAt time.Time) (bool, error) {
	txn, err := s.repo.FindTransactionByGatewayOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up transaction by order")
	}
	if txn.Status != enums.TransactionStatusPending {
		// Duplicate or late delivery; the first one won.
		return false, nil
	}

	job, err := s.loadJob(ctx, txn.JobID)
	if err != nil {
		return false, err
	}

	var startCode, startHash string
	if txn.Kind == enums.TransactionKindJob {
		startCode, err = security.GenerateOTP()
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate start code")
		}
		startHash, err = security.HashOTP(startCode)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash start code")
		}
	}

	refundCancelled := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)

		rows, err := repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusPending, map[string]any{
			"status":    enums.TransactionStatusFunded,
			"funded_at": occurredAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark transaction funded")
		}
		if rows == 0 {
			// A concurrent delivery won; treat as already applied.
			return nil
		}

		switch txn.Kind {
		case enums.TransactionKindJob:
			rows, err := jobsRepo.TransitionJob(ctx, job.ID, enums.JobStatusPendingFunding, map[string]any{
				"status":    enums.JobStatusInProgress,
				"start_otp": startHash,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance job on capture")
			}
			if rows == 0 {
				// The job moved while the payment was in flight. A
				// cancellation means the money must go straight back.
				current, err := jobsRepo.FindJobByID(ctx, job.ID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read job on capture race")
				}
				if current.Status == enums.JobStatusCancelled {
					refundCancelled = true
				}
				startCode = ""
			}

		case enums.TransactionKindMilestone:
			if txn.MilestoneID != nil {
				if _, err := repo.TransitionMilestone(ctx, *txn.MilestoneID, enums.MilestoneStatusPending, map[string]any{
					"status":    enums.MilestoneStatusFunded,
					"funded_at": occurredAt,
				}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark milestone funded")
				}
				if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventMilestoneFunded,
					AggregateType: enums.AggregateMilestone,
					AggregateID:   *txn.MilestoneID,
					Data: payloads.MilestoneFundedEvent{
						MilestoneID:   *txn.MilestoneID,
						JobID:         job.ID,
						TransactionID: txn.ID,
						Amount:        txn.Amount,
					},
				}); err != nil {
					return err
				}
			}

		case enums.TransactionKindAddOn:
			if txn.TaskID != nil {
				if _, err := repo.TransitionTask(ctx, *txn.TaskID, enums.TaskStatusQuoted, map[string]any{
					"status": enums.TaskStatusFunded,
				}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark task funded")
				}
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobFunded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.JobFundedEvent{
				JobID:         job.ID,
				TransactionID: txn.ID,
				Amount:        txn.Amount,
				TotalPaid:     txn.TotalPaidByGiver,
				FundedAt:      occurredAt,
			},
		})
	})
	if err != nil {
		return false, err
	}

	if refundCancelled {
		s.refundAfterCancelledCapture(ctx, job, txn)
		return true, nil
	}
	if startCode != "" {
		s.notifier.StartCodeIssued(ctx, job.ID, job.JobGiverID, startCode)
	}
	return true, nil
}

// refundAfterCancelledCapture returns a capture that raced a cancellation.
// Best effort: a failure leaves the transaction funded with a reason for
// manual remediation.
func (s *service) refundAfterCancelledCapture(ctx context.Context, job *models.Job, txn *models.Transaction) {
	ctx = s.logg.WithTransactionID(s.logg.WithJobID(ctx, job.ID.String()), txn.ID.String())
	refundID := "CANCEL-" + txn.ID.String()
	if txn.GatewayOrderID == nil {
		s.logg.Warn(ctx, "cancelled capture has no gateway order, cannot refund")
		return
	}
	if _, err := s.gw.CreateRefund(ctx, gateway.RefundParams{
		OrderID:  *txn.GatewayOrderID,
		RefundID: refundID,
		Amount:   txn.TotalPaidByGiver,
		Note:     "capture landed after cancellation",
	}); err != nil {
		s.logg.Error(ctx, "refund after cancelled capture failed", err)
		if updateErr := s.repo.UpdateTransaction(ctx, txn.ID, map[string]any{
			"failure_reason": "refund required: capture after cancellation",
		}); updateErr != nil {
			s.logg.Error(ctx, "record refund remediation reason", updateErr)
		}
		return
	}

	now := time.Now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusFunded, map[string]any{
			"status":      enums.TransactionStatusRefunded,
			"refunded_at": now,
			"refund_id":   refundID,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundIssued,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.RefundIssuedEvent{
				JobID:         job.ID,
				TransactionID: txn.ID,
				RefundID:      refundID,
				Amount:        txn.TotalPaidByGiver,
			},
		})
	})
	if err != nil {
		s.logg.Error(ctx, "record refund after cancelled capture", err)
	}
}

// ApplyCaptureFailure marks a pending transaction failed. The job stays in
// pending_funding so the giver can retry or cancel.
func (s *service) ApplyCaptureFailure(ctx context.Context, orderID, reason string, occurredAt time.Time) (bool, error) {
	txn, err := s.repo.FindTransactionByGatewayOrderID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up transaction by order")
	}
	if txn.Status != enums.TransactionStatusPending {
		return false, nil
	}

	applied := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusPending, map[string]any{
			"status":         enums.TransactionStatusFailed,
			"failed_at":      occurredAt,
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark transaction failed")
		}
		if rows == 0 {
			return nil
		}
		applied = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventFundingFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.FundingFailedEvent{
				JobID:         txn.JobID,
				TransactionID: txn.ID,
				Reason:        reason,
			},
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ApplyPayoutSuccess acknowledges transfer confirmation. The ledger already
// released at initiation, so a confirmation only clears any recorded
// initiation failure.
func (s *service) ApplyPayoutSuccess(ctx context.Context, transferID string, occurredAt time.Time) (bool, error) {
	txn, err := s.repo.FindTransactionByTransferID(ctx, transferID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up transaction by transfer")
	}
	if txn.Status != enums.TransactionStatusReleased || txn.FailureReason == nil {
		return false, nil
	}
	if err := s.repo.UpdateTransaction(ctx, txn.ID, map[string]any{
		"failure_reason": nil,
	}); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear payout failure reason")
	}
	return true, nil
}

// ApplyPayoutFailure records a rejected or reversed transfer. No automatic
// retry happens; a duplicate transfer is worse than a late one.
func (s *service) ApplyPayoutFailure(ctx context.Context, transferID, reason string, occurredAt time.Time) (bool, error) {
	txn, err := s.repo.FindTransactionByTransferID(ctx, transferID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up transaction by transfer")
	}
	if txn.Status != enums.TransactionStatusReleased {
		return false, nil
	}

	applied := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionTransaction(ctx, txn.ID, enums.TransactionStatusReleased, map[string]any{
			"status":         enums.TransactionStatusFailed,
			"failed_at":      occurredAt,
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payout failed")
		}
		if rows == 0 {
			return nil
		}
		applied = true
		transferRef := ""
		if txn.PayoutTransferID != nil {
			transferRef = *txn.PayoutTransferID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Data: payloads.PayoutFailedEvent{
				JobID:         txn.JobID,
				TransactionID: txn.ID,
				TransferID:    transferRef,
				Reason:        reason,
			},
		})
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.metrics.IncPayoutFailure("webhook")
	}
	return applied, nil
}
