package bids

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/outbox"
	"github.com/installconnect/escrow-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines bidding and ranked-offer operations.
type Service interface {
	SubmitBid(ctx context.Context, input SubmitBidInput) (*models.Bid, error)
	ListBids(ctx context.Context, jobID, giverID uuid.UUID) ([]models.Bid, error)
	Award(ctx context.Context, input AwardJobInput) (*models.Job, error)
	AcceptOffer(ctx context.Context, input OfferResponseInput) (*models.Job, error)
	DeclineOffer(ctx context.Context, input OfferResponseInput) (*models.Job, error)
	ExpireLapsedOffers(ctx context.Context, limit int) (int, error)
}

type service struct {
	repo      Repository
	jobsRepo  jobs.Repository
	tx        txRunner
	outbox    outboxPublisher
	escrowCfg config.EscrowConfig
}

// NewService builds a bids service with the required dependencies.
func NewService(
	repo Repository,
	jobsRepo jobs.Repository,
	tx txRunner,
	outboxSvc outboxPublisher,
	escrowCfg config.EscrowConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("bids repository required")
	}
	if jobsRepo == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      repo,
		jobsRepo:  jobsRepo,
		tx:        tx,
		outbox:    outboxSvc,
		escrowCfg: escrowCfg,
	}, nil
}

func (s *service) SubmitBid(ctx context.Context, input SubmitBidInput) (*models.Bid, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bid amount must be positive")
	}

	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != enums.JobStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, bidding is closed", job.Status))
	}
	if job.BiddingDeadline != nil && time.Now().UTC().After(*job.BiddingDeadline) {
		// Lazy sweep: close bidding before rejecting so the stored status
		// catches up with the deadline.
		if _, err := s.jobsRepo.TransitionJob(ctx, job.ID, enums.JobStatusOpen, map[string]any{
			"status": enums.JobStatusBiddingClosed,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close lapsed bidding")
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "bidding deadline has passed")
	}
	if job.JobGiverID == input.InstallerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job giver cannot bid on their own job")
	}

	exists, err := s.repo.HasBidFromInstaller(ctx, input.JobID, input.InstallerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check existing bid")
	}
	if exists {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "installer has already bid on this job")
	}

	bid := &models.Bid{
		JobID:       input.JobID,
		InstallerID: input.InstallerID,
		Amount:      input.Amount,
		Note:        input.Note,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		created, err := repo.CreateBid(ctx, bid)
		if err != nil {
			// Concurrent submission can slip past the read check; the
			// unique index on (job_id, installer_id) is the arbiter.
			if db.IsUniqueViolation(err, "ux_bids_job_installer") {
				return pkgerrors.New(pkgerrors.CodeConflict, "installer has already bid on this job")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create bid")
		}
		bid = created
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBidPlaced,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.InstallerID, Role: enums.RoleInstaller},
			Data: payloads.BidPlacedEvent{
				JobID:       job.ID,
				BidID:       bid.ID,
				InstallerID: input.InstallerID,
				Amount:      input.Amount,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

func (s *service) ListBids(ctx context.Context, jobID, giverID uuid.UUID) ([]models.Bid, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != giverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	list, err := s.repo.ListBidsByJob(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list bids")
	}
	return list, nil
}

func (s *service) Award(ctx context.Context, input AwardJobInput) (*models.Job, error) {
	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.JobGiverID != input.GiverID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "job belongs to another giver")
	}
	if job.Status != enums.JobStatusOpen && job.Status != enums.JobStatusBiddingClosed {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, cannot award", job.Status))
	}

	chosen, err := s.repo.FindBidByID(ctx, input.BidID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bid not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load bid")
	}
	if chosen.JobID != job.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bid does not belong to this job")
	}

	allBids, err := s.repo.ListBidsByJob(ctx, job.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list bids for ranking")
	}

	now := time.Now().UTC()
	deadline := now.Add(s.escrowCfg.AcceptanceDeadline())
	offers := buildOfferQueue(chosen, allBids, now, deadline)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)

		rows, err := jobsRepo.TransitionJob(ctx, job.ID, job.Status, map[string]any{
			"status":               enums.JobStatusAwarded,
			"awarded_installer_id": chosen.InstallerID,
			"acceptance_deadline":  deadline,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "award job")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
		}
		if err := repo.CreateOffers(ctx, offers); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create offer queue")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobAwarded,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.GiverID, Role: enums.RoleJobGiver},
			Data: payloads.JobAwardedEvent{
				JobID:              job.ID,
				InstallerID:        chosen.InstallerID,
				BidID:              chosen.ID,
				Amount:             chosen.Amount,
				AcceptanceDeadline: deadline,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.loadJob(ctx, job.ID)
}

// buildOfferQueue ranks the chosen bid first, then every other installer's
// best bid by amount ascending. Ties keep submission order from the list.
func buildOfferQueue(chosen *models.Bid, allBids []models.Bid, now, deadline time.Time) []models.JobOffer {
	offers := []models.JobOffer{{
		JobID:       chosen.JobID,
		InstallerID: chosen.InstallerID,
		BidID:       chosen.ID,
		Rank:        1,
		Status:      enums.OfferStatusExtended,
		ExtendedAt:  &now,
		ExpiresAt:   &deadline,
	}}

	seen := map[uuid.UUID]bool{chosen.InstallerID: true}
	rank := 2
	for i := range allBids {
		bid := allBids[i]
		if seen[bid.InstallerID] {
			continue
		}
		seen[bid.InstallerID] = true
		offers = append(offers, models.JobOffer{
			JobID:       bid.JobID,
			InstallerID: bid.InstallerID,
			BidID:       bid.ID,
			Rank:        rank,
			Status:      enums.OfferStatusQueued,
		})
		rank++
	}
	return offers
}

func (s *service) AcceptOffer(ctx context.Context, input OfferResponseInput) (*models.Job, error) {
	job, offer, err := s.loadExtendedOffer(ctx, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if offer.ExpiresAt != nil && now.After(*offer.ExpiresAt) {
		// Lazy expiry before rejecting, so the queue advances even when the
		// sweeper has not run yet.
		if _, _, err := s.expireOffer(ctx, job, offer); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "offer has expired")
	}

	bid, err := s.repo.FindBidByID(ctx, offer.BidID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load accepted bid")
	}

	fundingDeadline := now.Add(s.escrowCfg.FundingDeadline())
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)

		rows, err := repo.TransitionOffer(ctx, offer.ID, enums.OfferStatusExtended, map[string]any{
			"status":       enums.OfferStatusAccepted,
			"responded_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "accept offer")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "offer changed underneath this request, refresh and retry")
		}

		rows, err = jobsRepo.TransitionJob(ctx, job.ID, enums.JobStatusAwarded, map[string]any{
			"status":           enums.JobStatusPendingFunding,
			"funding_deadline": fundingDeadline,
			"agreed_amount":    bid.Amount,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "move job to pending funding")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobAccepted,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.InstallerID, Role: enums.RoleInstaller},
			Data: payloads.JobAcceptedEvent{
				JobID:           job.ID,
				InstallerID:     input.InstallerID,
				FundingDeadline: fundingDeadline,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.loadJob(ctx, job.ID)
}

func (s *service) DeclineOffer(ctx context.Context, input OfferResponseInput) (*models.Job, error) {
	job, offer, err := s.loadExtendedOffer(ctx, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var next *models.JobOffer
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)

		rows, err := repo.TransitionOffer(ctx, offer.ID, enums.OfferStatusExtended, map[string]any{
			"status":       enums.OfferStatusDeclined,
			"responded_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decline offer")
		}
		if rows == 0 {
			// The expiry sweep lost this race by design: a decline always
			// wins over a concurrent lapse.
			return pkgerrors.New(pkgerrors.CodeConflict, "offer changed underneath this request, refresh and retry")
		}

		next, err = s.advanceQueue(ctx, repo, jobsRepo, job, now)
		if err != nil {
			return err
		}

		var nextInstaller *uuid.UUID
		if next != nil {
			nextInstaller = &next.InstallerID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOfferDeclined,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Actor:         &outbox.ActorRef{UserID: input.InstallerID, Role: enums.RoleInstaller},
			Data: payloads.OfferDeclinedEvent{
				JobID:           job.ID,
				InstallerID:     input.InstallerID,
				NextInstallerID: nextInstaller,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.loadJob(ctx, job.ID)
}

// ExpireLapsedOffers advances every extended offer whose acceptance window
// closed. A failure on one job never aborts the batch.
func (s *service) ExpireLapsedOffers(ctx context.Context, limit int) (int, error) {
	lapsed, err := s.repo.ListLapsedExtendedOffers(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list lapsed offers")
	}

	expired := 0
	var errs error
	for i := range lapsed {
		offer := lapsed[i]
		job, err := s.loadJob(ctx, offer.JobID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", offer.JobID, err))
			continue
		}
		applied, _, err := s.expireOffer(ctx, job, &offer)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("offer %s: %w", offer.ID, err))
			continue
		}
		if applied {
			expired++
		}
	}
	return expired, errs
}

// expireOffer marks one extended offer expired and advances the queue.
// Returns false without error when a concurrent decline or accept got there
// first.
func (s *service) expireOffer(ctx context.Context, job *models.Job, offer *models.JobOffer) (bool, *models.JobOffer, error) {
	now := time.Now().UTC()
	var next *models.JobOffer
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		jobsRepo := s.jobsRepo.WithTx(tx)

		rows, err := repo.TransitionOffer(ctx, offer.ID, enums.OfferStatusExtended, map[string]any{
			"status":       enums.OfferStatusExpired,
			"responded_at": now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expire offer")
		}
		if rows == 0 {
			return nil
		}
		applied = true

		next, err = s.advanceQueue(ctx, repo, jobsRepo, job, now)
		if err != nil {
			return err
		}

		var nextInstaller *uuid.UUID
		if next != nil {
			nextInstaller = &next.InstallerID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOfferExpired,
			AggregateType: enums.AggregateJob,
			AggregateID:   job.ID,
			Data: payloads.OfferExpiredEvent{
				JobID:           job.ID,
				InstallerID:     offer.InstallerID,
				ExpiredAt:       now,
				NextInstallerID: nextInstaller,
			},
		})
	})
	if err != nil {
		return false, nil, err
	}
	return applied, next, nil
}

// advanceQueue promotes the next queued candidate with a fresh acceptance
// window, or falls the job back to bidding_closed when the queue is empty.
func (s *service) advanceQueue(ctx context.Context, repo Repository, jobsRepo jobs.Repository, job *models.Job, now time.Time) (*models.JobOffer, error) {
	next, err := repo.NextQueuedOffer(ctx, job.ID)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load next queued offer")
	}

	if next == nil {
		rows, err := jobsRepo.TransitionJob(ctx, job.ID, enums.JobStatusAwarded, map[string]any{
			"status":               enums.JobStatusBiddingClosed,
			"awarded_installer_id": nil,
			"acceptance_deadline":  nil,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fall back to bidding closed")
		}
		if rows == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
		}
		return nil, nil
	}

	deadline := now.Add(s.escrowCfg.AcceptanceDeadline())
	rows, err := repo.TransitionOffer(ctx, next.ID, enums.OfferStatusQueued, map[string]any{
		"status":      enums.OfferStatusExtended,
		"extended_at": now,
		"expires_at":  deadline,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extend next offer")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "offer queue changed underneath this request")
	}

	rows, err = jobsRepo.TransitionJob(ctx, job.ID, enums.JobStatusAwarded, map[string]any{
		"status":               enums.JobStatusAwarded,
		"awarded_installer_id": next.InstallerID,
		"acceptance_deadline":  deadline,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-target awarded installer")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "job changed underneath this request, refresh and retry")
	}
	return next, nil
}

func (s *service) loadExtendedOffer(ctx context.Context, input OfferResponseInput) (*models.Job, *models.JobOffer, error) {
	job, err := s.loadJob(ctx, input.JobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != enums.JobStatusAwarded {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("job is %s, no offer is open", job.Status))
	}

	offer, err := s.repo.FindOfferByJobAndInstaller(ctx, input.JobID, input.InstallerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "no offer for this installer")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load offer")
	}
	if offer.Status != enums.OfferStatusExtended {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("offer is %s, not open for a response", offer.Status))
	}
	return job, offer, nil
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
