package controllers

import (
	"context"
	"net/http"

	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/api/validators"
	"github.com/installconnect/escrow-backend/internal/bids"
	"github.com/installconnect/escrow-backend/pkg/db/models"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

type submitBidRequest struct {
	Amount int64   `json:"amount" validate:"required,gt=0"`
	Note   *string `json:"note" validate:"omitempty,max=500"`
}

// SubmitBid places one installer bid on an open job.
func SubmitBid(svc bids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		installerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req submitBidRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bid, err := svc.SubmitBid(r.Context(), bids.SubmitBidInput{
			JobID:       jobID,
			InstallerID: installerID,
			Amount:      req.Amount,
			Note:        req.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, bid)
	}
}

// ListBids returns the bids on a job to its giver.
func ListBids(svc bids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		giverID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListBids(r.Context(), jobID, giverID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type awardJobRequest struct {
	BidID string `json:"bid_id" validate:"required,uuid4"`
}

// AwardJob selects a winning bid and extends the first offer.
func AwardJob(svc bids.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		giverID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req awardJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bidID, err := parseUUID(req.BidID, "bid_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Award(r.Context(), bids.AwardJobInput{
			JobID:   jobID,
			GiverID: giverID,
			BidID:   bidID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// AcceptOffer is the extended installer accepting the job.
func AcceptOffer(svc bids.Service, logg *logger.Logger) http.HandlerFunc {
	return offerResponse(svc.AcceptOffer, logg)
}

// DeclineOffer declines the extended offer and advances to the next
// candidate.
func DeclineOffer(svc bids.Service, logg *logger.Logger) http.HandlerFunc {
	return offerResponse(svc.DeclineOffer, logg)
}

func offerResponse(respond func(ctx context.Context, input bids.OfferResponseInput) (*models.Job, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		installerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := respond(r.Context(), bids.OfferResponseInput{
			JobID:       jobID,
			InstallerID: installerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}
