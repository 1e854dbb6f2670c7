package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/installconnect/escrow-backend/api/middleware"
	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/api/validators"
	"github.com/installconnect/escrow-backend/internal/disputes"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/pagination"
)

type raiseDisputeRequest struct {
	Reason      string  `json:"reason" validate:"required,min=3,max=200"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
}

// RaiseDispute freezes a funded job pending admin review.
func RaiseDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		role := enums.Role(middleware.RoleFromContext(r.Context()))
		if !role.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "marketplace role required"))
			return
		}

		var req raiseDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Raise(r.Context(), disputes.RaiseDisputeInput{
			JobID:       jobID,
			RaisedBy:    callerID,
			Role:        role,
			Reason:      validators.SanitizeString(req.Reason, 200),
			Description: req.Description,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

type resolveDisputeRequest struct {
	Verdict      string  `json:"verdict" validate:"required,oneof=release_to_installer refund_to_giver split"`
	SplitPercent *int    `json:"split_percent" validate:"omitempty,gte=0,lte=100"`
	Note         *string `json:"note" validate:"omitempty,max=2000"`
}

// ResolveDispute applies an admin verdict to an open dispute.
func ResolveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := pathID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Resolve(r.Context(), disputes.ResolveDisputeInput{
			DisputeID:    disputeID,
			AdminID:      adminID,
			Verdict:      enums.DisputeVerdict(req.Verdict),
			SplitPercent: req.SplitPercent,
			Note:         req.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// GetDispute returns a single dispute.
func GetDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := pathID(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Get(r.Context(), disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// ListDisputes returns disputes for admin review, optionally filtered by
// status or job.
func ListDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := disputes.ListDisputesFilter{}

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status := enums.DisputeStatus(raw)
			if !status.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown dispute status"))
				return
			}
			filter.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("job_id")); raw != "" {
			jobID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job_id"))
				return
			}
			filter.JobID = &jobID
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.Limit = limit

		list, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
