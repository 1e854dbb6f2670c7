package controllers

import (
	"net/http"
	"time"

	"github.com/installconnect/escrow-backend/api/middleware"
	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/api/validators"
	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

type createJobRequest struct {
	Title       string   `json:"title" validate:"required,min=3,max=160"`
	Description string   `json:"description" validate:"required,min=10"`
	Category    string   `json:"category" validate:"required"`
	Location    string   `json:"location" validate:"max=160"`
	SkillTags   []string `json:"skill_tags" validate:"max=20"`
	BudgetMin   int64    `json:"budget_min" validate:"gte=0"`
	BudgetMax   int64    `json:"budget_max" validate:"required,gt=0"`
}

// CreateJob drafts a job for the authenticated giver.
func CreateJob(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		giverID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.CreateDraft(r.Context(), jobs.CreateJobInput{
			GiverID:     giverID,
			Title:       validators.SanitizeString(req.Title, 160),
			Description: validators.SanitizeString(req.Description, 4000),
			Category:    validators.SanitizeString(req.Category, 80),
			Location:    validators.SanitizeString(req.Location, 160),
			SkillTags:   req.SkillTags,
			BudgetMin:   req.BudgetMin,
			BudgetMax:   req.BudgetMax,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, job)
	}
}

type publishJobRequest struct {
	BiddingDeadline *time.Time `json:"bidding_deadline"`
}

// PublishJob opens a draft for bidding.
func PublishJob(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req publishJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Publish(r.Context(), jobs.PublishJobInput{
			JobID:           jobID,
			GiverID:         giverID,
			BiddingDeadline: req.BiddingDeadline,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// GetJob returns a single job visible to the caller.
func GetJob(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Get(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// ListJobs returns the caller's jobs, scoped by role.
func ListJobs(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var list any
		switch middleware.RoleFromContext(r.Context()) {
		case enums.RoleJobGiver.String():
			list, err = svc.ListByGiver(r.Context(), callerID)
		case enums.RoleInstaller.String():
			list, err = svc.ListByInstaller(r.Context(), callerID)
		default:
			err = pkgerrors.New(pkgerrors.CodeForbidden, "listing requires a marketplace role")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

type startWorkRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// StartWork verifies the on-site start code.
func StartWork(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req startWorkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.StartWork(r.Context(), jobs.StartWorkInput{
			JobID:       jobID,
			InstallerID: installerID,
			Code:        req.Code,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

type submitWorkRequest struct {
	Attachments []string `json:"attachments" validate:"max=20,dive,url"`
}

// SubmitWork moves an in-progress job to pending confirmation.
func SubmitWork(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req submitWorkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.SubmitWork(r.Context(), jobs.SubmitWorkInput{
			JobID:       jobID,
			InstallerID: installerID,
			Attachments: req.Attachments,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

type cancelJobRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// CancelJob is the giver's fee-bearing cancellation before work starts.
func CancelJob(svc jobs.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req cancelJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Cancel(r.Context(), jobs.CancelJobInput{
			JobID:       jobID,
			CancelledBy: giverID,
			Reason:      validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}
