package controllers

import (
	"net/http"

	"github.com/installconnect/escrow-backend/api/middleware"
	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/api/validators"
	"github.com/installconnect/escrow-backend/internal/escrow"
	"github.com/installconnect/escrow-backend/pkg/enums"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

type fundJobRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// FundJob opens the escrow funding cycle and returns the gateway checkout
// session.
func FundJob(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req fundJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Fund(r.Context(), escrow.FundJobInput{
			JobID:     jobID,
			GiverID:   giverID,
			ReturnURL: req.ReturnURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

type addFundsRequest struct {
	TaskID    string `json:"task_id" validate:"required,uuid4"`
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// AddFunds opens an add-on funding cycle for a quoted variation order.
func AddFunds(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req addFundsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		taskID, err := parseUUID(req.TaskID, "task_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.FundTask(r.Context(), escrow.FundTaskInput{
			JobID:     jobID,
			TaskID:    taskID,
			GiverID:   giverID,
			ReturnURL: req.ReturnURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

type completeJobRequest struct {
	Code        string   `json:"code" validate:"required,len=6"`
	Attachments []string `json:"attachments" validate:"max=20,dive,url"`
}

// CompleteJob verifies the completion code and releases the escrow.
func CompleteJob(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req completeJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		job, err := svc.Complete(r.Context(), escrow.CompleteJobInput{
			JobID:       jobID,
			ActorID:     callerID,
			Code:        req.Code,
			Attachments: req.Attachments,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

type addMilestoneRequest struct {
	Title  string `json:"title" validate:"required,min=3,max=160"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

// AddMilestone defines a partial-payment tranche on a job.
func AddMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req addMilestoneRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		milestone, err := svc.AddMilestone(r.Context(), escrow.AddMilestoneInput{
			JobID:   jobID,
			GiverID: giverID,
			Title:   validators.SanitizeString(req.Title, 160),
			Amount:  req.Amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, milestone)
	}
}

type fundMilestoneRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// FundMilestone opens a funding cycle for a single milestone.
func FundMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		giverID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		milestoneID, err := pathID(r, "milestoneId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req fundMilestoneRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.FundMilestone(r.Context(), escrow.FundMilestoneInput{
			MilestoneID: milestoneID,
			GiverID:     giverID,
			ReturnURL:   req.ReturnURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// ReleaseMilestone pays out a funded milestone.
func ReleaseMilestone(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		giverID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		milestoneID, err := pathID(r, "milestoneId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		milestone, err := svc.ReleaseMilestone(r.Context(), escrow.ReleaseMilestoneInput{
			MilestoneID: milestoneID,
			GiverID:     giverID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, milestone)
	}
}

type proposeTaskRequest struct {
	Description string `json:"description" validate:"required,min=5,max=2000"`
}

// ProposeTask raises a variation order while work is in progress.
func ProposeTask(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
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

		var req proposeTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		task, err := svc.ProposeTask(r.Context(), escrow.ProposeTaskInput{
			JobID:       jobID,
			CreatedBy:   callerID,
			Role:        role,
			Description: validators.SanitizeString(req.Description, 2000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, task)
	}
}

type quoteTaskRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// QuoteTask is the installer pricing a proposed variation order.
func QuoteTask(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		installerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		taskID, err := pathID(r, "taskId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req quoteTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		task, err := svc.QuoteTask(r.Context(), escrow.QuoteTaskInput{
			TaskID:      taskID,
			InstallerID: installerID,
			Amount:      req.Amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, task)
	}
}

// DeclineTask rejects a variation order before it is funded.
func DeclineTask(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		taskID, err := pathID(r, "taskId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		task, err := svc.DeclineTask(r.Context(), escrow.DeclineTaskInput{
			TaskID:  taskID,
			ActorID: callerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, task)
	}
}

type payoutProfileRequest struct {
	BeneficiaryID string `json:"beneficiary_id" validate:"required,min=3,max=120"`
}

// SetPayoutProfile registers the installer's gateway payout destination.
func SetPayoutProfile(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		installerID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req payoutProfileRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetPayoutProfile(r.Context(), installerID, validators.SanitizeString(req.BeneficiaryID, 120)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "saved"})
	}
}

// ListJobTransactions returns the escrow ledger rows for a job.
func ListJobTransactions(svc escrow.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := pathID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListTransactionsForJob(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
