package controllers

import (
	"net/http"

	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/internal/cron"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

// TriggerCronJob runs one registered cron job on demand. Deploys without a
// long-lived cron worker drive the sweeps through this endpoint.
func TriggerCronJob(registry *cron.Registry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := pathString(r, "jobName")

		var target cron.Job
		for _, job := range registry.Jobs() {
			if job.Name() == name {
				target = job
				break
			}
		}
		if target == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown cron job"))
			return
		}

		if err := target.Run(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cron job failed"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"job": name, "status": "complete"})
	}
}
