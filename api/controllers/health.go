package controllers

import (
	"net/http"

	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/redis"
)

// Healthz is the liveness probe.
func Healthz(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Escrow-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// Readyz verifies the backing stores before reporting ready.
func Readyz(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Escrow-Env", cfg.App.Env)

		if dbP != nil {
			if err := dbP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}
		if redisP != nil {
			if err := redisP.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
