package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/installconnect/escrow-backend/api/responses"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

const cronSecretHeader = "X-Cron-Secret"

// CronSecret gates the internal cron trigger endpoints behind a shared
// secret. An empty configured secret disables the endpoints entirely.
func CronSecret(secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "not found"))
				return
			}
			provided := strings.TrimSpace(r.Header.Get(cronSecretHeader))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "invalid cron secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
