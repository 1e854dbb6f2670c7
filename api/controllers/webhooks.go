package controllers

import (
	"io"
	"net/http"

	"github.com/installconnect/escrow-backend/api/responses"
	"github.com/installconnect/escrow-backend/internal/webhooks"
	pkgerrors "github.com/installconnect/escrow-backend/pkg/errors"
	"github.com/installconnect/escrow-backend/pkg/logger"
)

const (
	webhookSignatureHeader = "x-webhook-signature"
	webhookTimestampHeader = "x-webhook-timestamp"
)

// GatewayWebhook ingests payment gateway deliveries. The reconciler decides
// what to apply; anything it acks gets a 2xx so the gateway stops retrying.
func GatewayWebhook(svc webhooks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		err = svc.Process(
			r.Context(),
			body,
			r.Header.Get(webhookTimestampHeader),
			r.Header.Get(webhookSignatureHeader),
		)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "acknowledged"})
	}
}
