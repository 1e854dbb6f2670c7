package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/installconnect/escrow-backend/api/controllers"
	"github.com/installconnect/escrow-backend/api/middleware"
	"github.com/installconnect/escrow-backend/internal/bids"
	"github.com/installconnect/escrow-backend/internal/cron"
	"github.com/installconnect/escrow-backend/internal/disputes"
	"github.com/installconnect/escrow-backend/internal/escrow"
	"github.com/installconnect/escrow-backend/internal/jobs"
	"github.com/installconnect/escrow-backend/internal/webhooks"
	"github.com/installconnect/escrow-backend/pkg/config"
	"github.com/installconnect/escrow-backend/pkg/db"
	"github.com/installconnect/escrow-backend/pkg/enums"
	"github.com/installconnect/escrow-backend/pkg/logger"
	"github.com/installconnect/escrow-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Jobs     jobs.Service
	Bids     bids.Service
	Escrow   escrow.Service
	Disputes disputes.Service
	Webhooks webhooks.Service
	CronJobs *cron.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.Healthz(cfg))
	r.Get("/readyz", controllers.Readyz(cfg, logg, deps.DB, deps.Redis))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/gateway", controllers.GatewayWebhook(deps.Webhooks, logg))
	})

	r.Route("/internal/cron", func(r chi.Router) {
		r.Use(middleware.CronSecret(cfg.Cron.SharedSecret, logg))
		r.Post("/{jobName}", controllers.TriggerCronJob(deps.CronJobs, logg))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		giver := middleware.RequireRole(enums.RoleJobGiver.String(), logg)
		installer := middleware.RequireRole(enums.RoleInstaller.String(), logg)
		admin := middleware.RequireRole(enums.RoleAdmin.String(), logg)

		r.Route("/jobs", func(r chi.Router) {
			r.With(giver).Post("/", controllers.CreateJob(deps.Jobs, logg))
			r.Get("/", controllers.ListJobs(deps.Jobs, logg))
			r.Get("/{jobId}", controllers.GetJob(deps.Jobs, logg))
			r.With(giver).Post("/{jobId}/publish", controllers.PublishJob(deps.Jobs, logg))

			r.With(installer).Post("/{jobId}/bids", controllers.SubmitBid(deps.Bids, logg))
			r.With(giver).Get("/{jobId}/bids", controllers.ListBids(deps.Bids, logg))
			r.With(giver).Post("/{jobId}/award", controllers.AwardJob(deps.Bids, logg))
			r.With(installer).Post("/{jobId}/offer/accept", controllers.AcceptOffer(deps.Bids, logg))
			r.With(installer).Post("/{jobId}/offer/decline", controllers.DeclineOffer(deps.Bids, logg))

			r.With(giver).Post("/{jobId}/fund", controllers.FundJob(deps.Escrow, logg))
			r.With(giver).Post("/{jobId}/add-funds", controllers.AddFunds(deps.Escrow, logg))
			r.With(installer).Post("/{jobId}/start", controllers.StartWork(deps.Jobs, logg))
			r.With(installer).Post("/{jobId}/submit", controllers.SubmitWork(deps.Jobs, logg))
			r.With(installer).Post("/{jobId}/complete", controllers.CompleteJob(deps.Escrow, logg))
			r.With(giver).Post("/{jobId}/cancel", controllers.CancelJob(deps.Jobs, logg))

			r.Post("/{jobId}/disputes", controllers.RaiseDispute(deps.Disputes, logg))
			r.With(giver).Post("/{jobId}/milestones", controllers.AddMilestone(deps.Escrow, logg))
			r.Post("/{jobId}/tasks", controllers.ProposeTask(deps.Escrow, logg))
			r.Get("/{jobId}/transactions", controllers.ListJobTransactions(deps.Escrow, logg))
		})

		r.Route("/milestones", func(r chi.Router) {
			r.With(giver).Post("/{milestoneId}/fund", controllers.FundMilestone(deps.Escrow, logg))
			r.With(giver).Post("/{milestoneId}/release", controllers.ReleaseMilestone(deps.Escrow, logg))
		})

		r.Route("/tasks", func(r chi.Router) {
			r.With(installer).Post("/{taskId}/quote", controllers.QuoteTask(deps.Escrow, logg))
			r.Post("/{taskId}/decline", controllers.DeclineTask(deps.Escrow, logg))
		})

		r.Route("/disputes", func(r chi.Router) {
			r.With(admin).Get("/", controllers.ListDisputes(deps.Disputes, logg))
			r.Get("/{disputeId}", controllers.GetDispute(deps.Disputes, logg))
			r.With(admin).Post("/{disputeId}/resolve", controllers.ResolveDispute(deps.Disputes, logg))
		})

		r.With(installer).Post("/payout-profile", controllers.SetPayoutProfile(deps.Escrow, logg))
	})

	return r
}
