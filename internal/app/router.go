package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	closinghttp "github.com/tresoria-erp/tresoria/internal/closing/http"
	"github.com/tresoria-erp/tresoria/jobs"
	"github.com/tresoria-erp/tresoria/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	ClosingHandler *closinghttp.Handler
	ReportHandler  *report.Handler
	JobHandler     *jobs.Handler
	Pool           *pgxpool.Pool
	Redis          *redis.Client
}

// NewRouter constructs the chi.Router with Tresoria defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthzHandler(params))

	if params.ClosingHandler != nil {
		params.ClosingHandler.MountRoutes(r)
	}
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}

// healthzHandler reports liveness plus best-effort dependency status.
func healthzHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := `"ok"`
		deps := ""
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				deps += `,"postgres":"down"`
			} else {
				deps += `,"postgres":"ok"`
			}
		}
		if params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				deps += `,"redis":"down"`
			} else {
				deps += `,"redis":"ok"`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":` + status + deps + `}`))
	}
}
