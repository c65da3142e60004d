package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/medtrack/medtrack-backend/api/controllers"
	"github.com/medtrack/medtrack-backend/api/middleware"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

// Options carries what a consumer process exposes over HTTP.
type Options struct {
	Service     string
	Checks      []controllers.Check
	Gatherer    prometheus.Gatherer
	DeadLetters controllers.DeadLetterLister
}

// NewRouter builds the ops surface every consumer process serves.
func NewRouter(opts Options, logg *logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, "/healthz", "/readyz", "/metrics"),
	)

	r.Get("/healthz", controllers.Healthz(opts.Service))
	r.Get("/readyz", controllers.Readyz(logg, opts.Checks...))

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.DeadLetters != nil {
		r.Route("/api/v1/ops", func(r chi.Router) {
			r.Get("/dead-letters", controllers.DeadLetters(opts.DeadLetters, logg))
		})
	}

	return r
}
