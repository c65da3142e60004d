package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/medtrack/medtrack-backend/api/responses"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by the broker connection manager, the database client and the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one dependency probed by Readyz.
type Check struct {
	Name   string
	Pinger Pinger
}

// Healthz reports liveness; it never touches dependencies.
func Healthz(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"status":  "ok",
			"service": service,
		})
	}
}

// Readyz pings every check and answers 503 with the failing names when any is down.
func Readyz(logg *logger.Logger, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		statuses := make(map[string]string, len(checks))
		failing := []string{}
		for _, check := range checks {
			if check.Pinger == nil {
				continue
			}
			if err := check.Pinger.Ping(ctx); err != nil {
				statuses[check.Name] = "down"
				failing = append(failing, check.Name)
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"dependency": check.Name,
						"error":      err.Error(),
					}), "readiness.check_failed")
				}
				continue
			}
			statuses[check.Name] = "up"
		}

		if len(failing) > 0 {
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"checks": statuses, "failing": failing}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": statuses})
	}
}
