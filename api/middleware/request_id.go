package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

const (
	RequestIDHeader     = "X-Request-Id"
	CorrelationIDHeader = "X-Correlation-Id"

	maxInboundIDLen = 128
)

// RequestID echoes or mints a request id and carries a correlation id on the context, so events
// emitted while serving the request share it. Without an inbound correlation id the request id is used.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundID(r, RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			correlationID := inboundID(r, CorrelationIDHeader)
			if correlationID == "" {
				correlationID = reqID
			}
			w.Header().Set(RequestIDHeader, reqID)
			w.Header().Set(CorrelationIDHeader, correlationID)

			ctx := events.WithCorrelationID(r.Context(), correlationID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				ctx = logg.WithCorrelationID(ctx, correlationID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// inboundID drops client supplied ids that are oversized or contain control characters.
func inboundID(r *http.Request, header string) string {
	id := strings.TrimSpace(r.Header.Get(header))
	if id == "" || len(id) > maxInboundIDLen {
		return ""
	}
	if strings.ContainsFunc(id, func(c rune) bool { return c < 0x20 || c == 0x7f }) {
		return ""
	}
	return id
}
