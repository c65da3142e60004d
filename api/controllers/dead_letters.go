package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medtrack/medtrack-backend/api/responses"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events/deadletter"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/pagination"
)

type DeadLetterLister interface {
	Page(ctx context.Context, filter deadletter.ListFilter) (pagination.Page[models.DeadLetter], error)
}

type deadLetterView struct {
	ID              string `json:"id"`
	Queue           string `json:"queue"`
	EventID         string `json:"event_id"`
	EventType       string `json:"event_type"`
	CorrelationID   string `json:"correlation_id"`
	Reason          string `json:"reason"`
	Error           string `json:"error,omitempty"`
	RedeliveryCount int    `json:"redelivery_count"`
	FailedAt        string `json:"failed_at"`
}

// DeadLetters pages through recorded dead letters, newest first. Query: queue, reason, limit, cursor.
func DeadLetters(lister DeadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := deadLetterFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := lister.Page(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}

		out := make([]deadLetterView, 0, len(page.Items))
		for _, row := range page.Items {
			view := deadLetterView{
				ID:              row.ID.String(),
				Queue:           row.Queue,
				EventID:         row.EventID,
				EventType:       row.EventType,
				CorrelationID:   row.CorrelationID,
				Reason:          string(row.Reason),
				RedeliveryCount: row.RedeliveryCount,
				FailedAt:        row.FailedAt.UTC().Format(time.RFC3339),
			}
			if row.ErrorMessage != nil {
				view.Error = *row.ErrorMessage
			}
			out = append(out, view)
		}
		responses.WriteSuccess(w, pagination.Page[deadLetterView]{Items: out, NextCursor: page.NextCursor})
	}
}

func deadLetterFilter(r *http.Request) (deadletter.ListFilter, error) {
	q := r.URL.Query()
	filter := deadletter.ListFilter{Queue: strings.TrimSpace(q.Get("queue"))}

	if raw := strings.TrimSpace(q.Get("reason")); raw != "" {
		reason := enums.DeadLetterReason(raw)
		if !reason.IsValid() {
			return filter, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown reason %q", raw))
		}
		filter.Reason = reason
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > pagination.MaxLimit {
			return filter, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("limit must be between 1 and %d", pagination.MaxLimit))
		}
		filter.Limit = limit
	}
	cursor, err := pagination.ParseCursor(q.Get("cursor"))
	if err != nil {
		return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter.Cursor = cursor
	return filter, nil
}
