package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medtrack/medtrack-backend/internal/app"
	"github.com/medtrack/medtrack-backend/internal/applications"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/events/deadletter"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

type eventPublisher interface {
	Publish(ctx context.Context, eventType enums.EventType, payload any) error
	PublishToQueue(ctx context.Context, queue string, msg amqp.Publishing) error
}

type deadLetterStore interface {
	List(ctx context.Context, filter deadletter.ListFilter) ([]models.DeadLetter, error)
	FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error)
}

type processedMarkers interface {
	Forget(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type decider interface {
	Decide(ctx context.Context, actor applications.Actor, applicationID uuid.UUID, decision enums.ApplicationStatus) (*models.Application, error)
	Announce(ctx context.Context, actor applications.Actor, applicationID uuid.UUID) (*models.Application, error)
}

type tools struct {
	logg         *logger.Logger
	publisher    eventPublisher
	deadLetters  deadLetterStore
	markers      processedMarkers
	applications func() (decider, error)
}

func toolsFrom(runtime *app.App) tools {
	return tools{
		logg:        runtime.Logger,
		publisher:   runtime.Publisher,
		deadLetters: runtime.DeadLetters,
		markers:     runtime.Idempotency,
		applications: func() (decider, error) {
			return applications.NewService(applications.NewRepository(runtime.DB.DB()), runtime.Publisher, runtime.Logger)
		},
	}
}

type command struct {
	parse func(args []string, stderr io.Writer) (any, error)
	exec  func(ctx context.Context, t tools, opts any, stdout io.Writer) error
}

var commands = map[string]command{
	"publish":      {parse: parsePublish, exec: execPublish},
	"dead-letters": {parse: parseDeadLetters, exec: execDeadLetters},
	"replay":       {parse: parseReplay, exec: execReplay},
	"decide":       {parse: parseDecide, exec: execDecide},
}

type publishOpts struct {
	eventType     enums.EventType
	data          json.RawMessage
	correlationID string
}

func parsePublish(args []string, stderr io.Writer) (any, error) {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(stderr)
	eventType := fs.String("type", "", "event type, e.g. user.created")
	data := fs.String("data", "{}", "JSON object payload")
	correlationID := fs.String("correlation-id", "", "correlation id; generated when empty")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	parsed, err := enums.ParseEventType(*eventType)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return nil, err
	}
	raw := json.RawMessage(strings.TrimSpace(*data))
	if !json.Valid(raw) {
		err := errors.New("-data must be valid JSON")
		fmt.Fprintln(stderr, err)
		return nil, err
	}
	return publishOpts{eventType: parsed, data: raw, correlationID: *correlationID}, nil
}

func execPublish(ctx context.Context, t tools, opts any, stdout io.Writer) error {
	o := opts.(publishOpts)
	if o.correlationID != "" {
		ctx = events.WithCorrelationID(ctx, o.correlationID)
	}
	if err := t.publisher.Publish(ctx, o.eventType, o.data); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "published %s\n", o.eventType)
	return nil
}

type deadLetterOpts struct {
	filter deadletter.ListFilter
}

func parseDeadLetters(args []string, stderr io.Writer) (any, error) {
	fs := flag.NewFlagSet("dead-letters", flag.ContinueOnError)
	fs.SetOutput(stderr)
	queue := fs.String("queue", "", "only this queue")
	reason := fs.String("reason", "", "poison, non_retryable or max_redeliveries")
	limit := fs.Int("limit", 50, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	r := enums.DeadLetterReason(*reason)
	if *reason != "" && !r.IsValid() {
		err := fmt.Errorf("invalid reason %q", *reason)
		fmt.Fprintln(stderr, err)
		return nil, err
	}
	return deadLetterOpts{filter: deadletter.ListFilter{Queue: *queue, Reason: r, Limit: *limit}}, nil
}

type deadLetterLine struct {
	ID              string `json:"id"`
	Queue           string `json:"queue"`
	EventID         string `json:"event_id"`
	EventType       string `json:"event_type"`
	Reason          string `json:"reason"`
	Error           string `json:"error,omitempty"`
	RedeliveryCount int    `json:"redelivery_count"`
	FailedAt        string `json:"failed_at"`
}

func execDeadLetters(ctx context.Context, t tools, opts any, stdout io.Writer) error {
	o := opts.(deadLetterOpts)
	rows, err := t.deadLetters.List(ctx, o.filter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	for _, row := range rows {
		line := deadLetterLine{
			ID:              row.ID.String(),
			Queue:           row.Queue,
			EventID:         row.EventID,
			EventType:       row.EventType,
			Reason:          string(row.Reason),
			RedeliveryCount: row.RedeliveryCount,
			FailedAt:        row.FailedAt.UTC().Format(time.RFC3339),
		}
		if row.ErrorMessage != nil {
			line.Error = *row.ErrorMessage
		}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}

type replayOpts struct {
	eventID string
}

func parseReplay(args []string, stderr io.Writer) (any, error) {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	eventID := fs.String("event-id", "", "event id of the dead letter to replay")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*eventID) == "" {
		err := errors.New("-event-id is required")
		fmt.Fprintln(stderr, err)
		return nil, err
	}
	return replayOpts{eventID: strings.TrimSpace(*eventID)}, nil
}

// execReplay clears the processed marker and sends the stored body back to the queue that gave up on it,
// with a fresh redelivery counter.
func execReplay(ctx context.Context, t tools, opts any, stdout io.Writer) error {
	o := opts.(replayOpts)
	row, err := t.deadLetters.FindByEventID(ctx, o.eventID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no dead letter for event %s", o.eventID)
	}
	if id, err := uuid.Parse(row.EventID); err == nil {
		if err := t.markers.Forget(ctx, row.Queue, id); err != nil {
			return fmt.Errorf("clear processed marker: %w", err)
		}
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     row.EventID,
		CorrelationId: row.CorrelationID,
		Type:          row.EventType,
		Timestamp:     time.Now().UTC(),
		Body:          row.Body,
	}
	if err := t.publisher.PublishToQueue(ctx, row.Queue, msg); err != nil {
		return err
	}
	t.logg.Info(t.logg.WithFields(ctx, map[string]any{"queue": row.Queue, "event_id": row.EventID}), "dead letter replayed")
	fmt.Fprintf(stdout, "replayed %s to %s\n", row.EventID, row.Queue)
	return nil
}

type decideOpts struct {
	actor         applications.Actor
	applicationID uuid.UUID
	decision      enums.ApplicationStatus
	republish     bool
}

func parseDecide(args []string, stderr io.Writer) (any, error) {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	applicationID := fs.String("application", "", "application id")
	decision := fs.String("decision", "", "accepted or rejected")
	actorID := fs.String("actor", "", "user id of the deciding encadrant or admin")
	role := fs.String("role", string(enums.UserRoleEncadrant), "role of the actor")
	republish := fs.Bool("republish", false, "announce the stored decision again instead of deciding")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var errs []error
	appID, err := uuid.Parse(*applicationID)
	if err != nil {
		errs = append(errs, fmt.Errorf("-application: %w", err))
	}
	userID, err := uuid.Parse(*actorID)
	if err != nil {
		errs = append(errs, fmt.Errorf("-actor: %w", err))
	}
	var status enums.ApplicationStatus
	if !*republish || *decision != "" {
		status, err = enums.ParseApplicationStatus(*decision)
		if err != nil {
			errs = append(errs, fmt.Errorf("-decision: %w", err))
		}
	}
	userRole, err := enums.ParseUserRole(*role)
	if err != nil {
		errs = append(errs, fmt.Errorf("-role: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintln(stderr, err)
		return nil, err
	}
	return decideOpts{
		actor:         applications.Actor{UserID: userID, Role: userRole},
		applicationID: appID,
		decision:      status,
		republish:     *republish,
	}, nil
}

func execDecide(ctx context.Context, t tools, opts any, stdout io.Writer) error {
	o := opts.(decideOpts)
	svc, err := t.applications()
	if err != nil {
		return err
	}
	if o.republish {
		application, err := svc.Announce(ctx, o.actor, o.applicationID)
		if err != nil {
			return err
		}
		if o.decision != "" && o.decision != application.Status {
			t.logg.Warn(t.logg.WithField(ctx, "application_id", application.ID.String()), "stored decision differs from -decision")
		}
		fmt.Fprintf(stdout, "application %s decision %s announced again\n", application.ID, application.Status)
		return nil
	}
	application, err := svc.Decide(ctx, o.actor, o.applicationID, o.decision)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "application %s is now %s\n", application.ID, application.Status)
	return nil
}
