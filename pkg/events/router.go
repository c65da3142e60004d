package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/medtrack/medtrack-backend/pkg/enums"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

// Handler reacts to one decoded envelope.
type Handler interface {
	Handle(ctx context.Context, envelope Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

// Emitter publishes follow-on events; handlers depend on this rather than on the broker.
type Emitter interface {
	Publish(ctx context.Context, eventType enums.EventType, payload any) error
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

type typedHandler[T any] struct {
	fn func(ctx context.Context, envelope Envelope, payload *T) error
}

// On builds a Handler that decodes and validates the envelope data into T before calling fn.
// Payloads that fail to decode or validate are reported as non-retryable.
func On[T any](fn func(ctx context.Context, envelope Envelope, payload *T) error) Handler {
	return typedHandler[T]{fn: fn}
}

func (h typedHandler[T]) Handle(ctx context.Context, envelope Envelope) error {
	payload := new(T)
	if err := envelope.DecodeData(payload); err != nil {
		return NewNonRetryableError(err)
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return NewNonRetryableError(fmt.Errorf("validate %s payload: %w", envelope.EventType, err))
	}
	if h.fn == nil {
		return nil
	}
	return h.fn(ctx, envelope, payload)
}

// Router dispatches envelopes to exactly one handler per event type.
type Router struct {
	mu       sync.RWMutex
	handlers map[enums.EventType]Handler
	logg     *logger.Logger
}

// NewRouter returns an empty router.
func NewRouter(logg *logger.Logger) (*Router, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{
		handlers: map[enums.EventType]Handler{},
		logg:     logg,
	}, nil
}

// Register binds handler to eventType. Each type may be registered once.
func (r *Router) Register(eventType enums.EventType, handler Handler) error {
	if !eventType.IsValid() {
		return fmt.Errorf("register: unknown event type %q", eventType)
	}
	if handler == nil {
		return fmt.Errorf("register %s: handler is required", eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("register %s: handler already registered", eventType)
	}
	r.handlers[eventType] = handler
	return nil
}

// Require fails when any of the given event types has no handler.
func (r *Router) Require(eventTypes ...enums.EventType) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, eventType := range eventTypes {
		if _, ok := r.handlers[eventType]; !ok {
			missing = append(missing, string(eventType))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no handler registered for %v", missing)
	}
	return nil
}

// EventTypes lists registered event types in lexical order.
func (r *Router) EventTypes() []enums.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]enums.EventType, 0, len(r.handlers))
	for eventType := range r.handlers {
		out = append(out, eventType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Route looks up the handler for envelope.EventType. Unknown types return ErrUnsupportedEventType.
func (r *Router) Route(ctx context.Context, envelope Envelope) error {
	r.mu.RLock()
	handler, ok := r.handlers[envelope.EventType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	return handler.Handle(ctx, envelope)
}

// Handle lets the router itself be handed to a consumer.
func (r *Router) Handle(ctx context.Context, envelope Envelope) error {
	return r.Route(ctx, envelope)
}
