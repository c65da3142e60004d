// Package eventstest provides an in-memory events.Emitter for handler tests.
package eventstest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/medtrack/medtrack-backend/pkg/enums"
	"github.com/medtrack/medtrack-backend/pkg/events"
)

// Published is one recorded emission.
type Published struct {
	Type          enums.EventType
	Payload       any
	CorrelationID string
}

// Emitter records every Publish call. Setting Err makes subsequent publishes fail.
type Emitter struct {
	mu        sync.Mutex
	published []Published
	Err       error
}

var _ events.Emitter = (*Emitter)(nil)

func (e *Emitter) Publish(ctx context.Context, eventType enums.EventType, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.published = append(e.published, Published{
		Type:          eventType,
		Payload:       payload,
		CorrelationID: events.CorrelationIDFromContext(ctx),
	})
	return nil
}

// Published returns a copy of the recorded emissions.
func (e *Emitter) Published() []Published {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Published(nil), e.published...)
}

// OfType returns the recorded emissions of eventType.
func (e *Emitter) OfType(eventType enums.EventType) []Published {
	var out []Published
	for _, p := range e.Published() {
		if p.Type == eventType {
			out = append(out, p)
		}
	}
	return out
}

// Envelope wraps payload the way the publisher would, for feeding handlers directly.
func Envelope(eventType enums.EventType, payload any) events.Envelope {
	body, _, err := events.Encode(eventType, payload, "test", "")
	if err != nil {
		panic(err)
	}
	var env events.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		panic(err)
	}
	return env
}
