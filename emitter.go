package peoplecounter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
)

// Default topics of the outbound schema.
const (
	DefaultCountTopic    = "person"
	DefaultDurationTopic = "person/duration"
)

// TotalPayload is published on an arrival.
type TotalPayload struct {
	Total int `json:"total" msgpack:"total"`
}

// CountPayload is published on every frame.
type CountPayload struct {
	Count int `json:"count" msgpack:"count"`
}

// DurationPayload is published on a departure. Duration is in whole seconds.
type DurationPayload struct {
	Duration int `json:"duration" msgpack:"duration"`
}

// MarshalFunc encodes a payload for the wire.
type MarshalFunc func(v any) ([]byte, error)

// EmitterConfig configures topic names and payload encoding.
type EmitterConfig struct {
	CountTopic    string
	DurationTopic string
	// Marshal defaults to encoding/json
	Marshal MarshalFunc
}

// Emitter maps tracker transitions onto outbound messages.
//
// Emitter has no retry logic of its own: Emit hands every message to the
// transport once and only logs failures, so tracking never depends on
// delivery.
type Emitter struct {
	countTopic    string
	durationTopic string
	marshal       MarshalFunc

	published      atomic.Uint64
	publishFailure atomic.Uint64
}

// NewEmitter creates an emitter, filling in defaults for empty fields.
func NewEmitter(cfg EmitterConfig) *Emitter {
	e := &Emitter{
		countTopic:    cfg.CountTopic,
		durationTopic: cfg.DurationTopic,
		marshal:       cfg.Marshal,
	}
	if e.countTopic == "" {
		e.countTopic = DefaultCountTopic
	}
	if e.durationTopic == "" {
		e.durationTopic = DefaultDurationTopic
	}
	if e.marshal == nil {
		e.marshal = json.Marshal
	}
	return e
}

// Messages returns the outbound messages for one transition, in publish
// order: arrival total, departure duration, live count.
func (e *Emitter) Messages(r TransitionResult) []Message {
	msgs := make([]Message, 0, 3)

	if r.Arrival != nil {
		msgs = append(msgs, Message{
			Topic:   e.countTopic,
			Payload: TotalPayload{Total: r.Arrival.TotalEntries},
		})
	}
	if r.Departure != nil {
		msgs = append(msgs, Message{
			Topic:   e.durationTopic,
			Payload: DurationPayload{Duration: int(r.Departure.Duration.Seconds())},
		})
	}
	msgs = append(msgs, Message{
		Topic:   e.countTopic,
		Payload: CountPayload{Count: r.Live.Count},
	})

	return msgs
}

// Emit publishes the messages of one transition. Failures are logged and
// counted; the number of messages delivered is returned.
func (e *Emitter) Emit(ctx context.Context, transport Transport, r TransitionResult) int {
	delivered := 0
	for _, msg := range e.Messages(r) {
		if ctx.Err() != nil {
			break
		}

		payload, err := e.marshal(msg.Payload)
		if err != nil {
			e.publishFailure.Add(1)
			slog.Error("emitter: failed to encode payload", "topic", msg.Topic, "error", err)
			continue
		}

		if err := transport.Publish(msg.Topic, payload); err != nil {
			e.publishFailure.Add(1)
			slog.Warn("emitter: publish failed, continuing",
				"topic", msg.Topic,
				"error", err,
			)
			continue
		}

		e.published.Add(1)
		delivered++
	}
	return delivered
}

// Counters returns the number of delivered and failed messages so far.
func (e *Emitter) Counters() (published, failed uint64) {
	return e.published.Load(), e.publishFailure.Load()
}
