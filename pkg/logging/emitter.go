package logging

import (
	"encoding/json"
	"time"

	"github.com/jingkaihe/virtiofs-guest/internal/errx"
)

// EmitterConfig holds the static metadata configured at device attach.
// All fields are stamped onto every event automatically.
type EmitterConfig struct {
	SessionID string // Caller-supplied; defaults to the Device's generated session id if empty
	Tag       string // The filesystem tag read from the device-config region
}

// Emitter provides convenience methods for emitting typed events.
// It holds static metadata and dispatches to one or more sinks.
//
// A nil *Emitter is safe to hold; callers guard emission with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter creates an emitter with the given configuration and sinks.
// An empty SessionID is filled in later by WithSessionID, which device
// Attach calls with the Device's generated session id.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// WithSessionID returns an emitter whose events carry id, unless the
// config already pinned one. A nil receiver stays nil, so callers can
// thread an optional emitter through without guarding.
func (e *Emitter) WithSessionID(id string) *Emitter {
	if e == nil || e.config.SessionID != "" {
		return e
	}
	clone := *e
	clone.config.SessionID = id
	return &clone
}

// Emit constructs an event with the emitter's static metadata and writes
// it to all registered sinks.
//
// Parameters:
//   - eventType: one of the Event* constants (e.g., EventOpcodeSubmit)
//   - summary: human-readable one-line summary
//   - queue: the ring that carried the request ("hiprio" or "request-N")
//   - tags: optional tags for filtering (nil is fine)
//   - data: the typed data struct (e.g., *OpcodeSubmitData); nil for no payload
//
// Returns the first error encountered. Callers should discard errors
// with _ = (best-effort semantics).
func (e *Emitter) Emit(eventType, summary, queue string, tags []string, data interface{}) error {
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		SessionID: e.config.SessionID,
		Tag:       e.config.Tag,
		EventType: eventType,
		Summary:   summary,
		Queue:     queue,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks. Returns the first error encountered.
func (e *Emitter) Close() error {
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
