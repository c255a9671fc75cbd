package forwarder

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/daimoniac/docshield/internal/audit"
	"github.com/daimoniac/docshield/internal/docstore"
	"github.com/daimoniac/docshield/internal/errors"
)

// EventsCollection holds forwarded events in the document store
const EventsCollection = "security_events"

// LogSink writes events to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging to logger
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "security_events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, event audit.Event) error {
	attrs := []any{
		"event_id", event.EventID,
		"sequence", event.Sequence,
		"operation", event.Operation,
		"outcome", event.Outcome,
		"source", event.SourceIdentifier,
		"timestamp", event.Timestamp,
	}
	if event.ActorID != "" {
		attrs = append(attrs, "actor_id", event.ActorID)
	}
	if v := event.Violation; v != nil {
		attrs = append(attrs, "violation_type", v.Type, "threat_level", v.Level.String())
		s.logger.WarnContext(ctx, "security event", attrs...)
		return nil
	}
	s.logger.InfoContext(ctx, "security event", attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }

// StoreSink persists events into the document store as an audit trail
type StoreSink struct {
	store docstore.Store
}

// NewStoreSink creates a sink writing to the security_events collection
func NewStoreSink(store docstore.Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, event audit.Event) error {
	doc, err := eventDocument(event)
	if err != nil {
		return err
	}
	if _, err := s.store.InsertOne(ctx, EventsCollection, doc); err != nil {
		if errors.IsAlreadyExists(err) {
			// already delivered
			return nil
		}
		return err
	}
	return nil
}

// Close leaves the shared store open
func (s *StoreSink) Close() error { return nil }

// eventDocument keys an event document by its event ID
func eventDocument(event audit.Event) (docstore.Document, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, errors.NewPermanentf("failed to encode event %s: %w", event.EventID, err)
	}
	var doc docstore.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewPermanentf("failed to decode event %s: %w", event.EventID, err)
	}
	doc[docstore.IDField] = event.EventID
	return doc, nil
}
