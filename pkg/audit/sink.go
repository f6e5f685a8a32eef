package audit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Sink durably records audit events
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// NopSink discards every event
type NopSink struct{}

func (NopSink) Record(ctx context.Context, event *Event) error {
	return nil
}

// MultiSink records to every sink in order. All sinks are attempted; errors are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a structured logger
type LogSink struct {
	logger logrus.FieldLogger
}

// NewLogSink creates a sink backed by logger
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit_type":   event.Type,
		"audit_status": event.Status,
	}
	if event.TenantID != nil {
		fields["tenant_id"] = event.TenantID.String()
	}
	if event.ActorID != nil {
		fields["actor_id"] = event.ActorID.String()
	}
	if event.ResourceType != "" {
		fields["resource_type"] = event.ResourceType
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := s.logger.WithFields(fields)
	if event.Status == StatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}
