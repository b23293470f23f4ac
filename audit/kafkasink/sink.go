// Package kafkasink publishes engine audit events to Kafka as CloudEvents,
// one message per event keyed by subject id.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smartportfolio/authcore"
)

const (
	specVersion     = "1.0"
	contentType     = "application/json"
	eventTypePrefix = "authcore.audit."
)

// CloudEvent is the envelope written as the message value.
type CloudEvent struct {
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	SpecVersion string              `json:"specversion"`
	Type        string              `json:"type"`
	Time        time.Time           `json:"time"`
	Subject     string              `json:"subject,omitempty"`
	ContentType string              `json:"contenttype"`
	Data        authcore.AuditEvent `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	Topic        string
	Source       string
	WriteTimeout time.Duration
}

// Sink implements [authcore.AuditSink]. Emit is called from the engine's
// audit dispatcher goroutine, so a slow broker delays only audit delivery.
type Sink struct {
	writer  messageWriter
	logger  *zap.Logger
	source  string
	timeout time.Duration
}

var _ authcore.AuditSink = (*Sink)(nil)

// New builds a synchronous writer that hashes keys to partitions, keeping
// one subject's events in order.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
	return newSink(writer, cfg, logger), nil
}

func newSink(w messageWriter, cfg Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	source := cfg.Source
	if source == "" {
		source = "authcore"
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{
		writer:  w,
		logger:  logger.Named("audit_kafka"),
		source:  source,
		timeout: timeout,
	}
}

// Emit publishes ev. Failures are logged; the dispatcher has no error path.
func (s *Sink) Emit(ctx context.Context, ev authcore.AuditEvent) {
	ce := CloudEvent{
		ID:          uuid.New().String(),
		Source:      s.source,
		SpecVersion: specVersion,
		Type:        eventTypePrefix + ev.EventType,
		Time:        ev.Timestamp.UTC(),
		Subject:     ev.SubjectID,
		ContentType: contentType,
		Data:        ev,
	}
	value, err := json.Marshal(ce)
	if err != nil {
		s.logger.Error("audit event encoding failed", zap.String("event_type", ev.EventType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SubjectID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(ce.ID)},
			{Key: "ce_source", Value: []byte(ce.Source)},
			{Key: "ce_specversion", Value: []byte(ce.SpecVersion)},
			{Key: "ce_type", Value: []byte(ce.Type)},
			{Key: "ce_time", Value: []byte(ce.Time.Format(time.RFC3339))},
		},
	})
	if err != nil {
		s.logger.Warn("audit event publish failed",
			zap.String("event_type", ev.EventType),
			zap.String("subject_id", ev.SubjectID),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the writer. The engine's dispatcher calls it on
// [authcore.Engine.Close].
func (s *Sink) Close() error {
	return s.writer.Close()
}
