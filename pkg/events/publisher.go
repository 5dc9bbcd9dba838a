// Package events publishes interview lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/harunnryd/intervyu/pkg/logging"
	"github.com/harunnryd/intervyu/pkg/metrics"
)

const (
	TypeInterviewStarted  = "interview.started"
	TypeInterviewFinished = "interview.finished"
)

// Event is the payload written for each lifecycle change of an application.
type Event struct {
	Type          string    `json:"type"`
	ApplicationID string    `json:"applicationId"`
	Stage         string    `json:"stage"`
	Score         *int      `json:"score,omitempty"`
	Status        string    `json:"status,omitempty"`
	At            time.Time `json:"at"`
}

// Config holds Kafka publisher settings.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one topic, or only logs them when Kafka is
// disabled.
type Publisher struct {
	writer  messageWriter
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	logger = logging.NewComponentLogger(logger, "events")
	p := &Publisher{topic: cfg.Topic, logger: logger, metrics: m}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("events_log_only")
		return p
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	logger.Info("events_kafka_enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return p
}

// Publish writes ev keyed by application id so events of one application
// stay ordered on a partition.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if p.writer == nil {
		p.logger.Debug("event_logged", "type", ev.Type, "application_id", ev.ApplicationID, "payload", string(payload))
		p.metrics.EventPublished("logged")
		return nil
	}
	msg := kafka.Message{
		Key:   []byte(ev.ApplicationID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("event_publish_failed", "type", ev.Type, "application_id", ev.ApplicationID, "error", err)
		p.metrics.EventPublished("error")
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.metrics.EventPublished("ok")
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
