package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
)

const (
	// EventTypeReconciled marks a ledger change.
	EventTypeReconciled = "points.reconciled"
	// EventTypeSnapshot marks a raw profile snapshot submitted for reconciliation.
	EventTypeSnapshot = "profile.snapshot"

	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
	HeaderUsername  = "username"
)

// PointsReconciled is the JSON payload of a points.reconciled event.
type PointsReconciled struct {
	EventID     string             `json:"event_id"`
	Username    string             `json:"username"`
	Day         domain.CalendarDay `json:"day"`
	Total       int64              `json:"total"`
	TotalGained int64              `json:"total_gained"`
	Breakdown   map[string]int64   `json:"points_breakdown,omitempty"`
	NewBadges   []domain.Badge     `json:"new_badges,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// Publisher forwards domain.ReconciledEvent values to a Kafka topic.
type Publisher struct {
	writer MessageWriter
	topic  string
}

// NewPublisher constructs a Publisher.
func NewPublisher(writer MessageWriter, topic string) *Publisher {
	return &Publisher{writer: writer, topic: topic}
}

// Publish encodes the event and writes it keyed by username.
func (p *Publisher) Publish(ctx context.Context, event domain.ReconciledEvent) error {
	payload := PointsReconciled{
		EventID:     uuid.NewString(),
		Username:    event.Username,
		Day:         event.Change.Day,
		Total:       event.Change.Total,
		TotalGained: event.Change.TotalGained,
		NewBadges:   event.Change.NewBadges,
		OccurredAt:  event.OccurredAt.UTC(),
	}
	if event.Change.Recorded {
		payload.Breakdown = event.Change.Breakdown
	} else {
		payload.TotalGained = 0
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Username),
		Value: value,
		Time:  payload.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(EventTypeReconciled)},
			{Key: HeaderEventID, Value: []byte(payload.EventID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, msg); err != nil {
		failedCounter.WithLabelValues(p.topic).Inc()
		return fmt.Errorf("publish %s: %w", EventTypeReconciled, err)
	}
	deliveredCounter.WithLabelValues(p.topic).Inc()
	return nil
}

// SnapshotPublisher submits raw profile documents for asynchronous reconciliation.
type SnapshotPublisher struct {
	writer MessageWriter
	topic  string
}

// NewSnapshotPublisher constructs a SnapshotPublisher.
func NewSnapshotPublisher(writer MessageWriter, topic string) *SnapshotPublisher {
	return &SnapshotPublisher{writer: writer, topic: topic}
}

// Submit writes the untouched document with the username in the key and headers.
func (p *SnapshotPublisher) Submit(ctx context.Context, username string, body []byte) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(username),
		Value: body,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(EventTypeSnapshot)},
			{Key: HeaderEventID, Value: []byte(uuid.NewString())},
			{Key: HeaderUsername, Value: []byte(username)},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, msg); err != nil {
		failedCounter.WithLabelValues(p.topic).Inc()
		return fmt.Errorf("publish %s: %w", EventTypeSnapshot, err)
	}
	deliveredCounter.WithLabelValues(p.topic).Inc()
	return nil
}
