// Package consumer reconciles profile snapshots submitted through Kafka.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdr.dev/slog/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/events"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded snapshot submission.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	EventType string
	EventID   string
	Username  string
	Snapshot  domain.RawProfileSnapshot
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger.Named("consumer")
	}
}

// WithRetryBackOff replaces the policy used between handler retries. The policy should not
// give up on its own: a message is only abandoned when the context ends.
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(p *Processor) {
		p.newBackOff = newBackOff
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     slog.Logger
	newBackOff func() backoff.BackOff
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		handler:    handler,
		newBackOff: defaultRetryBackOff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
// A message whose handler fails is retried in place, so later offsets on the partition are
// never committed past it.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Warn(ctx, "fetch error", slog.Error(err))
			continue
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Warn(ctx, "decode error",
				slog.F("topic", msg.Topic),
				slog.F("partition", msg.Partition),
				slog.F("offset", msg.Offset),
				slog.Error(decodeErr),
			)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Warn(ctx, "commit error after decode failure", slog.Error(commitErr))
			}
			continue
		}

		if err := p.handle(ctx, event); err != nil {
			return err
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Warn(ctx, "commit error", slog.Error(commitErr))
		} else {
			recordProcessed(event)
		}
	}
}

// handle retries the handler until it succeeds or ctx ends.
func (p *Processor) handle(ctx context.Context, event Message) error {
	err := backoff.RetryNotify(
		func() error { return p.handler.Handle(ctx, event) },
		backoff.WithContext(p.newBackOff(), ctx),
		func(err error, wait time.Duration) {
			p.logger.Error(ctx, "handler error, retrying",
				slog.F("username", event.Username),
				slog.F("event_id", event.EventID),
				slog.F("offset", event.Offset),
				slog.F("retry_in", wait),
				slog.Error(err),
			)
			recordHandlerError(event)
		},
	)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func decodeMessage(msg kafka.Message) (Message, error) {
	username := string(headerValue(msg, events.HeaderUsername))
	if username == "" {
		username = string(msg.Key)
	}
	if err := domain.ValidateUsername(username); err != nil {
		return Message{}, err
	}

	eventType := string(headerValue(msg, events.HeaderEventType))
	if eventType != "" && eventType != events.EventTypeSnapshot {
		return Message{}, fmt.Errorf("unexpected event_type %q", eventType)
	}

	snapshot, err := domain.ParseSnapshot(msg.Value)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		EventType: events.EventTypeSnapshot,
		EventID:   string(headerValue(msg, events.HeaderEventID)),
		Username:  username,
		Snapshot:  snapshot,
	}, nil
}

func headerValue(msg kafka.Message, key string) []byte {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value
		}
	}
	return nil
}
