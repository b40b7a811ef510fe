// Package fetch polls the profile API for each configured user and reconciles the results.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/observability"
)

// Kind classifies the result of processing one user.
type Kind string

const (
	KindUpdated Kind = "updated"
	KindSkipped Kind = "skipped"
	KindFailed  Kind = "failed"
)

// Outcome reports what happened to one user during a cycle.
type Outcome struct {
	Username string `json:"username"`
	Kind     Kind   `json:"outcome"`
	// Gain is the points recorded into history; zero when nothing was recorded.
	Gain   int64  `json:"gain"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Updated reports a successful reconciliation that recorded gain points.
func Updated(username string, gain int64) Outcome {
	return Outcome{Username: username, Kind: KindUpdated, Gain: gain}
}

// Skipped reports a user left untouched because its data was unusable.
func Skipped(username, reason string, err error) Outcome {
	return Outcome{Username: username, Kind: KindSkipped, Reason: reason, Err: err}
}

// Failed reports a network or storage failure.
func Failed(username string, err error) Outcome {
	return Outcome{Username: username, Kind: KindFailed, Reason: err.Error(), Err: err}
}

// Fetcher retrieves a profile snapshot.
type Fetcher interface {
	FetchProfile(ctx context.Context, username string) (domain.RawProfileSnapshot, error)
}

// Tracker reconciles a snapshot into the store.
type Tracker interface {
	Track(ctx context.Context, username string, snapshot domain.RawProfileSnapshot) (domain.UserRecord, domain.Change, error)
}

// Sink receives one human-readable line per outcome.
type Sink interface {
	Append(message string) error
}

type discardSink struct{}

func (discardSink) Append(string) error { return nil }

// Option configures optional behaviour for the Cycle.
type Option func(*Cycle)

// WithSink sets the activity log sink.
func WithSink(sink Sink) Option {
	return func(c *Cycle) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger slog.Logger) Option {
	return func(c *Cycle) {
		c.logger = logger.Named("fetch")
	}
}

// WithUserTimeout bounds the time spent on a single user, fetch and write included.
func WithUserTimeout(timeout time.Duration) Option {
	return func(c *Cycle) {
		if timeout > 0 {
			c.userTimeout = timeout
		}
	}
}

// WithConcurrency sets how many users are processed at once.
func WithConcurrency(n int) Option {
	return func(c *Cycle) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// Cycle fetches and reconciles a list of users, isolating failures per user.
type Cycle struct {
	fetcher     Fetcher
	tracker     Tracker
	sink        Sink
	logger      slog.Logger
	tracer      trace.Tracer
	userTimeout time.Duration
	concurrency int
}

// NewCycle constructs a Cycle.
func NewCycle(fetcher Fetcher, tracker Tracker, opts ...Option) *Cycle {
	c := &Cycle{
		fetcher:     fetcher,
		tracker:     tracker,
		sink:        discardSink{},
		tracer:      otel.Tracer("github.com/insomniacmonkey/Team-Tree-House-Profile/internal/fetch"),
		userTimeout: 45 * time.Second,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce processes every username and returns one outcome per username in input order.
// A failure for one user never stops the others.
func (c *Cycle) RunOnce(ctx context.Context, usernames []string) []Outcome {
	start := time.Now()
	defer observability.RecordCycle(start)

	outcomes := make([]Outcome, len(usernames))
	var group errgroup.Group
	group.SetLimit(c.concurrency)
	for i, username := range usernames {
		group.Go(func() error {
			outcomes[i] = c.RunUser(ctx, username)
			return nil
		})
	}
	_ = group.Wait()

	c.logger.Info(ctx, "fetch cycle complete",
		slog.F("users", len(usernames)),
		slog.F("duration", time.Since(start)),
	)
	return outcomes
}

// RunUser fetches and reconciles a single user.
func (c *Cycle) RunUser(ctx context.Context, username string) Outcome {
	ctx, span := c.tracer.Start(ctx, "fetch.profile", trace.WithAttributes(attribute.String("username", username)))
	defer span.End()

	outcome := c.runUser(ctx, username)
	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)), attribute.Int64("gain", outcome.Gain))
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Reason)
	}
	observability.RecordFetchOutcome(username, string(outcome.Kind))
	return outcome
}

func (c *Cycle) runUser(ctx context.Context, username string) Outcome {
	if err := domain.ValidateUsername(username); err != nil {
		c.appendLog(ctx, fmt.Sprintf("Skipping invalid username: %q", username))
		return Skipped(username, "invalid username", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.userTimeout)
	defer cancel()

	snapshot, err := c.fetcher.FetchProfile(ctx, username)
	if errors.Is(err, domain.ErrInvalidSnapshot) {
		c.appendLog(ctx, fmt.Sprintf("No valid points data for %s. Skipping update.", username))
		return Skipped(username, "no valid points data", err)
	}
	if err != nil {
		return c.failed(ctx, username, err)
	}

	record, change, err := c.tracker.Track(ctx, username, snapshot)
	if errors.Is(err, domain.ErrInvalidSnapshot) {
		c.appendLog(ctx, fmt.Sprintf("No valid points data for %s. Skipping update.", username))
		return Skipped(username, "no valid points data", err)
	}
	if err != nil {
		return c.failed(ctx, username, err)
	}

	var gain int64
	if change.Recorded {
		gain = change.TotalGained
	}
	if change.HasChanges() {
		observability.RecordPointsGained(username, gain, time.Now())
	}
	c.appendLog(ctx, UpdateMessage(username, record, change.Day))
	return Updated(username, gain)
}

func (c *Cycle) failed(ctx context.Context, username string, err error) Outcome {
	c.logger.Warn(ctx, "fetch failed", slog.F("username", username), slog.Error(err))
	c.appendLog(ctx, fmt.Sprintf("Error fetching data for %s: %v", username, err))
	return Failed(username, err)
}

func (c *Cycle) appendLog(ctx context.Context, message string) {
	if err := c.sink.Append(message); err != nil {
		c.logger.Warn(ctx, "failed to append activity log", slog.Error(err))
	}
}

// UpdateMessage renders the activity log line for a successful reconciliation.
func UpdateMessage(username string, record domain.UserRecord, today domain.CalendarDay) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Points updated for %s. Total: %d.", username, record.LastRecorded.Total)
	if len(record.LastRecorded.Categories) == 0 {
		b.WriteString(" No category points found.")
	} else {
		writeCategories(&b, record.LastRecorded.Categories)
	}

	if entry, ok := record.Day(today); ok {
		fmt.Fprintf(&b, " | Earned today: %d points. Breakdown:", entry.TotalGained)
		writeCategories(&b, entry.PointsBreakdown)
	} else {
		b.WriteString(" | No points earned today yet.")
	}
	return b.String()
}

func writeCategories(b *strings.Builder, counts map[string]int64) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, " %s: %d points.", name, counts[name])
	}
}
