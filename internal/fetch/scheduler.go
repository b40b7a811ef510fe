package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/robfig/cron/v3"
)

// Runner is the unit of work triggered on each tick.
type Runner interface {
	RunOnce(ctx context.Context, usernames []string) []Outcome
}

// Scheduler triggers a Runner on a cron schedule. Ticks are never skipped: a new cycle starts
// even if the previous one is still running, and per-user locking serialises overlapping writes.
type Scheduler struct {
	runner    Runner
	schedule  cron.Schedule
	usernames []string
	onStart   bool
	loc       *time.Location
	logger    slog.Logger

	shutdownComplete chan struct{}
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Spec accepts standard five-field cron expressions and descriptors such as "@every 1h".
	Spec      string
	Usernames []string
	// RunOnStart triggers one cycle immediately after Start.
	RunOnStart bool
	Location   *time.Location
	Logger     slog.Logger
}

// NewScheduler validates the schedule and constructs a Scheduler.
func NewScheduler(runner Runner, cfg SchedulerConfig) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cfg.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse fetch schedule %q: %w", cfg.Spec, err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		runner:           runner,
		schedule:         schedule,
		usernames:        append([]string(nil), cfg.Usernames...),
		onStart:          cfg.RunOnStart,
		loc:              loc,
		logger:           cfg.Logger.Named("scheduler"),
		shutdownComplete: make(chan struct{}),
	}, nil
}

// Next returns the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

// Start runs the schedule until ctx is cancelled. It should be called in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.shutdownComplete)

	runner := cron.New(cron.WithLocation(s.loc))
	runner.Schedule(s.schedule, cron.FuncJob(func() { s.tick(ctx) }))
	runner.Start()

	var initial sync.WaitGroup
	if s.onStart {
		initial.Add(1)
		go func() {
			defer initial.Done()
			s.tick(ctx)
		}()
	}

	<-ctx.Done()
	// Wait for in-flight cycles before reporting shutdown.
	<-runner.Stop().Done()
	initial.Wait()
}

// Wait waits until the scheduler stops.
func (s *Scheduler) Wait() {
	<-s.shutdownComplete
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	outcomes := s.runner.RunOnce(ctx, s.usernames)
	counts := map[Kind]int{}
	for _, o := range outcomes {
		counts[o.Kind]++
	}
	s.logger.Info(ctx, "scheduled fetch finished",
		slog.F("updated", counts[KindUpdated]),
		slog.F("skipped", counts[KindSkipped]),
		slog.F("failed", counts[KindFailed]),
	)
}
