package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/sync/semaphore"
)

// Store persists one UserRecord per username.
type Store interface {
	// Get returns the stored record, or NewUserRecord() and false when none exists.
	Get(ctx context.Context, username string) (UserRecord, bool, error)
	// Put replaces the stored record. Implementations must never leave a partial write behind.
	Put(ctx context.Context, username string, record UserRecord) error
}

// Locker is implemented by stores that can serialise writers across processes.
type Locker interface {
	Lock(ctx context.Context, username string) (unlock func(), err error)
}

// Lister is implemented by stores that can enumerate their usernames.
type Lister interface {
	Usernames(ctx context.Context) ([]string, error)
}

// ReconciledEvent is emitted after a record that changed has been committed.
type ReconciledEvent struct {
	Username   string
	Change     Change
	OccurredAt time.Time
}

// Publisher forwards reconciliation events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event ReconciledEvent) error
}

// NoopPublisher discards events.
type NoopPublisher struct{}

// Publish performs no action.
func (NoopPublisher) Publish(context.Context, ReconciledEvent) error { return nil }

// Option configures optional behaviour for the Tracker.
type Option func(*Tracker)

// WithPublisher sets the event publisher.
func WithPublisher(publisher Publisher) Option {
	return func(t *Tracker) {
		if publisher != nil {
			t.publisher = publisher
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger.Named("tracker")
	}
}

// Tracker runs the read-reconcile-write sequence for a username as a critical section.
type Tracker struct {
	store     Store
	calendar  *Calendar
	publisher Publisher
	logger    slog.Logger
	locks     *keyedMutex
}

// NewTracker constructs a Tracker.
func NewTracker(store Store, calendar *Calendar, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		calendar:  calendar,
		publisher: NoopPublisher{},
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Calendar exposes the calendar used to bucket history.
func (t *Tracker) Calendar() *Calendar {
	return t.calendar
}

// Track reconciles a snapshot into the stored record for username and commits the result.
// Nothing is written when validation, loading or reconciliation fails.
func (t *Tracker) Track(ctx context.Context, username string, snapshot RawProfileSnapshot) (UserRecord, Change, error) {
	if err := ValidateUsername(username); err != nil {
		return UserRecord{}, Change{}, err
	}
	if err := snapshot.Validate(); err != nil {
		return UserRecord{}, Change{}, err
	}

	unlock, err := t.locks.Lock(ctx, username)
	if err != nil {
		return UserRecord{}, Change{}, fmt.Errorf("wait for %s: %w", username, err)
	}
	defer unlock()

	if locker, ok := t.store.(Locker); ok {
		release, err := locker.Lock(ctx, username)
		if err != nil {
			return UserRecord{}, Change{}, err
		}
		defer release()
	}

	today := t.calendar.Today()

	previous, _, err := t.store.Get(ctx, username)
	if err != nil {
		return UserRecord{}, Change{}, err
	}

	next, change, err := Reconcile(previous, snapshot, today)
	if err != nil {
		return UserRecord{}, Change{}, err
	}

	if err := t.store.Put(ctx, username, next); err != nil {
		return UserRecord{}, Change{}, err
	}

	if change.HasChanges() {
		event := ReconciledEvent{Username: username, Change: change, OccurredAt: t.calendar.Now()}
		if err := t.publisher.Publish(ctx, event); err != nil {
			t.logger.Warn(ctx, "failed to publish reconciled event",
				slog.F("username", username),
				slog.Error(err),
			)
		}
	}

	return next, change, nil
}

// Record fetches the stored record for username.
func (t *Tracker) Record(ctx context.Context, username string) (UserRecord, error) {
	if err := ValidateUsername(username); err != nil {
		return UserRecord{}, err
	}
	record, found, err := t.store.Get(ctx, username)
	if err != nil {
		return UserRecord{}, err
	}
	if !found {
		return UserRecord{}, ErrRecordNotFound
	}
	return record, nil
}

// Usernames lists the usernames that have a stored record.
func (t *Tracker) Usernames(ctx context.Context) ([]string, error) {
	lister, ok := t.store.(Lister)
	if !ok {
		return nil, fmt.Errorf("%T cannot list usernames", t.store)
	}
	return lister.Usernames(ctx)
}

// Summary computes the history view for username over rng, anchored at today.
func (t *Tracker) Summary(ctx context.Context, username string, rng Range) (Summary, error) {
	record, err := t.Record(ctx, username)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(record, rng, t.calendar.Today(), t.calendar.Location()), nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done and returns the matching unlock func.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		k.release(key, lock)
		return nil, err
	}
	return func() {
		lock.sem.Release(1)
		k.release(key, lock)
	}, nil
}

func (k *keyedMutex) release(key string, lock *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(k.locks, key)
	}
}
