package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
)

// Tracker is the reconciliation entry point used by TrackHandler.
type Tracker interface {
	Track(ctx context.Context, username string, snapshot domain.RawProfileSnapshot) (domain.UserRecord, domain.Change, error)
}

// TrackHandler reconciles each consumed snapshot into the store.
type TrackHandler struct {
	tracker Tracker
}

// NewTrackHandler constructs a handler backed by the provided tracker.
func NewTrackHandler(tracker Tracker) *TrackHandler {
	return &TrackHandler{tracker: tracker}
}

// Handle reconciles the message. Snapshots rejected as invalid are acknowledged so they are
// not redelivered; storage failures are returned so the processor retries the message
// before committing it.
func (h *TrackHandler) Handle(ctx context.Context, msg Message) error {
	_, _, err := h.tracker.Track(ctx, msg.Username, msg.Snapshot)
	if errors.Is(err, domain.ErrInvalidSnapshot) || errors.Is(err, domain.ErrInvalidUsername) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("track %s: %w", msg.Username, err)
	}
	return nil
}
