// Package memory provides an in-process Store used by tests and ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
)

// Store keeps deep copies of records in a map.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.UserRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]domain.UserRecord)}
}

// Get returns a copy of the stored record, or a fresh record and false.
func (s *Store) Get(_ context.Context, username string) (domain.UserRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[username]
	if !ok {
		return domain.NewUserRecord(), false, nil
	}
	return record.Clone(), true, nil
}

// Put stores a copy of record.
func (s *Store) Put(_ context.Context, username string, record domain.UserRecord) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	record = record.Clone()
	record.Normalize()

	s.mu.Lock()
	s.records[username] = record
	s.mu.Unlock()
	return nil
}

// Usernames lists the stored keys in sorted order.
func (s *Store) Usernames(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for username := range s.records {
		out = append(out, username)
	}
	sort.Strings(out)
	return out, nil
}
